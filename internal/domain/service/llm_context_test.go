package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTemplateProviderRoundTrip(t *testing.T) {
	ctx := WithTemplateProvider(context.Background(), " scene_beat_v1 ", "ollama")
	assert.Equal(t, "scene_beat_v1", TemplateFromContext(ctx))
	assert.Equal(t, "ollama", ProviderFromContext(ctx))
}

func TestFromContextDefaultsToUnknown(t *testing.T) {
	ctx := WithProvider(context.Background(), "   ")
	assert.Equal(t, "unknown", ProviderFromContext(ctx))
	assert.Equal(t, "unknown", TemplateFromContext(ctx))
}
