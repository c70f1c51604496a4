package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyforge-api/internal/config"
	"storyforge-api/internal/infrastructure/llm"
)

func TestProviderListReportsConfiguredProviders(t *testing.T) {
	cfg := &config.Config{LLM: config.LLMConfig{
		DefaultProvider: "local",
		Providers: map[string]config.ProviderConfig{
			"router": {Type: llm.TypeOpenAISSE},
			"local":  {Type: llm.TypeOllama},
		},
	}}
	s := newTestServer(t)
	s.engine.GET("/v1/providers", NewProviderHandler(llm.NewRegistry(cfg)).List)

	w := s.do(t, http.MethodGet, "/v1/providers", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[envelope[struct {
		Default   string   `json:"default"`
		Providers []string `json:"providers"`
	}]](t, w)
	assert.Equal(t, "local", resp.Data.Default)
	assert.Equal(t, []string{"local", "router"}, resp.Data.Providers)
}

// invalidatingChapters 记录失效调用的缓存章节仓储
type invalidatingChapters struct {
	memChapters
	storyID string
	ids     []string
	err     error
}

func (c *invalidatingChapters) Invalidate(_ context.Context, storyID string, chapterIDs ...string) error {
	c.storyID = storyID
	c.ids = chapterIDs
	return c.err
}

func TestChapterCacheInvalidate(t *testing.T) {
	chapters := &invalidatingChapters{}
	s := newTestServer(t)
	s.engine.DELETE("/v1/stories/:story_id/chapters/cache", NewChapterCacheHandler(chapters).Invalidate)

	w := s.do(t, http.MethodDelete, "/v1/stories/s1/chapters/cache", gin.H{"chapter_ids": []string{"c1", "c2"}})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
	assert.Equal(t, "s1", chapters.storyID)
	assert.Equal(t, []string{"c1", "c2"}, chapters.ids)

	chapters.err = errors.New("redis down")
	w = s.do(t, http.MethodDelete, "/v1/stories/s1/chapters/cache", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Empty(t, chapters.ids)
}

func TestChapterCacheInvalidateWithoutCacheIsNoop(t *testing.T) {
	s := newTestServer(t)
	s.engine.DELETE("/v1/stories/:story_id/chapters/cache", NewChapterCacheHandler(memChapters{}).Invalidate)

	w := s.do(t, http.MethodDelete, "/v1/stories/s1/chapters/cache", gin.H{"chapter_ids": []string{"c1"}})
	assert.Equal(t, http.StatusNoContent, w.Code)
}
