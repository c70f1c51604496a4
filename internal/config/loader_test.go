package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseYAML = `
app:
  name: storyforge-test
llm:
  default_provider: local
  providers:
    local:
      type: ollama
      base_url: ${OLLAMA_URL:http://localhost:11434}
      model: llama3
    openai:
      type: openai_sse
      api_key: ${STORYFORGE_TEST_OPENAI_KEY}
      model: gpt-4o-mini
`

func writeConfig(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
}

func TestLoadFromAppliesDefaultsAndExpansion(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.yaml", baseYAML)
	t.Setenv("APP_ENV", "test")
	t.Setenv("STORYFORGE_TEST_OPENAI_KEY", "sk-test")

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)

	assert.Equal(t, "storyforge-test", cfg.App.Name)
	assert.Equal(t, "local", cfg.LLM.DefaultProvider)
	assert.Equal(t, "http://localhost:11434", cfg.LLM.Providers["local"].BaseURL)
	assert.Equal(t, "sk-test", cfg.LLM.Providers["openai"].APIKey)

	assert.Equal(t, "Third Person Omniscient", cfg.Prompt.DefaultPOVType)
	assert.Equal(t, 100, cfg.Generation.LogPreviewRunes)
	assert.Equal(t, 30*time.Second, cfg.Cache.ChapterTTL)
	assert.Equal(t, 8080, cfg.Server.HTTP.Port)
}

func TestLoadFromMergesEnvironmentFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.yaml", baseYAML)
	writeConfig(t, dir, "config.staging.yaml", "prompt:\n  default_pov_type: First Person\n")
	t.Setenv("APP_ENV", "staging")

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)

	assert.Equal(t, "First Person", cfg.Prompt.DefaultPOVType)
	assert.Equal(t, "local", cfg.LLM.DefaultProvider)
}

func TestLoadFromMissingBaseFile(t *testing.T) {
	_, err := LoadFrom(t.TempDir())
	require.Error(t, err)
}

func TestExpandEnvKeepsUnknownPlaceholder(t *testing.T) {
	assert.Equal(t, "${STORYFORGE_SURELY_UNSET}", expandEnv("${STORYFORGE_SURELY_UNSET}"))
	assert.Equal(t, "fallback", expandEnv("${STORYFORGE_SURELY_UNSET:fallback}"))
}
