package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRequiresMemoryFile(t *testing.T) {
	cfg := &Config{}
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestValidateDefaultsKnowledgeFile(t *testing.T) {
	cfg := &Config{MemoryFile: "/var/lib/orcbot/memory.json"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, filepath.Join("/var/lib/orcbot", "knowledge.json"), cfg.KnowledgeFile)
}

func TestValidateRejectsUnknownEmbeddingProvider(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.Embedding.Preferred = "cohere"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestValidateRejectsLLMWithoutKey(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.LLM.Provider = "openai"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg.LLM.APIKey = "sk-test"
	assert.NoError(t, cfg.Validate())

	cfg.LLM.Provider = "mistral"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestLoadConfigFromJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"memoryFile": "/tmp/orcbot/memory.json",
		"dailyLogDir": "/tmp/orcbot/logs",
		"embedding": {"openaiApiKey": "sk-embed", "preferred": "openai"},
		"llm": {"provider": "anthropic", "apiKey": "sk-ant"}
	}`), 0o644))

	cfg, err := LoadConfigFromJSON(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/orcbot/memory.json", cfg.MemoryFile)
	assert.Equal(t, filepath.Join("/tmp/orcbot", "knowledge.json"), cfg.KnowledgeFile)
	assert.Equal(t, "/tmp/orcbot/logs", cfg.DailyLogDir)
	assert.Equal(t, "sk-embed", cfg.Embedding.OpenAIAPIKey)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
}

func TestLoadConfigFromJSONMissingFile(t *testing.T) {
	_, err := LoadConfigFromJSON(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestLoadConfigFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ORCBOT_DATA_DIR", dir)
	t.Setenv("ORCBOT_DAILY_LOG_DIR", filepath.Join(dir, "logs"))
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("ORCBOT_EMBEDDING_PROVIDER", "openai")
	t.Setenv("ORCBOT_LLM_PROVIDER", "openai")
	t.Setenv("ORCBOT_EMBEDDING_DIMENSIONS", "")

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "memory.json"), cfg.MemoryFile)
	assert.Equal(t, filepath.Join(dir, "knowledge.json"), cfg.KnowledgeFile)
	assert.Equal(t, "sk-env", cfg.Embedding.OpenAIAPIKey)
	assert.Equal(t, "sk-env", cfg.LLM.APIKey)
}

func TestLoadConfigFromEnvRejectsBadDimensions(t *testing.T) {
	t.Setenv("ORCBOT_DATA_DIR", t.TempDir())
	t.Setenv("ORCBOT_EMBEDDING_DIMENSIONS", "not-a-number")
	t.Setenv("ORCBOT_LLM_PROVIDER", "")

	_, err := LoadConfigFromEnv()
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
