package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/fredabila/orcbot-sub007/pkg/knowledge"
	"github.com/fredabila/orcbot-sub007/pkg/ledger"
)

// EmbeddingConfig selects and configures the embedding provider.
//
// Exactly one provider is resolved: the preferred one when its key is set,
// else whichever key is present, else none — in which case the knowledge
// index is permanently disabled and all semantic operations are no-ops.
type EmbeddingConfig struct {
	// OpenAIAPIKey enables the OpenAI embedder.
	OpenAIAPIKey string `json:"openaiApiKey,omitempty"`

	// GeminiAPIKey enables the Gemini embedder.
	GeminiAPIKey string `json:"geminiApiKey,omitempty"`

	// Preferred breaks the tie when both keys are set: "openai" or "gemini".
	Preferred string `json:"preferred,omitempty"`

	// Model overrides the provider's default embedding model.
	Model string `json:"model,omitempty"`

	// BaseURL overrides the provider's API address.
	BaseURL string `json:"baseUrl,omitempty"`

	// Dimensions overrides the provider's default vector size.
	Dimensions int `json:"dimensions,omitempty"`
}

// LLMConfig configures the consolidation summarizer.
// Without a provider, consolidation uses its deterministic fallback.
type LLMConfig struct {
	// Provider is "openai", "anthropic", or "" (no summarizer).
	Provider string `json:"provider,omitempty"`

	// APIKey authenticates against the provider.
	APIKey string `json:"apiKey,omitempty"`

	// Model overrides the provider's default model.
	Model string `json:"model,omitempty"`

	// BaseURL overrides the provider's API address.
	BaseURL string `json:"baseUrl,omitempty"`
}

// Config is the complete client configuration. It is passed explicitly at
// construction; runtime changes go through Client.Reconfigure.
type Config struct {
	// MemoryFile is the ledger's persistence path (required).
	MemoryFile string `json:"memoryFile"`

	// KnowledgeFile is the index's persistence path. Defaults to
	// "knowledge.json" next to MemoryFile.
	KnowledgeFile string `json:"knowledgeFile,omitempty"`

	// DailyLogDir enables the file-backed daily log when set.
	DailyLogDir string `json:"dailyLogDir,omitempty"`

	// Ledger holds the ledger tunables; zero values use defaults.
	Ledger ledger.Config `json:"ledger,omitempty"`

	// Knowledge holds the index tunables; zero values use defaults.
	Knowledge knowledge.Config `json:"knowledge,omitempty"`

	// Embedding selects the embedding provider.
	Embedding EmbeddingConfig `json:"embedding,omitempty"`

	// LLM selects the consolidation summarizer.
	LLM LLMConfig `json:"llm,omitempty"`
}

// DefaultConfig returns a configuration storing under dataDir with all
// tunables at their defaults and no providers.
func DefaultConfig(dataDir string) *Config {
	return &Config{
		MemoryFile:    filepath.Join(dataDir, "memory.json"),
		KnowledgeFile: filepath.Join(dataDir, "knowledge.json"),
		Ledger:        ledger.DefaultConfig(),
		Knowledge:     knowledge.DefaultConfig(),
	}
}

// LoadConfigFromEnv builds a configuration from environment variables,
// loading the nearest .env file first (searched upward from the working
// directory, like most dotenv tooling).
//
// Recognized variables:
//   - ORCBOT_DATA_DIR: base directory for memory/knowledge files (default
//     "./data")
//   - ORCBOT_DAILY_LOG_DIR: daily log directory (optional)
//   - OPENAI_API_KEY, GEMINI_API_KEY: embedding provider keys
//   - ORCBOT_EMBEDDING_PROVIDER: preferred embedding provider
//   - ORCBOT_EMBEDDING_MODEL, ORCBOT_EMBEDDING_DIMENSIONS: overrides
//   - ORCBOT_LLM_PROVIDER: "openai" or "anthropic"
//   - ORCBOT_LLM_MODEL: model override
//   - ANTHROPIC_API_KEY: summarizer key for the anthropic provider
func LoadConfigFromEnv() (*Config, error) {
	if envFile := FindEnvFile(); envFile != "" {
		// Best effort: a malformed .env should not block startup.
		_ = godotenv.Load(envFile)
	}

	dataDir := os.Getenv("ORCBOT_DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}
	cfg := DefaultConfig(dataDir)
	cfg.DailyLogDir = os.Getenv("ORCBOT_DAILY_LOG_DIR")

	cfg.Embedding = EmbeddingConfig{
		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		Preferred:    os.Getenv("ORCBOT_EMBEDDING_PROVIDER"),
		Model:        os.Getenv("ORCBOT_EMBEDDING_MODEL"),
	}
	if dims := os.Getenv("ORCBOT_EMBEDDING_DIMENSIONS"); dims != "" {
		n, err := strconv.Atoi(dims)
		if err != nil {
			return nil, fmt.Errorf("%w: ORCBOT_EMBEDDING_DIMENSIONS: %v", ErrInvalidConfig, err)
		}
		cfg.Embedding.Dimensions = n
	}

	cfg.LLM.Provider = os.Getenv("ORCBOT_LLM_PROVIDER")
	cfg.LLM.Model = os.Getenv("ORCBOT_LLM_MODEL")
	switch cfg.LLM.Provider {
	case "anthropic":
		cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	case "openai":
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFromJSON reads a configuration file.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig("data")
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindEnvFile searches for a .env file from the working directory upward.
// Returns "" when none exists.
func FindEnvFile() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".env")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	if c.MemoryFile == "" {
		return fmt.Errorf("%w: MemoryFile is required", ErrInvalidConfig)
	}
	if c.KnowledgeFile == "" {
		c.KnowledgeFile = filepath.Join(filepath.Dir(c.MemoryFile), "knowledge.json")
	}
	switch c.Embedding.Preferred {
	case "", "openai", "gemini":
	default:
		return fmt.Errorf("%w: unknown embedding provider %q", ErrInvalidConfig, c.Embedding.Preferred)
	}
	switch c.LLM.Provider {
	case "":
	case "openai", "anthropic":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("%w: llm provider %q requires an API key", ErrInvalidConfig, c.LLM.Provider)
		}
	default:
		return fmt.Errorf("%w: unknown llm provider %q", ErrInvalidConfig, c.LLM.Provider)
	}
	if c.Embedding.Dimensions < 0 {
		return fmt.Errorf("%w: embedding dimensions must be positive", ErrInvalidConfig)
	}
	return nil
}
