package embedder

import (
	"github.com/fredabila/orcbot-sub007/pkg/embedder/gemini"
	"github.com/fredabila/orcbot-sub007/pkg/embedder/openai"
)

// Config selects and configures an embedding provider.
type Config struct {
	// OpenAIAPIKey enables the OpenAI provider when set.
	OpenAIAPIKey string

	// GeminiAPIKey enables the Gemini provider when set.
	GeminiAPIKey string

	// Preferred is a provider hint ("openai" or "gemini") used when both
	// keys are configured. Defaults to "openai".
	Preferred string

	// Model overrides the provider's default embedding model.
	Model string

	// BaseURL overrides the provider's default API base URL.
	BaseURL string

	// Dimensions overrides the provider's default vector dimensionality.
	Dimensions int
}

// Resolve picks exactly one provider from the configured keys.
//
// Resolution order:
//  1. The preferred provider, when its key is present.
//  2. OpenAI, then Gemini, whichever key is present.
//  3. No key at all resolves to (nil, nil): the caller must treat the
//     embedding index as permanently disabled.
func Resolve(cfg Config) (Provider, error) {
	preferred := cfg.Preferred
	if preferred == "" {
		preferred = "openai"
	}

	if preferred == "gemini" && cfg.GeminiAPIKey != "" {
		return newGemini(cfg)
	}
	if cfg.OpenAIAPIKey != "" {
		return newOpenAI(cfg)
	}
	if cfg.GeminiAPIKey != "" {
		return newGemini(cfg)
	}
	return nil, nil
}

func newOpenAI(cfg Config) (Provider, error) {
	return openai.NewClient(&openai.Config{
		APIKey:     cfg.OpenAIAPIKey,
		Model:      cfg.Model,
		BaseURL:    cfg.BaseURL,
		Dimensions: cfg.Dimensions,
	})
}

func newGemini(cfg Config) (Provider, error) {
	return gemini.NewClient(&gemini.Config{
		APIKey:     cfg.GeminiAPIKey,
		Model:      cfg.Model,
		BaseURL:    cfg.BaseURL,
		Dimensions: cfg.Dimensions,
	})
}
