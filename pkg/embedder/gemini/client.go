// Package gemini provides a Gemini embedder implementation using the Google
// Generative Language text embedding API.
//
// This package implements the embedder.Provider interface.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client implements embedder.Provider using the Google Generative Language
// embedContent API.
type Client struct {
	// client is the HTTP client for API requests.
	client *http.Client

	// apiKey is the Google AI Studio API key.
	apiKey string

	// model is the embedding model name to use.
	model string

	// baseURL is the base URL for the Generative Language API.
	baseURL string

	// dimensions is the dimension of embedding vectors.
	dimensions int
}

// Config contains configuration for creating a Gemini embedder client.
type Config struct {
	// APIKey is the Google AI Studio API key (required).
	APIKey string

	// Model is the model name to use (default: "text-embedding-004").
	Model string

	// BaseURL is the API base URL (default: Google official address).
	BaseURL string

	// Dimensions is the vector dimension (default: 768).
	Dimensions int

	// HTTPClient is a custom HTTP client (uses default if nil).
	HTTPClient *http.Client
}

// NewClient creates a new Gemini embedder client.
//
// Parameters:
//   - cfg: Gemini embedder configuration containing APIKey, Model, BaseURL, Dimensions
//
// Returns:
//   - *Client: Gemini embedder client instance
//   - error: Error if the configuration is invalid (e.g., missing APIKey)
func NewClient(cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("API key is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}

	model := cfg.Model
	if model == "" {
		model = "text-embedding-004"
	}

	dimensions := cfg.Dimensions
	if dimensions == 0 {
		dimensions = 768
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout: 30 * time.Second,
		}
	}

	return &Client{
		client:     client,
		apiKey:     cfg.APIKey,
		model:      model,
		baseURL:    baseURL,
		dimensions: dimensions,
	}, nil
}

type embedRequest struct {
	Model                string       `json:"model"`
	Content              embedContent `json:"content"`
	OutputDimensionality int          `json:"outputDimensionality,omitempty"`
}

type embedContent struct {
	Parts []embedPart `json:"parts"`
}

type embedPart struct {
	Text string `json:"text"`
}

type embedValues struct {
	Values []float64 `json:"values"`
}

// Embed converts a single text string into a vector embedding.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	reqBody := embedRequest{
		Model:                "models/" + c.model,
		Content:              embedContent{Parts: []embedPart{{Text: text}}},
		OutputDimensionality: c.dimensions,
	}

	var response struct {
		Embedding embedValues `json:"embedding"`
	}
	url := fmt.Sprintf("%s/models/%s:embedContent?key=%s", c.baseURL, c.model, c.apiKey)
	if err := c.post(ctx, url, reqBody, &response); err != nil {
		return nil, err
	}

	if len(response.Embedding.Values) == 0 {
		return nil, errors.New("embedding generation failed: no embedding returned from Gemini API")
	}
	return response.Embedding.Values, nil
}

// EmbedBatch converts multiple text strings into vector embeddings in a
// single batchEmbedContents call. An item the API failed to embed is
// returned as a nil vector; the call as a whole still succeeds.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	requests := make([]embedRequest, len(texts))
	for i, text := range texts {
		requests[i] = embedRequest{
			Model:                "models/" + c.model,
			Content:              embedContent{Parts: []embedPart{{Text: text}}},
			OutputDimensionality: c.dimensions,
		}
	}

	var response struct {
		Embeddings []embedValues `json:"embeddings"`
	}
	url := fmt.Sprintf("%s/models/%s:batchEmbedContents?key=%s", c.baseURL, c.model, c.apiKey)
	if err := c.post(ctx, url, map[string]interface{}{"requests": requests}, &response); err != nil {
		return nil, err
	}

	if len(response.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding generation failed: unexpected number of results from Gemini API (got %d, expected %d)", len(response.Embeddings), len(texts))
	}

	embeddings := make([][]float64, len(texts))
	for i, emb := range response.Embeddings {
		if len(emb.Values) == 0 {
			continue // per-item failure, caller drops the chunk
		}
		embeddings[i] = emb.Values
	}
	return embeddings, nil
}

// Dimensions returns the dimension of embedding vectors produced by this
// provider.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Name returns the provider name.
func (c *Client) Name() string {
	return "gemini"
}

// Close closes the client connection.
// HTTP clients do not need explicit closing; retained for interface
// compatibility.
func (c *Client) Close() error {
	return nil
}

// post sends a JSON request and decodes the JSON response.
func (c *Client) post(ctx context.Context, url string, body interface{}, out interface{}) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
