// Package memory – embeddings.go implements the embedding providers used by the
// episodic memory index: an OpenAI-compatible HTTP endpoint, Gemini through
// genai, and a null provider that disables recall.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"
)

// EmbeddingProvider generates vector embeddings from text.
type EmbeddingProvider interface {
	// Embed returns one vector per input text.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}

// EmbeddingConfig selects and configures the provider.
type EmbeddingConfig struct {
	// Provider is "gemini", "openai" or "none".
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
}

// DefaultEmbeddingConfig returns the stock embedding settings.
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Provider:   "gemini",
		Model:      "gemini-embedding-001",
		Dimensions: 768,
	}
}

// ---------- OpenAI-compatible ----------

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	apiKey     string
	model      string
	dimensions int
	baseURL    string
	client     *http.Client
}

// NewOpenAIEmbedder creates an embedder; baseURL defaults to api.openai.com.
func NewOpenAIEmbedder(cfg EmbeddingConfig) *OpenAIEmbedder {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &OpenAIEmbedder{
		apiKey:     cfg.APIKey,
		model:      model,
		dimensions: cfg.Dimensions,
		baseURL:    strings.TrimRight(base, "/"),
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed implements EmbeddingProvider.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body := map[string]any{"model": e.model, "input": texts}
	if e.dimensions > 0 {
		body["dimensions"] = e.dimensions
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("openai: create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai: embed API call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: read embed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai: embed API returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result openaiEmbedResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("openai: parse embed response: %w", err)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("openai: embed API error: %s", result.Error.Message)
	}

	out := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = d.Embedding
		}
	}
	return out, nil
}

func (e *OpenAIEmbedder) Dimensions() int { return e.dimensions }
func (e *OpenAIEmbedder) Name() string    { return "openai:" + e.model }

// ---------- Gemini ----------

// GeminiEmbedder uses the genai EmbedContent API.
type GeminiEmbedder struct {
	client     *genai.Client
	model      string
	dimensions int
}

// NewGeminiEmbedder wraps an existing genai client.
func NewGeminiEmbedder(client *genai.Client, cfg EmbeddingConfig) *GeminiEmbedder {
	model := cfg.Model
	if model == "" {
		model = "gemini-embedding-001"
	}
	return &GeminiEmbedder{client: client, model: model, dimensions: cfg.Dimensions}
}

// Embed implements EmbeddingProvider.
func (e *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	cfg := &genai.EmbedContentConfig{TaskType: "SEMANTIC_SIMILARITY"}
	if e.dimensions > 0 {
		dims := int32(e.dimensions)
		cfg.OutputDimensionality = &dims
	}

	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: embed: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini: expected %d embeddings, got %d", len(texts), len(result.Embeddings))
	}

	out := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}

func (e *GeminiEmbedder) Dimensions() int { return e.dimensions }
func (e *GeminiEmbedder) Name() string    { return "gemini:" + e.model }

// ---------- Null ----------

// NullEmbedder returns zero vectors, which score 0 against everything, so
// nothing is ever recalled. Used when no provider is configured.
type NullEmbedder struct {
	Dims int
}

// Embed implements EmbeddingProvider.
func (n NullEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	dims := n.Dims
	if dims <= 0 {
		dims = 1
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, dims)
	}
	return out, nil
}

func (n NullEmbedder) Dimensions() int { return n.Dims }
func (n NullEmbedder) Name() string    { return "none" }
