package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultOpenRouterURL is the OpenAI-compatible endpoint used when none is configured.
const DefaultOpenRouterURL = "https://openrouter.ai/api/v1"

// OpenAIClient talks to any OpenAI-compatible /chat/completions endpoint
// (OpenRouter, OpenAI, Groq, local gateways).
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	headers    map[string]string
	maxRetries int
	httpClient *http.Client
	logger     *slog.Logger
}

// OpenAIOption configures an OpenAIClient.
type OpenAIOption func(*OpenAIClient)

// WithHeader adds a static header to every request (e.g. HTTP-Referer for OpenRouter).
func WithHeader(key, value string) OpenAIOption {
	return func(c *OpenAIClient) { c.headers[key] = value }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) OpenAIOption {
	return func(c *OpenAIClient) { c.httpClient = hc }
}

// WithMaxRetries sets how often retryable failures (429, 5xx) are retried.
func WithMaxRetries(n int) OpenAIOption {
	return func(c *OpenAIClient) { c.maxRetries = n }
}

// NewOpenAIClient creates a client for baseURL. An empty baseURL uses OpenRouter.
func NewOpenAIClient(baseURL, apiKey string, logger *slog.Logger, opts ...OpenAIOption) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	if baseURL == "" {
		baseURL = DefaultOpenRouterURL
	}
	c := &OpenAIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		headers:    make(map[string]string),
		maxRetries: 2,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		logger:     logger.With("component", "llm", "provider", "openai"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatRequest struct {
	Model    string           `json:"model"`
	Messages []Message        `json:"messages"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string     `json:"content"`
			ToolCalls []ToolCall `json:"tool_calls,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// APIError captures a non-200 answer from the provider.
type APIError struct {
	StatusCode    int
	Body          string
	RetryAfterSec int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API returned %d: %s", e.StatusCode, truncate(e.Body, 200))
}

// Retryable reports whether the request may succeed when sent again.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Complete sends the request, retrying rate limits and transient server errors.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(attempt) * time.Second
			var apierr *APIError
			if errors.As(lastErr, &apierr) && apierr.RetryAfterSec > 0 {
				wait = time.Duration(apierr.RetryAfterSec) * time.Second
			}
			c.logger.Warn("retrying chat completion", "model", req.Model, "attempt", attempt, "wait", wait, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		resp, err := c.completeOnce(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var apierr *APIError
		if !errors.As(err, &apierr) || !apierr.Retryable() {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *OpenAIClient) completeOnce(ctx context.Context, req Request) (*Response, error) {
	messages := req.Messages
	if req.System != "" {
		messages = append([]Message{{Role: RoleSystem, Content: req.System}}, req.Messages...)
	}
	body := chatRequest{Model: req.Model, Messages: messages}
	if len(req.Tools) > 0 {
		body.Tools = req.Tools
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	c.logger.Debug("sending chat completion",
		"model", req.Model,
		"messages", len(messages),
		"tools", len(req.Tools),
	)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apierr := &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if sec, err := strconv.Atoi(ra); err == nil && sec > 0 {
				apierr.RetryAfterSec = sec
			}
		}
		c.logger.Error("API error", "model", req.Model, "status", resp.StatusCode, "body", truncate(string(respBody), 500))
		return nil, apierr
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if chatResp.Error != nil {
		return nil, fmt.Errorf("API error: %s", chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("no response from model")
	}

	choice := chatResp.Choices[0]
	c.logger.Info("chat completion done",
		"model", req.Model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", chatResp.Usage.PromptTokens,
		"completion_tokens", chatResp.Usage.CompletionTokens,
		"finish_reason", choice.FinishReason,
		"tool_calls", len(choice.Message.ToolCalls),
	)

	return &Response{
		Content:      strings.TrimSpace(choice.Message.Content),
		ToolCalls:    choice.Message.ToolCalls,
		FinishReason: choice.FinishReason,
		ModelUsed:    req.Model,
		Usage: Usage{
			PromptTokens:     chatResp.Usage.PromptTokens,
			CompletionTokens: chatResp.Usage.CompletionTokens,
			TotalTokens:      chatResp.Usage.TotalTokens,
		},
	}, nil
}
