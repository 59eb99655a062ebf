package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

// GeminiClient answers chat requests through the Gemini API, translating the
// OpenAI-style history into genai contents and function calls.
type GeminiClient struct {
	client *genai.Client
	logger *slog.Logger
}

// NewGeminiClient creates a Gemini backend for apiKey.
func NewGeminiClient(ctx context.Context, apiKey string, logger *slog.Logger) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &GeminiClient{
		client: client,
		logger: logger.With("component", "llm", "provider", "gemini"),
	}, nil
}

// Client exposes the underlying genai client for embeddings and media calls.
func (g *GeminiClient) Client() *genai.Client {
	return g.client
}

// Complete implements Backend.
func (g *GeminiClient) Complete(ctx context.Context, req Request) (*Response, error) {
	contents, err := toGeminiContents(req.Messages)
	if err != nil {
		return nil, err
	}

	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			var schema any
			if len(t.Function.Parameters) > 0 {
				if err := json.Unmarshal(t.Function.Parameters, &schema); err != nil {
					return nil, fmt.Errorf("tool %s: invalid parameter schema: %w", t.Function.Name, err)
				}
			}
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Function.Name,
				Description:          t.Function.Description,
				ParametersJsonSchema: schema,
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("no response from model")
	}

	out := &Response{ModelUsed: req.Model, FinishReason: string(resp.Candidates[0].FinishReason)}
	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		switch {
		case part.FunctionCall != nil:
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				return nil, fmt.Errorf("encoding function call args: %w", err)
			}
			id := part.FunctionCall.ID
			if id == "" {
				id = "call_" + uuid.New().String()
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:       id,
				Type:     "function",
				Function: FunctionCall{Name: part.FunctionCall.Name, Arguments: string(args)},
			})
		case part.Text != "" && !part.Thought:
			text.WriteString(part.Text)
		}
	}
	out.Content = strings.TrimSpace(text.String())
	if len(out.ToolCalls) > 0 {
		out.FinishReason = "tool_calls"
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}

	g.logger.Info("chat completion done",
		"model", req.Model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", out.Usage.PromptTokens,
		"completion_tokens", out.Usage.CompletionTokens,
		"tool_calls", len(out.ToolCalls),
	)
	return out, nil
}

// toGeminiContents converts the chat history. Consecutive tool results are
// merged into one user turn, as Gemini expects all function responses of a
// model turn together.
func toGeminiContents(messages []Message) ([]*genai.Content, error) {
	var contents []*genai.Content
	appendParts := func(role string, parts ...*genai.Part) {
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, parts...)
			return
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			// System text travels in SystemInstruction.
		case RoleUser:
			parts, err := userParts(m.Content)
			if err != nil {
				return nil, err
			}
			appendParts(genai.RoleUser, parts...)
		case RoleAssistant:
			var parts []*genai.Part
			if s := m.Text(); s != "" {
				parts = append(parts, genai.NewPartFromText(s))
			}
			for _, tc := range m.ToolCalls {
				args := map[string]any{}
				if tc.Function.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
						args = map[string]any{"raw": tc.Function.Arguments}
					}
				}
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   tc.ID,
					Name: tc.Function.Name,
					Args: args,
				}})
			}
			if len(parts) == 0 {
				parts = append(parts, genai.NewPartFromText(""))
			}
			appendParts(genai.RoleModel, parts...)
		case RoleTool:
			appendParts(genai.RoleUser, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       m.ToolCallID,
				Name:     m.Name,
				Response: map[string]any{"result": m.Text()},
			}})
		default:
			return nil, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}
	return contents, nil
}

func userParts(content any) ([]*genai.Part, error) {
	switch c := content.(type) {
	case string:
		return []*genai.Part{genai.NewPartFromText(c)}, nil
	case []ContentPart:
		var parts []*genai.Part
		for _, p := range c {
			switch p.Type {
			case "text":
				parts = append(parts, genai.NewPartFromText(p.Text))
			case "image_url":
				if p.ImageURL == nil {
					continue
				}
				data, mime, err := decodeDataURL(p.ImageURL.URL)
				if err != nil {
					return nil, err
				}
				parts = append(parts, genai.NewPartFromBytes(data, mime))
			}
		}
		return parts, nil
	case nil:
		return []*genai.Part{genai.NewPartFromText("")}, nil
	default:
		return nil, fmt.Errorf("unsupported user content %T", content)
	}
}

// decodeDataURL splits "data:<mime>;base64,<payload>".
func decodeDataURL(u string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(u, "data:")
	if !ok {
		return nil, "", fmt.Errorf("only data URLs are supported for gemini images")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", fmt.Errorf("malformed data URL")
	}
	mime := strings.TrimSuffix(meta, ";base64")
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decoding data URL: %w", err)
	}
	return data, mime, nil
}

// DefaultImageModel is the Imagen model used by GenerateImage.
const DefaultImageModel = "imagen-4.0-generate-001"

// GenerateImage renders prompt with Imagen and returns the PNG bytes.
func (g *GeminiClient) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	start := time.Now()
	resp, err := g.client.Models.GenerateImages(ctx, DefaultImageModel, prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("imagen: %w", err)
	}
	if len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil ||
		len(resp.GeneratedImages[0].Image.ImageBytes) == 0 {
		return nil, fmt.Errorf("imagen: model returned no image data")
	}
	g.logger.Info("image generated", "model", DefaultImageModel, "duration_ms", time.Since(start).Milliseconds())
	return resp.GeneratedImages[0].Image.ImageBytes, nil
}
