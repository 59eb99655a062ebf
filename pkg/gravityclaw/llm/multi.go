package llm

import (
	"context"
	"fmt"
	"strings"
)

// Multi picks a backend from the model id: "gemini*" models go to the Gemini
// backend, everything else to the OpenAI-compatible one. An "openrouter/"
// prefix is stripped before the request is sent.
type Multi struct {
	Gemini Backend
	OpenAI Backend
}

// Complete implements Backend.
func (m *Multi) Complete(ctx context.Context, req Request) (*Response, error) {
	if strings.HasPrefix(req.Model, "gemini") && m.Gemini != nil {
		return m.Gemini.Complete(ctx, req)
	}
	if m.OpenAI == nil {
		return nil, fmt.Errorf("no backend configured for model %q", req.Model)
	}
	req.Model = strings.TrimPrefix(req.Model, "openrouter/")
	if strings.HasPrefix(req.Model, "gemini") {
		// Without a Gemini key the same model is reachable through OpenRouter.
		req.Model = "google/" + req.Model
	}
	return m.OpenAI.Complete(ctx, req)
}
