package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/canvas"
)

const noCanvasClients = "⚠️ Warning: No Live Canvas clients connected. Open canvas.html to see it."

func registerImageTool(r *Registry, deps Deps) {
	r.RegisterFunc(
		MakeToolDefinition("generate_image", "Generiert ein Bild basierend auf einer Textbeschreibung (Prompt).", map[string]any{
			"type": "object",
			"properties": map[string]any{
				"prompt": map[string]any{"type": "string", "description": "Die Beschreibung des Bildes, das generiert werden soll."},
			},
			"required": []string{"prompt"},
		}),
		func(ctx context.Context, args map[string]any) (string, error) {
			if deps.Images == nil {
				return "❌ Fehler: GOOGLE_API_KEY ist nicht konfiguriert.", nil
			}
			prompt, err := requireString(args, "prompt")
			if err != nil {
				return "", err
			}

			img, err := deps.Images.GenerateImage(ctx, prompt)
			if err == nil && len(img) == 0 {
				err = fmt.Errorf("model returned no image data")
			}
			if err != nil {
				deps.Logger.Error("image generation failed", "error", err)
				return "❌ Fehler bei der Bildgenerierung: " + err.Error(), nil
			}

			turn, _ := TurnFromContext(ctx)
			if err := turn.Replier.SendPhoto(ctx, img, fmt.Sprintf("🎨 Imagen 4: %q", prompt)); err != nil {
				return "❌ Fehler bei der Bildgenerierung: " + err.Error(), nil
			}
			return "✅ Bild erfolgreich generiert und gesendet.", nil
		},
	)
}

// ---------- Canvas ----------

func registerCanvasTool(r *Registry, deps Deps) {
	r.RegisterFunc(
		MakeToolDefinition("push_widget", "Push an interactive HTML/JS widget to the user's Live Canvas.", map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title": map[string]any{"type": "string", "description": "Title of the widget"},
				"html":  map[string]any{"type": "string", "description": "The HTML content of the widget"},
				"css":   map[string]any{"type": "string", "description": "Optional CSS for the widget"},
				"js":    map[string]any{"type": "string", "description": "Optional JS for the widget"},
			},
			"required": []string{"title", "html"},
		}),
		func(ctx context.Context, args map[string]any) (string, error) {
			w := canvas.Widget{
				Title: stringArg(args, "title"),
				HTML:  stringArg(args, "html"),
				CSS:   stringArg(args, "css"),
				JS:    stringArg(args, "js"),
			}
			if _, err := deps.Canvas.Push(ctx, w); err != nil {
				if errors.Is(err, canvas.ErrNoClients) {
					return noCanvasClients, nil
				}
				return "", err
			}
			return "✅ Pushed widget: " + w.Title, nil
		},
	)
}

func registerRecommendTool(r *Registry) {
	r.RegisterFunc(
		MakeToolDefinition("recommend_next_step", "Suggest a proactive action or next step to the user.", map[string]any{
			"type": "object",
			"properties": map[string]any{
				"recommendation": map[string]any{"type": "string", "description": "The human readable suggestion"},
				"reasoning":      map[string]any{"type": "string", "description": "Why this is recommended now"},
			},
			"required": []string{"recommendation"},
		}),
		func(_ context.Context, args map[string]any) (string, error) {
			reasoning := stringArg(args, "reasoning")
			if reasoning == "" {
				reasoning = "Based on your current activity."
			}
			return fmt.Sprintf("💡 *Proactive Suggestion:*\n%s\n\n_Why? %s_", stringArg(args, "recommendation"), reasoning), nil
		},
	)
}
