package tools

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/llm"
)

const (
	maxExtractChars     = 10000
	defaultVisionShot   = "vision_temp.png"
	visionSystemPrompt  = "You are a visual QA assistant for a web developer."
	defaultVisionModel  = "gemini-2.0-flash"
	emptyVisionAnalysis = "No analysis result."
)

func registerBrowserTools(r *Registry, deps Deps) {
	b := deps.Browser
	browserErr := func(err error) (string, error) {
		return "❌ Browser error: " + err.Error(), nil
	}

	r.RegisterFunc(
		MakeToolDefinition("browser_navigate", "Navigate the browser to a URL.", map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{"type": "string", "description": "The URL to navigate to"},
			},
			"required": []string{"url"},
		}),
		func(ctx context.Context, args map[string]any) (string, error) {
			url := stringArg(args, "url")
			if err := b.Navigate(ctx, url); err != nil {
				return browserErr(err)
			}
			return "✅ Navigated to " + url, nil
		},
	)

	r.RegisterFunc(
		MakeToolDefinition("browser_click", "Click an element on the current page using a CSS selector.", map[string]any{
			"type": "object",
			"properties": map[string]any{
				"selector": map[string]any{"type": "string", "description": "CSS selector of the element"},
			},
			"required": []string{"selector"},
		}),
		func(ctx context.Context, args map[string]any) (string, error) {
			sel := stringArg(args, "selector")
			if err := b.Click(ctx, sel); err != nil {
				return browserErr(err)
			}
			return "✅ Clicked element: " + sel, nil
		},
	)

	r.RegisterFunc(
		MakeToolDefinition("browser_type", "Type text into an element on the current page.", map[string]any{
			"type": "object",
			"properties": map[string]any{
				"selector": map[string]any{"type": "string", "description": "CSS selector of the input"},
				"text":     map[string]any{"type": "string", "description": "Text to type"},
			},
			"required": []string{"selector", "text"},
		}),
		func(ctx context.Context, args map[string]any) (string, error) {
			sel, text := stringArg(args, "selector"), stringArg(args, "text")
			if err := b.Type(ctx, sel, text); err != nil {
				return browserErr(err)
			}
			return fmt.Sprintf("✅ Typed %q into %s", text, sel), nil
		},
	)

	r.RegisterFunc(
		MakeToolDefinition("browser_extract", "Extract text content or HTML from the current page.", map[string]any{
			"type": "object",
			"properties": map[string]any{
				"mode": map[string]any{"type": "string", "enum": []string{"text", "html"}, "description": "What to extract"},
			},
		}),
		func(ctx context.Context, args map[string]any) (string, error) {
			var (
				out string
				err error
			)
			if stringArg(args, "mode") == "html" {
				out, err = b.HTML(ctx)
			} else {
				out, err = b.Text(ctx)
			}
			if err != nil {
				return browserErr(err)
			}
			return truncateRunes(out, maxExtractChars), nil
		},
	)

	r.RegisterFunc(
		MakeToolDefinition("browser_screenshot", "Take a screenshot of the current page and save it to the current directory.", map[string]any{
			"type": "object",
			"properties": map[string]any{
				"filename": map[string]any{"type": "string", "description": "Filename for the screenshot (e.g., 'screenshot.png')"},
			},
			"required": []string{"filename"},
		}),
		func(ctx context.Context, args map[string]any) (string, error) {
			filename := stringArg(args, "filename")
			if _, err := saveScreenshot(ctx, b, deps.ScreenshotDir, filename); err != nil {
				return browserErr(err)
			}
			return "✅ Screenshot saved to " + filename, nil
		},
	)
}

func registerVisionTool(r *Registry, deps Deps) {
	model := deps.VisionModel
	if model == "" {
		model = defaultVisionModel
	}

	r.RegisterFunc(
		MakeToolDefinition("analyze_vision",
			"Analysiert einen Screenshot des Browsers oder ein Bild, um UI-Elemente zu prüfen oder Fehler zu finden.",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"prompt":   map[string]any{"type": "string", "description": "Was soll im Bild analysiert werden? (z.B. 'Ist der Login-Button sichtbar?')"},
					"filename": map[string]any{"type": "string", "description": "Optional: Ein spezifischer Screenshot-Dateiname. Falls nicht angegeben, wird ein neuer erstellt."},
				},
				"required": []string{"prompt"},
			}),
		func(ctx context.Context, args map[string]any) (string, error) {
			prompt, err := requireString(args, "prompt")
			if err != nil {
				return "", err
			}
			filename := stringArg(args, "filename")
			if filename == "" {
				filename = defaultVisionShot
			}

			png, err := saveScreenshot(ctx, deps.Browser, deps.ScreenshotDir, filename)
			if err != nil {
				return "❌ Browser error: " + err.Error(), nil
			}

			resp, err := deps.Vision.Complete(ctx, llm.Request{
				Model:  model,
				System: visionSystemPrompt,
				Messages: []llm.Message{{
					Role: llm.RoleUser,
					Content: []llm.ContentPart{
						{Type: "text", Text: prompt},
						{Type: "image_url", ImageURL: &llm.ImageURL{URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)}},
					},
				}},
			})
			if err != nil {
				deps.Logger.Error("vision analysis failed", "model", model, "error", err)
				return "❌ Vision Error: " + err.Error(), nil
			}

			text := strings.TrimSpace(resp.Content)
			if text == "" {
				text = emptyVisionAnalysis
			}
			return "👁️ Vision Analyse Ergebnis:\n\n" + text, nil
		},
	)
}

// saveScreenshot captures the page and writes it under dir. Only the base
// name of filename is used.
func saveScreenshot(ctx context.Context, b Browser, dir, filename string) ([]byte, error) {
	png, err := b.Screenshot(ctx)
	if err != nil {
		return nil, err
	}
	name := filepath.Base(filename)
	if name == "." || name == string(filepath.Separator) {
		name = defaultVisionShot
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	if err := os.WriteFile(filepath.Join(dir, name), png, 0o644); err != nil {
		return nil, err
	}
	return png, nil
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
