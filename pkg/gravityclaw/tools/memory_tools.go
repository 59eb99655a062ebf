package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

func registerMemoryTools(r *Registry, deps Deps) {
	r.RegisterFunc(
		MakeToolDefinition("core_memory_save",
			"Save a permanent, explicit core fact about the user. Use this for preferences, identity, rules, or important context that MUST ALWAYS be retrieved. Do NOT use this for conversational history.",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"key":   map[string]any{"type": "string", "description": "A short, descriptive, snake_case key (e.g. 'user_name', 'favorite_language', 'works_as')."},
					"value": map[string]any{"type": "string", "description": "The explicit fact to store."},
				},
				"required": []string{"key", "value"},
			}),
		func(ctx context.Context, args map[string]any) (string, error) {
			key, err := requireString(args, "key")
			if err != nil {
				return "", err
			}
			value := stringArg(args, "value")
			if err := deps.Facts.Save(ctx, key, value); err != nil {
				return "", err
			}
			return fmt.Sprintf("Successfully saved core fact: %s = %s", key, value), nil
		},
	)

	r.RegisterFunc(
		MakeToolDefinition("core_memory_delete", "Delete a core fact that is no longer accurate.", map[string]any{
			"type": "object",
			"properties": map[string]any{
				"key": map[string]any{"type": "string", "description": "The snake_case key to delete."},
			},
			"required": []string{"key"},
		}),
		func(ctx context.Context, args map[string]any) (string, error) {
			key, err := requireString(args, "key")
			if err != nil {
				return "", err
			}
			if err := deps.Facts.Delete(ctx, key); err != nil {
				return "", err
			}
			return fmt.Sprintf("Successfully deleted core fact: %s", key), nil
		},
	)
}

func registerSoulTool(r *Registry, deps Deps) {
	r.RegisterFunc(
		MakeToolDefinition("update_soul",
			"Rewrite the soul.md file completely to change your core personality, tone, and formatting behavior. Use this only when the user explicitly asks to update your behavior or at the end of an interactive personality onboarding.",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"content": map[string]any{"type": "string", "description": "The full markdown content to save into your soul.md file. This defines who you are."},
				},
				"required": []string{"content"},
			}),
		func(_ context.Context, args map[string]any) (string, error) {
			content, err := requireString(args, "content")
			if err != nil {
				return "", err
			}
			if dir := filepath.Dir(deps.SoulPath); dir != "" {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return "", fmt.Errorf("creating soul directory: %w", err)
				}
			}
			if err := os.WriteFile(deps.SoulPath, []byte(content), 0o644); err != nil {
				return "", fmt.Errorf("writing soul: %w", err)
			}
			deps.Logger.Info("soul updated", "path", deps.SoulPath, "bytes", len(content))
			return "Successfully updated your soul.md identity. The new personality is now active.", nil
		},
	)
}
