package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/scheduler"
)

func registerSchedulerTools(r *Registry, deps Deps) {
	r.RegisterFunc(
		MakeToolDefinition("schedule_task",
			"Schedule a task using a cron expression. (e.g. '0 9 * * *' for every day at 9 AM).",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":          map[string]any{"type": "string", "description": "Unique ID for this task"},
					"expression":  map[string]any{"type": "string", "description": "Standard cron expression"},
					"description": map[string]any{"type": "string", "description": "Human readable description of what the task does"},
				},
				"required": []string{"id", "expression", "description"},
			}),
		func(ctx context.Context, args map[string]any) (string, error) {
			id, err := requireString(args, "id")
			if err != nil {
				return "", err
			}
			expr := stringArg(args, "expression")
			desc := stringArg(args, "description")

			if err := scheduler.Validate(expr); err != nil {
				return fmt.Sprintf("❌ Error: Invalid cron expression %q", expr), nil
			}

			turn, _ := TurnFromContext(ctx)
			job := &scheduler.Job{
				ID:          id,
				Schedule:    expr,
				Description: desc,
				UserID:      turn.UserID,
			}
			if err := deps.Scheduler.Put(job); err != nil {
				return "", err
			}
			return fmt.Sprintf("✅ Task %q scheduled: %s (%s)", id, expr, desc), nil
		},
	)

	r.RegisterFunc(
		MakeToolDefinition("list_scheduled_tasks", "List all active scheduled tasks.", nil),
		func(_ context.Context, _ map[string]any) (string, error) {
			return scheduler.Format(deps.Scheduler.List()), nil
		},
	)

	r.RegisterFunc(
		MakeToolDefinition("delete_scheduled_task", "Delete/unschedule a task by its ID.", map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id": map[string]any{"type": "string", "description": "The ID of the task to delete"},
			},
			"required": []string{"id"},
		}),
		func(_ context.Context, args map[string]any) (string, error) {
			id := stringArg(args, "id")
			err := deps.Scheduler.Remove(id)
			if errors.Is(err, scheduler.ErrJobNotFound) {
				return fmt.Sprintf("❌ Error: Task %q not found.", id), nil
			}
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("✅ Task %q deleted.", id), nil
		},
	)
}
