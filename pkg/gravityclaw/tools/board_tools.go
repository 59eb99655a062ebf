package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/board"
)

// ---------- Notepad ----------

func registerNotepadTools(r *Registry, deps Deps) {
	r.RegisterFunc(
		MakeToolDefinition("read_notepad",
			"Liest den aktuellen Inhalt des Dashboard-Notepads (Manuelle Anweisungen des Nutzers).", nil),
		func(_ context.Context, _ map[string]any) (string, error) {
			text, err := deps.Notepad.ReadText()
			if err != nil {
				deps.Logger.Error("reading notepad", "error", err)
				return "Error: Could not read notepad.", nil
			}
			return text, nil
		},
	)

	r.RegisterFunc(
		MakeToolDefinition("write_notepad",
			"Aktualisiert das Dashboard-Notepad (z.B. für Statusberichte oder Erfolge).",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text": map[string]any{"type": "string", "description": "Der neue Text für das Notepad."},
				},
				"required": []string{"text"},
			}),
		func(_ context.Context, args map[string]any) (string, error) {
			if _, err := deps.Notepad.WriteAs(board.AuthorAgent, stringArg(args, "text")); err != nil {
				deps.Logger.Error("writing notepad", "error", err)
				return "Error: Could not update notepad.", nil
			}
			return "Notepad updated successfully.", nil
		},
	)
}

// ---------- Board ----------

func registerBoardTools(r *Registry, deps Deps) {
	r.RegisterFunc(
		MakeToolDefinition("get_board_tasks",
			"Liest alle Aufgaben vom Kanban-Board aus den Spalten 'Geplant' und 'In Bearbeitung', absteigend sortiert nach Wichtigkeit (Fälligkeitsdatum und Priorität).", nil),
		func(ctx context.Context, _ map[string]any) (string, error) {
			tasks, err := deps.Board.Open(ctx)
			if err != nil {
				return "", err
			}
			return board.FormatTasks(tasks), nil
		},
	)

	r.RegisterFunc(
		MakeToolDefinition("update_task_status",
			"Verschiebt eine Aufgabe auf dem Kanban-Board (z.B. nach 'In Bearbeitung' oder 'Review'). Wenn der Status 'Review' ist, wird automatisch der User benachrichtigt.",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"taskId": map[string]any{"type": "string", "description": "Die ID der Aufgabe"},
					"status": map[string]any{
						"type":        "string",
						"enum":        []string{board.StatusPlanned, board.StatusInProgress, board.StatusReview, board.StatusDone},
						"description": "Der neue Status.",
					},
					"message": map[string]any{"type": "string", "description": "Eine kurze Nachricht für den User (nur relevant, wenn der Status auf 'Review' gesetzt wird)."},
				},
				"required": []string{"taskId", "status"},
			}),
		func(ctx context.Context, args map[string]any) (string, error) {
			id, err := requireString(args, "taskId")
			if err != nil {
				return "", err
			}
			status := stringArg(args, "status")

			_, err = deps.Board.UpdateStatus(ctx, id, status, stringArg(args, "message"))
			if errors.Is(err, board.ErrTaskNotFound) {
				return fmt.Sprintf("Fehler: Task ID %s nicht gefunden.", id), nil
			}
			if err != nil {
				return "", err
			}
			if status == board.StatusReview {
				return fmt.Sprintf("Task %s aktualisiert auf Review. Nutzer wurde benachrichtigt!", id), nil
			}
			return fmt.Sprintf("Task %s erfolgreich auf '%s' verschoben.", id, status), nil
		},
	)

	r.RegisterFunc(
		MakeToolDefinition("create_board_task",
			"Erstellt eine neue Aufgabe auf dem Kanban-Board (z.B. wenn der Nutzer sagt 'Füge X zu meiner ToDo-Liste hinzu' oder 'Erstelle einen Task für Y').",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title":       map[string]any{"type": "string", "description": "Der prägnante Titel der Aufgabe."},
					"description": map[string]any{"type": "string", "description": "Details zur Aufgabe (kann eine Projektbeschreibung sein)."},
					"priority": map[string]any{
						"type":        "string",
						"enum":        []string{board.PriorityHigh, board.PriorityMedium, board.PriorityLow},
						"description": "Die Priorität der Aufgabe. Standard: Mittel.",
					},
					"scheduledAt": map[string]any{"type": "string", "description": "Optionales Fälligkeitsdatum im ISO 8601 Format (YYYY-MM-DDTHH:mm)."},
				},
				"required": []string{"title"},
			}),
		func(ctx context.Context, args map[string]any) (string, error) {
			t, err := deps.Board.Create(ctx, board.NewTask{
				Title:       stringArg(args, "title"),
				Description: stringArg(args, "description"),
				Priority:    stringArg(args, "priority"),
				ScheduledAt: stringArg(args, "scheduledAt"),
			})
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Task '%s' erfolgreich im Kanban-Board in Spalte 'Geplant' erstellt.", t.Title), nil
		},
	)
}
