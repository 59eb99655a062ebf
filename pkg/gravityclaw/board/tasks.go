// Package board implements the Kanban task board and the dashboard notepad the
// agent works from.
package board

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Task statuses. The board only lists the first two.
const (
	StatusPlanned    = "Geplant"
	StatusInProgress = "In Bearbeitung"
	StatusReview     = "Review"
	StatusDone       = "Fertig"
)

// Task priorities, highest first.
const (
	PriorityHigh   = "Hoch"
	PriorityMedium = "Mittel"
	PriorityLow    = "Niedrig"
)

// ErrTaskNotFound is returned when an id does not exist.
var ErrTaskNotFound = errors.New("task not found")

// ErrInvalidStatus is returned for statuses outside the board's columns.
var ErrInvalidStatus = errors.New("invalid task status")

var validStatuses = []string{StatusPlanned, StatusInProgress, StatusReview, StatusDone}

// Task is one card on the board.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	Priority    string    `json:"priority"`
	ScheduledAt string    `json:"scheduledAt,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NewTask holds the fields a caller may set when creating a task.
type NewTask struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty"`
	ScheduledAt string `json:"scheduledAt,omitempty"`
}

// Notifier delivers out-of-band messages to the user, e.g. when a task is
// ready for review.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, text string) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, text string) error { return f(ctx, text) }

// Board stores tasks in SQLite.
type Board struct {
	db       *sql.DB
	notifier Notifier
	logger   *slog.Logger
}

// New creates a board. notifier may be nil.
func New(db *sql.DB, notifier Notifier, logger *slog.Logger) *Board {
	if logger == nil {
		logger = slog.Default()
	}
	return &Board{db: db, notifier: notifier, logger: logger.With("component", "board")}
}

// SetNotifier replaces the review notifier. Used when the transport is
// created after the board.
func (b *Board) SetNotifier(n Notifier) {
	b.notifier = n
}

// Create inserts a task in the planned column. Priority defaults to medium.
func (b *Board) Create(ctx context.Context, in NewTask) (*Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("task title is required")
	}
	priority := in.Priority
	if priority == "" {
		priority = PriorityMedium
	}

	t := &Task{
		ID:          uuid.New().String(),
		Title:       title,
		Description: in.Description,
		Status:      StatusPlanned,
		Priority:    priority,
		ScheduledAt: in.ScheduledAt,
		CreatedAt:   time.Now().UTC(),
	}

	_, err := b.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, status, priority, scheduled_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, nullString(t.Description), t.Status, t.Priority, nullString(t.ScheduledAt), t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting task: %w", err)
	}

	b.logger.Info("task created", "id", t.ID, "title", t.Title, "priority", t.Priority)
	return t, nil
}

// Open returns planned and in-progress tasks: scheduled ones first by due
// date, then by priority.
func (b *Board) Open(ctx context.Context) ([]Task, error) {
	return b.query(ctx, `
		SELECT id, title, COALESCE(description, ''), status, priority, COALESCE(scheduled_at, ''), created_at
		FROM tasks
		WHERE status IN (?, ?)
		ORDER BY
			CASE WHEN scheduled_at IS NOT NULL THEN 0 ELSE 1 END,
			scheduled_at ASC,
			CASE priority WHEN 'Hoch' THEN 1 WHEN 'Mittel' THEN 2 WHEN 'Niedrig' THEN 3 ELSE 4 END`,
		StatusPlanned, StatusInProgress)
}

// All returns every task, newest first.
func (b *Board) All(ctx context.Context) ([]Task, error) {
	return b.query(ctx, `
		SELECT id, title, COALESCE(description, ''), status, priority, COALESCE(scheduled_at, ''), created_at
		FROM tasks ORDER BY created_at DESC`)
}

// Get returns a single task.
func (b *Board) Get(ctx context.Context, id string) (*Task, error) {
	tasks, err := b.query(ctx, `
		SELECT id, title, COALESCE(description, ''), status, priority, COALESCE(scheduled_at, ''), created_at
		FROM tasks WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, ErrTaskNotFound
	}
	return &tasks[0], nil
}

// UpdateStatus moves a task to status. Moving to Review sends message (or a
// default text) through the notifier; notification failures are logged only.
func (b *Board) UpdateStatus(ctx context.Context, id, status, message string) (*Task, error) {
	if !ValidStatus(status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	res, err := b.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, status, id)
	if err != nil {
		return nil, fmt.Errorf("updating task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrTaskNotFound
	}

	t, err := b.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	b.logger.Info("task moved", "id", id, "status", status)

	if status == StatusReview && b.notifier != nil {
		if message == "" {
			message = "Die Aufgabe ist fertig zur Überprüfung!"
		}
		text := fmt.Sprintf("🚀 *Task Review Ready:*\n%s\n\nKlaus: %s", t.Title, message)
		if err := b.notifier.Notify(ctx, text); err != nil {
			b.logger.Error("review notification failed", "id", id, "error", err)
		}
	}
	return t, nil
}

// TaskPatch holds the fields of a partial update; nil leaves a field as is.
type TaskPatch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty"`
	Priority    *string `json:"priority,omitempty"`
	ScheduledAt *string `json:"scheduledAt,omitempty"`
}

// Update applies a partial update. Unlike UpdateStatus it never notifies;
// callers decide how to announce the change.
func (b *Board) Update(ctx context.Context, id string, p TaskPatch) (*Task, error) {
	if p.Status != nil && !ValidStatus(*p.Status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, *p.Status)
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return nil, fmt.Errorf("task title must not be empty")
	}

	res, err := b.db.ExecContext(ctx, `
		UPDATE tasks SET
			title = COALESCE(?, title),
			description = COALESCE(?, description),
			status = COALESCE(?, status),
			priority = COALESCE(?, priority),
			scheduled_at = COALESCE(?, scheduled_at),
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		ptrValue(p.Title), ptrValue(p.Description), ptrValue(p.Status), ptrValue(p.Priority), ptrValue(p.ScheduledAt), id)
	if err != nil {
		return nil, fmt.Errorf("updating task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrTaskNotFound
	}
	b.logger.Info("task updated", "id", id)
	return b.Get(ctx, id)
}

// Delete removes a task.
func (b *Board) Delete(ctx context.Context, id string) error {
	res, err := b.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// FormatTasks renders tasks for the model.
func FormatTasks(tasks []Task) string {
	if len(tasks) == 0 {
		return "Keine Aufgaben auf dem Board."
	}
	parts := make([]string, len(tasks))
	for i, t := range tasks {
		due := t.ScheduledAt
		if due == "" {
			due = "Nein"
		}
		desc := t.Description
		if desc == "" {
			desc = "-"
		}
		parts[i] = fmt.Sprintf("ID: %s | Status: %s | Prio: %s | Fällig: %s\nTitel: %s\nBeschreibung: %s\n",
			t.ID, t.Status, t.Priority, due, t.Title, desc)
	}
	return strings.Join(parts, "\n---\n")
}

// ValidStatus reports whether status is one of the board columns.
func ValidStatus(status string) bool {
	for _, s := range validStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func (b *Board) query(ctx context.Context, q string, args ...any) ([]Task, error) {
	rows, err := b.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.Title, &t.Description, &t.Status, &t.Priority, &t.ScheduledAt, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func ptrValue(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
