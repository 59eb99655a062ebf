package board

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/database"
)

func newTestBoard(t *testing.T, n Notifier) *Board {
	t.Helper()
	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "board.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, n, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestBoardCreateDefaults(t *testing.T) {
	b := newTestBoard(t, nil)
	ctx := context.Background()

	task, err := b.Create(ctx, NewTask{Title: "Wocheneinkauf"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.Status != StatusPlanned {
		t.Errorf("expected status %q, got %q", StatusPlanned, task.Status)
	}
	if task.Priority != PriorityMedium {
		t.Errorf("expected priority %q, got %q", PriorityMedium, task.Priority)
	}

	got, err := b.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "Wocheneinkauf" || got.Description != "" {
		t.Errorf("unexpected stored task: %+v", got)
	}

	if _, err := b.Create(ctx, NewTask{Title: "   "}); err == nil {
		t.Error("expected error for empty title")
	}
}

func TestBoardOpenOrdering(t *testing.T) {
	b := newTestBoard(t, nil)
	ctx := context.Background()

	b.Create(ctx, NewTask{Title: "low", Priority: PriorityLow})
	b.Create(ctx, NewTask{Title: "high", Priority: PriorityHigh})
	b.Create(ctx, NewTask{Title: "due later", ScheduledAt: "2026-12-24"})
	b.Create(ctx, NewTask{Title: "due soon", ScheduledAt: "2026-11-01", Priority: PriorityLow})
	b.Create(ctx, NewTask{Title: "medium"})
	done, _ := b.Create(ctx, NewTask{Title: "finished"})
	b.UpdateStatus(ctx, done.ID, StatusDone, "")

	tasks, err := b.Open(ctx)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	var titles []string
	for _, task := range tasks {
		titles = append(titles, task.Title)
	}
	want := "due soon,due later,high,medium,low"
	if got := strings.Join(titles, ","); got != want {
		t.Errorf("expected order %s, got %s", want, got)
	}
}

func TestBoardUpdateStatus(t *testing.T) {
	var notified []string
	b := newTestBoard(t, NotifierFunc(func(_ context.Context, text string) error {
		notified = append(notified, text)
		return nil
	}))
	ctx := context.Background()
	task, _ := b.Create(ctx, NewTask{Title: "Landing page"})

	t.Run("in progress does not notify", func(t *testing.T) {
		got, err := b.UpdateStatus(ctx, task.ID, StatusInProgress, "")
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if got.Status != StatusInProgress {
			t.Errorf("expected %q, got %q", StatusInProgress, got.Status)
		}
		if len(notified) != 0 {
			t.Errorf("expected no notification, got %v", notified)
		}
	})

	t.Run("review notifies", func(t *testing.T) {
		if _, err := b.UpdateStatus(ctx, task.ID, StatusReview, "Bitte prüfen"); err != nil {
			t.Fatalf("update: %v", err)
		}
		if len(notified) != 1 {
			t.Fatalf("expected 1 notification, got %d", len(notified))
		}
		if !strings.Contains(notified[0], "Landing page") || !strings.Contains(notified[0], "Bitte prüfen") {
			t.Errorf("unexpected notification: %q", notified[0])
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := b.UpdateStatus(ctx, "nope", StatusDone, "")
		if !errors.Is(err, ErrTaskNotFound) {
			t.Errorf("expected ErrTaskNotFound, got %v", err)
		}
	})

	t.Run("invalid status", func(t *testing.T) {
		_, err := b.UpdateStatus(ctx, task.ID, "Archiv", "")
		if !errors.Is(err, ErrInvalidStatus) {
			t.Errorf("expected ErrInvalidStatus, got %v", err)
		}
	})

	t.Run("notifier failure is not fatal", func(t *testing.T) {
		b.SetNotifier(NotifierFunc(func(context.Context, string) error { return errors.New("offline") }))
		if _, err := b.UpdateStatus(ctx, task.ID, StatusReview, ""); err != nil {
			t.Errorf("expected success despite notifier error, got %v", err)
		}
	})
}

func TestBoardUpdatePartial(t *testing.T) {
	var notified int
	b := newTestBoard(t, NotifierFunc(func(context.Context, string) error {
		notified++
		return nil
	}))
	ctx := context.Background()

	task, err := b.Create(ctx, NewTask{Title: "Alt", Description: "bleibt"})
	if err != nil {
		t.Fatal(err)
	}

	title, status := "Neu", StatusReview
	got, err := b.Update(ctx, task.ID, TaskPatch{Title: &title, Status: &status})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Title != "Neu" || got.Status != StatusReview || got.Description != "bleibt" {
		t.Errorf("unexpected task %+v", got)
	}
	if notified != 0 {
		t.Error("Update must not notify")
	}

	bad := "Irgendwo"
	if _, err := b.Update(ctx, task.ID, TaskPatch{Status: &bad}); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
	if _, err := b.Update(ctx, "missing", TaskPatch{Title: &title}); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestFormatTasks(t *testing.T) {
	if got := FormatTasks(nil); got != "Keine Aufgaben auf dem Board." {
		t.Errorf("unexpected empty board text: %q", got)
	}
	got := FormatTasks([]Task{{ID: "1", Title: "A", Status: StatusPlanned, Priority: PriorityHigh}})
	want := "ID: 1 | Status: Geplant | Prio: Hoch | Fällig: Nein\nTitel: A\nBeschreibung: -\n"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestNotepad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notepad.json")
	n := NewNotepad(path)

	t.Run("missing file reads empty", func(t *testing.T) {
		text, err := n.ReadText()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if text != EmptyNotepad {
			t.Errorf("expected %q, got %q", EmptyNotepad, text)
		}
	})

	t.Run("write stamps timestamp", func(t *testing.T) {
		n.now = func() time.Time { return time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC) }
		note, err := n.Write("Baue die Landing Page")
		if err != nil {
			t.Fatalf("write: %v", err)
		}
		if note.TS != "2026-10-16T09:00:00Z" || note.Author != AuthorDashboard {
			t.Errorf("unexpected note %+v", note)
		}
		got, err := n.Read()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if got != note {
			t.Errorf("expected %+v, got %+v", note, got)
		}
	})

	t.Run("corrupt file", func(t *testing.T) {
		os.WriteFile(path, []byte("{"), 0o644)
		if _, err := n.Read(); err == nil {
			t.Error("expected parse error")
		}
	})
}
