package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/database"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "jobs.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSQLiteStorage(db)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		expr  string
		valid bool
	}{
		{"0 9 * * *", true},
		{"*/5 * * * *", true},
		{"@daily", true},
		{"@every 10m", true},
		{"0 9 * *", false},
		{"jeden Morgen", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			err := Validate(tt.expr)
			if tt.valid && err != nil {
				t.Errorf("expected valid, got %v", err)
			}
			if !tt.valid && err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestPutReplaceRemove(t *testing.T) {
	s := New(newStorage(t), nil, testLogger())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	if err := s.Put(&Job{ID: "standup", Schedule: "0 9 * * 1-5", Description: "Daily standup", UserID: "42"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(&Job{ID: "standup", Schedule: "30 9 * * 1-5", Description: "Later standup", UserID: "42"}); err != nil {
		t.Fatalf("replace: %v", err)
	}

	jobs := s.List()
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job after replace, got %d", len(jobs))
	}
	if jobs[0].Schedule != "30 9 * * 1-5" {
		t.Errorf("expected replaced schedule, got %q", jobs[0].Schedule)
	}
	if len(s.cron.Entries()) != 1 {
		t.Errorf("expected 1 cron entry, got %d", len(s.cron.Entries()))
	}

	if err := s.Put(&Job{ID: "bad", Schedule: "nope"}); err == nil {
		t.Error("expected invalid schedule error")
	}

	if err := s.Remove("standup"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.Remove("standup"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
	if len(s.cron.Entries()) != 0 {
		t.Errorf("expected no cron entries, got %d", len(s.cron.Entries()))
	}
}

func TestJobsSurviveRestart(t *testing.T) {
	storage := newStorage(t)

	first := New(storage, nil, testLogger())
	first.Start(context.Background())
	first.Put(&Job{ID: "report", Schedule: "@daily", Description: "Weekly report", UserID: "42"})
	first.Stop()

	second := New(storage, nil, testLogger())
	if err := second.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer second.Stop()

	job, ok := second.Get("report")
	if !ok {
		t.Fatal("expected job to be restored")
	}
	if job.UserID != "42" || job.Description != "Weekly report" || !job.Enabled {
		t.Errorf("unexpected restored job: %+v", job)
	}
	if len(second.cron.Entries()) != 1 {
		t.Errorf("expected restored cron entry, got %d", len(second.cron.Entries()))
	}
}

func TestExecuteJob(t *testing.T) {
	storage := newStorage(t)
	var fired []string
	s := New(storage, func(_ context.Context, job *Job) error {
		fired = append(fired, job.ID)
		if job.ID == "fails" {
			return errors.New("boom")
		}
		if job.ID == "panics" {
			panic("bad job")
		}
		return nil
	}, testLogger())
	s.Start(context.Background())
	defer s.Stop()

	for _, id := range []string{"ok", "fails", "panics"} {
		s.Put(&Job{ID: id, Schedule: "@daily", Description: id, UserID: "42"})
		job, _ := s.Get(id)
		s.executeJob(job)
	}

	if strings.Join(fired, ",") != "ok,fails,panics" {
		t.Errorf("unexpected fire order: %v", fired)
	}

	ok, _ := s.Get("ok")
	if ok.RunCount != 1 || ok.LastRunAt == nil || ok.LastError != "" {
		t.Errorf("unexpected state for ok job: %+v", ok)
	}
	fails, _ := s.Get("fails")
	if fails.LastError != "boom" {
		t.Errorf("expected last error recorded, got %q", fails.LastError)
	}
	panics, _ := s.Get("panics")
	if !strings.Contains(panics.LastError, "panic") {
		t.Errorf("expected panic recorded, got %q", panics.LastError)
	}

	t.Run("too soon is skipped", func(t *testing.T) {
		s.executeJob(ok)
		if ok.RunCount != 1 {
			t.Errorf("expected second fire to be skipped, run count %d", ok.RunCount)
		}
	})

	t.Run("state persisted", func(t *testing.T) {
		jobs, err := storage.LoadAll()
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		for _, j := range jobs {
			if j.ID == "fails" && j.LastError != "boom" {
				t.Errorf("expected persisted error, got %q", j.LastError)
			}
			if j.RunCount != 1 {
				t.Errorf("expected persisted run count 1 for %s, got %d", j.ID, j.RunCount)
			}
		}
	})
}

func TestFormat(t *testing.T) {
	if got := Format(nil); got != "No active scheduled tasks." {
		t.Errorf("unexpected empty text: %q", got)
	}
	got := Format([]*Job{{ID: "a", Schedule: "@daily", Description: "water plants"}})
	if !strings.Contains(got, "- **a**: `@daily` — water plants") {
		t.Errorf("unexpected format: %q", got)
	}
}
