package proactive

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/board"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type submissions struct {
	mu   sync.Mutex
	msgs []string
	ch   chan string
}

func newSubmissions() *submissions {
	return &submissions{ch: make(chan string, 10)}
}

func (s *submissions) submit(userID, message string) error {
	s.mu.Lock()
	s.msgs = append(s.msgs, userID+"|"+message)
	s.mu.Unlock()
	s.ch <- message
	return nil
}

func (s *submissions) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func TestPollerCheck(t *testing.T) {
	np := board.NewNotepad(filepath.Join(t.TempDir(), "notepad.json"))
	subs := newSubmissions()
	p := NewPoller(np, "7", time.Hour, subs.submit, testLogger())

	if p.Check() {
		t.Fatal("missing notepad must not submit")
	}

	np.Write("alte Notiz")
	if p.Check() {
		t.Error("first timestamp must only initialize")
	}
	if p.Check() {
		t.Error("unchanged timestamp must not submit")
	}

	time.Sleep(2 * time.Millisecond)
	np.WriteAs(board.AuthorAgent, "Abschlussbericht")
	if p.Check() {
		t.Error("notes written by the agent must not become directives")
	}

	time.Sleep(2 * time.Millisecond)
	np.Write("Baue die Landing Page")
	if !p.Check() {
		t.Fatal("expected directive to be submitted")
	}
	want := "7|" + DirectiveMessage("Baue die Landing Page")
	if subs.count() != 1 || subs.msgs[0] != want {
		t.Errorf("unexpected submissions %q", subs.msgs)
	}
}

func TestPollerSubmitError(t *testing.T) {
	np := board.NewNotepad(filepath.Join(t.TempDir(), "notepad.json"))
	p := NewPoller(np, "7", time.Hour, func(string, string) error { return errors.New("queue full") }, testLogger())

	np.Write("a")
	p.Check()
	time.Sleep(2 * time.Millisecond)
	np.Write("b")
	if p.Check() {
		t.Error("failed submission must report false")
	}
}

func TestPollerWakesOnFileEvent(t *testing.T) {
	np := board.NewNotepad(filepath.Join(t.TempDir(), "notepad.json"))
	np.Write("Startzustand")

	subs := newSubmissions()
	p := NewPoller(np, "7", time.Hour, subs.submit, testLogger())
	p.Start(context.Background())
	defer p.Stop()

	// Give the loop time to take the baseline.
	deadline := time.Now().Add(2 * time.Second)
	for {
		p.mu.Lock()
		ready := p.initialized
		p.mu.Unlock()
		if ready || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	np.Write("Neue Aufgabe")
	select {
	case msg := <-subs.ch:
		if msg != DirectiveMessage("Neue Aufgabe") {
			t.Errorf("unexpected directive %q", msg)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("directive not picked up from file event")
	}
}

func TestDirectiveMessage(t *testing.T) {
	got := DirectiveMessage("X")
	want := "Das Dashboard hat folgende neue Aufgabe (Active Directive) für dich: X\n\nHinweis: Behalte deinen aktuellen Kontext."
	if got != want {
		t.Errorf("got %q", got)
	}
}

func TestHeartbeatNotifies(t *testing.T) {
	var mu sync.Mutex
	got := map[string]string{}
	done := make(chan struct{}, 4)
	notifier := NotifierFunc(func(_ context.Context, userID, text string) error {
		mu.Lock()
		got[userID] = text
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
		if userID == "2" {
			return errors.New("blocked by user")
		}
		return nil
	})

	h := NewHeartbeat(HeartbeatConfig{Enabled: true, LogInterval: time.Hour, NotifyInterval: 10 * time.Millisecond},
		[]string{"1", "2"}, notifier, testLogger())
	h.Start(context.Background())

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("heartbeat did not notify")
		}
	}
	h.Stop()

	mu.Lock()
	defer mu.Unlock()
	if got["1"] != HeartbeatMessage || got["2"] != HeartbeatMessage {
		t.Errorf("unexpected notifications %v", got)
	}
}

func TestHeartbeatDisabled(t *testing.T) {
	h := NewHeartbeat(HeartbeatConfig{}, []string{"1"}, nil, testLogger())
	h.Start(context.Background())
	h.Stop()
}
