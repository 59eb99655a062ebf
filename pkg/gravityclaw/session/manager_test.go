package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/llm"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSessionHistory(t *testing.T) {
	s := newSession("1")
	s.Append(llm.Message{Role: llm.RoleUser, Content: "a"}, llm.Message{Role: llm.RoleAssistant, Content: "b"})
	s.Append(llm.Message{Role: llm.RoleUser, Content: "c"})

	if s.Len() != 3 {
		t.Fatalf("expected 3 messages, got %d", s.Len())
	}

	msgs := s.Messages()
	msgs[0].Content = "changed"
	if s.Messages()[0].Content != "a" {
		t.Error("Messages must return a copy")
	}

	s.Truncate(1)
	if s.Len() != 1 {
		t.Errorf("expected 1 message after truncate, got %d", s.Len())
	}
	s.Truncate(5)
	if s.Len() != 1 {
		t.Errorf("truncate beyond length must be a no-op, got %d", s.Len())
	}

	s.Clear()
	if s.Len() != 0 {
		t.Errorf("expected empty history, got %d", s.Len())
	}
}

func TestManagerSerializesPerUser(t *testing.T) {
	m := NewManager(0, testLogger())
	defer m.Close()

	var (
		mu      sync.Mutex
		order   []int
		running int32
		overlap bool
	)
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		i := i
		err := m.Submit("1", func(ctx context.Context, s *Session) {
			defer wg.Done()
			if atomic.AddInt32(&running, 1) > 1 {
				overlap = true
			}
			time.Sleep(5 * time.Millisecond)
			s.Append(llm.Message{Role: llm.RoleUser, Content: "x"})
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			atomic.AddInt32(&running, -1)
		})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	wg.Wait()

	if overlap {
		t.Error("jobs for the same user ran concurrently")
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("expected submission order, got %v", order)
		}
	}
	if got := m.Get("1").Len(); got != 5 {
		t.Errorf("expected 5 messages, got %d", got)
	}
}

func TestManagerUsersRunInParallel(t *testing.T) {
	m := NewManager(0, testLogger())
	defer m.Close()

	release := make(chan struct{})
	started := make(chan string, 2)
	for _, u := range []string{"a", "b"} {
		if err := m.Submit(u, func(ctx context.Context, s *Session) {
			started <- s.UserID
			<-release
		}); err != nil {
			t.Fatal(err)
		}
	}

	timeout := time.After(2 * time.Second)
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-timeout:
			t.Fatal("second user was blocked by the first")
		}
	}
	close(release)

	if got := m.Users(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("unexpected users %v", got)
	}
}

func TestManagerQueueFull(t *testing.T) {
	m := NewManager(1, testLogger())
	defer m.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	m.Submit("1", func(ctx context.Context, s *Session) {
		close(started)
		<-block
	})
	<-started

	if err := m.Submit("1", func(context.Context, *Session) {}); err != nil {
		t.Fatalf("expected one pending slot, got %v", err)
	}
	err := m.Submit("1", func(context.Context, *Session) {})
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
	close(block)
}

func TestManagerDoAndPanic(t *testing.T) {
	m := NewManager(0, testLogger())
	defer m.Close()
	ctx := context.Background()

	m.Submit("1", func(context.Context, *Session) { panic("boom") })

	ran := false
	if err := m.Do(ctx, "1", func(context.Context, *Session) { ran = true }); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !ran {
		t.Error("worker must survive a panicking job")
	}
}

func TestManagerClose(t *testing.T) {
	m := NewManager(0, testLogger())

	cancelled := make(chan struct{})
	started := make(chan struct{})
	m.Submit("1", func(ctx context.Context, s *Session) {
		close(started)
		<-ctx.Done()
		close(cancelled)
	})
	<-started
	m.Close()

	select {
	case <-cancelled:
	default:
		t.Error("running job was not cancelled")
	}
	if err := m.Submit("1", func(context.Context, *Session) {}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	m.Close()
}

func TestManagerReset(t *testing.T) {
	m := NewManager(0, testLogger())
	defer m.Close()

	m.Get("1").Append(llm.Message{Role: llm.RoleUser, Content: "a"})
	m.Reset("1")
	if m.Get("1").Len() != 0 {
		t.Error("expected history cleared")
	}
}

func TestManagerResetDuringJobKeepsTurnHistory(t *testing.T) {
	m := NewManager(0, testLogger())
	defer m.Close()

	call := llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "c1"}}}
	err := m.Do(context.Background(), "1", func(_ context.Context, s *Session) {
		s.Append(llm.Message{Role: llm.RoleUser, Content: "run ls"}, call)
		m.Reset("1")
		s.Append(llm.Message{Role: llm.RoleTool, ToolCallID: "c1", Content: "ok"})

		msgs := s.Messages()
		if len(msgs) != 3 || msgs[1].ToolCalls[0].ID != msgs[2].ToolCallID {
			t.Errorf("running turn lost its tool call pairing: %+v", msgs)
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	var next *Session
	if err := m.Do(context.Background(), "1", func(_ context.Context, s *Session) { next = s }); err != nil {
		t.Fatal(err)
	}
	if next.Len() != 0 {
		t.Errorf("job after reset must start empty, got %d messages", next.Len())
	}
	if next != m.Get("1") {
		t.Error("job after reset must run on the current session")
	}
}
