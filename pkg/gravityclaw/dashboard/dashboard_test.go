package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/agent"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/board"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/canvas"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/database"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recorder struct {
	mu    sync.Mutex
	texts []string
}

func (r *recorder) Notify(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return nil
}

type testEnv struct {
	srv      *httptest.Server
	board    *board.Board
	notepad  *board.Notepad
	facts    *memory.FactStore
	status   *agent.StatusBoard
	hub      *canvas.Hub
	notified *recorder
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	dir := t.TempDir()
	db, err := database.Open(database.Config{Path: filepath.Join(dir, "claw.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	env := &testEnv{
		board:    board.New(db, nil, testLogger()),
		notepad:  board.NewNotepad(filepath.Join(dir, "notepad.json")),
		facts:    memory.NewFactStore(db, testLogger()),
		status:   agent.NewStatusBoard(),
		hub:      canvas.NewHub([]string{"*"}, testLogger()),
		notified: &recorder{},
	}
	s := New(cfg, Deps{
		Board:    env.board,
		Notepad:  env.notepad,
		Facts:    env.facts,
		Episodes: memory.NewEpisodicStore(db, memory.NullEmbedder{Dims: 4}, testLogger()),
		Status:   env.status,
		Canvas:   env.hub,
		Notifier: env.notified,
	}, testLogger())
	env.srv = httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		env.hub.Close()
		env.srv.Close()
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return resp, out
}

func TestNotepadEndpoints(t *testing.T) {
	env := newTestEnv(t, Config{})

	resp, got := env.do(t, http.MethodGet, "/api/notepad", nil)
	if resp.StatusCode != http.StatusOK || got["text"] != board.EmptyNotepad || got["ts"] != nil {
		t.Errorf("empty notepad: %d %v", resp.StatusCode, got)
	}

	resp, _ = env.do(t, http.MethodPut, "/api/notepad", map[string]string{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for missing text, got %d", resp.StatusCode)
	}

	resp, got = env.do(t, http.MethodPut, "/api/notepad", map[string]string{"text": "Baue X"})
	if resp.StatusCode != http.StatusOK || got["success"] != true {
		t.Fatalf("write notepad: %d %v", resp.StatusCode, got)
	}

	note, err := env.notepad.Read()
	if err != nil {
		t.Fatal(err)
	}
	if note.Text != "Baue X" || note.Author != board.AuthorDashboard || note.TS == "" {
		t.Errorf("unexpected note %+v", note)
	}

	_, got = env.do(t, http.MethodGet, "/api/notepad", nil)
	if got["text"] != "Baue X" {
		t.Errorf("read back %v", got)
	}
}

func TestTaskEndpoints(t *testing.T) {
	env := newTestEnv(t, Config{})

	resp, _ := env.do(t, http.MethodPost, "/api/tasks", map[string]string{"description": "ohne Titel"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 without title, got %d", resp.StatusCode)
	}

	resp, got := env.do(t, http.MethodPost, "/api/tasks", map[string]string{
		"title": "Landing Page", "priority": board.PriorityHigh, "status": board.StatusInProgress,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %v", resp.StatusCode, got)
	}
	id, _ := got["id"].(string)
	task, err := env.board.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != board.StatusInProgress || task.Priority != board.PriorityHigh {
		t.Errorf("unexpected task %+v", task)
	}

	req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/api/tasks", nil)
	listResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var tasks []board.Task
	if err := json.NewDecoder(listResp.Body).Decode(&tasks); err != nil {
		t.Fatal(err)
	}
	listResp.Body.Close()
	if len(tasks) != 1 || tasks[0].ID != id {
		t.Errorf("unexpected list %+v", tasks)
	}

	t.Run("review notifies", func(t *testing.T) {
		resp, _ := env.do(t, http.MethodPatch, "/api/tasks/"+id, map[string]string{"status": board.StatusReview})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("patch: %d", resp.StatusCode)
		}
		env.notified.mu.Lock()
		defer env.notified.mu.Unlock()
		if len(env.notified.texts) != 1 || env.notified.texts[0] != ReviewMessage("Landing Page") {
			t.Errorf("unexpected notifications %q", env.notified.texts)
		}
	})

	t.Run("invalid status", func(t *testing.T) {
		resp, _ := env.do(t, http.MethodPatch, "/api/tasks/"+id, map[string]string{"status": "Irgendwann"})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", resp.StatusCode)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		resp, _ := env.do(t, http.MethodPatch, "/api/tasks/nope", map[string]string{"title": "x"})
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("expected 404, got %d", resp.StatusCode)
		}
	})

	t.Run("delete", func(t *testing.T) {
		resp, _ := env.do(t, http.MethodDelete, "/api/tasks/"+id, nil)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("delete: %d", resp.StatusCode)
		}
		resp, _ = env.do(t, http.MethodDelete, "/api/tasks/"+id, nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("second delete: %d", resp.StatusCode)
		}
	})
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	task, err := env.board.Create(ctx, board.NewTask{Title: "Refactor"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.board.UpdateStatus(ctx, task.ID, board.StatusInProgress, ""); err != nil {
		t.Fatal(err)
	}
	env.status.Set("1", agent.StatusWorking, "Refactor")

	_, got := env.do(t, http.MethodGet, "/api/status", nil)
	if got["status"] != string(agent.StatusWorking) || got["currentTask"] != "Refactor" {
		t.Errorf("unexpected status %v", got)
	}
	active, _ := got["activeTask"].(map[string]any)
	if active["id"] != task.ID {
		t.Errorf("unexpected active task %v", got["activeTask"])
	}

	env.status.SetOffline(true)
	_, got = env.do(t, http.MethodGet, "/api/agent-status", nil)
	if got["status"] != string(agent.StatusOffline) {
		t.Errorf("expected offline, got %v", got["status"])
	}
}

func TestFactsEndpoint(t *testing.T) {
	env := newTestEnv(t, Config{})
	if err := env.facts.Save(context.Background(), "name", "Jo"); err != nil {
		t.Fatal(err)
	}
	resp, err := http.Get(env.srv.URL + "/api/facts")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var facts []map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&facts); err != nil {
		t.Fatal(err)
	}
	if len(facts) != 1 || facts[0]["key"] != "name" || facts[0]["value"] != "Jo" {
		t.Errorf("unexpected facts %v", facts)
	}
}

func TestAuthToken(t *testing.T) {
	env := newTestEnv(t, Config{AuthToken: "s3cret"})

	resp, _ := env.do(t, http.MethodGet, "/api/status", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/api/status", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 with token, got %d", resp.StatusCode)
	}

	resp, err = http.Get(env.srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health must bypass auth, got %d", resp.StatusCode)
	}
}

func TestCanvasRoute(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws/canvas"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	for env.hub.Count() == 0 {
		if ctx.Err() != nil {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := env.hub.Push(ctx, canvas.Widget{Title: "Uhr", HTML: "<b>12:00</b>"}); err != nil {
		t.Fatalf("push: %v", err)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var w canvas.Widget
	if err := json.Unmarshal(data, &w); err != nil {
		t.Fatal(err)
	}
	if w.Type != "widget" || w.Title != "Uhr" {
		t.Errorf("unexpected widget %+v", w)
	}
}
