package canvas

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func TestPushWithoutClients(t *testing.T) {
	h := NewHub(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := h.Push(context.Background(), Widget{Title: "x", HTML: "<b>x</b>"})
	if !errors.Is(err, ErrNoClients) {
		t.Errorf("expected ErrNoClients, got %v", err)
	}
}

func TestPushBroadcast(t *testing.T) {
	h := NewHub(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	deadline := time.Now().Add(2 * time.Second)
	for h.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if h.Count() != 1 {
		t.Fatalf("expected 1 client, got %d", h.Count())
	}

	sent, err := h.Push(ctx, Widget{Title: "Chart", HTML: "<canvas></canvas>", JS: "draw()"})
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if sent != 1 {
		t.Errorf("expected 1 delivery, got %d", sent)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["type"] != "widget" || got["title"] != "Chart" || got["js"] != "draw()" {
		t.Errorf("unexpected payload: %v", got)
	}
	if _, ok := got["css"]; ok {
		t.Error("expected empty css to be omitted")
	}

	conn.Close(websocket.StatusNormalClosure, "")
	deadline = time.Now().Add(2 * time.Second)
	for h.Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if h.Count() != 0 {
		t.Errorf("expected client to unregister, got %d", h.Count())
	}
}
