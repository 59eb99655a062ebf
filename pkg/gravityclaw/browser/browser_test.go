package browser

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

func TestCloseWithoutStart(t *testing.T) {
	s := New(Config{Headless: true}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := s.Close(); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

// Needs a local Chrome; set GRAVITYCLAW_BROWSER_TEST=1 to run.
func TestSessionRoundTrip(t *testing.T) {
	if os.Getenv("GRAVITYCLAW_BROWSER_TEST") == "" {
		t.Skip("GRAVITYCLAW_BROWSER_TEST not set")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><h1>Hallo Claw</h1><input id="q"><button id="go" onclick="document.querySelector('h1').textContent='clicked'">Go</button></body></html>`)
	}))
	defer srv.Close()

	s := New(Config{Headless: true}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer s.Close()
	ctx := context.Background()

	if err := s.Navigate(ctx, srv.URL); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	text, err := s.Text(ctx)
	if err != nil {
		t.Fatalf("text: %v", err)
	}
	if !strings.Contains(text, "Hallo Claw") {
		t.Errorf("unexpected text: %q", text)
	}
	if err := s.Type(ctx, "#q", "abc"); err != nil {
		t.Fatalf("type: %v", err)
	}
	if err := s.Click(ctx, "#go"); err != nil {
		t.Fatalf("click: %v", err)
	}
	png, err := s.Screenshot(ctx)
	if err != nil {
		t.Fatalf("screenshot: %v", err)
	}
	if len(png) == 0 {
		t.Error("expected screenshot bytes")
	}
	if err := s.Click(ctx, "#missing"); err == nil {
		t.Error("expected error for missing element")
	}
}
