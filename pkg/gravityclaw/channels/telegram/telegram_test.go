package telegram

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/channels"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConvertWhitelist(t *testing.T) {
	tg := New(Config{Token: "x", AllowedUsers: []int64{42}}, testLogger())

	tests := []struct {
		name     string
		update   tgUpdate
		wantNil  bool
		wantType channels.MessageType
	}{
		{
			name:     "allowed text",
			update:   tgUpdate{Message: &tgMessage{From: &tgUser{ID: 42}, Chat: tgChat{ID: 42}, Text: "hi"}},
			wantType: channels.MessageText,
		},
		{
			name:    "stranger dropped",
			update:  tgUpdate{Message: &tgMessage{From: &tgUser{ID: 7}, Chat: tgChat{ID: 7}, Text: "hi"}},
			wantNil: true,
		},
		{
			name:     "voice",
			update:   tgUpdate{Message: &tgMessage{From: &tgUser{ID: 42}, Chat: tgChat{ID: 42}, Voice: &tgVoice{FileID: "v1"}}},
			wantType: channels.MessageVoice,
		},
		{
			name:    "empty sticker-like message",
			update:  tgUpdate{Message: &tgMessage{From: &tgUser{ID: 42}, Chat: tgChat{ID: 42}}},
			wantNil: true,
		},
		{
			name:    "no message",
			update:  tgUpdate{UpdateID: 3},
			wantNil: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tg.convert(tt.update)
			if tt.wantNil {
				if got != nil {
					t.Errorf("expected nil, got %+v", got)
				}
				return
			}
			if got == nil {
				t.Fatal("expected message, got nil")
			}
			if got.Type != tt.wantType {
				t.Errorf("expected type %s, got %s", tt.wantType, got.Type)
			}
			if got.From != "42" || got.ChatID != "42" {
				t.Errorf("unexpected ids: from=%s chat=%s", got.From, got.ChatID)
			}
		})
	}
}

func TestSendMarkdownFallback(t *testing.T) {
	var mu sync.Mutex
	var payloads []map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p map[string]any
		json.NewDecoder(r.Body).Decode(&p)
		mu.Lock()
		payloads = append(payloads, p)
		mu.Unlock()
		if _, ok := p["parse_mode"]; ok {
			io.WriteString(w, `{"ok":false,"description":"Bad Request: can't parse entities: unmatched *"}`)
			return
		}
		io.WriteString(w, `{"ok":true,"result":{"message_id":1}}`)
	}))
	defer srv.Close()

	tg := New(Config{Token: "tok", APIBase: srv.URL}, testLogger())
	if err := tg.Send(context.Background(), "42", &channels.OutgoingMessage{Content: "*broken"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(payloads) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(payloads))
	}
	if payloads[0]["parse_mode"] != "Markdown" {
		t.Errorf("expected first attempt with Markdown, got %v", payloads[0]["parse_mode"])
	}
	if _, ok := payloads[1]["parse_mode"]; ok {
		t.Error("expected plain text retry")
	}
}

func TestSendMediaMultipart(t *testing.T) {
	var gotPath, gotCaption string
	var gotSize int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		gotCaption = r.FormValue("caption")
		f, _, err := r.FormFile("photo")
		if err == nil {
			data, _ := io.ReadAll(f)
			gotSize = len(data)
		}
		io.WriteString(w, `{"ok":true,"result":{}}`)
	}))
	defer srv.Close()

	tg := New(Config{Token: "tok", APIBase: srv.URL}, testLogger())
	err := channels.ChatReplier{Channel: tg, ChatID: "42"}.SendPhoto(context.Background(), []byte("png!"), "🎨 test")
	if err != nil {
		t.Fatalf("send photo: %v", err)
	}
	if gotPath != "/bottok/sendPhoto" {
		t.Errorf("expected sendPhoto path, got %s", gotPath)
	}
	if gotCaption != "🎨 test" || gotSize != 4 {
		t.Errorf("unexpected upload: caption=%q size=%d", gotCaption, gotSize)
	}
}

func TestDownloadMedia(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/getFile"):
			io.WriteString(w, `{"ok":true,"result":{"file_id":"v1","file_path":"voice/file_1.oga"}}`)
		case r.URL.Path == "/file/bottok/voice/file_1.oga":
			io.WriteString(w, "OGGDATA")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	tg := New(Config{Token: "tok", APIBase: srv.URL}, testLogger())
	data, name, err := tg.DownloadMedia(context.Background(), &channels.IncomingMessage{
		Media: &channels.MediaInfo{Type: channels.MessageVoice, FileID: "v1"},
	})
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if string(data) != "OGGDATA" || name != "voice/file_1.oga" {
		t.Errorf("unexpected download: %q %q", data, name)
	}

	if _, _, err := tg.DownloadMedia(context.Background(), &channels.IncomingMessage{}); err == nil {
		t.Error("expected error without media")
	}
}

func TestPollLoopDelivers(t *testing.T) {
	var served sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			io.WriteString(w, `{"ok":true,"result":{"id":1,"username":"claw_bot"}}`)
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			first := false
			served.Do(func() { first = true })
			if first {
				io.WriteString(w, `{"ok":true,"result":[{"update_id":10,"message":{"message_id":5,"from":{"id":42,"first_name":"Ben"},"chat":{"id":42,"type":"private"},"date":1700000000,"text":"hallo"}}]}`)
				return
			}
			select {
			case <-r.Context().Done():
			case <-time.After(200 * time.Millisecond):
			}
			io.WriteString(w, `{"ok":true,"result":[]}`)
		}
	}))
	defer srv.Close()

	tg := New(Config{Token: "tok", APIBase: srv.URL, AllowedUsers: []int64{42}, PollTimeout: 1}, testLogger())
	if err := tg.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer tg.Disconnect()

	select {
	case msg := <-tg.Receive():
		if msg.Content != "hallo" || msg.FromName != "Ben" {
			t.Errorf("unexpected message: %+v", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	if !tg.IsConnected() {
		t.Error("expected connected")
	}
}
