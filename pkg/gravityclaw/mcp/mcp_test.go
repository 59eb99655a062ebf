package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/tools"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeServer answers JSON-RPC requests on a pair of pipes until the client
// closes its end.
func fakeServer(t *testing.T, name string) (*Client, *[]string) {
	t.Helper()
	clientR, serverW := io.Pipe()
	serverR, clientW := io.Pipe()
	var methods []string

	go func() {
		defer serverW.Close()
		sc := bufio.NewScanner(serverR)
		enc := json.NewEncoder(serverW)
		for sc.Scan() {
			var req struct {
				ID     *int64          `json:"id"`
				Method string          `json:"method"`
				Params json.RawMessage `json:"params"`
			}
			if err := json.Unmarshal(sc.Bytes(), &req); err != nil {
				continue
			}
			methods = append(methods, req.Method)
			if req.ID == nil {
				continue
			}
			resp := map[string]any{"jsonrpc": "2.0", "id": *req.ID}
			switch req.Method {
			case "initialize":
				resp["result"] = map[string]any{"protocolVersion": protocolVersion, "capabilities": map[string]any{}}
			case "tools/list":
				resp["result"] = map[string]any{"tools": []map[string]any{
					{"name": "search.web", "description": "Search the web", "inputSchema": map[string]any{"type": "object"}},
					{"name": "noop"},
					{"name": "slow", "description": "Never answers"},
				}}
			case "tools/call":
				var p struct {
					Name string `json:"name"`
				}
				json.Unmarshal(req.Params, &p)
				switch p.Name {
				case "search.web":
					resp["result"] = map[string]any{"content": []map[string]any{
						{"type": "text", "text": "erste Zeile"},
						{"type": "image", "data": "abc"},
					}}
				case "noop":
					resp["result"] = map[string]any{"content": []any{}}
				case "slow":
					continue
				case "quota":
					resp["result"] = map[string]any{"isError": true, "content": []map[string]any{{"type": "text", "text": "Monthly usage limit exhausted"}}}
				default:
					resp["error"] = map[string]any{"code": -32602, "message": "unknown tool"}
				}
			}
			enc.Encode(resp)
		}
	}()

	c := newClient(name, clientR, clientW, testLogger())
	t.Cleanup(func() { c.Close() })
	return c, &methods
}

func TestClientHandshakeAndCalls(t *testing.T) {
	c, methods := fakeServer(t, "apify")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	list, err := c.ListTools(ctx)
	if err != nil || len(list) != 3 {
		t.Fatalf("expected 3 tools, got %d (%v)", len(list), err)
	}

	out, err := c.CallTool(ctx, "search.web", map[string]any{"q": "go"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if out != "erste Zeile\n"+`{"data":"abc","type":"image"}` {
		t.Errorf("unexpected flattened output %q", out)
	}

	if _, err := c.CallTool(ctx, "missing", nil); err == nil || !strings.Contains(err.Error(), "unknown tool") {
		t.Errorf("expected rpc error, got %v", err)
	}

	c.Close()
	if _, err := c.CallTool(ctx, "noop", nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected after close, got %v", err)
	}

	got := strings.Join((*methods)[:2], ",")
	if got != "initialize,notifications/initialized" {
		t.Errorf("unexpected handshake order %s", got)
	}
}

func TestManagerRegistersRemoteTools(t *testing.T) {
	m := NewManager(0, testLogger())
	m.start = func(ctx context.Context, name string, _ ServerConfig, _ *slog.Logger) (*Client, error) {
		if name == "broken" {
			return nil, errors.New("exec: not found")
		}
		c, _ := fakeServer(t, name)
		return c, c.Initialize(ctx)
	}
	defer m.Close()

	registry := tools.NewRegistry(testLogger())
	n := m.Connect(context.Background(), Config{MCPServers: map[string]ServerConfig{
		"apify":  {Command: "x"},
		"broken": {Command: "y"},
	}}, registry)

	if n != 3 {
		t.Fatalf("expected 3 tools, got %d", n)
	}
	if !registry.Has("mcp_apify_search_web") || !registry.Has("mcp_apify_noop") {
		t.Fatalf("remote tools not registered: %v", registry.Names())
	}
	if s := m.Servers(); len(s) != 1 || s[0] != "apify" {
		t.Errorf("unexpected servers %v", s)
	}

	ctx := context.Background()
	if got := registry.Execute(ctx, "mcp_apify_search_web", `{"q":"go"}`); !strings.HasPrefix(got, "erste Zeile") {
		t.Errorf("unexpected result %q", got)
	}
	if got := registry.Execute(ctx, "mcp_apify_noop", `{}`); got != "✅ Tool executed successfully (no output)." {
		t.Errorf("unexpected result %q", got)
	}
	for _, d := range registry.Definitions() {
		if d.Function.Name == "mcp_apify_noop" && d.Function.Description != "[MCP Server: apify] No description" {
			t.Errorf("unexpected description %q", d.Function.Description)
		}
	}
}

func TestManagerBoundsToolCalls(t *testing.T) {
	m := NewManager(50*time.Millisecond, testLogger())
	m.start = func(ctx context.Context, name string, _ ServerConfig, _ *slog.Logger) (*Client, error) {
		c, _ := fakeServer(t, name)
		return c, c.Initialize(ctx)
	}
	defer m.Close()

	registry := tools.NewRegistry(testLogger())
	m.Connect(context.Background(), Config{MCPServers: map[string]ServerConfig{"apify": {Command: "x"}}}, registry)

	done := make(chan string, 1)
	go func() { done <- registry.Execute(context.Background(), "mcp_apify_slow", `{}`) }()

	select {
	case got := <-done:
		if !strings.Contains(got, "did not answer within 50ms") {
			t.Errorf("unexpected result %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("call to a silent server never returned")
	}

	// The server still answers other calls afterwards.
	if got := registry.Execute(context.Background(), "mcp_apify_noop", `{}`); got != "✅ Tool executed successfully (no output)." {
		t.Errorf("unexpected result %q", got)
	}
}

func TestRemoteToolWithoutTimeoutFollowsContext(t *testing.T) {
	c, _ := fakeServer(t, "apify")
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	tool := tools.NewRemoteTool("apify", "slow", "", nil, c)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := tool.Invoke(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRemoteQuotaError(t *testing.T) {
	c, _ := fakeServer(t, "apify")
	ctx := context.Background()
	if err := c.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	tool := tools.NewRemoteTool("apify", "quota", "", nil, c)
	out, err := tool.Invoke(ctx, nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !strings.HasPrefix(out, "❌ MCP Usage Error") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadConfig(filepath.Join(dir, "mcp.json"))
	if err != nil || len(cfg.MCPServers) != 0 {
		t.Fatalf("missing file must give empty config, got %+v (%v)", cfg, err)
	}

	path := filepath.Join(dir, "mcp.json")
	os.WriteFile(path, []byte(`{"mcpServers":{"b":{"command":"npx","args":["-y","srv"],"env":{"TOKEN":"x"}},"a":{"command":"node"}}}`), 0o644)
	cfg, err = LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if names := cfg.ServerNames(); len(names) != 2 || names[0] != "a" {
		t.Errorf("unexpected names %v", names)
	}
	if cfg.MCPServers["b"].Env["TOKEN"] != "x" || cfg.MCPServers["b"].Args[1] != "srv" {
		t.Errorf("unexpected server config %+v", cfg.MCPServers["b"])
	}

	os.WriteFile(path, []byte(`{`), 0o644)
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected parse error")
	}
}
