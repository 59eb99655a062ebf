package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	protocolVersion = "2024-11-05"
	maxLineBytes    = 8 << 20
)

// ErrNotConnected is returned for calls on a closed client.
var ErrNotConnected = errors.New("mcp client not connected")

// ToolSchema is one entry of a tools/list response.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	ID     *int64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type contentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type callResult struct {
	Content []json.RawMessage `json:"content"`
	IsError bool              `json:"isError"`
}

// Client speaks newline-delimited JSON-RPC 2.0 with one server process.
type Client struct {
	name string
	cmd  *exec.Cmd

	mu      sync.Mutex
	w       io.WriteCloser
	nextID  int64
	pending map[int64]chan *rpcResponse
	closed  bool
	eof     bool

	done   chan struct{}
	logger *slog.Logger
}

// Start launches the server process and performs the initialize handshake.
func Start(ctx context.Context, name string, cfg ServerConfig, logger *slog.Logger) (*Client, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("mcp server %s: empty command", name)
	}
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", cfg.Command, err)
	}

	c := newClient(name, stdout, stdin, logger)
	c.cmd = cmd
	go c.logStderr(stderr)

	if err := c.Initialize(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func newClient(name string, r io.Reader, w io.WriteCloser, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		name:    name,
		w:       w,
		nextID:  1,
		pending: make(map[int64]chan *rpcResponse),
		done:    make(chan struct{}),
		logger:  logger.With("component", "mcp", "server", name),
	}
	go c.readLoop(r)
	return c
}

// Name returns the server name from mcp.json.
func (c *Client) Name() string { return c.name }

// Initialize sends initialize followed by notifications/initialized.
func (c *Client) Initialize(ctx context.Context) error {
	_, err := c.call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]string{"name": "gravityclaw", "version": "1.0.0"},
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	return c.notify("notifications/initialized")
}

// ListTools returns the tools the server offers.
func (c *Client) ListTools(ctx context.Context) ([]ToolSchema, error) {
	raw, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}
	var res struct {
		Tools []ToolSchema `json:"tools"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("parsing tools/list: %w", err)
	}
	return res.Tools, nil
}

// CallTool invokes a tool and flattens its content to text: text items as
// is, anything else as JSON, one per line.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := c.call(ctx, "tools/call", map[string]any{"name": name, "arguments": args})
	if err != nil {
		return "", err
	}
	var res callResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", fmt.Errorf("parsing tools/call result: %w", err)
	}

	parts := make([]string, 0, len(res.Content))
	for _, item := range res.Content {
		var ci contentItem
		if json.Unmarshal(item, &ci) == nil && ci.Text != "" {
			parts = append(parts, ci.Text)
			continue
		}
		parts = append(parts, string(item))
	}
	text := strings.Join(parts, "\n")
	if res.IsError {
		return "", errors.New(text)
	}
	return text, nil
}

// Close stops the server and fails pending calls.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	err := c.w.Close()
	c.mu.Unlock()

	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
		_ = c.cmd.Wait()
	}

	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		c.logger.Warn("timeout waiting for reader to exit")
	}
	return err
}

func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed || c.eof {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	id := c.nextID
	c.nextID++
	ch := make(chan *rpcResponse, 1)
	c.pending[id] = ch

	if err := c.writeLocked(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, err
	}
	c.mu.Unlock()

	select {
	case resp, ok := <-ch:
		if !ok || resp == nil {
			return nil, ErrNotConnected
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("MCP error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (c *Client) notify(method string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.eof {
		return ErrNotConnected
	}
	return c.writeLocked(rpcRequest{JSONRPC: "2.0", Method: method})
}

func (c *Client) writeLocked(req rpcRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", req.Method, err)
	}
	if _, err := c.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write %s: %w", req.Method, err)
	}
	return nil
}

func (c *Client) readLoop(r io.Reader) {
	defer close(c.done)
	defer c.failPending()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			c.logger.Debug("ignoring non-JSON output", "line", string(line))
			continue
		}
		if resp.ID == nil {
			c.logger.Debug("server notification", "raw", string(line))
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[*resp.ID]
		delete(c.pending, *resp.ID)
		c.mu.Unlock()
		if ok {
			ch <- &resp
		} else {
			c.logger.Warn("response for unknown request", "id", *resp.ID)
		}
	}
	if err := sc.Err(); err != nil {
		c.logger.Debug("reader stopped", "error", err)
	}
}

func (c *Client) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eof = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Client) logStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		c.logger.Debug("stderr", "line", sc.Text())
	}
}
