// Package tools manages the registry of callable tools and dispatches tool
// calls from the model to their handlers. Tools come from the built-in set and
// from MCP servers discovered at startup.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"runtime/debug"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/llm"
)

// toolNameSanitizer replaces any character not in [a-zA-Z0-9_-] with "_".
var toolNameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// maxErrorChars bounds the error text in a structured error result.
const maxErrorChars = 2000

// Tool is anything the model can call.
type Tool interface {
	Name() string
	Definition() llm.ToolDefinition
	Invoke(ctx context.Context, args map[string]any) (string, error)
}

// ToolHandlerFunc is the signature for tool execution handlers.
// Receives parsed arguments and returns the result or an error.
type ToolHandlerFunc func(ctx context.Context, args map[string]any) (string, error)

// FuncTool is a Tool backed by a handler function.
type FuncTool struct {
	Def     llm.ToolDefinition
	Handler ToolHandlerFunc
}

// Name returns the function name.
func (t *FuncTool) Name() string { return t.Def.Function.Name }

// Definition returns the schema advertised to the model.
func (t *FuncTool) Definition() llm.ToolDefinition { return t.Def }

// Invoke calls the handler.
func (t *FuncTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	return t.Handler(ctx, args)
}

// Registry holds the tools available to the agent.
type Registry struct {
	tools  map[string]Tool
	order  []string
	logger *slog.Logger
	mu     sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logger.With("component", "tools"),
	}
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	} else {
		r.logger.Warn("tool replaced", "name", name)
	}
	r.tools[name] = t
}

// RegisterFunc registers a handler under a generated definition.
func (r *Registry) RegisterFunc(def llm.ToolDefinition, handler ToolHandlerFunc) {
	r.Register(&FuncTool{Def: def, Handler: handler})
}

// Definitions returns all tool definitions in registration order.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Has checks if a tool is registered by name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Execute runs the named tool with JSON-encoded arguments. It never fails:
// unknown tools, bad arguments, handler errors and panics all come back as a
// structured JSON error the model can read and correct.
func (r *Registry) Execute(ctx context.Context, name, rawArgs string) (result string) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		r.logger.Warn("unknown tool called", "name", name)
		return formatToolError(name, fmt.Errorf("unknown tool %q", name))
	}

	args, err := parseToolArgs(rawArgs)
	if err != nil {
		r.logger.Warn("tool argument parse error", "name", name, "error", err)
		return formatToolError(name, err)
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool panicked", "name", name, "panic", p, "stack", string(debug.Stack()))
			result = formatToolError(name, fmt.Errorf("tool panicked: %v", p))
		}
	}()

	start := time.Now()
	out, err := tool.Invoke(ctx, args)
	if err != nil {
		r.logger.Warn("tool failed", "name", name, "error", err, "duration_ms", time.Since(start).Milliseconds())
		return formatToolError(name, err)
	}
	r.logger.Info("tool call", "name", name, "duration_ms", time.Since(start).Milliseconds(), "result_len", len(out))
	return out
}

// MakeToolDefinition creates a ToolDefinition from name, description, and a
// parameter schema map (matching JSON Schema format).
// The name is automatically sanitized.
func MakeToolDefinition(name, description string, params map[string]any) llm.ToolDefinition {
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
	if params != nil {
		schema = params
	}
	schemaJSON, _ := json.Marshal(schema)

	return llm.ToolDefinition{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        sanitizeToolName(name),
			Description: description,
			Parameters:  schemaJSON,
		},
	}
}

// sanitizeToolName ensures a tool name matches ^[a-zA-Z0-9_-]+$ by replacing
// invalid characters with underscores.
func sanitizeToolName(name string) string {
	return toolNameSanitizer.ReplaceAllString(name, "_")
}

// formatToolError creates a structured JSON error result.
func formatToolError(toolName string, err error) string {
	msg := err.Error()
	if len(msg) > maxErrorChars {
		msg = cutBytes(msg, maxErrorChars) + "... (truncated)"
	}
	b, _ := json.Marshal(map[string]string{
		"status": "error",
		"tool":   toolName,
		"error":  msg,
	})
	return string(b)
}

// cutBytes shortens s to at most n bytes without splitting a rune.
func cutBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// parseToolArgs parses JSON-encoded tool arguments into a map.
func parseToolArgs(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "{}" || raw == "null" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("invalid JSON arguments: %w", err)
	}
	return args, nil
}

// stringArg returns args[key] as a string. Numbers are formatted.
func stringArg(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return v
	case float64:
		return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%f", v), "0"), ".")
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// requireString returns a non-empty string argument or an error naming it.
func requireString(args map[string]any, key string) (string, error) {
	s := stringArg(args, key)
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return s, nil
}

// intArg returns args[key] as an int, or def when missing.
func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return def
}
