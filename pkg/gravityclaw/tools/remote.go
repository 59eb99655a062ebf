package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/llm"
)

// RemoteCaller invokes a tool on an external server by its original name.
type RemoteCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// RemoteTool exposes a tool discovered on an MCP server. The registered name
// is mcp_<server>_<tool>, sanitized.
type RemoteTool struct {
	Server   string
	Original string
	// Timeout bounds a single call. Zero means the caller's context only.
	Timeout time.Duration

	def    llm.ToolDefinition
	caller RemoteCaller
}

// NewRemoteTool builds a RemoteTool. schema is the server's JSON input
// schema and may be empty.
func NewRemoteTool(server, name, description string, schema json.RawMessage, caller RemoteCaller) *RemoteTool {
	if description == "" {
		description = "No description"
	}
	if len(schema) == 0 || string(schema) == "null" {
		schema = json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return &RemoteTool{
		Server:   server,
		Original: name,
		caller:   caller,
		def: llm.ToolDefinition{
			Type: "function",
			Function: llm.FunctionDef{
				Name:        RemoteToolName(server, name),
				Description: fmt.Sprintf("[MCP Server: %s] %s", server, description),
				Parameters:  schema,
			},
		},
	}
}

// RemoteToolName returns the registry name for a server tool.
func RemoteToolName(server, tool string) string {
	return sanitizeToolName("mcp_" + server + "_" + tool)
}

// Name returns the registered name.
func (t *RemoteTool) Name() string { return t.def.Function.Name }

// Definition returns the schema advertised to the model.
func (t *RemoteTool) Definition() llm.ToolDefinition { return t.def }

// Invoke forwards the call to the server. Quota exhaustion gets a clearer
// message since the model cannot fix it by retrying.
func (t *RemoteTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}
	out, err := t.caller.CallTool(ctx, t.Original, args)
	if errors.Is(err, context.DeadlineExceeded) {
		return "", fmt.Errorf("MCP tool %s did not answer within %s", t.Name(), t.Timeout)
	}
	if err != nil {
		msg := strings.ToLower(err.Error())
		for _, w := range []string{"limit", "usage", "exhausted", "quota"} {
			if strings.Contains(msg, w) {
				return fmt.Sprintf("❌ MCP Usage Error: Your server appears to have exhausted its usage limit or quota. Please check your account. Original error: %s", err.Error()), nil
			}
		}
		return "", fmt.Errorf("calling MCP tool %s: %w", t.Name(), err)
	}
	if out == "" {
		return "✅ Tool executed successfully (no output).", nil
	}
	return out, nil
}
