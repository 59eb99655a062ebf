package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/approval"
)

const (
	defaultTerminalTimeout = 30 * time.Second
	maxStreamChars         = 2000
	maxFileSize            = 1 << 20
)

// allowedCommands are the only programs execute_terminal will ask to run.
var allowedCommands = []string{
	"npm", "ls", "dir", "mkdir", "cd", "pwd", "git", "cat", "type", "echo", "ps", "node", "tsx",
}

var germanWeekdays = [...]string{"Sonntag", "Montag", "Dienstag", "Mittwoch", "Donnerstag", "Freitag", "Samstag"}

var germanMonths = [...]string{"Januar", "Februar", "März", "April", "Mai", "Juni",
	"Juli", "August", "September", "Oktober", "November", "Dezember"}

// ---------- Time ----------

func registerTimeTool(r *Registry, deps Deps) {
	loc := deps.Location
	if loc == nil {
		loc = time.Local
	}
	r.RegisterFunc(
		MakeToolDefinition("get_current_time",
			"Returns the current local date and time. Use this whenever the user asks about the time, date, day of the week, or anything time-related.", nil),
		func(_ context.Context, _ map[string]any) (string, error) {
			return currentTimeJSON(time.Now().In(loc)), nil
		},
	)
}

func currentTimeJSON(now time.Time) string {
	zone, _ := now.Zone()
	local := fmt.Sprintf("%s, %d. %s %d um %s %s",
		germanWeekdays[now.Weekday()], now.Day(), germanMonths[now.Month()-1], now.Year(),
		now.Format("15:04:05"), zone)
	b, _ := json.Marshal(map[string]string{
		"iso":      now.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		"local":    local,
		"timezone": now.Location().String(),
	})
	return string(b)
}

// ---------- Terminal ----------

func registerTerminalTool(r *Registry, deps Deps) {
	timeout := deps.TerminalTimeout
	if timeout <= 0 {
		timeout = defaultTerminalTimeout
	}
	logger := deps.Logger.With("tool", "execute_terminal")

	r.RegisterFunc(
		MakeToolDefinition("execute_terminal",
			"Execute a command in the host machine's terminal. Use this to install packages, run builds, start development servers, or manage the local file system. Important: The user will be asked to approve this command before it actually runs. Do not assume it ran if they deny it.",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"command": map[string]any{"type": "string", "description": "The terminal command to run (e.g. 'npm install', 'mkdir foo')"},
					"cwd":     map[string]any{"type": "string", "description": "The working directory (optional, defaults to project root)"},
				},
				"required": []string{"command"},
			}),
		func(ctx context.Context, args map[string]any) (string, error) {
			command, err := requireString(args, "command")
			if err != nil {
				return "", err
			}
			if !commandAllowed(command) {
				logger.Warn("blocked command", "command", command)
				return fmt.Sprintf("❌ Security Error: Command %q is not in the allowlist. Only basic dev/fs commands are permitted.", command), nil
			}

			turn, _ := TurnFromContext(ctx)
			prompt := fmt.Sprintf("⚠️ *Terminal Execution Request*\n\nI want to run:\n`%s`\n\nApprove?\nReply with **/yes** or **/no**.", command)
			decision, err := deps.Gate.RequestWithPrompt(ctx, turn.UserID, command, func(approval.Pending) error {
				return turn.Replier.SendMessage(ctx, prompt)
			})
			if errors.Is(err, approval.ErrApprovalPending) {
				return "❌ Another command is still waiting for approval. Ask the user to answer it first.", nil
			}
			if err != nil {
				return "", err
			}
			if decision != approval.Approved {
				return fmt.Sprintf("❌ User denied execution of command: %s", command), nil
			}

			if err := turn.Replier.SendMessage(ctx, fmt.Sprintf("⚙️ Executing:\n`%s`", command)); err != nil {
				logger.Warn("failed to announce execution", "error", err)
			}

			cwd := stringArg(args, "cwd")
			if cwd == "" {
				cwd = deps.WorkspaceRoot
			}
			return runCommand(ctx, command, cwd, timeout), nil
		},
	)
}

// commandAllowed matches the command's first word, lower-cased, exactly
// against allowedCommands. Only the first word is checked: whatever is
// chained after it still goes through the approval prompt.
func commandAllowed(command string) bool {
	c := strings.ToLower(strings.TrimSpace(command))
	if i := strings.IndexAny(c, " \t\r\n;&|<>()"); i >= 0 {
		c = c[:i]
	}
	return slices.Contains(allowedCommands, c)
}

func runCommand(ctx context.Context, command, cwd string, timeout time.Duration) string {
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := shellCommand(cmdCtx, command)
	cmd.Dir = cwd
	cmd.Env = os.Environ()
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) {
		return fmt.Sprintf("❌ Command timed out after %d seconds.", int(timeout.Seconds()))
	}
	if err != nil {
		return fmt.Sprintf("❌ Command failed with Error:\n%s\nSTDOUT:\n%s\nSTDERR:\n%s",
			err.Error(), stdout.String(), stderr.String())
	}

	var parts []string
	if stdout.Len() > 0 {
		parts = append(parts, "STDOUT:\n"+truncateStream(stdout.String()))
	}
	if stderr.Len() > 0 {
		parts = append(parts, "STDERR:\n"+truncateStream(stderr.String()))
	}
	if len(parts) == 0 {
		return "✅ Command executed successfully (no output)."
	}
	return strings.Join(parts, "\n\n")
}

func truncateStream(s string) string {
	if len(s) <= maxStreamChars {
		return s
	}
	return cutBytes(s, maxStreamChars) + "\n...[TRUNCATED]"
}

// ---------- Filesystem ----------

func registerFSTools(r *Registry, deps Deps) {
	root, err := filepath.Abs(deps.WorkspaceRoot)
	if err != nil {
		root = deps.WorkspaceRoot
	}

	r.RegisterFunc(
		MakeToolDefinition("read_file", "Read the full contents of a file at the specified absolute path.", map[string]any{
			"type": "object",
			"properties": map[string]any{
				"filePath": map[string]any{"type": "string", "description": "Absolute path to the file"},
			},
			"required": []string{"filePath"},
		}),
		func(_ context.Context, args map[string]any) (string, error) {
			return fsResult(readFile(root, stringArg(args, "filePath")))
		},
	)

	r.RegisterFunc(
		MakeToolDefinition("write_file", "Write content to a file at the specified absolute path. Will completely overwrite the file if it exists, and create necessary parent directories.", map[string]any{
			"type": "object",
			"properties": map[string]any{
				"filePath": map[string]any{"type": "string", "description": "Absolute path to the file"},
				"content":  map[string]any{"type": "string", "description": "Content to write"},
			},
			"required": []string{"filePath", "content"},
		}),
		func(_ context.Context, args map[string]any) (string, error) {
			return fsResult(writeFile(root, stringArg(args, "filePath"), stringArg(args, "content")))
		},
	)

	r.RegisterFunc(
		MakeToolDefinition("list_directory", "List contents of a directory at the specified absolute path.", map[string]any{
			"type": "object",
			"properties": map[string]any{
				"dirPath": map[string]any{"type": "string", "description": "Absolute path to the directory"},
			},
			"required": []string{"dirPath"},
		}),
		func(_ context.Context, args map[string]any) (string, error) {
			return fsResult(listDirectory(root, stringArg(args, "dirPath")))
		},
	)
}

// fsResult turns fs errors into the text the model sees.
func fsResult(out string, err error) (string, error) {
	if err != nil {
		return "❌ Error executing fs tool: " + err.Error(), nil
	}
	return out, nil
}

// confine resolves target against root and rejects anything outside it.
func confine(root, target string) (string, error) {
	abs := target
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, abs)
	}
	abs = filepath.Clean(abs)

	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("Security Error: Access to path %q is denylisted. You can only access files within %s", target, root)
	}
	return abs, nil
}

func readFile(root, target string) (string, error) {
	path, err := confine(root, target)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.Size() > maxFileSize {
		return fmt.Sprintf("❌ Error: File is too large (%.1f KB). Limit is 1MB.", float64(info.Size())/1024), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func writeFile(root, target, content string) (string, error) {
	path, err := confine(root, target)
	if err != nil {
		return "", err
	}
	if len(content) > maxFileSize {
		return fmt.Sprintf("❌ Error: Content is too large (%.1f KB). Limit is 1MB.", float64(len(content))/1024), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Successfully wrote %d bytes to %s", len(content), path), nil
}

func listDirectory(root, target string) (string, error) {
	path, err := confine(root, target)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "Directory is empty.", nil
	}
	lines := make([]string, len(entries))
	for i, e := range entries {
		kind := "[FILE]"
		if e.IsDir() {
			kind = "[DIR]"
		}
		lines[i] = kind + " " + e.Name()
	}
	return strings.Join(lines, "\n"), nil
}
