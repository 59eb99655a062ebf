package tools

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/approval"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/board"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/canvas"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/llm"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/memory"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/scheduler"
)

// Browser is the page automation the browser_* tools drive.
type Browser interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	Text(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
}

// ImageGenerator turns a prompt into PNG bytes.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
}

// SearchConfig configures web_search.
type SearchConfig struct {
	TavilyKey  string
	TavilyURL  string
	DDGURL     string
	HTTPClient *http.Client
}

// Deps are the collaborators of the built-in tools. A tool is registered only
// when everything it needs is present.
type Deps struct {
	Facts   *memory.FactStore
	Board   *board.Board
	Notepad *board.Notepad

	Gate      *approval.Gate
	Scheduler *scheduler.Scheduler
	Canvas    *canvas.Hub

	Browser Browser

	// Vision answers analyze_vision with VisionModel.
	Vision      llm.Backend
	VisionModel string

	Images ImageGenerator

	Search SearchConfig

	// SoulPath is where update_soul writes the identity file.
	SoulPath string

	// WorkspaceRoot confines the fs tools and is the terminal's default cwd.
	WorkspaceRoot string

	// ScreenshotDir is where browser screenshots are saved.
	ScreenshotDir string

	// Location for get_current_time. Nil means time.Local.
	Location *time.Location

	// TerminalTimeout defaults to 30 seconds.
	TerminalTimeout time.Duration

	Logger *slog.Logger
}

// RegisterBuiltins registers every built-in tool whose dependencies are set.
func RegisterBuiltins(r *Registry, deps Deps) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	registerTimeTool(r, deps)
	if deps.Facts != nil {
		registerMemoryTools(r, deps)
	}
	if deps.SoulPath != "" {
		registerSoulTool(r, deps)
	}
	if deps.Gate != nil {
		registerTerminalTool(r, deps)
	}
	if deps.WorkspaceRoot != "" {
		registerFSTools(r, deps)
	}
	if deps.Browser != nil {
		registerBrowserTools(r, deps)
		if deps.Vision != nil {
			registerVisionTool(r, deps)
		}
	}
	registerWebSearchTool(r, deps)
	if deps.Scheduler != nil {
		registerSchedulerTools(r, deps)
	}
	registerRecommendTool(r)
	if deps.Canvas != nil {
		registerCanvasTool(r, deps)
	}
	if deps.Notepad != nil {
		registerNotepadTools(r, deps)
	}
	if deps.Board != nil {
		registerBoardTools(r, deps)
	}
	registerImageTool(r, deps)

	deps.Logger.Info("built-in tools registered", "count", len(r.Names()))
}
