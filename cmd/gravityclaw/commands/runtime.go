package commands

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/agent"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/approval"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/board"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/browser"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/canvas"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/config"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/database"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/llm"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/mcp"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/memory"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/router"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/scheduler"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/session"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/tools"
)

// loadConfig resolves --config and loads the configuration.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, used, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if used != "" {
		slog.Debug("config loaded", "path", used)
	}
	return cfg, nil
}

// newLogger builds the slog logger from the logging section and --verbose.
func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Logging.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// openStores opens the SQLite database and applies migrations.
func openStores(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

// runtime is the fully wired agent shared by serve and chat.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger

	db        *sql.DB
	facts     *memory.FactStore
	episodes  *memory.EpisodicStore
	board     *board.Board
	notepad   *board.Notepad
	gate      *approval.Gate
	scheduler *scheduler.Scheduler
	hub       *canvas.Hub
	browser   *browser.Session
	mcp       *mcp.Manager
	registry  *tools.Registry
	status    *agent.StatusBoard
	sessions  *session.Manager
	agent     *agent.Agent
	gemini    *llm.GeminiClient
}

// buildRuntime wires stores, backends, tools and the agent loop. The
// scheduler is created but not started.
func buildRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger}

	db, err := openStores(cfg)
	if err != nil {
		return nil, err
	}
	rt.db = db

	backend, err := rt.buildBackend(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}

	rt.facts = memory.NewFactStore(db, logger)
	rt.episodes = memory.NewEpisodicStore(db, rt.buildEmbedder(), logger)
	rt.board = board.New(db, nil, logger)
	rt.notepad = board.NewNotepad(cfg.Notepad.Path)
	rt.gate = approval.NewGate(cfg.Agent.ApprovalTimeout, logger)
	rt.scheduler = scheduler.New(scheduler.NewSQLiteStorage(db), nil, logger)
	rt.hub = canvas.NewHub(cfg.Dashboard.AllowedOrigins, logger)
	rt.browser = browser.New(cfg.Browser, logger)
	rt.status = agent.NewStatusBoard()
	rt.sessions = session.NewManager(cfg.Agent.MaxPending, logger)

	rt.registry = tools.NewRegistry(logger)
	deps := tools.Deps{
		Facts:     rt.facts,
		Board:     rt.board,
		Notepad:   rt.notepad,
		Gate:      rt.gate,
		Scheduler: rt.scheduler,
		Canvas:    rt.hub,
		Browser:   rt.browser,
		Vision:    backend,
		Search: tools.SearchConfig{
			TavilyKey: cfg.Providers.Tavily.APIKey,
		},
		SoulPath:        cfg.Agent.SoulPath,
		WorkspaceRoot:   cfg.Workspace.Root,
		ScreenshotDir:   cfg.Workspace.ScreenshotDir,
		Location:        cfg.Location(),
		TerminalTimeout: cfg.Agent.TerminalTimeout,
		VisionModel:     cfg.Models.Vision,
		Logger:          logger,
	}
	if rt.gemini != nil {
		deps.Images = rt.gemini
	}
	tools.RegisterBuiltins(rt.registry, deps)

	if cfg.MCP.Enabled {
		mcpCfg, err := mcp.LoadConfig(cfg.MCP.ConfigPath)
		if err != nil {
			logger.Warn("mcp config unreadable, skipping", "path", cfg.MCP.ConfigPath, "error", err)
		} else {
			rt.mcp = mcp.NewManager(cfg.MCP.CallTimeout, logger)
			rt.mcp.Connect(ctx, mcpCfg, rt.registry)
		}
	}

	rt.agent = agent.New(agent.Config{
		MaxIterations: cfg.Agent.MaxIterations,
		EpisodicTopK:  cfg.Agent.EpisodicTopK,
		DefaultModel:  cfg.Models.Standard,
	}, agent.Deps{
		Backend:  backend,
		Tools:    rt.registry,
		Router:   router.New(cfg.Models, logger),
		Facts:    rt.facts,
		Episodes: rt.episodes,
		Prompt:   agent.NewPromptBuilder(cfg.Agent.SoulPath, cfg.Agent.SkillsDir, logger),
		Status:   rt.status,
		Logger:   logger,
	})

	logger.Info("runtime ready",
		"tools", len(rt.registry.Names()),
		"gemini", rt.gemini != nil,
		"openrouter", cfg.Providers.OpenRouter.APIKey != "",
	)
	return rt, nil
}

// buildBackend creates the chat backends from the configured keys.
func (rt *runtime) buildBackend(ctx context.Context) (llm.Backend, error) {
	cfg := rt.cfg
	multi := &llm.Multi{}
	if key := cfg.Providers.Gemini.APIKey; key != "" {
		g, err := llm.NewGeminiClient(ctx, key, rt.logger)
		if err != nil {
			return nil, fmt.Errorf("creating gemini client: %w", err)
		}
		rt.gemini = g
		multi.Gemini = g
	}
	if key := cfg.Providers.OpenRouter.APIKey; key != "" {
		multi.OpenAI = llm.NewOpenAIClient(cfg.Providers.OpenRouter.BaseURL, key, rt.logger,
			llm.WithHeader("X-Title", cfg.Name),
			llm.WithHeader("HTTP-Referer", "https://github.com/jholhewres/gravityclaw"),
		)
	}
	if multi.Gemini == nil && multi.OpenAI == nil {
		return nil, fmt.Errorf("no LLM provider configured: set GOOGLE_API_KEY or OPENROUTER_API_KEY")
	}
	return multi, nil
}

// buildEmbedder picks the embedding provider, degrading to the null
// embedder when its key is missing.
func (rt *runtime) buildEmbedder() memory.EmbeddingProvider {
	ec := rt.cfg.Embedding
	switch ec.Provider {
	case "gemini":
		if rt.gemini != nil {
			return memory.NewGeminiEmbedder(rt.gemini.Client(), ec)
		}
	case "openai":
		if ec.APIKey == "" {
			ec.APIKey = rt.cfg.Providers.OpenRouter.APIKey
		}
		if ec.APIKey != "" {
			return memory.NewOpenAIEmbedder(ec)
		}
	}
	rt.logger.Warn("episodic memory disabled: no embedding provider", "provider", ec.Provider)
	return memory.NullEmbedder{Dims: ec.Dimensions}
}

// transcriber returns nil without a Groq key.
func (rt *runtime) transcriber() *llm.Transcriber {
	g := rt.cfg.Providers.Groq
	if g.APIKey == "" {
		return nil
	}
	return llm.NewTranscriber(g.BaseURL, g.APIKey, g.Model, g.Language, rt.logger)
}

// speaker returns nil without an ElevenLabs key.
func (rt *runtime) speaker() *llm.Speaker {
	e := rt.cfg.Providers.ElevenLabs
	if e.APIKey == "" {
		return nil
	}
	return llm.NewSpeaker(e.APIKey, e.VoiceID, rt.logger)
}

// Close shuts everything down in reverse order of startup.
func (rt *runtime) Close() {
	rt.sessions.Close()
	rt.agent.Wait()
	if rt.mcp != nil {
		rt.mcp.Close()
	}
	if err := rt.browser.Close(); err != nil {
		rt.logger.Debug("closing browser", "error", err)
	}
	rt.hub.Close()

	done := make(chan struct{})
	go func() {
		rt.db.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		rt.logger.Warn("database close timed out")
	}
}
