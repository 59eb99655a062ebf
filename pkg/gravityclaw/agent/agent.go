// Package agent runs the bounded tool-calling loop: one user message goes in,
// the model is called with the conversation and the tool definitions, every
// requested tool is executed and fed back, until the model answers without
// tool calls or the iteration cap is hit.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/channels"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/llm"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/memory"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/tools"
)

const (
	// DefaultMaxIterations caps model calls per turn.
	DefaultMaxIterations = 10

	// DefaultModel is used when no router is configured.
	DefaultModel = "gemini-2.5-flash"

	defaultEpisodeTimeout = 30 * time.Second
)

// ErrMaxIterations is returned when the model keeps requesting tools past the cap.
var ErrMaxIterations = errors.New("agent loop exceeded max iterations")

// History is the conversation a turn appends to. session.Session satisfies it.
type History interface {
	Messages() []llm.Message
	Append(msgs ...llm.Message)
	Len() int
	Truncate(n int)
}

// FactSource renders the core facts for the system prompt.
type FactSource interface {
	Facts(ctx context.Context) (string, error)
}

// EpisodeIndex stores and recalls summaries of past turns.
type EpisodeIndex interface {
	Save(ctx context.Context, userID, text string) error
	Search(ctx context.Context, userID, query string, topK int) ([]memory.ScoredEpisode, error)
}

// ModelSelector picks the model for a turn.
type ModelSelector interface {
	Select(message string, history []llm.Message) string
}

// ToolExecutor exposes tools to the loop. tools.Registry satisfies it.
type ToolExecutor interface {
	Definitions() []llm.ToolDefinition
	Execute(ctx context.Context, name, rawArgs string) string
}

// Config tunes the loop.
type Config struct {
	MaxIterations  int
	EpisodicTopK   int
	DefaultModel   string
	EpisodeTimeout time.Duration
}

// Deps are the collaborators of the loop. Backend and Tools are required;
// the rest are optional.
type Deps struct {
	Backend  llm.Backend
	Tools    ToolExecutor
	Router   ModelSelector
	Facts    FactSource
	Episodes EpisodeIndex
	Prompt   *PromptBuilder
	Status   *StatusBoard
	Logger   *slog.Logger
}

// Turn is one user message to process.
type Turn struct {
	UserID  string
	Message string
	History History
	Replier channels.Replier
}

// Agent runs turns. It is safe for concurrent use as long as no two turns
// share a History; the session manager guarantees that.
type Agent struct {
	cfg  Config
	deps Deps

	episodes sync.WaitGroup
	logger   *slog.Logger
}

// New creates an agent, filling zero config values with defaults.
func New(cfg Config, deps Deps) *Agent {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.EpisodicTopK <= 0 {
		cfg.EpisodicTopK = memory.DefaultTopK
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultModel
	}
	if cfg.EpisodeTimeout <= 0 {
		cfg.EpisodeTimeout = defaultEpisodeTimeout
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Status == nil {
		deps.Status = NewStatusBoard()
	}
	if deps.Prompt == nil {
		deps.Prompt = NewPromptBuilder("", "", deps.Logger)
	}
	return &Agent{cfg: cfg, deps: deps, logger: deps.Logger.With("component", "agent")}
}

// Status returns the status board the agent reports to.
func (a *Agent) Status() *StatusBoard { return a.deps.Status }

// RunTurn processes one message and returns the final reply. The history is
// extended in place; on a model error it is rolled back to where it was
// before the turn.
func (a *Agent) RunTurn(ctx context.Context, turn Turn) (string, error) {
	if turn.History == nil {
		return "", errors.New("turn has no history")
	}
	if turn.Replier == nil {
		turn.Replier = channels.Discard{}
	}

	start := turn.History.Len()
	turn.History.Append(llm.Message{Role: llm.RoleUser, Content: turn.Message})

	a.deps.Status.Set(turn.UserID, StatusWorking, taskLabel(turn.Message))
	defer a.deps.Status.Set(turn.UserID, StatusOnline, "")

	system := a.deps.Prompt.Build(a.deps.Tools.Definitions(), a.turnContext(ctx, turn))
	model := a.cfg.DefaultModel
	if a.deps.Router != nil {
		model = a.deps.Router.Select(turn.Message, turn.History.Messages())
	}

	ctx = tools.WithTurn(ctx, tools.Turn{UserID: turn.UserID, Replier: turn.Replier})
	runStart := time.Now()

	a.logger.Debug("agent run started",
		"user", turn.UserID,
		"model", model,
		"history_entries", start,
		"max_iterations", a.cfg.MaxIterations,
	)

	for iter := 1; iter <= a.cfg.MaxIterations; iter++ {
		defs := a.deps.Tools.Definitions()
		llmStart := time.Now()
		resp, err := a.deps.Backend.Complete(ctx, llm.Request{
			Model:    model,
			System:   system,
			Messages: turn.History.Messages(),
			Tools:    defs,
		})
		if err != nil {
			turn.History.Truncate(start)
			a.logger.Error("LLM call failed, history rolled back",
				"user", turn.UserID,
				"model", model,
				"iteration", iter,
				"error", err,
			)
			return "", fmt.Errorf("model call (%s): %w", model, err)
		}

		a.logger.Info("LLM call complete",
			"user", turn.UserID,
			"iteration", iter,
			"llm_ms", time.Since(llmStart).Milliseconds(),
			"tool_calls", len(resp.ToolCalls),
			"prompt_tokens", resp.Usage.PromptTokens,
			"completion_tokens", resp.Usage.CompletionTokens,
		)

		turn.History.Append(llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		if len(resp.ToolCalls) == 0 {
			reply := strings.TrimSpace(resp.Content)
			if reply == "" {
				reply = "Done."
			}
			a.logger.Info("agent completed",
				"user", turn.UserID,
				"iterations", iter,
				"response_len", len(reply),
				"run_elapsed_ms", time.Since(runStart).Milliseconds(),
			)
			a.saveEpisode(ctx, turn.UserID, turn.Message, reply)
			return reply, nil
		}

		for _, tc := range resp.ToolCalls {
			a.logger.Info("tool call", "user", turn.UserID, "tool", tc.Function.Name, "id", tc.ID)
			result := a.deps.Tools.Execute(ctx, tc.Function.Name, tc.Function.Arguments)
			a.logger.Debug("tool result", "tool", tc.Function.Name, "result", truncateLog(result, 200))
			turn.History.Append(llm.Message{
				Role:       llm.RoleTool,
				Content:    result,
				ToolCallID: tc.ID,
				Name:       tc.Function.Name,
			})
		}
	}

	a.logger.Warn("agent loop aborted", "user", turn.UserID, "max_iterations", a.cfg.MaxIterations)
	return "", fmt.Errorf("%w (%d)", ErrMaxIterations, a.cfg.MaxIterations)
}

// Wait blocks until pending episodic saves have finished.
func (a *Agent) Wait() {
	a.episodes.Wait()
}

func (a *Agent) turnContext(ctx context.Context, turn Turn) string {
	facts := memory.NoFacts
	if a.deps.Facts != nil {
		f, err := a.deps.Facts.Facts(ctx)
		if err != nil {
			a.logger.Warn("failed to load core facts", "error", err)
			facts = ""
		} else {
			facts = f
		}
	}

	var episodes string
	if a.deps.Episodes != nil && turn.UserID != "" {
		hits, err := a.deps.Episodes.Search(ctx, turn.UserID, turn.Message, a.cfg.EpisodicTopK)
		if err != nil {
			a.logger.Warn("episodic search failed", "user", turn.UserID, "error", err)
		}
		episodes = memory.FormatEpisodes(hits)
	}

	return dynamicContext(facts, turn.Message, episodes)
}

// saveEpisode stores the exchange in the background. It outlives the turn's
// context but not the timeout.
func (a *Agent) saveEpisode(ctx context.Context, userID, message, reply string) {
	if a.deps.Episodes == nil || userID == "" {
		return
	}
	text := fmt.Sprintf("User: %s\nClaw: %s", message, reply)
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.EpisodeTimeout)

	a.episodes.Add(1)
	go func() {
		defer a.episodes.Done()
		defer cancel()
		if err := a.deps.Episodes.Save(saveCtx, userID, text); err != nil {
			a.logger.Error("failed to save episodic memory", "user", userID, "error", err)
		}
	}()
}

func taskLabel(message string) string {
	return truncateLog(strings.TrimSpace(message), 80)
}

func truncateLog(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
