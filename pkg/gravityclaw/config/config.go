// Package config defines the Gravity Claw configuration, its defaults and
// validation. Loading lives in loader.go, secret resolution in keyring.go.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/browser"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/dashboard"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/database"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/memory"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/proactive"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/router"
)

// Config is the root configuration.
type Config struct {
	// Name is the assistant's display name.
	Name string `yaml:"name"`

	// Timezone for get_current_time and cron schedules (IANA name).
	Timezone string `yaml:"timezone"`

	Telegram  TelegramConfig            `yaml:"telegram"`
	Providers ProvidersConfig           `yaml:"providers"`
	Models    router.Models             `yaml:"models"`
	Agent     AgentConfig               `yaml:"agent"`
	Workspace WorkspaceConfig           `yaml:"workspace"`
	Database  database.Config           `yaml:"database"`
	Embedding memory.EmbeddingConfig    `yaml:"embedding"`
	Browser   browser.Config            `yaml:"browser"`
	Heartbeat proactive.HeartbeatConfig `yaml:"heartbeat"`
	Notepad   NotepadConfig             `yaml:"notepad"`
	Dashboard dashboard.Config          `yaml:"dashboard"`
	MCP       MCPConfig                 `yaml:"mcp"`
	Logging   LoggingConfig             `yaml:"logging"`
}

// TelegramConfig configures the bot transport.
type TelegramConfig struct {
	// Token is the bot token. Leave empty to resolve it from the keyring or
	// TELEGRAM_BOT_TOKEN.
	Token string `yaml:"token"`

	// AllowedUsers is the numeric user whitelist. The first entry is the
	// primary user that receives dashboard directives.
	AllowedUsers []int64 `yaml:"allowed_users"`

	// PollTimeout is the long-poll timeout in seconds.
	PollTimeout int `yaml:"poll_timeout"`
}

// ProvidersConfig holds the endpoints and keys of external services.
type ProvidersConfig struct {
	OpenRouter OpenRouterConfig `yaml:"openrouter"`
	Gemini     GeminiConfig     `yaml:"gemini"`
	Groq       GroqConfig       `yaml:"groq"`
	ElevenLabs ElevenLabsConfig `yaml:"elevenlabs"`
	Tavily     TavilyConfig     `yaml:"tavily"`
}

// OpenRouterConfig is any OpenAI-compatible chat endpoint.
type OpenRouterConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// GeminiConfig configures the Google GenAI client.
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
}

// GroqConfig configures Whisper transcription.
type GroqConfig struct {
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
	Language string `yaml:"language"`
}

// ElevenLabsConfig configures text-to-speech.
type ElevenLabsConfig struct {
	APIKey  string `yaml:"api_key"`
	VoiceID string `yaml:"voice_id"`
}

// TavilyConfig configures web search.
type TavilyConfig struct {
	APIKey string `yaml:"api_key"`
}

// AgentConfig tunes the agent loop.
type AgentConfig struct {
	MaxIterations int `yaml:"max_iterations"`
	EpisodicTopK  int `yaml:"episodic_top_k"`

	// ApprovalTimeout is how long a terminal approval waits for the user.
	ApprovalTimeout time.Duration `yaml:"approval_timeout"`

	// TerminalTimeout bounds a single approved command.
	TerminalTimeout time.Duration `yaml:"terminal_timeout"`

	// MaxPending is the per-user queue depth.
	MaxPending int `yaml:"max_pending"`

	SoulPath  string `yaml:"soul_path"`
	SkillsDir string `yaml:"skills_dir"`
}

// WorkspaceConfig confines the file tools.
type WorkspaceConfig struct {
	Root          string `yaml:"root"`
	ScreenshotDir string `yaml:"screenshot_dir"`
}

// NotepadConfig locates the shared notepad file.
type NotepadConfig struct {
	Path         string        `yaml:"path"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// MCPConfig points at the MCP server definitions.
type MCPConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ConfigPath string `yaml:"config_path"`

	// CallTimeout bounds a single remote tool call.
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// Default returns a configuration with every default filled in.
func Default() *Config {
	return &Config{
		Name:     "Gravity Claw",
		Timezone: "Europe/Berlin",
		Telegram: TelegramConfig{
			PollTimeout: 30,
		},
		Providers: ProvidersConfig{
			OpenRouter: OpenRouterConfig{BaseURL: "https://openrouter.ai/api/v1"},
			Groq: GroqConfig{
				BaseURL:  "https://api.groq.com/openai/v1",
				Model:    "whisper-large-v3-turbo",
				Language: "de",
			},
			ElevenLabs: ElevenLabsConfig{VoiceID: "onwK4e9ZLuTAKqWW03F9"},
		},
		Models: router.DefaultModels(),
		Agent: AgentConfig{
			MaxIterations:   10,
			EpisodicTopK:    memory.DefaultTopK,
			ApprovalTimeout: 5 * time.Minute,
			TerminalTimeout: 30 * time.Second,
			MaxPending:      20,
			SoulPath:        "soul.md",
			SkillsDir:       "skills",
		},
		Workspace: WorkspaceConfig{
			Root:          ".",
			ScreenshotDir: "screenshots",
		},
		Database:  database.Config{Path: "./data/gravityclaw.db", JournalMode: "WAL", BusyTimeout: 5000},
		Embedding: memory.DefaultEmbeddingConfig(),
		Browser:   browser.Config{Headless: true},
		Heartbeat: proactive.DefaultHeartbeatConfig(),
		Notepad: NotepadConfig{
			Path:         "notepad.json",
			PollInterval: proactive.DefaultPollInterval,
		},
		Dashboard: dashboard.Config{
			Enabled:        true,
			Address:        ":4001",
			AllowedOrigins: []string{"*"},
		},
		MCP: MCPConfig{
			Enabled:     true,
			ConfigPath:  "mcp_config.json",
			CallTimeout: 60 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// AllowedUserIDs returns the whitelist as strings, the form chat ids take
// everywhere past the transport.
func (c *Config) AllowedUserIDs() []string {
	out := make([]string, len(c.Telegram.AllowedUsers))
	for i, id := range c.Telegram.AllowedUsers {
		out[i] = strconv.FormatInt(id, 10)
	}
	return out
}

// ResolvePaths makes relative file paths absolute against base, usually the
// directory of the config file.
func (c *Config) ResolvePaths(base string) {
	if base == "" {
		return
	}
	for _, p := range []*string{
		&c.Agent.SoulPath, &c.Agent.SkillsDir, &c.Workspace.Root, &c.Workspace.ScreenshotDir,
		&c.Database.Path, &c.Notepad.Path, &c.MCP.ConfigPath,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
}

// Validate checks what the runtime cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.Telegram.Token == "" {
		errs = append(errs, errors.New("telegram.token is required (or set TELEGRAM_BOT_TOKEN)"))
	}
	if len(c.Telegram.AllowedUsers) == 0 {
		errs = append(errs, errors.New("telegram.allowed_users must list at least one user id (or set ALLOWED_USER_IDS)"))
	}
	if c.Providers.OpenRouter.APIKey == "" && c.Providers.Gemini.APIKey == "" {
		errs = append(errs, errors.New("an LLM key is required: providers.openrouter.api_key or providers.gemini.api_key"))
	}
	if c.Agent.MaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("agent.max_iterations must be positive, got %d", c.Agent.MaxIterations))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// parseUserIDs parses a comma-separated id list.
func parseUserIDs(s string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q: %w", part, err)
		}
		out = append(out, id)
	}
	return out, nil
}

// homeConfigDir is ~/.gravityclaw.
func homeConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".gravityclaw")
}
