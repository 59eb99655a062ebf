package commands

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/config"
)

// newSetupCmd creates the `gravityclaw setup` command for interactive configuration.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Starts an interactive wizard that writes config.yaml and stores every
API key in the OS keyring. The config file never contains secrets.

Examples:
  gravityclaw setup
  gravityclaw setup --config ./config.yaml`,
		Args: cobra.NoArgs,
		RunE: runSetup,
	}
}

// setupAnswers collects the wizard's form values.
type setupAnswers struct {
	name         string
	timezone     string
	allowedUsers string
	embedding    string
	dashboard    bool
	dashToken    string
	overwrite    bool

	secrets map[string]*string
}

func runSetup(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path == "" {
		path = config.DefaultConfigPath()
	}

	cfg := config.Default()
	a := &setupAnswers{
		name:      cfg.Name,
		timezone:  cfg.Timezone,
		embedding: cfg.Embedding.Provider,
		dashboard: cfg.Dashboard.Enabled,
		overwrite: true,
		secrets:   make(map[string]*string, len(config.Secrets)),
	}
	for _, s := range config.Secrets {
		v := ""
		a.secrets[s.Key] = &v
	}

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════╗")
	fmt.Println("║        Gravity Claw — Setup Wizard           ║")
	fmt.Println("╚══════════════════════════════════════════════╝")
	fmt.Println()

	if _, err := os.Stat(path); err == nil {
		err := huh.NewConfirm().
			Title(fmt.Sprintf("%s already exists. Overwrite?", path)).
			Value(&a.overwrite).
			Run()
		if err != nil {
			return err
		}
		if !a.overwrite {
			fmt.Println("Setup cancelled, nothing written.")
			return nil
		}
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Assistant name").
				Value(&a.name),
			huh.NewInput().
				Title("Timezone").
				Description("IANA name, used for the clock tool and cron schedules").
				Value(&a.timezone).
				Validate(func(s string) error {
					_, err := time.LoadLocation(strings.TrimSpace(s))
					return err
				}),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Telegram bot token").
				Description("From @BotFather. Stored in the OS keyring.").
				EchoMode(huh.EchoModePassword).
				Value(a.secrets["telegram_token"]).
				Validate(required("bot token")),
			huh.NewInput().
				Title("Allowed Telegram user ids").
				Description("Comma separated. The first one is the primary user.").
				Value(&a.allowedUsers).
				Validate(func(s string) error {
					ids, err := parseIDList(s)
					if err == nil && len(ids) == 0 {
						return errors.New("at least one user id is required")
					}
					return err
				}),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Google API key (Gemini)").
				Description("Chat, vision, image generation and embeddings").
				EchoMode(huh.EchoModePassword).
				Value(a.secrets["google_api_key"]),
			huh.NewInput().
				Title("OpenRouter API key").
				Description("Optional, for non-Gemini models").
				EchoMode(huh.EchoModePassword).
				Value(a.secrets["openrouter_api_key"]),
			huh.NewSelect[string]().
				Title("Embedding provider for episodic memory").
				Options(
					huh.NewOption("Gemini", "gemini"),
					huh.NewOption("OpenAI-compatible", "openai"),
					huh.NewOption("Disabled", "none"),
				).
				Value(&a.embedding),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Groq API key").
				Description("Optional, voice transcription").
				EchoMode(huh.EchoModePassword).
				Value(a.secrets["groq_api_key"]),
			huh.NewInput().
				Title("ElevenLabs API key").
				Description("Optional, voice replies").
				EchoMode(huh.EchoModePassword).
				Value(a.secrets["elevenlabs_api_key"]),
			huh.NewInput().
				Title("Tavily API key").
				Description("Optional, web search falls back to DuckDuckGo").
				EchoMode(huh.EchoModePassword).
				Value(a.secrets["tavily_api_key"]),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Start the dashboard API?").
				Value(&a.dashboard),
			huh.NewInput().
				Title("Dashboard auth token").
				Description("Optional. Leave empty for an open API on localhost.").
				EchoMode(huh.EchoModePassword).
				Value(&a.dashToken),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	if *a.secrets["google_api_key"] == "" && *a.secrets["openrouter_api_key"] == "" {
		return errors.New("either a Google or an OpenRouter key is required")
	}

	cfg.Name = strings.TrimSpace(a.name)
	cfg.Timezone = strings.TrimSpace(a.timezone)
	cfg.Telegram.AllowedUsers, _ = parseIDList(a.allowedUsers)
	cfg.Embedding.Provider = a.embedding
	cfg.Dashboard.Enabled = a.dashboard
	cfg.Dashboard.AuthToken = a.dashToken

	fmt.Println()
	for _, s := range config.Secrets {
		v := strings.TrimSpace(*a.secrets[s.Key])
		if v == "" {
			continue
		}
		if err := config.StoreKeyring(s.Key, v); err != nil {
			fmt.Printf("   [!] keyring unavailable for %s (%v). Export %s instead.\n", s.Key, err, s.Env)
			continue
		}
		fmt.Printf("   ✓ %s stored in keyring\n", s.Key)
	}

	if err := config.Save(cfg, path); err != nil {
		return err
	}
	fmt.Printf("\n✓ Config written to %s\n", path)
	fmt.Println("  Start the agent with: gravityclaw serve")
	return nil
}

func required(what string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", what)
		}
		return nil
	}
}

// parseIDList parses comma separated numeric ids.
func parseIDList(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a numeric user id", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
