package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zalando/go-keyring"
)

func TestMain(m *testing.M) {
	keyring.MockInit()
	os.Exit(m.Run())
}

func clearSecretEnv(t *testing.T) {
	t.Helper()
	for _, s := range Secrets {
		t.Setenv(s.Env, "")
	}
	t.Setenv("ALLOWED_USER_IDS", "")
}

func TestParseOverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
telegram:
  allowed_users: [111, 222]
agent:
  max_iterations: 5
  approval_timeout: 2m
models:
  coding: claude-sonnet
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Agent.MaxIterations != 5 || cfg.Agent.ApprovalTimeout != 2*time.Minute {
		t.Errorf("agent overlay not applied: %+v", cfg.Agent)
	}
	if cfg.Agent.MaxPending != 20 || cfg.Agent.TerminalTimeout != 30*time.Second {
		t.Errorf("defaults lost: %+v", cfg.Agent)
	}
	if cfg.Models.Coding != "claude-sonnet" || cfg.Models.Standard != "gemini-2.5-flash" {
		t.Errorf("unexpected models %+v", cfg.Models)
	}
	if got := cfg.AllowedUserIDs(); len(got) != 2 || got[0] != "111" {
		t.Errorf("allowed users %v", got)
	}
	if cfg.Dashboard.Address != ":4001" || cfg.Notepad.Path != "notepad.json" {
		t.Errorf("unexpected defaults %+v %+v", cfg.Dashboard, cfg.Notepad)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("GC_TEST_SET", "wert")
	t.Setenv("GC_TEST_EMPTY", "")

	tests := []struct {
		in, want string
	}{
		{"${GC_TEST_SET}", "wert"},
		{"${GC_TEST_UNSET_X}", "${GC_TEST_UNSET_X}"},
		{"${GC_TEST_UNSET_X:-fallback}", "fallback"},
		{"${GC_TEST_EMPTY:-leer}", "leer"},
		{"${GC_TEST_UNSET_X:-}", ""},
		{"a ${GC_TEST_SET} b", "a wert b"},
	}
	for _, tt := range tests {
		if got := ExpandEnv(tt.in); got != tt.want {
			t.Errorf("ExpandEnv(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResolveSecrets(t *testing.T) {
	clearSecretEnv(t)

	t.Run("env fallback", func(t *testing.T) {
		t.Setenv("TELEGRAM_BOT_TOKEN", "from-env")
		t.Setenv("ALLOWED_USER_IDS", "42, 43")
		cfg := Default()
		if err := ResolveSecrets(cfg); err != nil {
			t.Fatal(err)
		}
		if cfg.Telegram.Token != "from-env" {
			t.Errorf("token %q", cfg.Telegram.Token)
		}
		if len(cfg.Telegram.AllowedUsers) != 2 || cfg.Telegram.AllowedUsers[1] != 43 {
			t.Errorf("allowed users %v", cfg.Telegram.AllowedUsers)
		}
	})

	t.Run("keyring wins over env", func(t *testing.T) {
		t.Setenv("GROQ_API_KEY", "from-env")
		if err := StoreKeyring("groq_api_key", "from-keyring"); err != nil {
			t.Fatal(err)
		}
		defer DeleteKeyring("groq_api_key")

		cfg := Default()
		if err := ResolveSecrets(cfg); err != nil {
			t.Fatal(err)
		}
		if cfg.Providers.Groq.APIKey != "from-keyring" {
			t.Errorf("groq key %q", cfg.Providers.Groq.APIKey)
		}
	})

	t.Run("explicit value kept", func(t *testing.T) {
		t.Setenv("TAVILY_API_KEY", "from-env")
		cfg := Default()
		cfg.Providers.Tavily.APIKey = "inline"
		if err := ResolveSecrets(cfg); err != nil {
			t.Fatal(err)
		}
		if cfg.Providers.Tavily.APIKey != "inline" {
			t.Errorf("tavily key %q", cfg.Providers.Tavily.APIKey)
		}
	})

	t.Run("unexpanded reference cleared", func(t *testing.T) {
		cfg := Default()
		cfg.Providers.ElevenLabs.APIKey = "${ELEVENLABS_API_KEY}"
		if err := ResolveSecrets(cfg); err != nil {
			t.Fatal(err)
		}
		if cfg.Providers.ElevenLabs.APIKey != "" {
			t.Errorf("expected empty key, got %q", cfg.Providers.ElevenLabs.APIKey)
		}
	})

	t.Run("bad user id", func(t *testing.T) {
		t.Setenv("ALLOWED_USER_IDS", "42,abc")
		if err := ResolveSecrets(Default()); err == nil {
			t.Error("expected error for non-numeric id")
		}
	})
}

func TestValidate(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	if err == nil {
		t.Fatal("empty config must not validate")
	}
	for _, want := range []string{"telegram.token", "allowed_users", "LLM key"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}

	cfg.Telegram.Token = "t"
	cfg.Telegram.AllowedUsers = []int64{1}
	cfg.Providers.Gemini.APIKey = "g"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	cfg.Logging.Format = "xml"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown log format")
	}
}

func TestLoadResolvesPaths(t *testing.T) {
	clearSecretEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := "telegram:\n  token: ${GC_TEST_TOKEN:-abc}\nnotepad:\n  path: pad.json\n"
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, used, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if used != path {
		t.Errorf("used %q", used)
	}
	if cfg.Telegram.Token != "abc" {
		t.Errorf("token %q", cfg.Telegram.Token)
	}
	if cfg.Notepad.Path != filepath.Join(dir, "pad.json") {
		t.Errorf("notepad path %q", cfg.Notepad.Path)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := Default()
	cfg.Telegram.AllowedUsers = []int64{7}
	if err := Save(cfg, path); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode %v", info.Mode().Perm())
	}
	data, _ := os.ReadFile(path)
	back, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(back.Telegram.AllowedUsers) != 1 || back.Telegram.AllowedUsers[0] != 7 {
		t.Errorf("allowed users %v", back.Telegram.AllowedUsers)
	}
}

func TestLookupSecret(t *testing.T) {
	if s, ok := LookupSecret("TELEGRAM_BOT_TOKEN"); !ok || s.Key != "telegram_token" {
		t.Errorf("lookup by env failed: %+v", s)
	}
	if s, ok := LookupSecret("google_api_key"); !ok || s.Env != "GOOGLE_API_KEY" {
		t.Errorf("lookup by key failed: %+v", s)
	}
	if _, ok := LookupSecret("nope"); ok {
		t.Error("unknown secret found")
	}
}
