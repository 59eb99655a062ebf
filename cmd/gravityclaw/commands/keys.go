package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/config"
)

// newKeysCmd creates `gravityclaw keys` for managing secrets in the OS keyring.
func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys stored in the OS keyring",
		Long: `Store, inspect and remove credentials in the OS keyring. Keys in the
keyring take precedence over environment variables.

Names can be given as keyring keys or as env variable names.

Examples:
  gravityclaw keys list
  gravityclaw keys set TELEGRAM_BOT_TOKEN
  gravityclaw keys delete groq_api_key`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Show which secrets are configured and where they come from",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "KEY\tENV\tSOURCE")
				for _, s := range config.Secrets {
					source := "-"
					switch {
					case config.GetKeyring(s.Key) != "":
						source = "keyring"
					case os.Getenv(s.Env) != "":
						source = "env"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\n", s.Key, s.Env, source)
				}
				return w.Flush()
			},
		},
		&cobra.Command{
			Use:   "set <name> [value]",
			Short: "Store a secret (prompts without echo when value is omitted)",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(_ *cobra.Command, args []string) error {
				s, err := lookupSecret(args[0])
				if err != nil {
					return err
				}
				value := ""
				if len(args) == 2 {
					value = args[1]
				} else {
					value, err = readSecret(fmt.Sprintf("%s: ", s.Env))
					if err != nil {
						return err
					}
				}
				if value == "" {
					return fmt.Errorf("empty value for %s", s.Key)
				}
				if err := config.StoreKeyring(s.Key, value); err != nil {
					return fmt.Errorf("storing %s: %w", s.Key, err)
				}
				fmt.Printf("✓ %s stored in keyring\n", s.Key)
				return nil
			},
		},
		&cobra.Command{
			Use:   "get <name>",
			Short: "Print a stored secret, masked",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				s, err := lookupSecret(args[0])
				if err != nil {
					return err
				}
				v := config.GetKeyring(s.Key)
				if v == "" {
					return fmt.Errorf("%s is not stored in the keyring", s.Key)
				}
				fmt.Println(maskSecret(v))
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <name>",
			Short: "Remove a secret from the keyring",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				s, err := lookupSecret(args[0])
				if err != nil {
					return err
				}
				if err := config.DeleteKeyring(s.Key); err != nil {
					return err
				}
				fmt.Printf("✓ %s removed\n", s.Key)
				return nil
			},
		},
	)
	return cmd
}

func lookupSecret(name string) (config.Secret, error) {
	s, ok := config.LookupSecret(name)
	if !ok {
		names := make([]string, len(config.Secrets))
		for i, s := range config.Secrets {
			names[i] = s.Env
		}
		return config.Secret{}, fmt.Errorf("unknown secret %q (known: %s)", name, strings.Join(names, ", "))
	}
	return s, nil
}

// readSecret reads a value from the terminal without echo, falling back to a
// plain read when stdin is not a terminal.
func readSecret(prompt string) (string, error) {
	fmt.Print(prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("reading secret: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	var buf [4096]byte
	n, err := os.Stdin.Read(buf[:])
	if err != nil {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	return strings.TrimSpace(string(buf[:n])), nil
}

// maskSecret keeps the first and last four characters.
func maskSecret(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
