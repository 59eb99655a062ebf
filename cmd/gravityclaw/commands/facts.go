package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/memory"
)

// newFactsCmd creates `gravityclaw facts` for inspecting core memory.
func newFactsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "facts",
		Short: "Inspect and edit the agent's core memory",
		Long: `Core memory is the key/value fact store injected into every turn.

Examples:
  gravityclaw facts list
  gravityclaw facts set lieblingsfarbe blau
  gravityclaw facts delete lieblingsfarbe`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List all facts",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withFacts(cmd, func(ctx context.Context, facts *memory.FactStore) error {
					list, err := facts.List(ctx)
					if err != nil {
						return err
					}
					if len(list) == 0 {
						fmt.Println("No facts stored.")
						return nil
					}
					w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
					fmt.Fprintln(w, "KEY\tVALUE")
					for _, f := range list {
						fmt.Fprintf(w, "%s\t%s\n", f.Key, f.Value)
					}
					return w.Flush()
				})
			},
		},
		&cobra.Command{
			Use:   "set <key> <value...>",
			Short: "Create or overwrite a fact",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withFacts(cmd, func(ctx context.Context, facts *memory.FactStore) error {
					if err := facts.Save(ctx, args[0], strings.Join(args[1:], " ")); err != nil {
						return err
					}
					fmt.Printf("✓ %s saved\n", args[0])
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "delete <key>",
			Short: "Delete a fact",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withFacts(cmd, func(ctx context.Context, facts *memory.FactStore) error {
					if err := facts.Delete(ctx, args[0]); err != nil {
						return err
					}
					fmt.Printf("✓ %s deleted\n", args[0])
					return nil
				})
			},
		},
	)
	return cmd
}

func withFacts(cmd *cobra.Command, fn func(context.Context, *memory.FactStore) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)
	db, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(cmd.Context(), memory.NewFactStore(db, logger))
}
