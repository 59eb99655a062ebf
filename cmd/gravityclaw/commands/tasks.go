package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/board"
)

// newTasksCmd creates `gravityclaw tasks` for the Kanban board.
func newTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Show and edit the task board",
		Long: `Show and edit the Kanban board the agent and the dashboard share.

Statuses: Geplant, In Bearbeitung, Review, Fertig.

Examples:
  gravityclaw tasks list
  gravityclaw tasks list --all
  gravityclaw tasks add "Steuererklärung" --priority Hoch
  gravityclaw tasks move <id> Fertig`,
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List open tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			all, _ := cmd.Flags().GetBool("all")
			return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
				var tasks []board.Task
				var err error
				if all {
					tasks, err = b.All(ctx)
				} else {
					tasks, err = b.Open(ctx)
				}
				if err != nil {
					return err
				}
				if len(tasks) == 0 {
					fmt.Println("No tasks.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tSTATUS\tPRIO\tDUE\tTITLE")
				for _, t := range tasks {
					due := t.ScheduledAt
					if due == "" {
						due = "-"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Status, t.Priority, due, t.Title)
				}
				return w.Flush()
			})
		},
	}
	list.Flags().Bool("all", false, "include tasks in Review and Fertig")

	add := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a task in Geplant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			desc, _ := cmd.Flags().GetString("description")
			prio, _ := cmd.Flags().GetString("priority")
			due, _ := cmd.Flags().GetString("due")
			return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
				t, err := b.Create(ctx, board.NewTask{
					Title:       args[0],
					Description: desc,
					Priority:    prio,
					ScheduledAt: due,
				})
				if err != nil {
					return err
				}
				fmt.Printf("✓ created %s\n", t.ID)
				return nil
			})
		},
	}
	add.Flags().StringP("description", "d", "", "task description")
	add.Flags().StringP("priority", "p", board.PriorityMedium, "Hoch, Mittel or Niedrig")
	add.Flags().String("due", "", "due date (free form)")

	move := &cobra.Command{
		Use:   "move <id> <status>",
		Short: "Move a task to another column",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
				t, err := b.UpdateStatus(ctx, args[0], args[1], "")
				if err != nil {
					return err
				}
				fmt.Printf("✓ %s → %s\n", t.Title, t.Status)
				return nil
			})
		},
	}

	cmd.AddCommand(list, add, move)
	return cmd
}

func withBoard(cmd *cobra.Command, fn func(context.Context, *board.Board) error) error {
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
	return fn(cmd.Context(), board.New(db, nil, logger))
}
