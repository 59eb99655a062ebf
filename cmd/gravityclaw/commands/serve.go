package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/board"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/bot"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/channels/telegram"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/dashboard"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/proactive"
)

// newServeCmd creates the `gravityclaw serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Telegram bot, scheduler and dashboard API",
		Long: `Start Gravity Claw as a long-running service: Telegram long polling,
scheduled jobs, the notepad watcher, the heartbeat and the dashboard API.

Examples:
  gravityclaw serve
  gravityclaw serve --no-dashboard
  gravityclaw serve --config ./config.yaml`,
		RunE: runServe,
	}

	cmd.Flags().Bool("no-dashboard", false, "do not start the dashboard API")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if noDash, _ := cmd.Flags().GetBool("no-dashboard"); noDash {
		cfg.Dashboard.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration (run `gravityclaw setup`):\n%w", err)
	}
	logger := newLogger(cmd, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	tg := telegram.New(telegram.Config{
		Token:        cfg.Telegram.Token,
		AllowedUsers: cfg.Telegram.AllowedUsers,
		PollTimeout:  cfg.Telegram.PollTimeout,
	}, logger)
	if err := tg.Connect(ctx); err != nil {
		return err
	}
	defer tg.Disconnect()

	deps := bot.Deps{
		Channel:  tg,
		Agent:    rt.agent,
		Sessions: rt.sessions,
		Gate:     rt.gate,
		Facts:    rt.facts,
		Logger:   logger,
	}
	if tr := rt.transcriber(); tr != nil {
		deps.Transcriber = tr
	}
	if sp := rt.speaker(); sp != nil {
		deps.Speaker = sp
	}
	b := bot.New(deps, cfg.AllowedUserIDs())
	defer b.Wait()

	notifier := board.NotifierFunc(b.Broadcast)
	rt.board.SetNotifier(notifier)

	rt.scheduler.SetHandler(b.HandleJob)
	if err := rt.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer rt.scheduler.Stop()

	poller := proactive.NewPoller(rt.notepad, b.PrimaryUser(), cfg.Notepad.PollInterval, b.SubmitDirective, logger)
	poller.Start(ctx)
	defer poller.Stop()

	heartbeat := proactive.NewHeartbeat(cfg.Heartbeat, cfg.AllowedUserIDs(), proactive.NotifierFunc(b.Notify), logger)
	heartbeat.Start(ctx)
	defer heartbeat.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.Run(gctx)
	})
	if cfg.Dashboard.Enabled {
		srv := dashboard.New(cfg.Dashboard, dashboard.Deps{
			Board:    rt.board,
			Notepad:  rt.notepad,
			Facts:    rt.facts,
			Episodes: rt.episodes,
			Status:   rt.status,
			Canvas:   rt.hub,
			Notifier: notifier,
		}, logger)
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	logger.Info("gravity claw online",
		"users", len(cfg.Telegram.AllowedUsers),
		"dashboard", cfg.Dashboard.Enabled,
		"jobs", len(rt.scheduler.List()),
	)
	fmt.Println("🦾 Gravity Claw is running. Press Ctrl+C to stop.")

	err = g.Wait()
	rt.status.SetOffline(true)
	logger.Info("shutting down")
	return err
}
