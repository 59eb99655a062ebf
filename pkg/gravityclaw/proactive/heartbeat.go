// Package proactive holds the background loops that act without a user
// message: the heartbeat and the notepad directive poller.
package proactive

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// HeartbeatMessage is sent to every allowed user on each notify tick.
const HeartbeatMessage = "💓 *System Check:* Gravity Claw-Hintergrundprozesse laufen einwandfrei."

// Notifier delivers a text message to a user's chat.
type Notifier interface {
	Notify(ctx context.Context, userID, text string) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, userID, text string) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, userID, text string) error {
	return f(ctx, userID, text)
}

// HeartbeatConfig configures the heartbeat.
type HeartbeatConfig struct {
	// Enabled turns the heartbeat on/off.
	Enabled bool `yaml:"enabled"`

	// LogInterval is the time between "alive" log lines. Default: 1h.
	LogInterval time.Duration `yaml:"log_interval"`

	// NotifyInterval is the time between system check messages. Default: 12h.
	NotifyInterval time.Duration `yaml:"notify_interval"`
}

// DefaultHeartbeatConfig returns the defaults.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Enabled:        true,
		LogInterval:    time.Hour,
		NotifyInterval: 12 * time.Hour,
	}
}

// Heartbeat logs liveness and periodically tells the users it is alive.
type Heartbeat struct {
	config   HeartbeatConfig
	users    []string
	notifier Notifier
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHeartbeat creates a heartbeat for the given users.
func NewHeartbeat(cfg HeartbeatConfig, users []string, notifier Notifier, logger *slog.Logger) *Heartbeat {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LogInterval <= 0 {
		cfg.LogInterval = time.Hour
	}
	if cfg.NotifyInterval <= 0 {
		cfg.NotifyInterval = 12 * time.Hour
	}
	return &Heartbeat{
		config:   cfg,
		users:    users,
		notifier: notifier,
		logger:   logger.With("component", "heartbeat"),
	}
}

// Start begins the heartbeat loop in a background goroutine.
func (h *Heartbeat) Start(ctx context.Context) {
	if !h.config.Enabled {
		h.logger.Info("heartbeat disabled")
		return
	}
	hbCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	h.logger.Info("heartbeat started",
		"log_interval", h.config.LogInterval.String(),
		"notify_interval", h.config.NotifyInterval.String(),
		"users", len(h.users),
	)

	h.wg.Add(1)
	go h.loop(hbCtx)
}

// Stop shuts down the heartbeat and waits for the loop to exit.
func (h *Heartbeat) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()
}

func (h *Heartbeat) loop(ctx context.Context) {
	defer h.wg.Done()

	logTicker := time.NewTicker(h.config.LogInterval)
	defer logTicker.Stop()
	notifyTicker := time.NewTicker(h.config.NotifyInterval)
	defer notifyTicker.Stop()

	for {
		select {
		case <-logTicker.C:
			h.logger.Info("heartbeat: gravity claw is alive and monitoring")
		case <-notifyTicker.C:
			h.notifyAll(ctx)
		case <-ctx.Done():
			h.logger.Info("heartbeat stopped")
			return
		}
	}
}

func (h *Heartbeat) notifyAll(ctx context.Context) {
	if h.notifier == nil {
		return
	}
	for _, u := range h.users {
		if err := h.notifier.Notify(ctx, u, HeartbeatMessage); err != nil {
			h.logger.Error("heartbeat notification failed", "user", u, "error", err)
		}
	}
}
