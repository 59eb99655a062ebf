package proactive

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/board"
)

// DefaultPollInterval is how often the notepad is checked without a file event.
const DefaultPollInterval = 5 * time.Second

// DirectiveMessage wraps a notepad directive as a turn message.
func DirectiveMessage(text string) string {
	return fmt.Sprintf("Das Dashboard hat folgende neue Aufgabe (Active Directive) für dich: %s\n\nHinweis: Behalte deinen aktuellen Kontext.", text)
}

// DirectiveFunc submits a directive turn for userID. It must not block on
// the turn itself.
type DirectiveFunc func(userID, message string) error

// Poller watches the notepad for notes stamped with a new timestamp and
// turns them into directive turns for the primary user. The first timestamp
// it sees only initializes the baseline.
type Poller struct {
	notepad  *board.Notepad
	userID   string
	submit   DirectiveFunc
	interval time.Duration
	logger   *slog.Logger

	mu          sync.Mutex
	lastTS      string
	initialized bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPoller creates a poller. interval <= 0 uses DefaultPollInterval.
func NewPoller(notepad *board.Notepad, userID string, interval time.Duration, submit DirectiveFunc, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		notepad:  notepad,
		userID:   userID,
		submit:   submit,
		interval: interval,
		logger:   logger.With("component", "notepad-poller"),
	}
}

// Start begins polling in the background. File events from fsnotify trigger
// an immediate check; the ticker covers platforms where watching fails.
func (p *Poller) Start(ctx context.Context) {
	if p.userID == "" {
		p.logger.Warn("no primary user, notepad poller disabled")
		return
	}
	pctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		p.logger.Warn("file watcher unavailable, polling only", "error", err)
		watcher = nil
	} else if err := watcher.Add(filepath.Dir(p.notepad.Path())); err != nil {
		p.logger.Warn("cannot watch notepad directory, polling only", "error", err)
		watcher.Close()
		watcher = nil
	}

	p.logger.Info("notepad poller started", "path", p.notepad.Path(), "interval", p.interval.String(), "watching", watcher != nil)

	p.wg.Add(1)
	go p.loop(pctx, watcher)
}

// Stop cancels the loop and waits for it to exit.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Poller) loop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer p.wg.Done()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if watcher != nil {
		defer watcher.Close()
		events = watcher.Events
		errs = watcher.Errors
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Check()
	name := filepath.Clean(p.notepad.Path())
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("notepad poller stopped")
			return
		case <-ticker.C:
			p.Check()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) == name && ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				p.Check()
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			p.logger.Warn("watcher error", "error", err)
		}
	}
}

// Check reads the notepad once and submits a directive when the timestamp
// moved. It reports whether a directive was submitted.
func (p *Poller) Check() bool {
	note, err := p.notepad.Read()
	if err != nil {
		p.logger.Error("notepad poll error", "error", err)
		return false
	}

	p.mu.Lock()
	if note.TS == "" || note.TS == p.lastTS {
		p.mu.Unlock()
		return false
	}
	first := !p.initialized
	p.lastTS = note.TS
	p.initialized = true
	p.mu.Unlock()

	if first || note.Author == board.AuthorAgent || note.Text == "" {
		return false
	}

	p.logger.Info("new directive received from dashboard", "text", truncate(note.Text, 50))
	if err := p.submit(p.userID, DirectiveMessage(note.Text)); err != nil {
		p.logger.Error("failed to submit directive", "user", p.userID, "error", err)
		return false
	}
	return true
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
