package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
)

// DefaultMaxPending is how many jobs may wait behind a running one per user.
const DefaultMaxPending = 20

var (
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("session manager closed")

	// ErrQueueFull is returned when a user already has MaxPending jobs waiting.
	ErrQueueFull = errors.New("session queue full")
)

// Job is one unit of work against a user's session. ctx is cancelled when the
// manager closes.
type Job func(ctx context.Context, s *Session)

// Manager owns the sessions and one worker goroutine per active user.
type Manager struct {
	maxPending int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*Session
	workers  map[string]chan Job
	closed   bool

	logger *slog.Logger
}

// NewManager creates a manager. maxPending <= 0 uses DefaultMaxPending.
func NewManager(maxPending int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		maxPending: maxPending,
		ctx:        ctx,
		cancel:     cancel,
		sessions:   make(map[string]*Session),
		workers:    make(map[string]chan Job),
		logger:     logger.With("component", "session"),
	}
}

// Get returns the session for userID, creating it on first use.
func (m *Manager) Get(userID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(userID)
}

func (m *Manager) getLocked(userID string) *Session {
	s, ok := m.sessions[userID]
	if !ok {
		s = newSession(userID)
		m.sessions[userID] = s
		m.logger.Debug("session created", "user", userID)
	}
	return s
}

// Submit queues job for userID and returns immediately. Jobs for the same
// user run in submission order, never concurrently.
func (m *Manager) Submit(userID string, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.getLocked(userID)

	queue, ok := m.workers[userID]
	if !ok {
		queue = make(chan Job, m.maxPending)
		m.workers[userID] = queue
		m.wg.Add(1)
		go m.run(userID, queue)
	}

	select {
	case queue <- job:
		return nil
	default:
		m.logger.Warn("session queue full, job dropped", "user", userID, "max_pending", m.maxPending)
		return fmt.Errorf("%w for user %s", ErrQueueFull, userID)
	}
}

// Do submits job and waits until it has run or ctx is done.
func (m *Manager) Do(ctx context.Context, userID string, job Job) error {
	done := make(chan struct{})
	err := m.Submit(userID, func(jctx context.Context, s *Session) {
		defer close(done)
		job(jctx, s)
	})
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset starts a fresh session for userID. A turn already running keeps the
// session it was handed, so its tool calls and results stay paired; the next
// job sees the new, empty one.
func (m *Manager) Reset(userID string) {
	m.mu.Lock()
	m.sessions[userID] = newSession(userID)
	m.mu.Unlock()
	m.logger.Info("session cleared", "user", userID)
}

// Users returns the ids of all known sessions, sorted.
func (m *Manager) Users() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close stops accepting work, cancels running jobs and waits for every worker
// to exit. Queued jobs that have not started are discarded.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for _, q := range m.workers {
		close(q)
	}
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	m.logger.Info("session manager stopped")
}

func (m *Manager) run(userID string, queue <-chan Job) {
	defer m.wg.Done()
	for job := range queue {
		if m.ctx.Err() != nil {
			continue
		}
		m.exec(userID, m.Get(userID), job)
	}
}

func (m *Manager) exec(userID string, s *Session, job Job) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("session job panicked", "user", userID, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	job(m.ctx, s)
}
