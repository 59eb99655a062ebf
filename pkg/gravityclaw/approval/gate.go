// Package approval – gate.go implements the per-user confirmation handshake for
// tools that must not run without an explicit yes from the user
// (e.g. execute_terminal).
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout is how long a request waits for the user before it counts as denied.
const DefaultTimeout = 5 * time.Minute

// ErrApprovalPending is returned when a user already has an unresolved request.
var ErrApprovalPending = errors.New("approval already pending for user")

// Decision is the single outcome of an approval request.
type Decision int

const (
	Denied Decision = iota
	Approved
	TimedOut
)

// String returns a lower-case label for logs.
func (d Decision) String() string {
	switch d {
	case Approved:
		return "approved"
	case TimedOut:
		return "timed_out"
	default:
		return "denied"
	}
}

// Pending describes an unresolved request.
type Pending struct {
	ID          string
	UserID      string
	Description string
	CreatedAt   time.Time
	Deadline    time.Time

	result chan bool
}

// Gate holds at most one pending approval per user.
type Gate struct {
	pending map[string]*Pending
	timeout time.Duration

	mu     sync.Mutex
	logger *slog.Logger
}

// NewGate creates a gate. timeout <= 0 uses DefaultTimeout.
func NewGate(timeout time.Duration, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gate{
		pending: make(map[string]*Pending),
		timeout: timeout,
		logger:  logger.With("component", "approval"),
	}
}

// Request registers a pending approval for userID and blocks until it is
// resolved, the deadline passes or ctx is done. A second request for the same
// user while one is outstanding fails with ErrApprovalPending and leaves the
// first one untouched.
func (g *Gate) Request(ctx context.Context, userID, description string) (Decision, error) {
	return g.RequestWithPrompt(ctx, userID, description, nil)
}

// RequestWithPrompt is Request with a callback that runs once the request is
// registered, so a reply to the prompt can never arrive before the gate knows
// about it. A prompt error withdraws the request.
func (g *Gate) RequestWithPrompt(ctx context.Context, userID, description string, prompt func(Pending) error) (Decision, error) {
	now := time.Now()
	p := &Pending{
		ID:          uuid.New().String(),
		UserID:      userID,
		Description: description,
		CreatedAt:   now,
		Deadline:    now.Add(g.timeout),
		result:      make(chan bool, 1),
	}

	g.mu.Lock()
	if existing, ok := g.pending[userID]; ok {
		g.mu.Unlock()
		g.logger.Warn("approval rejected: request already pending",
			"user", userID, "pending_id", existing.ID)
		return Denied, ErrApprovalPending
	}
	g.pending[userID] = p
	g.mu.Unlock()

	g.logger.Info("approval created", "id", p.ID, "user", userID)

	if prompt != nil {
		if err := prompt(*p); err != nil {
			if g.release(p) {
				return Denied, fmt.Errorf("sending approval prompt: %w", err)
			}
			return g.decided(p, <-p.result), nil
		}
	}

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case approved := <-p.result:
		return g.decided(p, approved), nil

	case <-timer.C:
		if g.release(p) {
			g.logger.Warn("approval timed out", "id", p.ID, "user", userID)
			return TimedOut, nil
		}
		// Resolve won the race; its value is already on the way.
		return g.decided(p, <-p.result), nil

	case <-ctx.Done():
		if g.release(p) {
			g.logger.Info("approval cancelled", "id", p.ID, "user", userID)
			return Denied, ctx.Err()
		}
		return g.decided(p, <-p.result), nil
	}
}

// Resolve hands the user's answer to the waiting request. It returns false when
// there is nothing to resolve: no request, already resolved or already expired.
func (g *Gate) Resolve(userID string, approved bool) bool {
	g.mu.Lock()
	p, ok := g.pending[userID]
	if ok {
		delete(g.pending, userID)
	}
	g.mu.Unlock()

	if !ok {
		return false
	}
	// Buffered with capacity 1 and only reachable by whoever removed the entry.
	p.result <- approved
	return true
}

// Pending returns the outstanding request for userID, if any.
func (g *Gate) Pending(userID string) (Pending, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.pending[userID]
	if !ok {
		return Pending{}, false
	}
	return *p, true
}

// HasPending reports whether userID has an unresolved request.
func (g *Gate) HasPending(userID string) bool {
	_, ok := g.Pending(userID)
	return ok
}

// release removes p if it is still the registered entry for its user.
func (g *Gate) release(p *Pending) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cur, ok := g.pending[p.UserID]; ok && cur == p {
		delete(g.pending, p.UserID)
		return true
	}
	return false
}

func (g *Gate) decided(p *Pending, approved bool) Decision {
	if approved {
		g.logger.Info("approval granted", "id", p.ID, "user", p.UserID)
		return Approved
	}
	g.logger.Info("approval denied", "id", p.ID, "user", p.UserID)
	return Denied
}
