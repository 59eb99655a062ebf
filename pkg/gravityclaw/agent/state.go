package agent

import (
	"sort"
	"sync"
	"time"
)

// Status is the coarse activity state shown on the dashboard.
type Status string

const (
	StatusOffline Status = "offline"
	StatusOnline  Status = "online"
	StatusWorking Status = "working"
)

// State is the status of one user's agent.
type State struct {
	Status      Status    `json:"status"`
	CurrentTask string    `json:"currentTask,omitempty"`
	Since       time.Time `json:"since"`
}

// StatusBoard tracks the agent status per user. Turns for different users
// run in parallel, so a single global flag would be reset by whichever turn
// finishes first.
type StatusBoard struct {
	mu      sync.RWMutex
	offline bool
	users   map[string]State
}

// NewStatusBoard returns a board whose process-wide status is online.
func NewStatusBoard() *StatusBoard {
	return &StatusBoard{users: make(map[string]State)}
}

// Set records the status of userID.
func (b *StatusBoard) Set(userID string, status Status, task string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.users[userID] = State{Status: status, CurrentTask: task, Since: time.Now()}
}

// Get returns the status of userID; unknown users are online.
func (b *StatusBoard) Get(userID string) State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if st, ok := b.users[userID]; ok {
		return st
	}
	return State{Status: b.baseLocked()}
}

// SetOffline marks the whole process as shutting down (or back online).
func (b *StatusBoard) SetOffline(offline bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.offline = offline
}

// Overall is working while any user's turn runs, offline after SetOffline(true),
// online otherwise. CurrentTask is the task of the first working user by id.
func (b *StatusBoard) Overall() State {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.offline {
		return State{Status: StatusOffline}
	}
	ids := make([]string, 0, len(b.users))
	for id, st := range b.users {
		if st.Status == StatusWorking {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return State{Status: StatusOnline}
	}
	sort.Strings(ids)
	return b.users[ids[0]]
}

// Snapshot returns a copy of all per-user states.
func (b *StatusBoard) Snapshot() map[string]State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]State, len(b.users))
	for id, st := range b.users {
		out[id] = st
	}
	return out
}

func (b *StatusBoard) baseLocked() Status {
	if b.offline {
		return StatusOffline
	}
	return StatusOnline
}
