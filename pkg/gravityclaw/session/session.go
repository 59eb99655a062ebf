// Package session holds per-user conversation state and serializes the turns
// that mutate it. Every trigger source (chat, voice, notepad poller, cron)
// submits work through the Manager; turns for one user run strictly one after
// another while different users proceed in parallel.
package session

import (
	"sync"
	"time"

	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/llm"
)

// Session is the in-memory conversation of one user. It lives until the
// process exits or the user clears it.
type Session struct {
	UserID    string
	CreatedAt time.Time

	history      []llm.Message
	lastActiveAt time.Time

	mu sync.RWMutex
}

func newSession(userID string) *Session {
	now := time.Now()
	return &Session{UserID: userID, CreatedAt: now, lastActiveAt: now}
}

// Messages returns a copy of the history.
func (s *Session) Messages() []llm.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]llm.Message, len(s.history))
	copy(out, s.history)
	return out
}

// Append adds messages to the end of the history.
func (s *Session) Append(msgs ...llm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, msgs...)
	s.lastActiveAt = time.Now()
}

// Len returns the number of messages.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// Truncate drops everything after the first n messages. It is a no-op when
// the history is already shorter, e.g. because it was cleared meanwhile.
func (s *Session) Truncate(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 0 {
		n = 0
	}
	if n < len(s.history) {
		for i := n; i < len(s.history); i++ {
			s.history[i] = llm.Message{}
		}
		s.history = s.history[:n]
	}
}

// Clear empties the history.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

// LastActiveAt returns when the history last grew.
func (s *Session) LastActiveAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActiveAt
}
