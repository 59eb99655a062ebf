package board

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EmptyNotepad is returned by ReadText when there is nothing to read.
const EmptyNotepad = "Notepad is empty."

// Note authors.
const (
	AuthorDashboard = "dashboard"
	AuthorAgent     = "agent"
)

// Note is the notepad file content. TS is stamped on every write and is what
// the background poller diffs to spot directives written from the dashboard.
// Notes written by the agent itself carry AuthorAgent so they are not fed
// back as directives.
type Note struct {
	Text   string `json:"text"`
	TS     string `json:"ts"`
	Author string `json:"author,omitempty"`
}

// Notepad is a JSON file shared between the agent and the dashboard.
type Notepad struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewNotepad creates a notepad stored at path.
func NewNotepad(path string) *Notepad {
	return &Notepad{path: path, now: time.Now}
}

// Path returns the file location.
func (n *Notepad) Path() string {
	return n.path
}

// Read returns the current note. A missing file yields a zero Note.
func (n *Notepad) Read() (Note, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	data, err := os.ReadFile(n.path)
	if errors.Is(err, os.ErrNotExist) {
		return Note{}, nil
	}
	if err != nil {
		return Note{}, fmt.Errorf("reading notepad: %w", err)
	}
	var note Note
	if err := json.Unmarshal(data, &note); err != nil {
		return Note{}, fmt.Errorf("parsing notepad: %w", err)
	}
	return note, nil
}

// ReadText returns the note text or EmptyNotepad.
func (n *Notepad) ReadText() (string, error) {
	note, err := n.Read()
	if err != nil {
		return "", err
	}
	if note.Text == "" {
		return EmptyNotepad, nil
	}
	return note.Text, nil
}

// Write replaces the note on behalf of the dashboard user.
func (n *Notepad) Write(text string) (Note, error) {
	return n.WriteAs(AuthorDashboard, text)
}

// WriteAs replaces the note and stamps it with the current time.
func (n *Notepad) WriteAs(author, text string) (Note, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	note := Note{Text: text, TS: n.now().UTC().Format(time.RFC3339Nano), Author: author}
	data, err := json.MarshalIndent(note, "", "  ")
	if err != nil {
		return Note{}, err
	}
	if dir := filepath.Dir(n.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Note{}, fmt.Errorf("creating notepad directory: %w", err)
		}
	}
	// Write to a temp file and rename so the poller never sees a partial file.
	tmp := n.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return Note{}, fmt.Errorf("writing notepad: %w", err)
	}
	if err := os.Rename(tmp, n.path); err != nil {
		return Note{}, fmt.Errorf("writing notepad: %w", err)
	}
	return note, nil
}
