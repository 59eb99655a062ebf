package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// NoFacts is what Facts returns before anything was saved. The agent keys its
// onboarding directive on it.
const NoFacts = "No core facts known yet."

// Fact is one key/value pair of long-term user knowledge.
type Fact struct {
	Key   string
	Value string
}

// FactStore keeps the core facts table.
type FactStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewFactStore creates a fact store on an opened database.
func NewFactStore(db *sql.DB, logger *slog.Logger) *FactStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FactStore{db: db, logger: logger.With("component", "facts")}
}

// List returns all facts ordered by key.
func (s *FactStore) List(ctx context.Context) ([]Fact, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM core_facts ORDER BY key ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying facts: %w", err)
	}
	defer rows.Close()

	var out []Fact
	for rows.Next() {
		var f Fact
		if err := rows.Scan(&f.Key, &f.Value); err != nil {
			return nil, fmt.Errorf("scanning fact: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Facts renders all facts as "- key: value" lines, or NoFacts.
func (s *FactStore) Facts(ctx context.Context) (string, error) {
	facts, err := s.List(ctx)
	if err != nil {
		return "", err
	}
	if len(facts) == 0 {
		return NoFacts, nil
	}
	lines := make([]string, len(facts))
	for i, f := range facts {
		lines[i] = fmt.Sprintf("- %s: %s", f.Key, f.Value)
	}
	return strings.Join(lines, "\n"), nil
}

// Save inserts or replaces the value for key.
func (s *FactStore) Save(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("fact key is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO core_facts (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value)
	if err != nil {
		return fmt.Errorf("saving fact %q: %w", key, err)
	}
	s.logger.Info("core fact saved", "key", key)
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *FactStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM core_facts WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting fact %q: %w", key, err)
	}
	s.logger.Info("core fact deleted", "key", key)
	return nil
}
