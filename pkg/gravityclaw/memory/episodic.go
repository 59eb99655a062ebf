package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultTopK is how many episodes are considered per query.
	DefaultTopK = 3
	// RelevanceThreshold is the score an episode must exceed to be recalled.
	RelevanceThreshold = 0.3
)

// Episode is a stored summary of a past turn.
type Episode struct {
	ID        string
	UserID    string
	Summary   string
	Embedding []float32
	CreatedAt time.Time
}

// ScoredEpisode is a search hit.
type ScoredEpisode struct {
	Episode
	Score float64
}

// EpisodicStore embeds turn summaries and ranks them by cosine similarity.
// Search spans every user's episodes; the index is one shared brain.
// Scoring is a linear scan, which is fine for episode counts but not for
// raw documents.
type EpisodicStore struct {
	db       *sql.DB
	embedder EmbeddingProvider
	logger   *slog.Logger
	now      func() time.Time
}

// NewEpisodicStore creates the index on an opened database.
func NewEpisodicStore(db *sql.DB, embedder EmbeddingProvider, logger *slog.Logger) *EpisodicStore {
	if logger == nil {
		logger = slog.Default()
	}
	if embedder == nil {
		embedder = NullEmbedder{}
	}
	return &EpisodicStore{
		db:       db,
		embedder: embedder,
		logger:   logger.With("component", "episodic_memory"),
		now:      time.Now,
	}
}

// Save embeds text and appends it as a new episode for userID.
func (s *EpisodicStore) Save(ctx context.Context, userID, text string) error {
	vectors, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return fmt.Errorf("embedding episode: %w", err)
	}
	if len(vectors) != 1 {
		return fmt.Errorf("embedding episode: expected 1 vector, got %d", len(vectors))
	}

	raw, err := json.Marshal(vectors[0])
	if err != nil {
		return fmt.Errorf("encoding embedding: %w", err)
	}

	id := uuid.New().String()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO episodic_memories (id, user_id, summary, embedding, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, userID, text, string(raw), s.now().UTC())
	if err != nil {
		return fmt.Errorf("inserting episode: %w", err)
	}

	s.logger.Debug("episode saved", "id", id, "user", userID, "dims", len(vectors[0]))
	return nil
}

// Search returns up to topK episodes from all users that score above
// RelevanceThreshold for query, best first. topK <= 0 uses DefaultTopK.
// An empty result is not an error.
func (s *EpisodicStore) Search(ctx context.Context, userID, query string, topK int) ([]ScoredEpisode, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedding query: expected 1 vector, got %d", len(vectors))
	}
	queryVec := vectors[0]

	episodes, err := s.All(ctx)
	if err != nil {
		return nil, err
	}

	scored := make([]ScoredEpisode, 0, len(episodes))
	for _, ep := range episodes {
		scored = append(scored, ScoredEpisode{Episode: ep, Score: cosineSimilarity(queryVec, ep.Embedding)})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	if len(scored) > topK {
		scored = scored[:topK]
	}
	relevant := scored[:0]
	for _, sc := range scored {
		if sc.Score > RelevanceThreshold {
			relevant = append(relevant, sc)
		}
	}

	s.logger.Debug("episodic search",
		"user", userID,
		"candidates", len(episodes),
		"hits", len(relevant),
	)
	return relevant, nil
}

// All loads every episode, oldest first.
func (s *EpisodicStore) All(ctx context.Context) ([]Episode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, summary, embedding, created_at FROM episodic_memories ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying episodes: %w", err)
	}
	defer rows.Close()

	var out []Episode
	for rows.Next() {
		var ep Episode
		var raw string
		if err := rows.Scan(&ep.ID, &ep.UserID, &ep.Summary, &raw, &ep.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning episode: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &ep.Embedding); err != nil {
			s.logger.Warn("skipping episode with corrupt embedding", "id", ep.ID, "error", err)
			continue
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

// Count returns the number of stored episodes.
func (s *EpisodicStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM episodic_memories`).Scan(&n)
	return n, err
}

// FormatEpisodes renders hits as "- summary" lines.
func FormatEpisodes(hits []ScoredEpisode) string {
	if len(hits) == 0 {
		return ""
	}
	lines := make([]string, len(hits))
	for i, h := range hits {
		lines[i] = "- " + h.Summary
	}
	return strings.Join(lines, "\n")
}

// cosineSimilarity is 0 for empty, mismatched or zero vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}
