package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// FactRecord is one consented personal fact (name, role, likes...). Facts
// are keyed per user and overwritten in place, with changes journaled into
// ltm_fact_history for audit.
type FactRecord struct {
	ID         int64
	UserID     string
	FactKey    string
	FactValue  string
	Source     string
	Confidence float64
	UpdatedAt  time.Time
}

// StoryRecord is a consented free-form personal note/story.
type StoryRecord struct {
	ID        int64
	UserID    string
	Title     string
	Content   string
	Mood      string
	Topics    []string
	Source    string
	CreatedAt time.Time
}

// UpsertFact writes a personal fact, journaling the previous value when it
// changed. The journal is best-effort; the fact write is not.
func (s *Store) UpsertFact(ctx context.Context, userID, factKey, factValue, source string, confidence float64) error {
	k := strings.TrimSpace(factKey)
	v := strings.TrimSpace(factValue)
	if k == "" || v == "" {
		return fmt.Errorf("fact key and value required")
	}
	if source == "" {
		source = "chat"
	}

	var prevID int64
	var prevValue string
	err := s.DB.QueryRowContext(ctx, `
SELECT id, fact_value FROM ltm_facts WHERE user_id=$1 AND fact_key=$2
`, userID, k).Scan(&prevID, &prevValue)
	switch {
	case err == nil:
		if prevValue != v {
			_, _ = s.DB.ExecContext(ctx, `
INSERT INTO ltm_fact_history (user_id, fact_id, old_value, new_value)
VALUES ($1,$2,$3,$4)
`, userID, prevID, prevValue, v)
		}
	case errors.Is(err, sql.ErrNoRows) || isMissingTable(err):
		// first write, nothing to journal
	default:
		return err
	}

	_, err = s.DB.ExecContext(ctx, `
INSERT INTO ltm_facts (user_id, fact_key, fact_value, source, confidence)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (user_id, fact_key) DO UPDATE SET
  fact_value = EXCLUDED.fact_value,
  source = EXCLUDED.source,
  confidence = EXCLUDED.confidence,
  updated_at = NOW()
`, userID, k, v, source, confidence)
	return err
}

// ListFacts returns the user's facts, most recently updated first.
func (s *Store) ListFacts(ctx context.Context, userID string, limit int) ([]FactRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, user_id, fact_key, fact_value, COALESCE(source,''), COALESCE(confidence,0), updated_at
FROM ltm_facts
WHERE user_id=$1
ORDER BY updated_at DESC
LIMIT $2
`, userID, limit)
	if err != nil {
		if isMissingTable(err) {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()

	var out []FactRecord
	for rows.Next() {
		var rec FactRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.FactKey, &rec.FactValue, &rec.Source, &rec.Confidence, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountFactsUpdatedSince counts fact writes after the given instant. Used
// by the consent gate to enforce the per-day write cap.
func (s *Store) CountFactsUpdatedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `
SELECT COUNT(*) FROM ltm_facts WHERE user_id=$1 AND updated_at >= $2
`, userID, since).Scan(&n)
	if err != nil {
		if isMissingTable(err) {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

// InsertStory appends a story row. Stories are never updated in place.
func (s *Store) InsertStory(ctx context.Context, rec StoryRecord) error {
	if strings.TrimSpace(rec.Content) == "" {
		return fmt.Errorf("story content required")
	}
	topics, err := json.Marshal(rec.Topics)
	if err != nil {
		topics = []byte("[]")
	}
	if rec.Source == "" {
		rec.Source = "chat"
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO ltm_stories (user_id, title, content, mood, topics_json, source)
VALUES ($1,$2,$3,$4,$5,$6)
`, rec.UserID, nullableString(rec.Title), rec.Content, nullableString(rec.Mood), topics, rec.Source)
	return err
}

// ListStories returns the user's stories, newest first.
func (s *Store) ListStories(ctx context.Context, userID string, limit int) ([]StoryRecord, error) {
	if limit <= 0 {
		limit = 1
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, user_id, COALESCE(title,''), content, COALESCE(mood,''), COALESCE(topics_json,'[]'), COALESCE(source,''), created_at
FROM ltm_stories
WHERE user_id=$1
ORDER BY created_at DESC
LIMIT $2
`, userID, limit)
	if err != nil {
		if isMissingTable(err) {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()

	var out []StoryRecord
	for rows.Next() {
		var rec StoryRecord
		var topics []byte
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Title, &rec.Content, &rec.Mood, &topics, &rec.Source, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(topics, &rec.Topics); err != nil {
			rec.Topics = nil
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
