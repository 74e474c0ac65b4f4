// Package store is the persistence layer for the mid- and long-term memory
// tiers. Everything is plain database/sql over Postgres; atomicity for
// concurrent writers comes from ON CONFLICT upserts, not application locks.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Store wraps the Postgres connection used by all memory tiers.
type Store struct {
	DB *sql.DB
}

// Memory row statuses.
const (
	MemoryStatusActive  = "active"
	MemoryStatusRetired = "retired"
)

// Memory types recognized by the long-term store.
const (
	MemTypeProfile       = "profile"
	MemTypePrefs         = "prefs"
	MemTypeGoals         = "goals"
	MemTypeKnowledgeGaps = "knowledge_gaps"
	MemTypeStrengths     = "strengths"
	MemTypeLearningStyle = "learning_style"
	MemTypeSkill         = "skill"
	MemTypePattern       = "pattern"
	MemTypeSystemRules   = "system_rules"
	MemTypeMTM           = "mtm"
)

// New opens a Postgres connection and verifies it.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// TableExists probes information_schema so callers can flag an unmigrated
// schema up front instead of failing per request.
func (s *Store) TableExists(ctx context.Context, name string) bool {
	var n int
	err := s.DB.QueryRowContext(ctx, `
SELECT COUNT(*) FROM information_schema.tables
WHERE table_schema = current_schema() AND table_name = $1
`, name).Scan(&n)
	if err != nil {
		return false
	}
	return n > 0
}

// isMissingTable reports the Postgres undefined_table error.
func isMissingTable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42P01"
	}
	return false
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
