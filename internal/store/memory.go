package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// MemoryRecord is one long-term memory row: a (user, type, key) unique entry
// with a JSON payload, a confidence score and a reconfirmation trail.
type MemoryRecord struct {
	ID              int64
	UserID          string
	MemType         string
	MemKey          string
	Value           json.RawMessage
	Confidence      float64
	RecurrenceCount int
	Source          string
	Status          string
	LastConfirmedAt time.Time
	CreatedAt       time.Time
}

// EvidenceRecord links a memory row to the signal that produced it.
// Evidence is append-only and never updated.
type EvidenceRecord struct {
	ID         string
	LtmID      int64
	SourceType string // chat | attempt | summary | manual
	SourceID   string
	Note       string
	CreatedAt  time.Time
}

// UpsertMemory inserts or reconfirms a memory row. On conflict the value and
// source are overwritten, confidence keeps the maximum of old and new
// (clamped to 1), recurrence_count increments and the row is reactivated.
// Confidence never weakens on a single write.
func (s *Store) UpsertMemory(ctx context.Context, rec MemoryRecord) (MemoryRecord, error) {
	if strings.TrimSpace(rec.UserID) == "" {
		return MemoryRecord{}, fmt.Errorf("user id required")
	}
	if strings.TrimSpace(rec.MemType) == "" || strings.TrimSpace(rec.MemKey) == "" {
		return MemoryRecord{}, fmt.Errorf("mem_type and mem_key required")
	}
	value := rec.Value
	if len(value) == 0 {
		value = json.RawMessage(`{}`)
	}

	row := s.DB.QueryRowContext(ctx, `
INSERT INTO ltm_memories (user_id, mem_type, mem_key, value_json, confidence, recurrence_count, source, status, last_confirmed_at)
VALUES ($1,$2,$3,$4,$5,1,$6,'active',NOW())
ON CONFLICT (user_id, mem_type, mem_key) DO UPDATE SET
  value_json = EXCLUDED.value_json,
  confidence = LEAST(1.0, GREATEST(ltm_memories.confidence, EXCLUDED.confidence)),
  recurrence_count = ltm_memories.recurrence_count + 1,
  source = EXCLUDED.source,
  status = 'active',
  last_confirmed_at = NOW()
RETURNING id, confidence, recurrence_count, status, last_confirmed_at, created_at
`, rec.UserID, rec.MemType, rec.MemKey, []byte(value), rec.Confidence, nullableString(rec.Source))

	if err := row.Scan(&rec.ID, &rec.Confidence, &rec.RecurrenceCount, &rec.Status, &rec.LastConfirmedAt, &rec.CreatedAt); err != nil {
		return MemoryRecord{}, err
	}
	rec.Value = value
	return rec, nil
}

// PutMemory writes a memory row with an explicitly chosen confidence,
// overwriting whatever was there. Consolidation and preference writes use
// this path: their confidence is computed, not merged, and may go down.
func (s *Store) PutMemory(ctx context.Context, rec MemoryRecord) (MemoryRecord, error) {
	if strings.TrimSpace(rec.UserID) == "" {
		return MemoryRecord{}, fmt.Errorf("user id required")
	}
	if strings.TrimSpace(rec.MemType) == "" || strings.TrimSpace(rec.MemKey) == "" {
		return MemoryRecord{}, fmt.Errorf("mem_type and mem_key required")
	}
	value := rec.Value
	if len(value) == 0 {
		value = json.RawMessage(`{}`)
	}

	row := s.DB.QueryRowContext(ctx, `
INSERT INTO ltm_memories (user_id, mem_type, mem_key, value_json, confidence, recurrence_count, source, status, last_confirmed_at)
VALUES ($1,$2,$3,$4,$5,1,$6,'active',NOW())
ON CONFLICT (user_id, mem_type, mem_key) DO UPDATE SET
  value_json = EXCLUDED.value_json,
  confidence = EXCLUDED.confidence,
  recurrence_count = ltm_memories.recurrence_count + 1,
  source = EXCLUDED.source,
  status = 'active',
  last_confirmed_at = NOW()
RETURNING id, confidence, recurrence_count, status, last_confirmed_at, created_at
`, rec.UserID, rec.MemType, rec.MemKey, []byte(value), rec.Confidence, nullableString(rec.Source))

	if err := row.Scan(&rec.ID, &rec.Confidence, &rec.RecurrenceCount, &rec.Status, &rec.LastConfirmedAt, &rec.CreatedAt); err != nil {
		return MemoryRecord{}, err
	}
	rec.Value = value
	return rec, nil
}

// GetMemory is a point lookup by (user, type, key).
func (s *Store) GetMemory(ctx context.Context, userID, memType, memKey string) (MemoryRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, user_id, mem_type, mem_key, value_json, confidence, recurrence_count, COALESCE(source,''), status, last_confirmed_at, created_at
FROM ltm_memories
WHERE user_id=$1 AND mem_type=$2 AND mem_key=$3
`, userID, memType, memKey)
	return scanMemoryRow(row)
}

// GetMemoryByKey looks up a row by key alone, across types. Keys are
// namespaced (skill:, pref:, sys:) so collisions do not happen in practice.
func (s *Store) GetMemoryByKey(ctx context.Context, userID, memKey string) (MemoryRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, user_id, mem_type, mem_key, value_json, confidence, recurrence_count, COALESCE(source,''), status, last_confirmed_at, created_at
FROM ltm_memories
WHERE user_id=$1 AND mem_key=$2
ORDER BY last_confirmed_at DESC
LIMIT 1
`, userID, memKey)
	return scanMemoryRow(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMemoryRow(row rowScanner) (MemoryRecord, bool, error) {
	var rec MemoryRecord
	var value []byte
	err := row.Scan(&rec.ID, &rec.UserID, &rec.MemType, &rec.MemKey, &value, &rec.Confidence,
		&rec.RecurrenceCount, &rec.Source, &rec.Status, &rec.LastConfirmedAt, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isMissingTable(err) {
			return MemoryRecord{}, false, nil
		}
		return MemoryRecord{}, false, err
	}
	rec.Value = json.RawMessage(value)
	return rec, true, nil
}

// ListActiveMemories returns active rows ordered by recency then confidence,
// optionally filtered by memory types.
func (s *Store) ListActiveMemories(ctx context.Context, userID string, memTypes []string, limit int) ([]MemoryRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var (
		rows *sql.Rows
		err  error
	)
	if len(memTypes) == 0 {
		rows, err = s.DB.QueryContext(ctx, `
SELECT id, user_id, mem_type, mem_key, value_json, confidence, recurrence_count, COALESCE(source,''), status, last_confirmed_at, created_at
FROM ltm_memories
WHERE user_id=$1 AND status='active'
ORDER BY last_confirmed_at DESC, confidence DESC
LIMIT $2
`, userID, limit)
	} else {
		rows, err = s.DB.QueryContext(ctx, `
SELECT id, user_id, mem_type, mem_key, value_json, confidence, recurrence_count, COALESCE(source,''), status, last_confirmed_at, created_at
FROM ltm_memories
WHERE user_id=$1 AND status='active' AND mem_type = ANY($2)
ORDER BY last_confirmed_at DESC, confidence DESC
LIMIT $3
`, userID, pq.Array(memTypes), limit)
	}
	if err != nil {
		if isMissingTable(err) {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()
	return collectMemoryRows(rows)
}

// ListMemoriesByPrefix returns active rows whose key starts with prefix.
// Order is either "recent" (last confirmation first) or "confidence".
func (s *Store) ListMemoriesByPrefix(ctx context.Context, userID, prefix, order string, limit int) ([]MemoryRecord, error) {
	if limit <= 0 {
		limit = 30
	}
	orderBy := "last_confirmed_at DESC, confidence DESC"
	if order == "confidence" {
		orderBy = "confidence DESC, last_confirmed_at DESC"
	}
	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
SELECT id, user_id, mem_type, mem_key, value_json, confidence, recurrence_count, COALESCE(source,''), status, last_confirmed_at, created_at
FROM ltm_memories
WHERE user_id=$1 AND status='active' AND mem_key LIKE $2
ORDER BY %s
LIMIT $3
`, orderBy), userID, prefix+"%", limit)
	if err != nil {
		if isMissingTable(err) {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()
	return collectMemoryRows(rows)
}

func collectMemoryRows(rows *sql.Rows) ([]MemoryRecord, error) {
	var out []MemoryRecord
	for rows.Next() {
		var rec MemoryRecord
		var value []byte
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.MemType, &rec.MemKey, &value, &rec.Confidence,
			&rec.RecurrenceCount, &rec.Source, &rec.Status, &rec.LastConfirmedAt, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Value = json.RawMessage(value)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RetireMemory flips a row to retired without deleting it.
func (s *Store) RetireMemory(ctx context.Context, userID, memType, memKey string) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE ltm_memories SET status='retired' WHERE user_id=$1 AND mem_type=$2 AND mem_key=$3
`, userID, memType, memKey)
	if isMissingTable(err) {
		return nil
	}
	return err
}

// AddEvidence appends an evidence row for a memory entry. Best-effort: a
// missing evidence table disables the trail, not the write.
func (s *Store) AddEvidence(ctx context.Context, ev EvidenceRecord) error {
	if ev.LtmID == 0 {
		return fmt.Errorf("ltm id required")
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO ltm_evidence (id, ltm_id, source_type, source_id, note)
VALUES ($1,$2,$3,$4,$5)
`, ev.ID, ev.LtmID, ev.SourceType, nullableString(ev.SourceID), nullableString(ev.Note))
	if isMissingTable(err) {
		return nil
	}
	return err
}
