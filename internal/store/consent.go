package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ConsentRecord holds the per-user flags gating personal memory writes.
// Missing rows read as all-false defaults with the standard retention.
type ConsentRecord struct {
	UserID              string
	AllowPersonalMemory bool
	AllowStoryStorage   bool
	AllowSensitive      bool
	RetentionDays       int
	UpdatedAt           *time.Time
}

// ConsentPatch is a partial consent update. Nil fields are left untouched.
type ConsentPatch struct {
	AllowPersonalMemory *bool
	AllowStoryStorage   *bool
	AllowSensitive      *bool
	RetentionDays       *int
}

const defaultRetentionDays = 365

// GetConsent reads the user's consent row, synthesizing all-false defaults
// when none exists yet.
func (s *Store) GetConsent(ctx context.Context, userID string) (ConsentRecord, error) {
	rec := ConsentRecord{UserID: userID, RetentionDays: defaultRetentionDays}

	var updated sql.NullTime
	err := s.DB.QueryRowContext(ctx, `
SELECT allow_personal_memory, allow_story_storage, allow_sensitive, retention_days, updated_at
FROM ltm_consent
WHERE user_id=$1
`, userID).Scan(&rec.AllowPersonalMemory, &rec.AllowStoryStorage, &rec.AllowSensitive, &rec.RetentionDays, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isMissingTable(err) {
			return rec, nil
		}
		return rec, err
	}
	if updated.Valid {
		t := updated.Time
		rec.UpdatedAt = &t
	}
	return rec, nil
}

// UpsertConsent applies a patch as an additive merge: a flag that is already
// true is never cleared back to false by this path (OR with the stored
// value), so implicit triggers can only widen consent.
func (s *Store) UpsertConsent(ctx context.Context, userID string, patch ConsentPatch) error {
	personal := patch.AllowPersonalMemory != nil && *patch.AllowPersonalMemory
	story := patch.AllowStoryStorage != nil && *patch.AllowStoryStorage
	sensitive := patch.AllowSensitive != nil && *patch.AllowSensitive
	var retention sql.NullInt64
	if patch.RetentionDays != nil && *patch.RetentionDays > 0 {
		retention = sql.NullInt64{Int64: int64(*patch.RetentionDays), Valid: true}
	}

	// A patch that omits retention_days must not touch the stored value,
	// hence the COALESCE against the existing row on conflict.
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO ltm_consent (user_id, allow_personal_memory, allow_story_storage, allow_sensitive, retention_days)
VALUES ($1,$2,$3,$4,COALESCE($5, 365))
ON CONFLICT (user_id) DO UPDATE SET
  allow_personal_memory = ltm_consent.allow_personal_memory OR EXCLUDED.allow_personal_memory,
  allow_story_storage = ltm_consent.allow_story_storage OR EXCLUDED.allow_story_storage,
  allow_sensitive = ltm_consent.allow_sensitive OR EXCLUDED.allow_sensitive,
  retention_days = COALESCE($5, ltm_consent.retention_days),
  updated_at = NOW()
`, userID, personal, story, sensitive, retention)
	return err
}

// RevokeConsent clears all flags explicitly. Only the explicit API may
// narrow consent; implicit triggers go through UpsertConsent.
func (s *Store) RevokeConsent(ctx context.Context, userID string) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE ltm_consent
SET allow_personal_memory=FALSE, allow_story_storage=FALSE, allow_sensitive=FALSE, updated_at=NOW()
WHERE user_id=$1
`, userID)
	if isMissingTable(err) {
		return nil
	}
	return err
}
