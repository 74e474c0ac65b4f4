package ltm

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mentora-ai/mentora/internal/extract"
	"github.com/mentora-ai/mentora/internal/store"
)

// Key namespaces inside ltm_memories. Keys carry their namespace as a
// prefix so dumps stay readable without joining on mem_type.
const (
	keyCheckpoint       = "sys:last_consolidation_attempt_id"
	keyLastConsolidated = "sys:last_consolidation_ts"
	prefKeyPrefix       = "pref:"
	prefHistoryPrefix   = "pref:history:"
	skillKeyPrefix      = "skill:"
)

const prefHistoryMax = 3

// Backing is the slice of the store this tier writes through.
type Backing interface {
	UpsertMemory(ctx context.Context, rec store.MemoryRecord) (store.MemoryRecord, error)
	PutMemory(ctx context.Context, rec store.MemoryRecord) (store.MemoryRecord, error)
	GetMemory(ctx context.Context, userID, memType, memKey string) (store.MemoryRecord, bool, error)
	GetMemoryByKey(ctx context.Context, userID, memKey string) (store.MemoryRecord, bool, error)
	ListActiveMemories(ctx context.Context, userID string, memTypes []string, limit int) ([]store.MemoryRecord, error)
	ListMemoriesByPrefix(ctx context.Context, userID, prefix, order string, limit int) ([]store.MemoryRecord, error)
	AddEvidence(ctx context.Context, ev store.EvidenceRecord) error
}

// Repository exposes typed long-term memory operations over the store.
type Repository struct {
	db  Backing
	now func() time.Time
}

// NewRepository wires the repository. The clock override is for tests.
func NewRepository(db Backing, now func() time.Time) *Repository {
	if now == nil {
		now = time.Now
	}
	return &Repository{db: db, now: now}
}

// StoreCandidate upserts an extracted candidate and appends its evidence.
// The upsert keeps the maximum confidence seen and bumps the recurrence
// counter; the evidence trail is best-effort.
func (r *Repository) StoreCandidate(ctx context.Context, userID string, c extract.Candidate) (store.MemoryRecord, error) {
	value, err := json.Marshal(c.Value)
	if err != nil {
		return store.MemoryRecord{}, fmt.Errorf("encoding candidate %s: %w", c.MemKey, err)
	}
	rec, err := r.db.UpsertMemory(ctx, store.MemoryRecord{
		UserID:     userID,
		MemType:    c.MemType,
		MemKey:     c.MemKey,
		Value:      value,
		Confidence: c.Confidence,
		Source:     c.Evidence.SourceType,
	})
	if err != nil {
		return store.MemoryRecord{}, err
	}
	if c.Evidence.SourceType != "" {
		_ = r.db.AddEvidence(ctx, store.EvidenceRecord{
			LtmID:      rec.ID,
			SourceType: c.Evidence.SourceType,
			SourceID:   c.Evidence.SourceID,
			Note:       c.Evidence.Note,
		})
	}
	return rec, nil
}

// prefHistoryEntry is one audit entry for a preference change.
type prefHistoryEntry struct {
	Value string    `json:"value"`
	At    time.Time `json:"at"`
}

// SetPreference writes pref:<key> latest-wins and prepends the value to a
// short de-duplicated history (pref:history:<key>, newest first, max 3).
func (r *Repository) SetPreference(ctx context.Context, userID, prefKey, value string) error {
	payload, err := json.Marshal(map[string]string{"value": value})
	if err != nil {
		return err
	}
	_, err = r.db.PutMemory(ctx, store.MemoryRecord{
		UserID:     userID,
		MemType:    store.MemTypePrefs,
		MemKey:     prefKeyPrefix + prefKey,
		Value:      payload,
		Confidence: 0.85,
		Source:     "policy",
	})
	if err != nil {
		return err
	}
	return r.appendPrefHistory(ctx, userID, prefKey, value)
}

func (r *Repository) appendPrefHistory(ctx context.Context, userID, prefKey, newValue string) error {
	histKey := prefHistoryPrefix + prefKey
	var entries []prefHistoryEntry
	if rec, ok, err := r.db.GetMemory(ctx, userID, store.MemTypePrefs, histKey); err != nil {
		return err
	} else if ok {
		_ = json.Unmarshal(rec.Value, &entries)
	}

	kept := entries[:0]
	for _, e := range entries {
		if e.Value != newValue {
			kept = append(kept, e)
		}
	}
	entries = append([]prefHistoryEntry{{Value: newValue, At: r.now().UTC()}}, kept...)
	if len(entries) > prefHistoryMax {
		entries = entries[:prefHistoryMax]
	}

	payload, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	_, err = r.db.PutMemory(ctx, store.MemoryRecord{
		UserID:     userID,
		MemType:    store.MemTypePrefs,
		MemKey:     histKey,
		Value:      payload,
		Confidence: 0.6,
		Source:     "policy",
	})
	return err
}

// GetPreference reads the current value of pref:<key>.
func (r *Repository) GetPreference(ctx context.Context, userID, prefKey string) (string, bool, error) {
	rec, ok, err := r.db.GetMemory(ctx, userID, store.MemTypePrefs, prefKeyPrefix+prefKey)
	if err != nil || !ok {
		return "", false, err
	}
	var payload struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(rec.Value, &payload); err != nil {
		return "", false, nil
	}
	return payload.Value, true, nil
}

// PreferenceHistory returns the audit trail for one preference, newest first.
func (r *Repository) PreferenceHistory(ctx context.Context, userID, prefKey string) ([]string, error) {
	rec, ok, err := r.db.GetMemory(ctx, userID, store.MemTypePrefs, prefHistoryPrefix+prefKey)
	if err != nil || !ok {
		return nil, err
	}
	var entries []prefHistoryEntry
	if err := json.Unmarshal(rec.Value, &entries); err != nil {
		return nil, nil
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Value)
	}
	return out, nil
}

// SkillSnapshot is the decoded payload of one skill:<bucket> row.
type SkillSnapshot struct {
	Label    string  `json:"label"`
	Accuracy float64 `json:"accuracy"`
	Sample   int     `json:"sample"`
	LastAt   string  `json:"last_at,omitempty"`
}

// Skills returns the decoded skill rows for a user, keyed by bucket.
func (r *Repository) Skills(ctx context.Context, userID string) (map[string]SkillSnapshot, error) {
	rows, err := r.db.ListMemoriesByPrefix(ctx, userID, skillKeyPrefix, "recent", 100)
	if err != nil {
		return nil, err
	}
	out := make(map[string]SkillSnapshot, len(rows))
	for _, row := range rows {
		var snap SkillSnapshot
		if err := json.Unmarshal(row.Value, &snap); err != nil {
			continue
		}
		out[row.MemKey[len(skillKeyPrefix):]] = snap
	}
	return out, nil
}

// Checkpoint returns the id of the last attempt consolidation has seen.
// A missing or malformed row means start from zero.
func (r *Repository) Checkpoint(ctx context.Context, userID string) (int64, error) {
	rec, ok, err := r.db.GetMemory(ctx, userID, store.MemTypeSystemRules, keyCheckpoint)
	if err != nil || !ok {
		return 0, err
	}
	var payload struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(rec.Value, &payload); err != nil {
		return 0, nil
	}
	n, err := strconv.ParseInt(payload.Value, 10, 64)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// SetCheckpoint advances the consolidation checkpoint and stamps the sweep
// time. Confidence is fixed high: these are bookkeeping rows, not beliefs.
func (r *Repository) SetCheckpoint(ctx context.Context, userID string, attemptID int64) error {
	cp, err := json.Marshal(map[string]string{"value": strconv.FormatInt(attemptID, 10)})
	if err != nil {
		return err
	}
	if _, err := r.db.PutMemory(ctx, store.MemoryRecord{
		UserID:     userID,
		MemType:    store.MemTypeSystemRules,
		MemKey:     keyCheckpoint,
		Value:      cp,
		Confidence: 0.95,
		Source:     "consolidation",
	}); err != nil {
		return err
	}
	ts, err := json.Marshal(map[string]string{"value": r.now().UTC().Format(time.RFC3339)})
	if err != nil {
		return err
	}
	_, err = r.db.PutMemory(ctx, store.MemoryRecord{
		UserID:     userID,
		MemType:    store.MemTypeSystemRules,
		MemKey:     keyLastConsolidated,
		Value:      ts,
		Confidence: 0.95,
		Source:     "consolidation",
	})
	return err
}
