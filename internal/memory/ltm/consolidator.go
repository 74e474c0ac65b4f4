package ltm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/mentora-ai/mentora/internal/store"
)

// AttemptSource feeds raw attempts into the consolidation sweep.
type AttemptSource interface {
	ScanAttempts(ctx context.Context, userID string, afterID int64, limit int) ([]store.AttemptRecord, error)
}

// ConsolidatorOptions tune one sweep. Zero values get defaults.
type ConsolidatorOptions struct {
	MinNewAttempts int // below this the sweep refuses to move (default 5)
	MaxScan        int // attempts read per sweep (default 80)
}

func (o ConsolidatorOptions) withDefaults() ConsolidatorOptions {
	if o.MinNewAttempts <= 0 {
		o.MinNewAttempts = 5
	}
	if o.MaxScan <= 0 {
		o.MaxScan = 80
	}
	return o
}

// Consolidator distills new attempts into skill, difficulty and pattern
// rows, advancing a per-user checkpoint so each attempt is counted once.
type Consolidator struct {
	repo     *Repository
	attempts AttemptSource
	opts     ConsolidatorOptions
	logger   *log.Logger
}

// NewConsolidator wires a sweep over the given repository and attempt feed.
func NewConsolidator(repo *Repository, attempts AttemptSource, opts ConsolidatorOptions, logger *log.Logger) *Consolidator {
	if logger == nil {
		logger = log.Default()
	}
	return &Consolidator{repo: repo, attempts: attempts, opts: opts.withDefaults(), logger: logger}
}

// Result reports what one sweep did.
type Result struct {
	Consolidated     bool
	Reason           string // set when Consolidated is false
	Scanned          int
	Buckets          int
	NewLastAttemptID int64
}

type bucketAgg struct {
	total      int
	correct    int
	lastAt     time.Time
	difficulty int
}

// ConsolidateUser runs one sweep for one user. Re-running after a completed
// sweep is a no-op until enough new attempts accumulate. A failed bucket
// write is logged and skipped; the sweep still advances the checkpoint so
// one poisoned bucket cannot wedge consolidation forever.
func (c *Consolidator) ConsolidateUser(ctx context.Context, userID string) (Result, error) {
	lastID, err := c.repo.Checkpoint(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("reading checkpoint: %w", err)
	}

	rows, err := c.attempts.ScanAttempts(ctx, userID, lastID, c.opts.MaxScan)
	if err != nil {
		return Result{}, fmt.Errorf("scanning attempts: %w", err)
	}
	if len(rows) < c.opts.MinNewAttempts {
		return Result{Consolidated: false, Reason: "not_enough_new_attempts", Scanned: len(rows), NewLastAttemptID: lastID}, nil
	}

	agg := make(map[string]*bucketAgg)
	maxID := lastID
	for _, r := range rows {
		bucket := BucketSlug(r.Topic, r.Type, r.AnswerType)
		a := agg[bucket]
		if a == nil {
			a = &bucketAgg{}
			agg[bucket] = a
		}
		a.total++
		if r.IsCorrect {
			a.correct++
		}
		if !r.CreatedAt.IsZero() {
			a.lastAt = r.CreatedAt
		}
		if r.Difficulty > 0 {
			a.difficulty = r.Difficulty
		}
		if r.ID > maxID {
			maxID = r.ID
		}
	}

	buckets := make([]string, 0, len(agg))
	for b := range agg {
		buckets = append(buckets, b)
	}
	sort.Strings(buckets)

	written := 0
	for _, bucket := range buckets {
		if err := c.writeBucket(ctx, userID, bucket, agg[bucket]); err != nil {
			c.logger.Printf("[CONSOLIDATE] bucket %s failed user=%s: %v", bucket, userID, err)
			continue
		}
		written++
	}

	if err := c.repo.SetCheckpoint(ctx, userID, maxID); err != nil {
		return Result{}, fmt.Errorf("advancing checkpoint: %w", err)
	}

	return Result{Consolidated: true, Scanned: len(rows), Buckets: written, NewLastAttemptID: maxID}, nil
}

func (c *Consolidator) writeBucket(ctx context.Context, userID, bucket string, a *bucketAgg) error {
	acc := 0.0
	if a.total > 0 {
		acc = float64(a.correct) / float64(a.total)
	}
	acc = math.Round(acc*1000) / 1000
	label := SkillLabel(acc)

	snap := SkillSnapshot{Label: label, Accuracy: acc, Sample: a.total}
	if !a.lastAt.IsZero() {
		snap.LastAt = a.lastAt.UTC().Format(time.RFC3339)
	}
	value, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	conf := BaseConfidenceFromSample(a.total)
	if prev, ok, err := c.repo.db.GetMemory(ctx, userID, store.MemTypeSkill, skillKeyPrefix+bucket); err != nil {
		return err
	} else if ok {
		conf = BlendSkillConfidence(prev.Confidence, BaseConfidenceFromSample(a.total), true)
	} else {
		conf = BlendSkillConfidence(0, conf, false)
	}

	if _, err := c.repo.db.PutMemory(ctx, store.MemoryRecord{
		UserID:     userID,
		MemType:    store.MemTypeSkill,
		MemKey:     skillKeyPrefix + bucket,
		Value:      value,
		Confidence: conf,
		Source:     "consolidation",
	}); err != nil {
		return err
	}

	if a.difficulty > 0 {
		diff, err := json.Marshal(map[string]int{"difficulty": a.difficulty})
		if err != nil {
			return err
		}
		if _, err := c.repo.db.PutMemory(ctx, store.MemoryRecord{
			UserID:     userID,
			MemType:    store.MemTypeSkill,
			MemKey:     "difficulty:" + bucket,
			Value:      diff,
			Confidence: 0.60,
			Source:     "consolidation",
		}); err != nil {
			return err
		}
	}

	if !a.lastAt.IsZero() {
		last, err := json.Marshal(map[string]string{"value": a.lastAt.UTC().Format(time.RFC3339)})
		if err != nil {
			return err
		}
		if _, err := c.repo.db.PutMemory(ctx, store.MemoryRecord{
			UserID:     userID,
			MemType:    store.MemTypeSkill,
			MemKey:     "topic:last_practiced:" + bucket,
			Value:      last,
			Confidence: 0.55,
			Source:     "consolidation",
		}); err != nil {
			return err
		}
	}

	if label == LabelWeak && a.total >= 4 {
		pat, err := json.Marshal(map[string]interface{}{"accuracy": acc, "sample": a.total})
		if err != nil {
			return err
		}
		if _, err := c.repo.db.PutMemory(ctx, store.MemoryRecord{
			UserID:     userID,
			MemType:    store.MemTypePattern,
			MemKey:     "pattern:low_accuracy:" + bucket,
			Value:      pat,
			Confidence: 0.70,
			Source:     "consolidation",
		}); err != nil {
			return err
		}
	}

	return nil
}
