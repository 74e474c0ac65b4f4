// Package recommend picks the next exercise for a user: attack the weakest
// consolidated skill bucket at a difficulty band matched to its label, then
// shift the band by the user's recent streak.
package recommend

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/mentora-ai/mentora/internal/memory/ltm"
	"github.com/mentora-ai/mentora/internal/store"
)

// Options tune one recommendation.
type Options struct {
	MinSample     int // buckets below this sample size are ignored (default 4)
	RecentWindow  int // attempts considered for the adaptive shift (default 10)
	DisableAdjust bool
}

func (o Options) withDefaults() Options {
	if o.MinSample <= 0 {
		o.MinSample = 4
	}
	if o.RecentWindow <= 0 {
		o.RecentWindow = 10
	}
	return o
}

// SkillSource reads the consolidated skill snapshots.
type SkillSource interface {
	Skills(ctx context.Context, userID string) (map[string]ltm.SkillSnapshot, error)
}

// ExerciseSource finds exercise rows.
type ExerciseSource interface {
	FindExercise(ctx context.Context, bucket string, minDiff, maxDiff int) (store.ExerciseRecord, bool, error)
	FindExerciseAnyDifficulty(ctx context.Context, bucket string) (store.ExerciseRecord, bool, error)
	RecentAttemptResults(ctx context.Context, userID string, limit int) ([]bool, error)
}

// Engine is the recommendation engine.
type Engine struct {
	skills    SkillSource
	exercises ExerciseSource
	opts      Options
	logger    *log.Logger
}

// New wires the engine.
func New(skills SkillSource, exercises ExerciseSource, opts Options, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{skills: skills, exercises: exercises, opts: opts.withDefaults(), logger: logger}
}

// Band is an inclusive difficulty range.
type Band struct {
	Min int
	Max int
}

// Recommendation is the engine's answer, with enough detail to explain it.
type Recommendation struct {
	Exercise store.ExerciseRecord
	Bucket   string
	Skill    ltm.SkillSnapshot
	Band     Band
	Mode     string // bucket+diff | bucket_only
}

// BandForSkill maps a skill label to a difficulty band. Accuracy is the
// tiebreak when the label is missing or unknown.
func BandForSkill(snap ltm.SkillSnapshot) Band {
	switch snap.Label {
	case ltm.LabelWeak:
		return Band{Min: 1, Max: 2}
	case ltm.LabelMedium:
		return Band{Min: 2, Max: 3}
	case ltm.LabelStrong:
		return Band{Min: 3, Max: 5}
	}
	switch {
	case snap.Accuracy < 0.65:
		return Band{Min: 1, Max: 2}
	case snap.Accuracy < 0.85:
		return Band{Min: 2, Max: 3}
	default:
		return Band{Min: 3, Max: 5}
	}
}

// AdjustBand shifts a band by the user's recent accuracy: a hot streak
// (>=0.85 over the window) moves it up one, a cold streak (<=0.40) moves
// it down one. The band never drops below difficulty 1.
func AdjustBand(band Band, recent []bool) Band {
	if len(recent) == 0 {
		return band
	}
	correct := 0
	for _, ok := range recent {
		if ok {
			correct++
		}
	}
	acc := float64(correct) / float64(len(recent))
	switch {
	case acc >= 0.85:
		band.Min++
		band.Max++
	case acc <= 0.40:
		band.Min--
		band.Max--
	}
	if band.Min < 1 {
		band.Min = 1
	}
	if band.Max < band.Min {
		band.Max = band.Min
	}
	return band
}

// weakestBucket picks the lowest-accuracy bucket with enough sample.
// Bucket name is the deterministic tiebreak.
func weakestBucket(skills map[string]ltm.SkillSnapshot, minSample int) (string, ltm.SkillSnapshot, bool) {
	type cand struct {
		bucket string
		snap   ltm.SkillSnapshot
	}
	var candidates []cand
	for bucket, snap := range skills {
		if snap.Sample < minSample {
			continue
		}
		candidates = append(candidates, cand{bucket: bucket, snap: snap})
	}
	if len(candidates) == 0 {
		return "", ltm.SkillSnapshot{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].snap.Accuracy != candidates[j].snap.Accuracy {
			return candidates[i].snap.Accuracy < candidates[j].snap.Accuracy
		}
		return candidates[i].bucket < candidates[j].bucket
	})
	return candidates[0].bucket, candidates[0].snap, true
}

// Recommend returns the next exercise, or (nil, nil) when there is nothing
// to recommend: no consolidated skill with enough sample, or no matching
// exercise at all.
func (e *Engine) Recommend(ctx context.Context, userID string) (*Recommendation, error) {
	skills, err := e.skills.Skills(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("reading skills: %w", err)
	}
	bucket, snap, ok := weakestBucket(skills, e.opts.MinSample)
	if !ok {
		return nil, nil
	}

	band := BandForSkill(snap)
	if !e.opts.DisableAdjust {
		recent, err := e.exercises.RecentAttemptResults(ctx, userID, e.opts.RecentWindow)
		if err != nil {
			e.logger.Printf("[RECOMMEND] recent attempts read failed user=%s: %v", userID, err)
		} else {
			band = AdjustBand(band, recent)
		}
	}

	if ex, found, err := e.exercises.FindExercise(ctx, bucket, band.Min, band.Max); err != nil {
		e.logger.Printf("[RECOMMEND] banded lookup failed bucket=%s: %v", bucket, err)
	} else if found {
		return &Recommendation{Exercise: ex, Bucket: bucket, Skill: snap, Band: band, Mode: "bucket+diff"}, nil
	}

	if ex, found, err := e.exercises.FindExerciseAnyDifficulty(ctx, bucket); err != nil {
		e.logger.Printf("[RECOMMEND] bucket lookup failed bucket=%s: %v", bucket, err)
	} else if found {
		return &Recommendation{Exercise: ex, Bucket: bucket, Skill: snap, Band: band, Mode: "bucket_only"}, nil
	}

	return nil, nil
}
