// Package mtm is the mid-term tier: per-day attempt aggregates and a small
// set of cross-session conversation slots (focus topic, session summary).
// Everything here degrades quietly; a broken mid-term row never blocks a
// tutoring turn.
package mtm

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mentora-ai/mentora/internal/store"
)

// StatsBacking is the slice of the store the aggregator uses.
type StatsBacking interface {
	RegisterDailyAttempt(ctx context.Context, userID string, day string, isCorrect bool, topic string) error
	GetDailyStat(ctx context.Context, userID, day string) (store.DailyStat, bool, error)
}

// Aggregator maintains the per-day attempt counters and renders the daily
// recap line used in prompts.
type Aggregator struct {
	db     StatsBacking
	logger *log.Logger
	now    func() time.Time
}

// NewAggregator wires the aggregator. Nil logger and clock get defaults.
func NewAggregator(db StatsBacking, logger *log.Logger, now func() time.Time) *Aggregator {
	if logger == nil {
		logger = log.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Aggregator{db: db, logger: logger, now: now}
}

// RegisterAttempt folds one attempt into today's row. Empty topics land in
// the "geral" bucket. Failures are logged, never surfaced: losing one
// counter update is cheaper than failing the attempt.
func (a *Aggregator) RegisterAttempt(ctx context.Context, userID string, isCorrect bool, topic string) {
	if userID == "" {
		return
	}
	if strings.TrimSpace(topic) == "" {
		topic = "geral"
	}
	day := store.Today(a.now())
	if err := a.db.RegisterDailyAttempt(ctx, userID, day, isCorrect, topic); err != nil {
		a.logger.Printf("[MTM] daily attempt register failed user=%s: %v", userID, err)
	}
}

// Summarize renders today's one-line recap: attempt counts, hit rate and
// recent topics. No row today (or any error) yields the empty string.
func (a *Aggregator) Summarize(ctx context.Context, userID string) string {
	if userID == "" {
		return ""
	}
	stat, ok, err := a.db.GetDailyStat(ctx, userID, store.Today(a.now()))
	if err != nil {
		a.logger.Printf("[MTM] daily stat read failed user=%s: %v", userID, err)
		return ""
	}
	if !ok || stat.TotalAttempts == 0 {
		return ""
	}

	hitRate := int(float64(stat.CorrectAttempts)/float64(stat.TotalAttempts)*100 + 0.5)
	summary := fmt.Sprintf("Tentativas hoje: %d (acertos: %d, erros: %d, taxa de acerto: %d%%).",
		stat.TotalAttempts, stat.CorrectAttempts, stat.WrongAttempts, hitRate)
	if len(stat.LastTopics) > 0 {
		summary += " Tópicos recentes trabalhados: " + strings.Join(stat.LastTopics, ", ") + "."
	}
	return summary
}
