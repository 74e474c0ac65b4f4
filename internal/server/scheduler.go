package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/mentora-ai/mentora/internal/memory/stm"
	"github.com/mentora-ai/mentora/internal/telemetry"
)

// UserSource lists the users whose attempts may need consolidating.
type UserSource interface {
	ListUsersWithAttemptsSince(ctx context.Context, since time.Time, limit int) ([]string, error)
}

// Scheduler runs the background sweeps: the consolidation pass over users
// with fresh attempts and the STM expiry cleanup. A redis lock keeps
// multiple replicas from consolidating the same user twice.
type Scheduler struct {
	Users       UserSource
	Consolidate ConsolidateService
	STM         stm.Store
	Rdb         *redis.Client
	Metrics     *telemetry.Metrics
	Logger      *log.Logger
	Cron        string
	Stop        chan struct{}

	lastSweep time.Time
}

func (s *Scheduler) Start() {
	if s.Logger == nil {
		s.Logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	ticker := time.NewTicker(1 * time.Hour)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	ctx := context.Background()

	if s.STM != nil {
		if err := s.STM.CleanupAll(ctx); err != nil {
			s.Logger.Printf("stm cleanup failed: %v", err)
		}
	}

	var last *time.Time
	if !s.lastSweep.IsZero() {
		t := s.lastSweep
		last = &t
	}
	if !isDue(s.Cron, last) {
		return
	}
	s.lastSweep = time.Now()

	cutoff := time.Now().Add(-25 * time.Hour)
	users, err := s.Users.ListUsersWithAttemptsSince(ctx, cutoff, 500)
	if err != nil {
		s.Logger.Printf("listing users for consolidation failed: %v", err)
		return
	}

	for _, uid := range users {
		if s.Rdb != nil {
			lockKey := "consolidate:lock:" + uid
			ok, _ := s.Rdb.SetNX(ctx, lockKey, "1", 2*time.Minute).Result()
			if !ok {
				continue
			}
		}

		res, err := s.Consolidate.ConsolidateUser(ctx, uid)
		switch {
		case err != nil:
			s.Logger.Printf("user=%s consolidation failed: %v", uid, err)
			if s.Metrics != nil {
				s.Metrics.ConsolidationRuns.WithLabelValues("error").Inc()
			}
		case res.Consolidated:
			s.Logger.Printf("user=%s consolidated buckets=%d scanned=%d", uid, res.Buckets, res.Scanned)
			if s.Metrics != nil {
				s.Metrics.ConsolidationRuns.WithLabelValues("ok").Inc()
			}
		default:
			if s.Metrics != nil {
				s.Metrics.ConsolidationRuns.WithLabelValues("skipped").Inc()
			}
		}
	}
}

// isDue determines whether a sweep with cronSpec should run now given the
// last sweep time. Supports "@daily", "@hourly" and 5-field cron specs;
// an invalid spec degrades to @daily.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly", "":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		return !expr.Next(*last).After(now)
	}
}
