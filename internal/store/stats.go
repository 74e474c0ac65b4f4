package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// DailyStat is the mid-term rollup: one row per (user, calendar day).
type DailyStat struct {
	UserID          string
	StatDate        string // YYYY-MM-DD
	TotalAttempts   int
	CorrectAttempts int
	WrongAttempts   int
	LastTopics      []string
}

const maxDailyTopics = 5

// RegisterDailyAttempt upserts today's row for the user: counters are
// incremented atomically in SQL; the recent-topic list is recomputed in Go
// and written last-write-wins, which is acceptable for a display hint.
func (s *Store) RegisterDailyAttempt(ctx context.Context, userID string, day string, isCorrect bool, topic string) error {
	correct := 0
	wrong := 0
	if isCorrect {
		correct = 1
	} else {
		wrong = 1
	}

	var prevTopics sql.NullString
	err := s.DB.QueryRowContext(ctx, `
SELECT last_topics FROM user_daily_stats WHERE user_id=$1 AND stat_date=$2
`, userID, day).Scan(&prevTopics)
	if err != nil && !errors.Is(err, sql.ErrNoRows) && !isMissingTable(err) {
		return err
	}
	topics := AppendTopic(splitTopics(prevTopics.String), topic)

	_, err = s.DB.ExecContext(ctx, `
INSERT INTO user_daily_stats (user_id, stat_date, total_attempts, correct_attempts, wrong_attempts, last_topics)
VALUES ($1,$2,1,$3,$4,$5)
ON CONFLICT (user_id, stat_date) DO UPDATE SET
  total_attempts = user_daily_stats.total_attempts + 1,
  correct_attempts = user_daily_stats.correct_attempts + EXCLUDED.correct_attempts,
  wrong_attempts = user_daily_stats.wrong_attempts + EXCLUDED.wrong_attempts,
  last_topics = EXCLUDED.last_topics
`, userID, day, correct, wrong, strings.Join(topics, ", "))
	return err
}

// GetDailyStat reads one day's rollup. A missing row is a valid empty state.
func (s *Store) GetDailyStat(ctx context.Context, userID, day string) (DailyStat, bool, error) {
	rec := DailyStat{UserID: userID, StatDate: day}
	var topics sql.NullString
	err := s.DB.QueryRowContext(ctx, `
SELECT total_attempts, correct_attempts, wrong_attempts, last_topics
FROM user_daily_stats
WHERE user_id=$1 AND stat_date=$2
`, userID, day).Scan(&rec.TotalAttempts, &rec.CorrectAttempts, &rec.WrongAttempts, &topics)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isMissingTable(err) {
			return rec, false, nil
		}
		return rec, false, err
	}
	rec.LastTopics = splitTopics(topics.String)
	return rec, true, nil
}

// Today formats t as the stat_date key.
func Today(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// AppendTopic appends a topic to the distinct recent-topic list, keeping
// only the last maxDailyTopics entries (oldest evicted first).
func AppendTopic(topics []string, topic string) []string {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return topics
	}
	for _, t := range topics {
		if t == topic {
			return topics
		}
	}
	topics = append(topics, topic)
	if len(topics) > maxDailyTopics {
		topics = topics[len(topics)-maxDailyTopics:]
	}
	return topics
}

func splitTopics(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
