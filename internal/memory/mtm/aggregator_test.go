package mtm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mentora-ai/mentora/internal/store"
)

type fakeStats struct {
	rows map[string]*store.DailyStat // userID|day
	fail bool
}

func newFakeStats() *fakeStats {
	return &fakeStats{rows: map[string]*store.DailyStat{}}
}

func (f *fakeStats) RegisterDailyAttempt(_ context.Context, userID, day string, isCorrect bool, topic string) error {
	if f.fail {
		return errors.New("db down")
	}
	k := userID + "|" + day
	row := f.rows[k]
	if row == nil {
		row = &store.DailyStat{UserID: userID, StatDate: day}
		f.rows[k] = row
	}
	row.TotalAttempts++
	if isCorrect {
		row.CorrectAttempts++
	} else {
		row.WrongAttempts++
	}
	row.LastTopics = store.AppendTopic(row.LastTopics, topic)
	return nil
}

func (f *fakeStats) GetDailyStat(_ context.Context, userID, day string) (store.DailyStat, bool, error) {
	if f.fail {
		return store.DailyStat{}, false, errors.New("db down")
	}
	row, ok := f.rows[userID+"|"+day]
	if !ok {
		return store.DailyStat{}, false, nil
	}
	return *row, true, nil
}

func fixedClock() func() time.Time {
	return func() time.Time { return time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC) }
}

func TestSummarizeEmptyWithoutAttempts(t *testing.T) {
	a := NewAggregator(newFakeStats(), nil, fixedClock())
	if got := a.Summarize(context.Background(), "u1"); got != "" {
		t.Fatalf("expected empty recap, got %q", got)
	}
}

func TestRegisterAndSummarize(t *testing.T) {
	db := newFakeStats()
	a := NewAggregator(db, nil, fixedClock())
	ctx := context.Background()

	a.RegisterAttempt(ctx, "u1", true, "fracoes")
	a.RegisterAttempt(ctx, "u1", true, "fracoes")
	a.RegisterAttempt(ctx, "u1", false, "trigonometria")

	got := a.Summarize(ctx, "u1")
	if !strings.Contains(got, "Tentativas hoje: 3") {
		t.Fatalf("recap = %q", got)
	}
	if !strings.Contains(got, "acertos: 2") || !strings.Contains(got, "erros: 1") {
		t.Fatalf("recap = %q", got)
	}
	if !strings.Contains(got, "taxa de acerto: 67%") {
		t.Fatalf("recap = %q", got)
	}
	if !strings.Contains(got, "fracoes, trigonometria") {
		t.Fatalf("topics missing: %q", got)
	}
}

func TestTopicsDistinctAndCapped(t *testing.T) {
	db := newFakeStats()
	a := NewAggregator(db, nil, fixedClock())
	ctx := context.Background()

	for _, topic := range []string{"a", "b", "a", "c", "d", "e", "f"} {
		a.RegisterAttempt(ctx, "u1", true, topic)
	}
	got := a.Summarize(ctx, "u1")
	// distinct, keep most recent 5
	if !strings.Contains(got, "b, c, d, e, f") {
		t.Fatalf("topics = %q", got)
	}
	if strings.Contains(got, "a,") {
		t.Fatalf("evicted topic still present: %q", got)
	}
}

func TestEmptyTopicBucketsAsGeral(t *testing.T) {
	db := newFakeStats()
	a := NewAggregator(db, nil, fixedClock())
	ctx := context.Background()
	a.RegisterAttempt(ctx, "u1", true, "  ")
	if got := a.Summarize(ctx, "u1"); !strings.Contains(got, "geral") {
		t.Fatalf("recap = %q", got)
	}
}

func TestErrorsDegradeToEmpty(t *testing.T) {
	db := newFakeStats()
	db.fail = true
	a := NewAggregator(db, nil, fixedClock())
	ctx := context.Background()

	a.RegisterAttempt(ctx, "u1", true, "fracoes") // must not panic
	if got := a.Summarize(ctx, "u1"); got != "" {
		t.Fatalf("expected empty on error, got %q", got)
	}
}
