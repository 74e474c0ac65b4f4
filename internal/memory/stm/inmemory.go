package stm

import (
	"context"
	"sync"
	"time"
)

// InMemory is the default Store: a mutex-guarded map owned by the running
// process. Each add/get pair is a short critical section so interleaved
// requests for the same bucket cannot corrupt it.
type InMemory struct {
	mu      sync.Mutex
	limits  Limits
	buckets map[string][]Turn
	now     func() time.Time
}

// NewInMemory creates an empty in-process store.
func NewInMemory(limits Limits) *InMemory {
	return &InMemory{
		limits:  limits,
		buckets: make(map[string][]Turn),
		now:     time.Now,
	}
}

// cleanupLocked drops expired items from one bucket and caps the tail.
// Caller holds mu.
func (s *InMemory) cleanupLocked(key string, scope string) {
	list, ok := s.buckets[key]
	if !ok || len(list) == 0 {
		return
	}
	t := s.now()
	kept := list[:0]
	for _, item := range list {
		if t.Sub(item.TS) <= s.limits.TTL {
			kept = append(kept, item)
		}
	}
	if len(kept) == 0 {
		delete(s.buckets, key)
		return
	}
	if limit := s.limits.capFor(scope); len(kept) > limit {
		kept = kept[len(kept)-limit:]
	}
	s.buckets[key] = kept
}

func (s *InMemory) Add(_ context.Context, userID, scope string, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := bucketKey(userID, scope)
	s.cleanupLocked(key, scope)

	list := append(s.buckets[key], NormalizeTurn(turn, s.now()))
	if limit := s.limits.capFor(scope); len(list) > limit {
		list = list[len(list)-limit:]
	}
	s.buckets[key] = list
	return nil
}

func (s *InMemory) Get(_ context.Context, userID, scope string) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := bucketKey(userID, scope)
	s.cleanupLocked(key, scope)

	list := s.buckets[key]
	out := make([]Turn, len(list))
	copy(out, list)
	return out, nil
}

func (s *InMemory) Clear(_ context.Context, userID, scope string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, bucketKey(userID, scope))
	return nil
}

func (s *InMemory) CleanupAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.buckets {
		scope := ""
		if i := lastColon(key); i >= 0 {
			scope = key[i+1:]
		}
		s.cleanupLocked(key, scope)
	}
	return nil
}

func lastColon(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}
