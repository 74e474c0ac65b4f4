// Package stm implements the short-term (session) memory tier: a volatile
// per-(user, scope) chat buffer with per-item TTL and a hard item cap.
// Eviction is lazy: every read and write first drops expired items, then
// trims the survivors to the scope's cap. Nothing here is durable.
package stm

import (
	"context"
	"fmt"
	"time"

	"github.com/mentora-ai/mentora/config"
)

// ScopeGlobal is the cross-state bucket that provides continuity across
// teaching-mode switches. All other scopes are teaching-mode names.
const ScopeGlobal = "global"

const maxTurnContent = 2000

// Turn is one chat message inside a bucket.
type Turn struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	TS      time.Time `json:"ts"`
}

// Limits bounds a store's buckets.
type Limits struct {
	TTL         time.Duration
	StateLimit  int
	GlobalLimit int
}

// DefaultLimits mirrors the engine defaults: 10 minute TTL, 10 turns per
// state bucket, 6 turns in the global bucket.
var DefaultLimits = Limits{
	TTL:         10 * time.Minute,
	StateLimit:  10,
	GlobalLimit: 6,
}

// LimitsFromConfig builds Limits from config, falling back to defaults for
// unset fields.
func LimitsFromConfig(cfg config.STMConfig) Limits {
	l := DefaultLimits
	if cfg.TTL > 0 {
		l.TTL = cfg.TTL
	}
	if cfg.StateLimit > 0 {
		l.StateLimit = cfg.StateLimit
	}
	if cfg.GlobalLimit > 0 {
		l.GlobalLimit = cfg.GlobalLimit
	}
	return l
}

func (l Limits) capFor(scope string) int {
	if scope == ScopeGlobal {
		return l.GlobalLimit
	}
	return l.StateLimit
}

// Store is the short-term buffer contract. Implementations must evict
// lazily on every access and keep buckets independent per (user, scope).
type Store interface {
	Add(ctx context.Context, userID, scope string, turn Turn) error
	Get(ctx context.Context, userID, scope string) ([]Turn, error)
	Clear(ctx context.Context, userID, scope string) error
	// CleanupAll sweeps every bucket once. Exposed for an external
	// scheduler; the store never sweeps on its own.
	CleanupAll(ctx context.Context) error
}

// BuildHistory concatenates the user's global turns before the state-scoped
// turns: global gives cross-cutting continuity, the state bucket gives
// topical continuity.
func BuildHistory(ctx context.Context, s Store, userID, scope string) ([]Turn, error) {
	global, err := s.Get(ctx, userID, ScopeGlobal)
	if err != nil {
		return nil, err
	}
	state, err := s.Get(ctx, userID, scope)
	if err != nil {
		return nil, err
	}
	out := make([]Turn, 0, len(global)+len(state))
	out = append(out, global...)
	out = append(out, state...)
	return out, nil
}

// NormalizeTurn clamps content length and defaults the role.
func NormalizeTurn(turn Turn, now time.Time) Turn {
	if turn.Role == "" {
		turn.Role = "user"
	}
	if r := []rune(turn.Content); len(r) > maxTurnContent {
		turn.Content = string(r[:maxTurnContent])
	}
	if turn.TS.IsZero() {
		turn.TS = now
	}
	return turn
}

func bucketKey(userID, scope string) string {
	if scope == "" {
		scope = "auto"
	}
	return fmt.Sprintf("%s:%s", userID, scope)
}
