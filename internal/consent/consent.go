// Package consent decides when personal memory may be written. Nothing
// personal is stored unless the user's consent row allows it; the SOFT
// preset additionally lets an explicit in-chat trigger ("pode salvar",
// "lembra disso") flip consent on and store that same message's facts.
package consent

import (
	"context"
	"log"
	"time"

	"github.com/mentora-ai/mentora/internal/extract"
	"github.com/mentora-ai/mentora/internal/store"
)

// Preset names the two operating modes.
type Preset string

const (
	// PresetStrict stores personal memory only after consent was already
	// granted through the explicit consent API.
	PresetStrict Preset = "strict"
	// PresetSoft also honors implicit in-chat consent triggers.
	PresetSoft Preset = "soft"
)

// Policy is the tunable envelope around a preset.
type Policy struct {
	Preset            Preset
	MaxFactsPerDay    int
	MinFactConfidence float64
	StoryMinChars     int
}

// PolicyFor returns the default policy for a preset.
func PolicyFor(p Preset) Policy {
	pol := Policy{
		Preset:            PresetStrict,
		MaxFactsPerDay:    12,
		MinFactConfidence: 0.72,
		StoryMinChars:     240,
	}
	if p == PresetSoft {
		pol.Preset = PresetSoft
		pol.MinFactConfidence = 0.62
	}
	return pol
}

// Persister is the slice of the store the gate needs.
type Persister interface {
	GetConsent(ctx context.Context, userID string) (store.ConsentRecord, error)
	UpsertConsent(ctx context.Context, userID string, patch store.ConsentPatch) error
	RevokeConsent(ctx context.Context, userID string) error
	UpsertFact(ctx context.Context, userID, factKey, factValue, source string, confidence float64) error
	CountFactsUpdatedSince(ctx context.Context, userID string, since time.Time) (int, error)
	InsertStory(ctx context.Context, rec store.StoryRecord) error
}

// Gate applies a Policy over the consent store.
type Gate struct {
	db     Persister
	policy Policy
	logger *log.Logger
	now    func() time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock overrides the gate's time source for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// NewGate builds a gate. A nil logger falls back to the default logger.
func NewGate(db Persister, policy Policy, logger *log.Logger, opts ...Option) *Gate {
	if logger == nil {
		logger = log.Default()
	}
	g := &Gate{db: db, policy: policy, logger: logger, now: time.Now}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Result reports what a MaybePersistPersonal call did.
type Result struct {
	ConsentGranted bool // consent flipped on during this call
	FactsStored    int
	FactsDropped   int // dropped by confidence, sensitivity or the daily cap
	StoryStored    bool
}

// sensitiveKeys are fact keys that additionally require allow_sensitive.
var sensitiveKeys = map[string]bool{
	"health":    true,
	"religion":  true,
	"politics":  true,
	"sexuality": true,
}

// MaybePersistPersonal runs the full personal-memory flow for one chat
// message: consent check (with implicit flip under the soft preset), fact
// extraction and storage, then story storage when separately allowed.
// Under the soft preset the triggering message's own facts are stored in
// the same call.
func (g *Gate) MaybePersistPersonal(ctx context.Context, userID, text string) (Result, error) {
	var res Result
	if userID == "" || text == "" {
		return res, nil
	}

	consent, err := g.db.GetConsent(ctx, userID)
	if err != nil {
		return res, err
	}

	if !consent.AllowPersonalMemory && g.policy.Preset == PresetSoft {
		intent := extract.DetectConsentIntent(text)
		if intent.EnablePersonal {
			patch := store.ConsentPatch{AllowPersonalMemory: boolPtr(true)}
			if intent.EnableStory {
				patch.AllowStoryStorage = boolPtr(true)
			}
			if err := g.db.UpsertConsent(ctx, userID, patch); err != nil {
				return res, err
			}
			consent, err = g.db.GetConsent(ctx, userID)
			if err != nil {
				return res, err
			}
			res.ConsentGranted = true
			g.logger.Printf("[CONSENT] implicit opt-in user=%s story=%v", userID, intent.EnableStory)
		}
	}

	if !consent.AllowPersonalMemory {
		return res, nil
	}

	facts := extract.ExtractPersonalFacts(text)
	if len(facts) > 0 {
		budget, err := g.factBudget(ctx, userID)
		if err != nil {
			return res, err
		}
		for _, f := range facts {
			if f.Confidence < g.policy.MinFactConfidence {
				res.FactsDropped++
				continue
			}
			if sensitiveKeys[f.Key] && !consent.AllowSensitive {
				res.FactsDropped++
				continue
			}
			if budget <= 0 {
				res.FactsDropped++
				continue
			}
			if err := g.db.UpsertFact(ctx, userID, f.Key, f.Value, "chat", f.Confidence); err != nil {
				g.logger.Printf("[CONSENT] fact write failed user=%s key=%s: %v", userID, f.Key, err)
				continue
			}
			budget--
			res.FactsStored++
		}
	}

	if consent.AllowStoryStorage {
		if story := extract.ExtractStory(text, g.policy.StoryMinChars); story != nil {
			rec := store.StoryRecord{
				UserID:  userID,
				Title:   story.Title,
				Content: story.Content,
				Mood:    story.Mood,
				Topics:  story.Topics,
				Source:  "chat",
			}
			if err := g.db.InsertStory(ctx, rec); err != nil {
				g.logger.Printf("[CONSENT] story write failed user=%s: %v", userID, err)
			} else {
				res.StoryStored = true
			}
		}
	}

	return res, nil
}

// factBudget returns how many more facts may be written today.
func (g *Gate) factBudget(ctx context.Context, userID string) (int, error) {
	if g.policy.MaxFactsPerDay <= 0 {
		return int(^uint(0) >> 1), nil
	}
	midnight := g.now().UTC().Truncate(24 * time.Hour)
	n, err := g.db.CountFactsUpdatedSince(ctx, userID, midnight)
	if err != nil {
		return 0, err
	}
	left := g.policy.MaxFactsPerDay - n
	if left < 0 {
		left = 0
	}
	return left, nil
}

// Grant flips consent flags on explicitly (the consent API path).
func (g *Gate) Grant(ctx context.Context, userID string, patch store.ConsentPatch) error {
	return g.db.UpsertConsent(ctx, userID, patch)
}

// Revoke clears every consent flag for the user.
func (g *Gate) Revoke(ctx context.Context, userID string) error {
	return g.db.RevokeConsent(ctx, userID)
}

func boolPtr(b bool) *bool { return &b }
