package mtm

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/mentora-ai/mentora/internal/store"
)

// Slot keys. Stored in the long-term table under mem_type "mtm" so they
// survive restarts but are read with a 24h freshness window.
const (
	slotFocusTopic     = "mtm:focus_topic"
	slotSecondaryTopic = "mtm:secondary_topic"
	slotOpenThreads    = "mtm:open_threads"
	slotSessionGoal    = "mtm:session_goal"
	slotLastSummary    = "mtm:last_summary"
	slotLastState      = "mtm:last_state"
	slotLastTopic      = "mtm:last_topic"
	slotSummaryHash    = "mtm:last_summary_hash"
)

const slotFreshness = 24 * time.Hour

// SlotBacking is the store slice the slot manager writes through.
type SlotBacking interface {
	PutMemory(ctx context.Context, rec store.MemoryRecord) (store.MemoryRecord, error)
	GetMemory(ctx context.Context, userID, memType, memKey string) (store.MemoryRecord, bool, error)
}

// Slots tracks the cross-session conversation state: what the user was
// working on and the last turn's summary, with dedup so a repeated turn
// does not churn rows.
type Slots struct {
	db     SlotBacking
	logger *log.Logger
	now    func() time.Time
}

// NewSlots wires the slot manager.
func NewSlots(db SlotBacking, logger *log.Logger, now func() time.Time) *Slots {
	if logger == nil {
		logger = log.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Slots{db: db, logger: logger, now: now}
}

var (
	reGreeting    = regexp.MustCompile(`^(oi|olá|ola|eai|e aí|bom dia|boa tarde|boa noite)(\b|!|\.)`)
	reGreetingB   = regexp.MustCompile(`tudo bem\??$`)
	reContinue    = regexp.MustCompile(`(vamos continuar|retomar|onde paramos|voltando|continua|continuar|retoma|segue|prosseguir)`)
	reImplicitA   = regexp.MustCompile(`^(entendi|ok|beleza|certo|e aí\??|e agora\??|mas\??|como\??)`)
	reImplicitB   = regexp.MustCompile(`(isso|aquilo|dessa parte|daquilo|como falei|como você disse|sobre isso|sobre aquilo)`)
	reImplicitC   = regexp.MustCompile(`\b(daí|então)\b`)
	reTema        = regexp.MustCompile(`(?i)^\s*tema\s*:\s*`)
	reTemaCapture = regexp.MustCompile(`(?i)^\s*tema\s*:\s*([^\n]+)`)
	reLowQuality  = regexp.MustCompile(`(?i)^(ok|beleza|valeu|kkk|hmm+|não entendi|nao entendi|entendi)$`)
	reSentenceEnd = regexp.MustCompile(`[.\n!?]`)
)

// IsGreeting reports whether a message is a bare greeting.
func IsGreeting(msg string) bool {
	t := strings.ToLower(strings.TrimSpace(msg))
	return reGreeting.MatchString(t) || reGreetingB.MatchString(t) || len([]rune(t)) <= 4
}

// WantsRetake reports whether the user is asking to pick up prior work,
// explicitly ("vamos continuar", "Tema: ...") or implicitly (short
// anaphoric follow-ups).
func WantsRetake(msg string) bool {
	t := strings.ToLower(strings.TrimSpace(msg))
	if reContinue.MatchString(t) || reTema.MatchString(msg) {
		return true
	}
	if len([]rune(t)) <= 18 && reImplicitA.MatchString(t) {
		return true
	}
	if reImplicitB.MatchString(t) {
		return true
	}
	if reImplicitC.MatchString(t) && len([]rune(t)) < 40 {
		return true
	}
	return false
}

// TopicFromMessage pulls the working topic: an explicit "Tema: X" header
// wins, otherwise the first sentence, capped at 120 runes.
func TopicFromMessage(msg string) string {
	s := strings.TrimSpace(msg)
	if m := reTemaCapture.FindStringSubmatch(s); m != nil {
		return truncateRunes(strings.TrimSpace(m[1]), 120)
	}
	first := strings.TrimSpace(reSentenceEnd.Split(s, 2)[0])
	if first == "" {
		first = s
	}
	return truncateRunes(first, 120)
}

func lowQualityForTopic(msg string) bool {
	t := strings.TrimSpace(msg)
	if IsGreeting(t) {
		return true
	}
	if reLowQuality.MatchString(t) {
		return true
	}
	return len([]rune(t)) < 10
}

// summaryFromTurn compresses one exchange into a short recap line.
func summaryFromTurn(userMsg, assistantMsg string) string {
	a := truncateRunes(collapseSpaces(userMsg), 160)
	b := truncateRunes(collapseSpaces(assistantMsg), 260)
	return "U:" + a + " | A:" + b
}

func hashText(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// UpdateAfterTurn refreshes the slots after one completed exchange: the
// final state always, the topic slots when the message carries one, and
// the summary only when it differs from the previous turn's hash.
func (s *Slots) UpdateAfterTurn(ctx context.Context, userID, userMsg, assistantMsg, finalState string) {
	if userID == "" {
		return
	}
	if finalState != "" {
		s.put(ctx, userID, slotLastState, finalState, 0.85)
	}

	if !lowQualityForTopic(userMsg) {
		newTopic := TopicFromMessage(userMsg)
		focus, hasFocus := s.get(ctx, userID, slotFocusTopic)
		if reTema.MatchString(userMsg) || !hasFocus {
			if hasFocus && !strings.EqualFold(focus, newTopic) {
				s.put(ctx, userID, slotSecondaryTopic, focus, 0.6)
			}
			s.put(ctx, userID, slotFocusTopic, newTopic, 0.7)
			s.put(ctx, userID, slotLastTopic, newTopic, 0.7)
		} else if focus != "" && !strings.EqualFold(focus, newTopic) {
			s.put(ctx, userID, slotSecondaryTopic, newTopic, 0.6)
		}
	}

	sum := summaryFromTurn(userMsg, assistantMsg)
	h := hashText(sum)
	if prev, _ := s.get(ctx, userID, slotSummaryHash); prev != h {
		s.put(ctx, userID, slotLastSummary, sum, 0.65)
		s.put(ctx, userID, slotSummaryHash, h, 0.95)
	}
}

// Context renders the slot block for the prompt. Slots older than 24h are
// skipped unless the user explicitly asked to pick the work back up
// (allowStale); the last summary only ever appears on explicit retakes.
func (s *Slots) Context(ctx context.Context, userID string, allowStale bool) string {
	type slotLine struct {
		key   string
		label string
	}
	fresh := func(rec store.MemoryRecord) bool {
		return allowStale || s.now().Sub(rec.LastConfirmedAt) <= slotFreshness
	}

	var lines []string
	for _, sl := range []slotLine{
		{slotFocusTopic, "Focus"},
		{slotSecondaryTopic, "Secondary"},
	} {
		if rec, ok, _ := s.db.GetMemory(ctx, userID, store.MemTypeMTM, sl.key); ok && fresh(rec) {
			if v := decodeSlot(rec.Value); v != "" {
				lines = append(lines, sl.label+": "+v)
			}
		}
	}
	if rec, ok, _ := s.db.GetMemory(ctx, userID, store.MemTypeMTM, slotOpenThreads); ok && fresh(rec) {
		var threads []string
		if err := json.Unmarshal([]byte(decodeSlot(rec.Value)), &threads); err == nil && len(threads) > 0 {
			if len(threads) > 3 {
				threads = threads[:3]
			}
			lines = append(lines, "Threads: "+strings.Join(threads, ", "))
		}
	}
	if rec, ok, _ := s.db.GetMemory(ctx, userID, store.MemTypeMTM, slotSessionGoal); ok && fresh(rec) {
		if v := decodeSlot(rec.Value); v != "" {
			lines = append(lines, "SessionGoal: "+v)
		}
	}
	if rec, ok, _ := s.db.GetMemory(ctx, userID, store.MemTypeMTM, slotLastState); ok && fresh(rec) {
		if v := decodeSlot(rec.Value); v != "" {
			lines = append(lines, "Mode: "+v)
		}
	}
	if allowStale {
		if rec, ok, _ := s.db.GetMemory(ctx, userID, store.MemTypeMTM, slotLastSummary); ok {
			if v := decodeSlot(rec.Value); v != "" {
				lines = append(lines, "LastSummary: "+v)
			}
		}
	}
	return strings.Join(lines, "\n")
}

func (s *Slots) put(ctx context.Context, userID, key, value string, confidence float64) {
	payload, err := json.Marshal(map[string]string{"value": value})
	if err != nil {
		return
	}
	_, err = s.db.PutMemory(ctx, store.MemoryRecord{
		UserID:     userID,
		MemType:    store.MemTypeMTM,
		MemKey:     key,
		Value:      payload,
		Confidence: confidence,
		Source:     "chat",
	})
	if err != nil {
		s.logger.Printf("[MTM] slot write failed user=%s key=%s: %v", userID, key, err)
	}
}

func (s *Slots) get(ctx context.Context, userID, key string) (string, bool) {
	rec, ok, err := s.db.GetMemory(ctx, userID, store.MemTypeMTM, key)
	if err != nil || !ok {
		return "", false
	}
	return decodeSlot(rec.Value), true
}

func decodeSlot(raw json.RawMessage) string {
	var payload struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ""
	}
	return strings.TrimSpace(payload.Value)
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
