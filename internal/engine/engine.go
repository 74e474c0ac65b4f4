// Package engine orchestrates a tutoring turn: it resolves the teaching
// mode, runs the consent gate and fact extraction, assembles the memory
// pack, calls the model and feeds the exchange back into the short- and
// mid-term tiers.
package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mentora-ai/mentora/internal/brain"
	"github.com/mentora-ai/mentora/internal/consent"
	"github.com/mentora-ai/mentora/internal/extract"
	"github.com/mentora-ai/mentora/internal/memory/ltm"
	"github.com/mentora-ai/mentora/internal/memory/mtm"
	"github.com/mentora-ai/mentora/internal/memory/pack"
	"github.com/mentora-ai/mentora/internal/memory/stm"
	"github.com/mentora-ai/mentora/internal/telemetry"
	"github.com/mentora-ai/mentora/provider"
)

const simulationPrefix = "[SIMULAÇÃO LLM]"

// AttemptSink persists exercise attempts. The returned id feeds the
// consolidation checkpoint.
type AttemptSink interface {
	InsertAttempt(ctx context.Context, userID string, exerciseID int64, isCorrect bool) (int64, error)
}

// Engine wires the tiers together. All fields except metrics and logger
// are required.
type Engine struct {
	machine  *brain.Machine
	shortmem stm.Store
	gate     *consent.Gate
	rules    extract.Ruleset
	longterm *ltm.Repository
	slots    *mtm.Slots
	stats    *mtm.Aggregator
	packs    *pack.Assembler
	llm      provider.Provider
	attempts AttemptSink
	metrics  *telemetry.Metrics
	logger   *log.Logger
	now      func() time.Time
}

// Deps carries everything an Engine needs.
type Deps struct {
	Machine  *brain.Machine
	STM      stm.Store
	Gate     *consent.Gate
	Rules    extract.Ruleset
	LTM      *ltm.Repository
	Slots    *mtm.Slots
	Stats    *mtm.Aggregator
	Pack     *pack.Assembler
	LLM      provider.Provider
	Attempts AttemptSink
	Metrics  *telemetry.Metrics
	Logger   *log.Logger
	Now      func() time.Time
}

func New(d Deps) *Engine {
	if d.Logger == nil {
		d.Logger = telemetry.NewLogger("[ENGINE] ")
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Engine{
		machine:  d.Machine,
		shortmem: d.STM,
		gate:     d.Gate,
		rules:    d.Rules,
		longterm: d.LTM,
		slots:    d.Slots,
		stats:    d.Stats,
		packs:    d.Pack,
		llm:      d.LLM,
		attempts: d.Attempts,
		metrics:  d.Metrics,
		logger:   d.Logger,
		now:      d.Now,
	}
}

// TurnRequest is one user message plus routing hints.
type TurnRequest struct {
	UserID  string
	Message string
	Mode    string // requested teaching mode, "" or "auto" lets the engine pick
	Topic   string
}

// TurnResult is what a processed turn produced.
type TurnResult struct {
	Reply     string
	State     brain.State
	Simulated bool
	Consent   consent.Result
}

// ProcessTurn runs the full pipeline for one message. Memory failures
// degrade the turn (logged, counted) rather than failing it; only a
// missing user id or empty message is an error.
func (e *Engine) ProcessTurn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	if req.UserID == "" {
		return TurnResult{}, fmt.Errorf("process turn: user id is required")
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return TurnResult{}, fmt.Errorf("process turn: empty message")
	}

	start := e.now()
	prev := e.machine.State(req.UserID)
	state := e.resolveState(req.UserID, req.Mode, msg, req.Topic)
	if state != prev && e.metrics != nil {
		e.metrics.StateTransitions.WithLabelValues(string(prev), string(state)).Inc()
	}

	res := e.persistSignals(ctx, req.UserID, msg)

	allowStale := mtm.WantsRetake(msg)
	topicHint := req.Topic
	if topicHint == "" {
		topicHint = mtm.TopicFromMessage(msg)
	}

	packStart := e.now()
	memoryPack := e.packs.Build(ctx, req.UserID, pack.Options{
		TopicHint:  topicHint,
		AllowStale: allowStale,
	})
	if e.metrics != nil {
		e.metrics.PackBuildDuration.Observe(e.now().Sub(packStart).Seconds())
	}

	history, err := stm.BuildHistory(ctx, e.shortmem, req.UserID, string(state))
	if err != nil {
		e.logger.Printf("user=%s stm history failed: %v", req.UserID, err)
		history = nil
	}

	messages := make([]provider.Message, 0, len(history)+2)
	messages = append(messages, provider.Message{
		Role:    "system",
		Content: buildSystemPrompt(state, memoryPack),
	})
	for _, t := range history {
		messages = append(messages, provider.Message{Role: t.Role, Content: t.Content})
	}
	messages = append(messages, provider.Message{Role: "user", Content: msg})

	reply := e.llm.Complete(ctx, messages)
	simulated := strings.HasPrefix(reply, simulationPrefix)
	if simulated && e.metrics != nil {
		e.metrics.LLMFallbacks.Inc()
	}

	e.rememberTurn(ctx, req.UserID, string(state), msg, reply)
	e.slots.UpdateAfterTurn(ctx, req.UserID, msg, reply, string(state))

	if e.metrics != nil {
		e.metrics.TurnsTotal.WithLabelValues(string(state)).Inc()
		e.metrics.TurnDuration.Observe(e.now().Sub(start).Seconds())
	}

	return TurnResult{
		Reply:     reply,
		State:     state,
		Simulated: simulated,
		Consent:   res,
	}, nil
}

// resolveState picks the teaching mode for this turn. An explicit mode
// request wins; "auto" (or nothing) runs keyword detection on the message.
// A rejected transition keeps the current mode, never errors.
func (e *Engine) resolveState(userID, requested, msg, topic string) brain.State {
	target := brain.Normalize(requested)
	source := "request"
	if target == brain.StateAuto {
		target = brain.DetectState(msg)
		source = "auto"
	}

	meta := brain.Meta{Mode: string(target), Source: source, Topic: topic}
	if !e.machine.SetState(userID, target, meta) {
		current := e.machine.State(userID)
		e.logger.Printf("user=%s transition %s -> %s rejected, staying", userID, current, target)
		return current
	}
	return e.machine.State(userID)
}

// persistSignals runs the consent gate and the LTM candidate extraction for
// one message. Everything here is best-effort.
func (e *Engine) persistSignals(ctx context.Context, userID, msg string) consent.Result {
	res, err := e.gate.MaybePersistPersonal(ctx, userID, msg)
	if err != nil {
		e.logger.Printf("user=%s consent gate failed: %v", userID, err)
	}
	if e.metrics != nil {
		e.metrics.FactsStored.Add(float64(res.FactsStored))
		e.metrics.FactsDropped.Add(float64(res.FactsDropped))
	}

	ev := extract.Evidence{
		SourceType: "chat",
		SourceID:   uuid.NewString(),
		Note:       "mensagem do aluno",
	}
	for _, c := range e.rules.Extract(msg, ev) {
		if _, err := e.longterm.StoreCandidate(ctx, userID, c); err != nil {
			e.logger.Printf("user=%s candidate %s/%s not stored: %v", userID, c.MemType, c.MemKey, err)
		}
	}
	return res
}

// rememberTurn appends the exchange to the state-scoped bucket and the
// global bucket so later turns see it regardless of mode.
func (e *Engine) rememberTurn(ctx context.Context, userID, scope, userMsg, reply string) {
	now := e.now()
	turns := []struct {
		role, content string
	}{
		{"user", userMsg},
		{"assistant", reply},
	}
	for _, t := range turns {
		turn := stm.NormalizeTurn(stm.Turn{Role: t.role, Content: t.content}, now)
		for _, sc := range []string{scope, stm.ScopeGlobal} {
			if err := e.shortmem.Add(ctx, userID, sc, turn); err != nil {
				e.logger.Printf("user=%s stm append scope=%s failed: %v", userID, sc, err)
			}
		}
	}
}

// RecordAttempt persists an exercise attempt, refreshes the daily stats and
// files a knowledge-gap candidate when the answer was wrong. It returns the
// new attempt id.
func (e *Engine) RecordAttempt(ctx context.Context, userID string, exerciseID int64, sig extract.AttemptSignal) (int64, error) {
	id, err := e.attempts.InsertAttempt(ctx, userID, exerciseID, sig.IsCorrect)
	if err != nil {
		return 0, fmt.Errorf("record attempt: %w", err)
	}

	e.stats.RegisterAttempt(ctx, userID, sig.IsCorrect, sig.Topic)

	ev := extract.Evidence{
		SourceType: "attempt",
		SourceID:   fmt.Sprintf("%d", id),
		Note:       "tentativa de exercício",
	}
	for _, c := range extract.GapFromAttempt(sig, ev) {
		if _, err := e.longterm.StoreCandidate(ctx, userID, c); err != nil {
			e.logger.Printf("user=%s gap %s not stored: %v", userID, c.MemKey, err)
		}
	}
	return id, nil
}
