package engine

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"math"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/mentora-ai/mentora/internal/brain"
	"github.com/mentora-ai/mentora/internal/consent"
	"github.com/mentora-ai/mentora/internal/extract"
	"github.com/mentora-ai/mentora/internal/memory/ltm"
	"github.com/mentora-ai/mentora/internal/memory/mtm"
	"github.com/mentora-ai/mentora/internal/memory/pack"
	"github.com/mentora-ai/mentora/internal/memory/stm"
	"github.com/mentora-ai/mentora/internal/store"
	"github.com/mentora-ai/mentora/provider"
)

// fakeDB is an in-memory stand-in for the Postgres store shared by every
// tier the engine touches.
type fakeDB struct {
	memories map[string]store.MemoryRecord
	nextID   int64
	evidence []store.EvidenceRecord

	consents map[string]store.ConsentRecord
	facts    map[string]store.FactRecord
	stories  []store.StoryRecord

	stats map[string]store.DailyStat

	attempts      []store.AttemptRecord
	nextAttemptID int64
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		memories: make(map[string]store.MemoryRecord),
		consents: make(map[string]store.ConsentRecord),
		facts:    make(map[string]store.FactRecord),
		stats:    make(map[string]store.DailyStat),
	}
}

func memKey(userID, memType, mk string) string { return userID + "|" + memType + "|" + mk }

func (f *fakeDB) UpsertMemory(_ context.Context, rec store.MemoryRecord) (store.MemoryRecord, error) {
	k := memKey(rec.UserID, rec.MemType, rec.MemKey)
	if old, ok := f.memories[k]; ok {
		if old.Confidence > rec.Confidence {
			rec.Confidence = old.Confidence
		}
		rec.ID = old.ID
		rec.RecurrenceCount = old.RecurrenceCount + 1
	} else {
		f.nextID++
		rec.ID = f.nextID
		rec.RecurrenceCount = 1
	}
	rec.Status = store.MemoryStatusActive
	f.memories[k] = rec
	return rec, nil
}

func (f *fakeDB) PutMemory(_ context.Context, rec store.MemoryRecord) (store.MemoryRecord, error) {
	k := memKey(rec.UserID, rec.MemType, rec.MemKey)
	if old, ok := f.memories[k]; ok {
		rec.ID = old.ID
		rec.RecurrenceCount = old.RecurrenceCount + 1
	} else {
		f.nextID++
		rec.ID = f.nextID
		rec.RecurrenceCount = 1
	}
	rec.Status = store.MemoryStatusActive
	f.memories[k] = rec
	return rec, nil
}

func (f *fakeDB) GetMemory(_ context.Context, userID, memType, mk string) (store.MemoryRecord, bool, error) {
	rec, ok := f.memories[memKey(userID, memType, mk)]
	return rec, ok, nil
}

func (f *fakeDB) GetMemoryByKey(_ context.Context, userID, mk string) (store.MemoryRecord, bool, error) {
	for _, rec := range f.memories {
		if rec.UserID == userID && rec.MemKey == mk {
			return rec, true, nil
		}
	}
	return store.MemoryRecord{}, false, nil
}

func (f *fakeDB) ListActiveMemories(_ context.Context, userID string, memTypes []string, limit int) ([]store.MemoryRecord, error) {
	var out []store.MemoryRecord
	for _, rec := range f.memories {
		if rec.UserID != userID {
			continue
		}
		for _, mt := range memTypes {
			if rec.MemType == mt {
				out = append(out, rec)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemKey < out[j].MemKey })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeDB) ListMemoriesByPrefix(_ context.Context, userID, prefix, _ string, limit int) ([]store.MemoryRecord, error) {
	var out []store.MemoryRecord
	for _, rec := range f.memories {
		if rec.UserID == userID && strings.HasPrefix(rec.MemKey, prefix) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemKey < out[j].MemKey })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeDB) AddEvidence(_ context.Context, ev store.EvidenceRecord) error {
	f.evidence = append(f.evidence, ev)
	return nil
}

func (f *fakeDB) GetConsent(_ context.Context, userID string) (store.ConsentRecord, error) {
	if rec, ok := f.consents[userID]; ok {
		return rec, nil
	}
	return store.ConsentRecord{UserID: userID, RetentionDays: 365}, nil
}

func (f *fakeDB) UpsertConsent(_ context.Context, userID string, patch store.ConsentPatch) error {
	rec, ok := f.consents[userID]
	if !ok {
		rec = store.ConsentRecord{UserID: userID, RetentionDays: 365}
	}
	if patch.AllowPersonalMemory != nil && *patch.AllowPersonalMemory {
		rec.AllowPersonalMemory = true
	}
	if patch.AllowStoryStorage != nil && *patch.AllowStoryStorage {
		rec.AllowStoryStorage = true
	}
	if patch.AllowSensitive != nil && *patch.AllowSensitive {
		rec.AllowSensitive = true
	}
	if patch.RetentionDays != nil && *patch.RetentionDays > 0 {
		rec.RetentionDays = *patch.RetentionDays
	}
	f.consents[userID] = rec
	return nil
}

func (f *fakeDB) RevokeConsent(_ context.Context, userID string) error {
	f.consents[userID] = store.ConsentRecord{UserID: userID, RetentionDays: 365}
	return nil
}

func (f *fakeDB) UpsertFact(_ context.Context, userID, factKey, factValue, source string, confidence float64) error {
	f.facts[userID+"|"+factKey] = store.FactRecord{
		UserID: userID, FactKey: factKey, FactValue: factValue,
		Source: source, Confidence: confidence, UpdatedAt: time.Now(),
	}
	return nil
}

func (f *fakeDB) CountFactsUpdatedSince(_ context.Context, userID string, since time.Time) (int, error) {
	n := 0
	for _, rec := range f.facts {
		if rec.UserID == userID && !rec.UpdatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (f *fakeDB) InsertStory(_ context.Context, rec store.StoryRecord) error {
	f.stories = append(f.stories, rec)
	return nil
}

func (f *fakeDB) ListFacts(_ context.Context, userID string, limit int) ([]store.FactRecord, error) {
	var out []store.FactRecord
	for _, rec := range f.facts {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FactKey < out[j].FactKey })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeDB) ListStories(_ context.Context, userID string, limit int) ([]store.StoryRecord, error) {
	var out []store.StoryRecord
	for _, rec := range f.stories {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeDB) RegisterDailyAttempt(_ context.Context, userID, day string, isCorrect bool, topic string) error {
	k := userID + "|" + day
	st := f.stats[k]
	st.UserID = userID
	st.StatDate = day
	st.TotalAttempts++
	if isCorrect {
		st.CorrectAttempts++
	} else {
		st.WrongAttempts++
	}
	st.LastTopics = store.AppendTopic(st.LastTopics, topic)
	f.stats[k] = st
	return nil
}

func (f *fakeDB) GetDailyStat(_ context.Context, userID, day string) (store.DailyStat, bool, error) {
	st, ok := f.stats[userID+"|"+day]
	return st, ok, nil
}

func (f *fakeDB) InsertAttempt(_ context.Context, userID string, exerciseID int64, isCorrect bool) (int64, error) {
	f.nextAttemptID++
	f.attempts = append(f.attempts, store.AttemptRecord{
		ID: f.nextAttemptID, UserID: userID, ExerciseID: exerciseID, IsCorrect: isCorrect,
	})
	return f.nextAttemptID, nil
}

// fakeLLM records the last conversation it saw and answers with a canned
// reply.
type fakeLLM struct {
	reply string
	seen  []provider.Message
}

func (f *fakeLLM) Complete(_ context.Context, messages []provider.Message) string {
	f.seen = append([]provider.Message(nil), messages...)
	return f.reply
}

func testLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func newTestEngine(t *testing.T, db *fakeDB, llm provider.Provider, preset consent.Preset) *Engine {
	t.Helper()
	logger := testLogger()
	now := time.Now

	repo := ltm.NewRepository(db, now)
	slots := mtm.NewSlots(db, logger, now)
	stats := mtm.NewAggregator(db, logger, now)
	packs := pack.New(db, stats, slots, db, pack.DefaultBudgets(), logger)
	gate := consent.NewGate(db, consent.PolicyFor(preset), logger)

	return New(Deps{
		Machine:  brain.NewMachine(),
		STM:      stm.NewInMemory(stm.DefaultLimits),
		Gate:     gate,
		Rules:    extract.PortugueseRules{},
		LTM:      repo,
		Slots:    slots,
		Stats:    stats,
		Pack:     packs,
		LLM:      llm,
		Attempts: db,
		Logger:   logger,
		Now:      now,
	})
}

func TestProcessTurnHappyPath(t *testing.T) {
	db := newFakeDB()
	llm := &fakeLLM{reply: "A derivada de x² é 2x."}
	e := newTestEngine(t, db, llm, consent.PresetStrict)

	res, err := e.ProcessTurn(context.Background(), TurnRequest{
		UserID:  "u1",
		Message: "Tema: derivadas\nme explica a regra do tombo?",
	})
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if res.State != brain.StateExplain {
		t.Fatalf("state = %s, want explain", res.State)
	}
	if res.Reply != llm.reply {
		t.Fatalf("reply = %q", res.Reply)
	}
	if res.Simulated {
		t.Fatal("reply flagged as simulated")
	}

	if len(llm.seen) == 0 || llm.seen[0].Role != "system" {
		t.Fatal("system prompt missing")
	}
	if !strings.Contains(llm.seen[0].Content, "MODO ATIVO: EXPLICAÇÃO") {
		t.Fatalf("system prompt lacks mode rules:\n%s", llm.seen[0].Content)
	}
	if llm.seen[len(llm.seen)-1].Content != "Tema: derivadas\nme explica a regra do tombo?" {
		t.Fatal("user message not last")
	}

	// Both the mode bucket and the global bucket remember the exchange.
	global, _ := e.shortmem.Get(context.Background(), "u1", stm.ScopeGlobal)
	scoped, _ := e.shortmem.Get(context.Background(), "u1", string(brain.StateExplain))
	if len(global) != 2 || len(scoped) != 2 {
		t.Fatalf("stm turns global=%d scoped=%d, want 2/2", len(global), len(scoped))
	}

	// The slot manager saw the turn.
	if _, ok := db.memories[memKey("u1", store.MemTypeMTM, "mtm:last_state")]; !ok {
		t.Fatal("mtm:last_state not written")
	}
	if rec, ok := db.memories[memKey("u1", store.MemTypeMTM, "mtm:focus_topic")]; !ok {
		t.Fatal("mtm:focus_topic not written")
	} else {
		var env struct {
			Value string `json:"value"`
		}
		_ = json.Unmarshal(rec.Value, &env)
		if env.Value != "derivadas" {
			t.Fatalf("focus topic = %q", env.Value)
		}
	}
}

func TestProcessTurnAutoDetectsMode(t *testing.T) {
	db := newFakeDB()
	llm := &fakeLLM{reply: "Vamos praticar."}
	e := newTestEngine(t, db, llm, consent.PresetStrict)

	res, err := e.ProcessTurn(context.Background(), TurnRequest{
		UserID:  "u1",
		Mode:    "auto",
		Message: "quero treinar exercícios de frações",
	})
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if res.State != brain.StateDrill {
		t.Fatalf("state = %s, want drill", res.State)
	}
	if !strings.Contains(llm.seen[0].Content, "MODO ATIVO: TREINO") {
		t.Fatal("drill rules not in system prompt")
	}
}

func TestProcessTurnRejectedTransitionKeepsState(t *testing.T) {
	db := newFakeDB()
	llm := &fakeLLM{reply: "ok"}
	e := newTestEngine(t, db, llm, consent.PresetStrict)

	ctx := context.Background()
	// drill -> application is not in the transition table.
	if _, err := e.ProcessTurn(ctx, TurnRequest{UserID: "u1", Mode: "drill", Message: "bora treinar"}); err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	res, err := e.ProcessTurn(ctx, TurnRequest{UserID: "u1", Mode: "application", Message: "e na prática?"})
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if res.State != brain.StateDrill {
		t.Fatalf("state = %s, want drill (rejected transition keeps mode)", res.State)
	}
}

func TestProcessTurnExtractsLongTermCandidates(t *testing.T) {
	db := newFakeDB()
	llm := &fakeLLM{reply: "anotado"}
	e := newTestEngine(t, db, llm, consent.PresetStrict)

	_, err := e.ProcessTurn(context.Background(), TurnRequest{
		UserID:  "u1",
		Message: "prefiro resposta curta e meu nome é Ana",
	})
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	if _, ok := db.memories[memKey("u1", "prefs", "prefs.response_length")]; !ok {
		t.Fatal("response_length preference not stored")
	}
	if rec, ok := db.memories[memKey("u1", "profile", "profile.name")]; !ok {
		t.Fatal("profile.name not stored")
	} else if rec.Confidence != 0.92 {
		t.Fatalf("name confidence = %v", rec.Confidence)
	}
	if len(db.evidence) == 0 {
		t.Fatal("no evidence rows appended")
	}
}

func TestProcessTurnSoftConsentStoresFacts(t *testing.T) {
	db := newFakeDB()
	llm := &fakeLLM{reply: "pode deixar"}
	e := newTestEngine(t, db, llm, consent.PresetSoft)

	res, err := e.ProcessTurn(context.Background(), TurnRequest{
		UserID:  "u1",
		Message: "pode salvar, meu nome é Rui",
	})
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if !res.Consent.ConsentGranted {
		t.Fatal("soft preset should grant consent on the trigger phrase")
	}
	if res.Consent.FactsStored != 1 {
		t.Fatalf("facts stored = %d, want 1", res.Consent.FactsStored)
	}
	if _, ok := db.facts["u1|name"]; !ok {
		t.Fatal("name fact not persisted")
	}
}

func TestProcessTurnSimulationFlagged(t *testing.T) {
	db := newFakeDB()
	llm := &fakeLLM{reply: "[SIMULAÇÃO LLM] sem chave de API\nÚltima mensagem: oi"}
	e := newTestEngine(t, db, llm, consent.PresetStrict)

	res, err := e.ProcessTurn(context.Background(), TurnRequest{UserID: "u1", Message: "oi, tudo bem?"})
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if !res.Simulated {
		t.Fatal("simulation reply not flagged")
	}
}

func TestProcessTurnValidation(t *testing.T) {
	db := newFakeDB()
	e := newTestEngine(t, db, &fakeLLM{reply: "x"}, consent.PresetStrict)

	if _, err := e.ProcessTurn(context.Background(), TurnRequest{Message: "oi"}); err == nil {
		t.Fatal("missing user id accepted")
	}
	if _, err := e.ProcessTurn(context.Background(), TurnRequest{UserID: "u1", Message: "   "}); err == nil {
		t.Fatal("blank message accepted")
	}
}

func TestRecordAttemptWrongAnswerFilesGap(t *testing.T) {
	db := newFakeDB()
	e := newTestEngine(t, db, &fakeLLM{reply: "x"}, consent.PresetStrict)

	ctx := context.Background()
	id, err := e.RecordAttempt(ctx, "u1", 7, extract.AttemptSignal{
		Topic:     "Frações",
		IsCorrect: false,
		Severity:  0.8,
	})
	if err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}
	if id != 1 {
		t.Fatalf("attempt id = %d", id)
	}

	day := store.Today(time.Now())
	st, ok := db.stats["u1|"+day]
	if !ok || st.TotalAttempts != 1 || st.WrongAttempts != 1 {
		t.Fatalf("daily stat = %+v ok=%v", st, ok)
	}

	rec, ok := db.memories[memKey("u1", "knowledge_gaps", "gaps.frações.geral")]
	if !ok {
		t.Fatal("gap candidate not stored")
	}
	if math.Abs(rec.Confidence-0.90) > 1e-9 {
		t.Fatalf("gap confidence = %v, want 0.90", rec.Confidence)
	}
}

func TestRecordAttemptCorrectAnswerNoGap(t *testing.T) {
	db := newFakeDB()
	e := newTestEngine(t, db, &fakeLLM{reply: "x"}, consent.PresetStrict)

	if _, err := e.RecordAttempt(context.Background(), "u1", 7, extract.AttemptSignal{
		Topic:     "frações",
		IsCorrect: true,
	}); err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}
	for k := range db.memories {
		if strings.Contains(k, "gaps.") {
			t.Fatalf("unexpected gap row %s", k)
		}
	}
}
