// Package pack assembles the prompt-ready memory pack: the short internal
// context block built from long-term rows, the mid-term recap and, when
// consented, personal facts and stories. Budgets are per-section character
// caps filled greedily line by line, never mid-line.
package pack

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"github.com/mentora-ai/mentora/config"
	"github.com/mentora-ai/mentora/internal/store"
)

// Budgets are the per-section soft caps in characters.
type Budgets struct {
	Prefs    int
	Skills   int
	Patterns int
	Goals    int
	MTM      int
}

// DefaultBudgets mirror the config defaults.
func DefaultBudgets() Budgets {
	return Budgets{Prefs: 450, Skills: 450, Patterns: 350, Goals: 250, MTM: 900}
}

// BudgetsFromConfig maps the config section, falling back to defaults for
// unset values.
func BudgetsFromConfig(cfg config.PackConfig) Budgets {
	b := DefaultBudgets()
	if cfg.PrefsBudget > 0 {
		b.Prefs = cfg.PrefsBudget
	}
	if cfg.SkillsBudget > 0 {
		b.Skills = cfg.SkillsBudget
	}
	if cfg.PatternsBudget > 0 {
		b.Patterns = cfg.PatternsBudget
	}
	if cfg.GoalsBudget > 0 {
		b.Goals = cfg.GoalsBudget
	}
	if cfg.MTMBudget > 0 {
		b.MTM = cfg.MTMBudget
	}
	return b
}

// MemoryReader is the long-term read slice the assembler needs.
type MemoryReader interface {
	ListMemoriesByPrefix(ctx context.Context, userID, prefix, order string, limit int) ([]store.MemoryRecord, error)
}

// RecapSource renders the mid-term daily recap line.
type RecapSource interface {
	Summarize(ctx context.Context, userID string) string
}

// SlotSource renders the cross-session conversation slots.
type SlotSource interface {
	Context(ctx context.Context, userID string, allowStale bool) string
}

// PersonalSource reads consented personal memory.
type PersonalSource interface {
	ListFacts(ctx context.Context, userID string, limit int) ([]store.FactRecord, error)
	ListStories(ctx context.Context, userID string, limit int) ([]store.StoryRecord, error)
	GetConsent(ctx context.Context, userID string) (store.ConsentRecord, error)
}

// Assembler builds the memory pack for one user turn.
type Assembler struct {
	memories MemoryReader
	recap    RecapSource
	slots    SlotSource
	personal PersonalSource
	budgets  Budgets
	logger   *log.Logger
}

// New wires the assembler. recap, slots and personal may be nil; their
// sections are then omitted.
func New(memories MemoryReader, recap RecapSource, slots SlotSource, personal PersonalSource, budgets Budgets, logger *log.Logger) *Assembler {
	if logger == nil {
		logger = log.Default()
	}
	return &Assembler{
		memories: memories,
		recap:    recap,
		slots:    slots,
		personal: personal,
		budgets:  budgets,
		logger:   logger,
	}
}

// Options tune one Build call.
type Options struct {
	TopicHint  string // bias skills/patterns toward this topic
	AllowStale bool   // user asked to pick prior work back up
}

// Build assembles the pack. Sections appear in a fixed order: preferences,
// goals and profile first (they shape HOW to answer), then skills and
// patterns (WHAT to focus on), then the mid-term recap. An empty pack is
// the empty string. Read failures degrade to missing sections.
func (a *Assembler) Build(ctx context.Context, userID string, opts Options) string {
	var blocks []string

	prefs := a.section(ctx, userID, "pref:", "recent", "", a.budgets.Prefs)
	goals := a.section(ctx, userID, "goals.", "recent", "", a.budgets.Goals)
	profile := a.section(ctx, userID, "profile.", "recent", "", a.budgets.Prefs)
	howLines := append(append(prefs, goals...), profile...)
	if block := formatSection("MEMÓRIA DO USUÁRIO (uso interno)", howLines); block != "" {
		blocks = append(blocks, block)
	}

	skills := a.sectionMulti(ctx, userID, []string{"skill:", "difficulty:"}, "confidence", opts.TopicHint, a.budgets.Skills)
	patterns := a.section(ctx, userID, "pattern:", "confidence", opts.TopicHint, a.budgets.Patterns)
	whatLines := append(skills, patterns...)
	if block := formatSection("PERFIL DE APRENDIZADO", whatLines); block != "" {
		blocks = append(blocks, block)
	}

	if a.personal != nil {
		if block := a.personalSection(ctx, userID); block != "" {
			blocks = append(blocks, block)
		}
	}

	var mtmParts []string
	if a.slots != nil {
		if slotCtx := a.slots.Context(ctx, userID, opts.AllowStale); slotCtx != "" {
			mtmParts = append(mtmParts, slotCtx)
		}
	}
	if a.recap != nil {
		if recap := a.recap.Summarize(ctx, userID); recap != "" {
			mtmParts = append(mtmParts, recap)
		}
	}
	if len(mtmParts) > 0 {
		blocks = append(blocks, clampText(strings.Join(mtmParts, "\n"), a.budgets.MTM))
	}

	return strings.Join(blocks, "\n\n")
}

// section fetches one key-prefix bucket and renders it into budgeted lines.
// With a topic hint, lines matching the hint win; when nothing matches the
// hint the unfiltered top rows are used instead.
func (a *Assembler) section(ctx context.Context, userID, prefix, order, topicHint string, budget int) []string {
	return a.sectionMulti(ctx, userID, []string{prefix}, order, topicHint, budget)
}

func (a *Assembler) sectionMulti(ctx context.Context, userID string, prefixes []string, order, topicHint string, budget int) []string {
	var rows []store.MemoryRecord
	for _, prefix := range prefixes {
		got, err := a.memories.ListMemoriesByPrefix(ctx, userID, prefix, order, 12)
		if err != nil {
			a.logger.Printf("[PACK] reading %s rows failed user=%s: %v", prefix, userID, err)
			continue
		}
		rows = append(rows, got...)
	}
	if topicHint != "" {
		if rel := filterRelevant(rows, topicHint); len(rel) > 0 {
			rows = rel
		}
	}

	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		// bookkeeping keys never reach the prompt
		if strings.HasPrefix(r.MemKey, "sys:") || strings.HasPrefix(r.MemKey, "pref:history:") {
			continue
		}
		lines = append(lines, "- "+humanizeKey(r.MemKey)+": "+clampText(renderValue(r.Value), 140))
	}
	return takeBudgetedLines(lines, budget)
}

func (a *Assembler) personalSection(ctx context.Context, userID string) string {
	consent, err := a.personal.GetConsent(ctx, userID)
	if err != nil || !consent.AllowPersonalMemory {
		return ""
	}

	var lines []string
	facts, err := a.personal.ListFacts(ctx, userID, 10)
	if err != nil {
		a.logger.Printf("[PACK] reading facts failed user=%s: %v", userID, err)
	}
	for _, f := range facts {
		lines = append(lines, "- "+f.FactKey+": "+clampText(f.FactValue, 140))
	}

	if consent.AllowStoryStorage {
		stories, err := a.personal.ListStories(ctx, userID, 1)
		if err != nil {
			a.logger.Printf("[PACK] reading stories failed user=%s: %v", userID, err)
		}
		for _, st := range stories {
			line := "- "
			if st.Title != "" {
				line += "(" + st.Title + ") "
			}
			line += clampText(st.Content, 480)
			lines = append(lines, line)
		}
	}

	return formatSection("CONTEXTO PESSOAL (consentido)", lines)
}

// filterRelevant keeps rows whose key or value mentions the topic hint.
func filterRelevant(rows []store.MemoryRecord, topicHint string) []store.MemoryRecord {
	hint := strings.ToLower(strings.TrimSpace(topicHint))
	if hint == "" {
		return rows
	}
	var out []store.MemoryRecord
	for _, r := range rows {
		if strings.Contains(strings.ToLower(r.MemKey), hint) ||
			strings.Contains(strings.ToLower(string(r.Value)), hint) {
			out = append(out, r)
		}
	}
	return out
}

// takeBudgetedLines fills whole lines into the budget, counting the joining
// newline, and stops at the first line that would overflow.
func takeBudgetedLines(lines []string, maxChars int) []string {
	var out []string
	used := 0
	for _, ln := range lines {
		add := len(ln) + 1
		if used+add > maxChars {
			break
		}
		out = append(out, ln)
		used += add
	}
	return out
}

func formatSection(title string, lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return title + ":\n" + strings.Join(lines, "\n")
}

// humanizeKey strips technical prefixes for the prompt.
func humanizeKey(key string) string {
	switch {
	case strings.HasPrefix(key, "pref:"):
		return "pref " + strings.TrimPrefix(key, "pref:")
	case strings.HasPrefix(key, "skill:"):
		return strings.TrimPrefix(key, "skill:")
	case strings.HasPrefix(key, "difficulty:"):
		return "dificuldade " + strings.TrimPrefix(key, "difficulty:")
	case strings.HasPrefix(key, "pattern:"):
		return "padrão " + strings.TrimPrefix(key, "pattern:")
	case key == "goals.primary":
		return "objetivo"
	case strings.HasPrefix(key, "goals."):
		return "meta " + strings.TrimPrefix(key, "goals.")
	case strings.HasPrefix(key, "profile."):
		return strings.TrimPrefix(key, "profile.")
	default:
		return key
	}
}

// renderValue flattens a JSON payload into one short display string.
// Single-field objects drop the field name; anything unparseable is shown
// raw.
func renderValue(raw json.RawMessage) string {
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return strings.TrimSpace(string(raw))
	}
	if len(obj) == 1 {
		for _, v := range obj {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	// stable compact rendering for multi-field payloads
	b, err := json.Marshal(obj)
	if err != nil {
		return strings.TrimSpace(string(raw))
	}
	return string(b)
}

// clampText trims to a hard character cap with an ellipsis marker.
func clampText(s string, max int) string {
	t := strings.TrimSpace(s)
	if max <= 0 || len([]rune(t)) <= max {
		return t
	}
	r := []rune(t)
	return strings.TrimRight(string(r[:max-1]), " ") + "…"
}
