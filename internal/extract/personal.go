package extract

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// PersonalFact is a lightweight, user-stated fact ("my name is...",
// "I work as..."). These go through the consent gate before storage.
type PersonalFact struct {
	Key        string
	Value      string
	Confidence float64
}

// ConsentIntent is what a single message says about storing personal data.
type ConsentIntent struct {
	EnablePersonal bool
	EnableStory    bool
}

// Story is a longer narrative the user explicitly asked to keep.
type Story struct {
	Title   string
	Content string
	Mood    string
	Topics  []string
}

var consentTriggers = []string{
	"pode salvar",
	"pode guardar",
	"salva isso",
	"registra isso",
	"anota isso",
	"lembra disso",
	"memoriza isso",
	"guarda isso",
}

var storyCues = []string{"história", "desabafo", "desabafar", "vou contar", "aconteceu"}

// DetectConsentIntent scans one message for explicit save requests. Story
// intent requires a save trigger plus a narrative cue in the same message.
func DetectConsentIntent(text string) ConsentIntent {
	t := strings.ToLower(strings.TrimSpace(text))
	enable := containsAnyOf(t, consentTriggers)
	return ConsentIntent{
		EnablePersonal: enable,
		EnableStory:    enable && containsAnyOf(t, storyCues),
	}
}

var (
	reFactName = regexp.MustCompile(`(?i)\b(?:meu nome é|eu me chamo|pode me chamar de)\s+([A-Za-zÀ-ÿ][A-Za-zÀ-ÿ'\-\s]{1,60})`)
	reFactAge  = regexp.MustCompile(`(?i)\b(?:tenho|to com|estou com)\s+(\d{1,3})\s*(?:anos)?\b`)
	reFactRole = regexp.MustCompile(`(?i)\b(?:sou|trabalho como|atuo como)\s+([A-Za-zÀ-ÿ][A-Za-zÀ-ÿ'\-\s]{2,60})`)
	reFactGoal = regexp.MustCompile(`(?i)\b(?:meu objetivo é|quero|pretendo|estou tentando)\s+([^.\n]{5,120})`)
	reLikes    = regexp.MustCompile(`(?i)\b(?:gosto de|curto|adoro)\s+([^.\n]{3,80})`)
	reDislikes = regexp.MustCompile(`(?i)\b(?:não gosto de|odeio)\s+([^.\n]{3,80})`)
)

// ExtractPersonalFacts pulls low-risk facts out of chat text without any
// model call. Duplicate keys keep the highest-confidence hit; output order
// is stable (sorted by key) so callers can diff runs.
func ExtractPersonalFacts(text string) []PersonalFact {
	t := strings.TrimSpace(text)
	var facts []PersonalFact

	if m := reFactName.FindStringSubmatch(t); m != nil {
		facts = append(facts, PersonalFact{Key: "name", Value: strings.TrimSpace(m[1]), Confidence: 0.92})
	}
	if m := reFactAge.FindStringSubmatch(t); m != nil {
		if age, err := strconv.Atoi(m[1]); err == nil && age >= 5 && age <= 120 {
			facts = append(facts, PersonalFact{Key: "age", Value: strconv.Itoa(age), Confidence: 0.86})
		}
	}
	if m := reFactRole.FindStringSubmatch(t); m != nil {
		v := strings.TrimSpace(m[1])
		if len(v) <= 60 && len(strings.Fields(v)) <= 8 {
			facts = append(facts, PersonalFact{Key: "role", Value: v, Confidence: 0.74})
		}
	}
	if m := reFactGoal.FindStringSubmatch(t); m != nil {
		v := strings.TrimSpace(m[1])
		if len(v) <= 120 {
			facts = append(facts, PersonalFact{Key: "goal", Value: v, Confidence: 0.68})
		}
	}
	if m := reLikes.FindStringSubmatch(t); m != nil {
		v := strings.TrimSpace(m[1])
		if len(v) <= 80 {
			facts = append(facts, PersonalFact{Key: "likes", Value: v, Confidence: 0.65})
		}
	}
	if m := reDislikes.FindStringSubmatch(t); m != nil {
		v := strings.TrimSpace(m[1])
		if len(v) <= 80 {
			facts = append(facts, PersonalFact{Key: "dislikes", Value: v, Confidence: 0.65})
		}
	}

	best := make(map[string]PersonalFact, len(facts))
	for _, f := range facts {
		if cur, ok := best[f.Key]; !ok || f.Confidence > cur.Confidence {
			best[f.Key] = f
		}
	}
	out := make([]PersonalFact, 0, len(best))
	for _, f := range best {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// ExtractStory returns a story candidate when the text is long enough and
// reads like a narrative (two or more cues). Nil means no story.
func ExtractStory(text string, minChars int) *Story {
	t := strings.TrimSpace(text)
	if t == "" {
		return nil
	}
	if minChars <= 0 {
		minChars = 240
	}
	if len([]rune(t)) < minChars {
		return nil
	}
	lt := strings.ToLower(t)
	score := 0
	for _, c := range []string{"hoje", "ontem", "aconteceu", "eu fui", "eu estava", "senti", "quando", "daí"} {
		if strings.Contains(lt, c) {
			score++
		}
	}
	if score < 2 {
		return nil
	}
	return &Story{Content: t}
}

func containsAnyOf(t string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(t, n) {
			return true
		}
	}
	return false
}
