package extract

import (
	"regexp"
	"strings"
)

// PortugueseRules is the default chat-text ruleset. Patterns and the
// confidence attached to each one are fixed; swapping the ruleset is how
// another locale plugs in.
type PortugueseRules struct{}

var _ Ruleset = PortugueseRules{}

var (
	reName    = regexp.MustCompile(`\bmeu nome (?:é|eh)\s+([a-zà-ú][a-zà-ú'\- ]{1,40})\b`)
	reNameAlt = regexp.MustCompile(`\beu me chamo\s+([a-zà-ú][a-zà-ú'\- ]{1,40})\b`)
	reRole    = regexp.MustCompile(`\bsou\s+(?:um|uma)?\s*(estudante|aluno|professor|professora|dev|desenvolvedor|desenvolvedora)\b`)

	reStepByStep = regexp.MustCompile(`\bpasso a passo\b`)
	reShort      = regexp.MustCompile(`\b(?:resposta|responde)\s+(?:curta|curtinho)\b|\bsem firula\b|\bobjetiv[oa]\b`)
	reTone       = regexp.MustCompile(`\bmais humano\b|\bcomo whatsapp\b|\bconversa natural\b`)

	reGoalCalc   = regexp.MustCompile(`\b(?:quero|meta|objetivo)\b[\s\S]{0,40}\bc[aá]lculo\s*1\b`)
	reGoalCustom = regexp.MustCompile(`\bmeta (?:é|eh)\s+(.{3,80})$`)
)

// Extract runs the profile, preference and goal patterns over one message.
func (PortugueseRules) Extract(text string, ev Evidence) []Candidate {
	t := normText(text)
	var out []Candidate
	out = append(out, extractProfile(t, ev)...)
	out = append(out, extractPrefs(t, ev)...)
	out = append(out, extractGoals(t, ev)...)
	return out
}

func extractProfile(t string, ev Evidence) []Candidate {
	var out []Candidate

	m := reName.FindStringSubmatch(t)
	if m == nil {
		m = reNameAlt.FindStringSubmatch(t)
	}
	if m != nil {
		words := strings.Fields(strings.TrimSpace(m[1]))
		if len(words) > 4 {
			words = words[:4]
		}
		out = append(out, Candidate{
			MemType:    "profile",
			MemKey:     "profile.name",
			Value:      map[string]string{"name": strings.Join(words, " ")},
			Confidence: 0.92,
			Evidence:   ev,
		})
	}

	if m := reRole.FindStringSubmatch(t); m != nil {
		out = append(out, Candidate{
			MemType:    "profile",
			MemKey:     "profile.role",
			Value:      map[string]string{"role": strings.ToLower(m[1])},
			Confidence: 0.80,
			Evidence:   ev,
		})
	}
	return out
}

func extractPrefs(t string, ev Evidence) []Candidate {
	var out []Candidate
	if reStepByStep.MatchString(t) {
		out = append(out, Candidate{
			MemType:    "prefs",
			MemKey:     "prefs.step_by_step_default",
			Value:      map[string]string{"step_by_step_default": "true"},
			Confidence: 0.85,
			Evidence:   ev,
		})
	}
	if reShort.MatchString(t) {
		out = append(out, Candidate{
			MemType:    "prefs",
			MemKey:     "prefs.response_length",
			Value:      map[string]string{"response_length": "short_when_possible"},
			Confidence: 0.82,
			Evidence:   ev,
		})
	}
	if reTone.MatchString(t) {
		out = append(out, Candidate{
			MemType:    "prefs",
			MemKey:     "prefs.tone",
			Value:      map[string]string{"tone": "human_friendly"},
			Confidence: 0.78,
			Evidence:   ev,
		})
	}
	return out
}

func extractGoals(t string, ev Evidence) []Candidate {
	var out []Candidate
	if reGoalCalc.MatchString(t) {
		out = append(out, Candidate{
			MemType:    "goals",
			MemKey:     "goals.primary",
			Value:      map[string]string{"goal": "dominar_calculo_1"},
			Confidence: 0.85,
			Evidence:   ev,
		})
	}
	if m := reGoalCustom.FindStringSubmatch(t); m != nil {
		goal := strings.TrimSpace(m[1])
		if len(goal) <= 80 {
			out = append(out, Candidate{
				MemType:    "goals",
				MemKey:     "goals.custom",
				Value:      map[string]string{"goal": goal},
				Confidence: 0.75,
				Evidence:   ev,
			})
		}
	}
	return out
}

var spaceRun = regexp.MustCompile(`\s+`)

func normText(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(strings.ToLower(s), " "))
}
