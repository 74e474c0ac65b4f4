// Package ltm is the long-term tier: durable per-user memories with
// confidence scores, preference history and the attempt consolidation
// sweep that distills exercise attempts into skill and pattern rows.
package ltm

import (
	"regexp"
	"strings"
)

// Skill labels derived from bucket accuracy.
const (
	LabelStrong = "forte"
	LabelMedium = "medio"
	LabelWeak   = "fraco"
)

// SkillLabel maps bucket accuracy to its label.
func SkillLabel(accuracy float64) string {
	switch {
	case accuracy >= 0.85:
		return LabelStrong
	case accuracy >= 0.65:
		return LabelMedium
	default:
		return LabelWeak
	}
}

// BaseConfidenceFromSample anchors skill confidence on sample size. Bigger
// samples earn more trust; anything under 5 attempts stays speculative.
func BaseConfidenceFromSample(sample int) float64 {
	switch {
	case sample >= 20:
		return 0.9
	case sample >= 10:
		return 0.8
	case sample >= 5:
		return 0.7
	default:
		return 0.6
	}
}

// BlendSkillConfidence folds a fresh sample-based confidence into the
// previous one. New evidence moves the score slowly (30% weight) and the
// result always stays inside [0.55, 0.95] so a skill row is never treated
// as certain or worthless.
func BlendSkillConfidence(old, base float64, hasOld bool) float64 {
	conf := base
	if hasOld {
		conf = 0.7*old + 0.3*base
	}
	if conf < 0.55 {
		return 0.55
	}
	if conf > 0.95 {
		return 0.95
	}
	return conf
}

var bucketStrip = regexp.MustCompile(`[^a-z0-9_\-áàâãéêíóôõúç ]`)
var bucketSpaces = regexp.MustCompile(`\s+`)

// BucketSlug picks the consolidation bucket for one attempt row. Preference
// order is topic, then exercise type, then answer type, with "geral" as the
// catch-all. The result is key-safe and capped at 60 runes.
func BucketSlug(topic, exerciseType, answerType string) string {
	raw := strings.TrimSpace(topic)
	if raw == "" {
		raw = strings.TrimSpace(exerciseType)
	}
	if raw == "" {
		raw = strings.TrimSpace(answerType)
	}
	if raw == "" {
		return "geral"
	}
	s := strings.ToLower(raw)
	s = bucketStrip.ReplaceAllString(s, "")
	s = bucketSpaces.ReplaceAllString(s, "_")
	if r := []rune(s); len(r) > 60 {
		s = string(r[:60])
	}
	if s == "" {
		return "geral"
	}
	return s
}
