// Package extract turns free chat text and structured attempt signals into
// candidate long-term memories. Everything here is pure and deterministic:
// fixed regular expressions, fixed per-pattern confidences, no I/O. The
// rules are pluggable so another language or domain can swap them without
// touching storage or consent logic.
package extract

import (
	"regexp"
	"strconv"
	"strings"
)

// Evidence names the signal a candidate came from.
type Evidence struct {
	SourceType string // chat | attempt | summary | manual
	SourceID   string
	Note       string
}

// Candidate is a memory proposal ready for the long-term store.
type Candidate struct {
	MemType    string
	MemKey     string
	Value      map[string]string
	Confidence float64
	Evidence   Evidence
}

// Ruleset extracts candidates from free text. Implementations must be
// deterministic: identical input text yields identical output.
type Ruleset interface {
	Extract(text string, ev Evidence) []Candidate
}

// AttemptSignal is the structured signal emitted after an exercise attempt.
type AttemptSignal struct {
	Topic     string
	Subtopic  string
	IsCorrect bool
	Pattern   string
	Severity  float64 // 0..1
}

// GapFromAttempt emits a knowledge-gap candidate for an incorrect attempt.
// Correct attempts produce nothing; gaps only ever come from failures.
func GapFromAttempt(sig AttemptSignal, ev Evidence) []Candidate {
	if sig.Topic == "" || sig.IsCorrect {
		return nil
	}
	topic := Slug(sig.Topic)
	sub := Slug(sig.Subtopic)
	if sub == "" {
		sub = "geral"
	}
	severity := clamp01(sig.Severity)
	if sig.Severity == 0 {
		severity = 0.6
	}

	value := map[string]string{
		"topic":    topic,
		"subtopic": sub,
		"severity": formatFloat(severity),
	}
	if p := strings.TrimSpace(sig.Pattern); p != "" {
		value["pattern"] = p
	}

	conf := 0.70 + severity*0.25
	if conf > 0.95 {
		conf = 0.95
	}
	return []Candidate{{
		MemType:    "knowledge_gaps",
		MemKey:     "gaps." + topic + "." + sub,
		Value:      value,
		Confidence: clamp01(conf),
		Evidence:   ev,
	}}
}

var slugStrip = regexp.MustCompile(`[^a-z0-9_áàâãéêíóôõúç]+`)
var slugSpaces = regexp.MustCompile(`[\s/]+`)

// Slug normalizes a topic into a key-safe bucket name.
func Slug(s string) string {
	x := strings.ToLower(strings.TrimSpace(s))
	x = slugSpaces.ReplaceAllString(x, "_")
	x = slugStrip.ReplaceAllString(x, "")
	if len(x) > 60 {
		x = x[:60]
	}
	return x
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func formatFloat(f float64) string {
	// fixed 2-decimal rendering keeps candidate payloads byte-stable
	s := strconv.FormatFloat(f, 'f', 2, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
