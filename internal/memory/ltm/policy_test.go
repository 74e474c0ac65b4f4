package ltm

import "testing"

func TestSkillLabel(t *testing.T) {
	cases := []struct {
		acc  float64
		want string
	}{
		{1.0, LabelStrong},
		{0.85, LabelStrong},
		{0.84, LabelMedium},
		{0.65, LabelMedium},
		{0.64, LabelWeak},
		{0, LabelWeak},
	}
	for _, tc := range cases {
		if got := SkillLabel(tc.acc); got != tc.want {
			t.Fatalf("SkillLabel(%v) = %q, want %q", tc.acc, got, tc.want)
		}
	}
}

func TestBaseConfidenceFromSample(t *testing.T) {
	cases := []struct {
		sample int
		want   float64
	}{
		{25, 0.9},
		{20, 0.9},
		{19, 0.8},
		{10, 0.8},
		{9, 0.7},
		{5, 0.7},
		{4, 0.6},
		{0, 0.6},
	}
	for _, tc := range cases {
		if got := BaseConfidenceFromSample(tc.sample); got != tc.want {
			t.Fatalf("BaseConfidenceFromSample(%d) = %v, want %v", tc.sample, got, tc.want)
		}
	}
}

func TestBlendSkillConfidence(t *testing.T) {
	// first observation takes the base as-is, clamped
	if got := BlendSkillConfidence(0, 0.6, false); got != 0.6 {
		t.Fatalf("no-old blend = %v", got)
	}
	// blend pulls the old value 30% toward the base
	got := BlendSkillConfidence(0.9, 0.6, true)
	want := 0.7*0.9 + 0.3*0.6
	if got != want {
		t.Fatalf("blend = %v, want %v", got, want)
	}
	// floor
	if got := BlendSkillConfidence(0.55, 0.3, true); got != 0.55 {
		t.Fatalf("floor not applied: %v", got)
	}
	// ceiling
	if got := BlendSkillConfidence(0.99, 0.99, true); got != 0.95 {
		t.Fatalf("ceiling not applied: %v", got)
	}
}

func TestBucketSlug(t *testing.T) {
	cases := []struct {
		topic, typ, answer, want string
	}{
		{"Trigonometria", "", "", "trigonometria"},
		{"", "multipla escolha", "", "multipla_escolha"},
		{"", "", "numeric", "numeric"},
		{"", "", "", "geral"},
		{"Funções Afins", "", "", "funções_afins"},
		{"a b  c", "", "", "a_b_c"},
	}
	for _, tc := range cases {
		if got := BucketSlug(tc.topic, tc.typ, tc.answer); got != tc.want {
			t.Fatalf("BucketSlug(%q,%q,%q) = %q, want %q", tc.topic, tc.typ, tc.answer, got, tc.want)
		}
	}
}

func TestBucketSlugCaps(t *testing.T) {
	long := ""
	for i := 0; i < 10; i++ {
		long += "abcdefghij"
	}
	if got := BucketSlug(long, "", ""); len([]rune(got)) != 60 {
		t.Fatalf("slug length = %d", len([]rune(got)))
	}
}
