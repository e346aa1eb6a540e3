package consensus

import (
	"math"
	"strings"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestTextSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "approve the plan", "approve the plan", 1.0},
		{"case and punctuation ignored", "Approve the plan.", "approve THE plan", 1.0},
		{"disjoint", "alpha beta", "gamma delta", 0.0},
		{"partial overlap", "yes ship the fix", "yes ship the revert", 0.6},
		{"both empty", "", "", 0.0},
		{"one empty", "something", "", 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TextSimilarity(tt.a, tt.b); !almostEqual(got, tt.want) {
				t.Errorf("TextSimilarity(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		score float64
		want  AgreementLevel
	}{
		{1.0, Unanimous},
		{0.851, Unanimous},
		{0.85, Majority}, // boundary is exclusive
		{0.7, Majority},
		{0.601, Majority},
		{0.60, NoConsensus}, // boundary is exclusive
		{0.3, NoConsensus},
		{0.0, NoConsensus},
	}

	for _, tt := range tests {
		if got := classify(tt.score); got != tt.want {
			t.Errorf("classify(%v) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

func TestSynthesize_Unanimous(t *testing.T) {
	decisions := []Decision{
		{Agent: "claude", Content: "approve the migration plan"},
		{Agent: "gemini", Content: "approve the migration plan"},
		{Agent: "codex", Content: "approve the migration plan"},
	}

	result := New(nil).Synthesize(3, decisions)

	if result.Level != Unanimous {
		t.Errorf("Level = %v, want Unanimous", result.Level)
	}
	if result.Score <= UnanimousThreshold {
		t.Errorf("Score = %v, want > %v", result.Score, UnanimousThreshold)
	}
	if result.Content != "approve the migration plan" {
		t.Errorf("Content = %q", result.Content)
	}
	if len(result.Contributing) != 3 {
		t.Errorf("Contributing = %v, want all three", result.Contributing)
	}
	if result.Degraded {
		t.Error("Degraded = true with a full roster")
	}
	if len(result.Notes) != 0 {
		t.Errorf("Notes = %v, want none", result.Notes)
	}
}

func TestSynthesize_MajorityWithDissent(t *testing.T) {
	decisions := []Decision{
		{Agent: "claude", Content: "yes ship the fix"},
		{Agent: "gemini", Content: "yes ship the fix"},
		{Agent: "codex", Content: "yes ship the revert"},
	}

	result := New(nil).Synthesize(3, decisions)

	// Pairwise: 1.0, 0.6, 0.6 -> mean 0.7333.
	if result.Level != Majority {
		t.Fatalf("Level = %v (score %v), want Majority", result.Level, result.Score)
	}
	if result.Score <= MajorityThreshold || result.Score > UnanimousThreshold {
		t.Errorf("Score = %v, want in (%v, %v]", result.Score, MajorityThreshold, UnanimousThreshold)
	}
	if result.Content != "yes ship the fix" {
		t.Errorf("Content = %q, want the majority position", result.Content)
	}
	if len(result.Contributing) != 2 {
		t.Errorf("Contributing = %v, want the two aligned agents", result.Contributing)
	}
	if len(result.Notes) != 1 || !strings.Contains(result.Notes[0], "codex") ||
		!strings.Contains(result.Notes[0], "yes ship the revert") {
		t.Errorf("Notes = %v, want codex's dissenting position recorded", result.Notes)
	}
}

func TestSynthesize_NoConsensus(t *testing.T) {
	decisions := []Decision{
		{Agent: "claude", Content: "migrate to postgres"},
		{Agent: "gemini", Content: "keep sqlite forever"},
		{Agent: "codex", Content: "rewrite everything in lisp"},
	}

	result := New(nil).Synthesize(3, decisions)

	if result.Level != NoConsensus {
		t.Fatalf("Level = %v (score %v), want NoConsensus", result.Level, result.Score)
	}
	if result.Score > MajorityThreshold {
		t.Errorf("Score = %v, want <= %v", result.Score, MajorityThreshold)
	}
	for _, d := range decisions {
		if !strings.Contains(result.Content, d.Agent) || !strings.Contains(result.Content, d.Content) {
			t.Errorf("Content missing %s's position: %q", d.Agent, result.Content)
		}
	}
}

func TestSynthesize_DegradedOverSurvivors(t *testing.T) {
	// Roster of 3, one agent failed terminally: score over the two
	// survivors only.
	decisions := []Decision{
		{Agent: "claude", Content: "yes", Confidence: 0.9},
		{Agent: "gemini", Content: "yes", Confidence: 0.9},
	}

	result := New(nil).Synthesize(3, decisions)

	if result.Level != Unanimous {
		t.Errorf("Level = %v, want Unanimous over the survivors", result.Level)
	}
	if !almostEqual(result.Score, 1.0) {
		t.Errorf("Score = %v, want 1.0", result.Score)
	}
	if !result.Degraded {
		t.Error("Degraded = false with a missing roster member")
	}
	if result.Content != "yes" {
		t.Errorf("Content = %q, want %q", result.Content, "yes")
	}
	want := []string{"claude", "gemini"}
	got := result.SortedContributing()
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Contributing = %v, want %v", got, want)
	}
}

func TestSynthesize_SingleDecision(t *testing.T) {
	decisions := []Decision{{Agent: "claude", Content: "lonely answer"}}

	result := New(nil).Synthesize(3, decisions)

	if result.Level != NoConsensus {
		t.Errorf("Level = %v, want NoConsensus for an uncross-validated source", result.Level)
	}
	if !result.Degraded {
		t.Error("Degraded = false")
	}
	if result.Content != "lonely answer" {
		t.Errorf("Content = %q", result.Content)
	}
	if result.TotalFailure() {
		t.Error("TotalFailure() = true with one position present")
	}
}

func TestSynthesize_TotalFailure(t *testing.T) {
	result := New(nil).Synthesize(3, nil)

	if !result.Degraded {
		t.Error("Degraded = false")
	}
	if result.Content != "" {
		t.Errorf("Content = %q, want empty", result.Content)
	}
	if !result.TotalFailure() {
		t.Error("TotalFailure() = false with zero positions")
	}
}

func TestSynthesize_ConfidenceWeighting(t *testing.T) {
	// Two confident, agreeing agents against one hesitant outlier. The
	// confident pair dominates the weighted mean.
	decisions := []Decision{
		{Agent: "claude", Content: "alpha beta gamma delta", Confidence: 0.9},
		{Agent: "gemini", Content: "alpha beta gamma delta", Confidence: 0.9},
		{Agent: "codex", Content: "completely unrelated words here", Confidence: 0.1},
	}

	weighted := New(nil).Synthesize(3, decisions)

	// Pair weights: 0.81 at sim 1.0, and two 0.09 pairs at sim 0.
	if want := 0.81 / 0.99; !almostEqual(weighted.Score, want) {
		t.Errorf("weighted Score = %v, want %v", weighted.Score, want)
	}
	if weighted.Level != Majority {
		t.Errorf("Level = %v, want Majority", weighted.Level)
	}

	// The same texts unweighted land at 1/3: no consensus at all.
	uniform := make([]Decision, len(decisions))
	copy(uniform, decisions)
	for i := range uniform {
		uniform[i].Confidence = 0
	}
	unweighted := New(nil).Synthesize(3, uniform)
	if unweighted.Level != NoConsensus {
		t.Errorf("unweighted Level = %v, want NoConsensus", unweighted.Level)
	}
}

func TestSynthesize_CustomSimilarity(t *testing.T) {
	// A schema-aware comparator that only inspects the leading verdict
	// token.
	verdict := func(a, b string) float64 {
		fa, fb := strings.Fields(a), strings.Fields(b)
		if len(fa) > 0 && len(fb) > 0 && fa[0] == fb[0] {
			return 1
		}
		return 0
	}

	decisions := []Decision{
		{Agent: "claude", Content: "approve because of tests"},
		{Agent: "gemini", Content: "approve since coverage is fine"},
		{Agent: "codex", Content: "approve though docs lag"},
	}

	result := New(nil, WithSimilarity(verdict)).Synthesize(3, decisions)

	if result.Level != Unanimous {
		t.Errorf("Level = %v, want Unanimous under the verdict comparator", result.Level)
	}
}

func TestBlend_PrefersHighestConfidence(t *testing.T) {
	decisions := []Decision{
		{Agent: "a", Content: "terse", Confidence: 0.5},
		{Agent: "b", Content: "thorough", Confidence: 0.95},
		{Agent: "c", Content: "mid", Confidence: 0.7},
	}
	if got := blend(decisions); got != "thorough" {
		t.Errorf("blend = %q, want the most confident content", got)
	}
}
