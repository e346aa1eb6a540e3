// Package consensus scores agreement across independent agent decisions
// for one stage and synthesizes them into a single result.
//
// Agreement is the mean pairwise similarity over every pair of parsed
// decisions, confidence-weighted when agents report confidence. The
// similarity function is pluggable per decision schema; the default
// compares normalized text with a token-overlap fallback.
package consensus

import (
	"fmt"
	"sort"
	"strings"

	"github.com/quorumlabs/quorum/internal/logging"
)

// Classification thresholds on the agreement score.
const (
	// UnanimousThreshold is the exclusive lower bound for Unanimous.
	UnanimousThreshold = 0.85
	// MajorityThreshold is the exclusive lower bound for Majority.
	MajorityThreshold = 0.60
)

// AgreementLevel classifies how strongly the agents agree.
type AgreementLevel int

const (
	// NoConsensus means the positions diverge too much to blend; the
	// result is meant for human review, not automatic application.
	NoConsensus AgreementLevel = iota
	// Majority means most agents align and a minority dissents.
	Majority
	// Unanimous means effectively all agents agree.
	Unanimous
)

// String returns a human-readable name for the level.
func (l AgreementLevel) String() string {
	switch l {
	case Unanimous:
		return "unanimous"
	case Majority:
		return "majority"
	case NoConsensus:
		return "no-consensus"
	default:
		return "unknown"
	}
}

// Result is the synthesized outcome of one stage's agent decisions.
type Result struct {
	// Level classifies the agreement.
	Level AgreementLevel

	// Score is the (possibly confidence-weighted) mean pairwise
	// similarity in [0, 1].
	Score float64

	// Content is the synthesized decision. Empty only on total failure.
	Content string

	// Contributing lists the agents whose decisions were blended into
	// Content.
	Contributing []string

	// Degraded is true when fewer decisions arrived than the roster
	// expected, including the zero-decision total-failure case.
	Degraded bool

	// Notes records dissenting positions for a Majority result.
	Notes []string

	// Positions holds every parsed decision, for NoConsensus escalation
	// and evidence recording.
	Positions []Decision
}

// TotalFailure reports whether no agent produced a usable decision.
func (r Result) TotalFailure() bool {
	return len(r.Positions) == 0
}

// Similarity scores how close two decision texts are, in [0, 1].
type Similarity func(a, b string) float64

// Synthesizer computes consensus over agent decisions.
type Synthesizer struct {
	sim    Similarity
	logger *logging.Logger
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithSimilarity replaces the default comparator. Stages whose decision
// schema has domain structure should install a schema-aware one.
func WithSimilarity(sim Similarity) Option {
	return func(s *Synthesizer) {
		if sim != nil {
			s.sim = sim
		}
	}
}

// New creates a Synthesizer. A nil logger disables logging.
func New(logger *logging.Logger, opts ...Option) *Synthesizer {
	if logger == nil {
		logger = logging.NopLogger()
	}
	s := &Synthesizer{sim: TextSimilarity, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize blends the decisions of one stage into a single Result.
// expected is the roster size; fewer decisions than expected marks the
// result degraded. Zero decisions yields a degraded, contentless result
// the caller must treat as total stage failure. One decision cannot be
// cross-validated and yields NoConsensus, degraded, carrying that single
// position.
func (s *Synthesizer) Synthesize(expected int, decisions []Decision) Result {
	degraded := len(decisions) < expected

	switch len(decisions) {
	case 0:
		s.logger.Warn("no decisions to synthesize", "expected", expected)
		return Result{Level: NoConsensus, Degraded: true}
	case 1:
		d := decisions[0]
		s.logger.Warn("single decision, cannot cross-validate",
			"agent", d.Agent, "expected", expected)
		return Result{
			Level:        NoConsensus,
			Content:      d.Content,
			Contributing: []string{d.Agent},
			Degraded:     true,
			Positions:    decisions,
		}
	}

	score := s.agreementScore(decisions)
	level := classify(score)
	clusters := s.cluster(decisions)
	majority := largestCluster(clusters, decisions)

	result := Result{
		Level:     level,
		Score:     score,
		Degraded:  degraded,
		Positions: decisions,
	}

	switch level {
	case Unanimous:
		result.Content = blend(decisions)
		result.Contributing = agentNames(decisions)
	case Majority:
		minority := complement(decisions, majority)
		result.Content = blend(majority)
		result.Contributing = agentNames(majority)
		for _, d := range minority {
			result.Notes = append(result.Notes,
				fmt.Sprintf("%s dissented: %s", d.Agent, d.Content))
		}
	case NoConsensus:
		result.Content = competingPositions(decisions)
		result.Contributing = agentNames(decisions)
	}

	s.logger.Info("consensus synthesized",
		"level", level.String(),
		"score", fmt.Sprintf("%.3f", score),
		"decisions", len(decisions),
		"expected", expected,
		"degraded", degraded,
	)
	return result
}

// agreementScore is the weighted mean similarity over all decision pairs.
// Pair weight is the product of the two agents' weights; agents that
// report no confidence weigh 1, so a fully unweighted roster reduces to
// the plain mean.
func (s *Synthesizer) agreementScore(decisions []Decision) float64 {
	var sum, weightSum float64
	for i := 0; i < len(decisions); i++ {
		for j := i + 1; j < len(decisions); j++ {
			w := weight(decisions[i]) * weight(decisions[j])
			sum += w * s.sim(decisions[i].Content, decisions[j].Content)
			weightSum += w
		}
	}
	if weightSum == 0 {
		return 0
	}
	return sum / weightSum
}

func weight(d Decision) float64 {
	if d.Confidence > 0 {
		return d.Confidence
	}
	return 1
}

// classify maps a score onto an agreement level.
func classify(score float64) AgreementLevel {
	switch {
	case score > UnanimousThreshold:
		return Unanimous
	case score > MajorityThreshold:
		return Majority
	default:
		return NoConsensus
	}
}

// cluster greedily groups decisions whose similarity to a cluster's first
// member exceeds the unanimity threshold. Returned clusters hold indexes
// into decisions.
func (s *Synthesizer) cluster(decisions []Decision) [][]int {
	var clusters [][]int
	for i, d := range decisions {
		placed := false
		for ci, members := range clusters {
			rep := decisions[members[0]]
			if s.sim(d.Content, rep.Content) > UnanimousThreshold {
				clusters[ci] = append(members, i)
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, []int{i})
		}
	}
	return clusters
}

// largestCluster picks the alignment bloc: biggest cluster, ties broken
// by total confidence, then by earliest member.
func largestCluster(clusters [][]int, decisions []Decision) []Decision {
	best := 0
	for ci := 1; ci < len(clusters); ci++ {
		a, b := clusters[ci], clusters[best]
		switch {
		case len(a) > len(b):
			best = ci
		case len(a) == len(b) && totalWeight(a, decisions) > totalWeight(b, decisions):
			best = ci
		}
	}
	members := make([]Decision, 0, len(clusters[best]))
	for _, i := range clusters[best] {
		members = append(members, decisions[i])
	}
	return members
}

func totalWeight(indexes []int, decisions []Decision) float64 {
	var total float64
	for _, i := range indexes {
		total += weight(decisions[i])
	}
	return total
}

// blend picks the representative content for an aligned set: the decision
// with the highest reported confidence, earliest agent on ties.
func blend(decisions []Decision) string {
	best := decisions[0]
	for _, d := range decisions[1:] {
		if weight(d) > weight(best) {
			best = d
		}
	}
	return best.Content
}

// complement returns the decisions not in the given subset.
func complement(all, subset []Decision) []Decision {
	in := make(map[string]bool, len(subset))
	for _, d := range subset {
		in[d.Agent] = true
	}
	var out []Decision
	for _, d := range all {
		if !in[d.Agent] {
			out = append(out, d)
		}
	}
	return out
}

// competingPositions renders every position for human review.
func competingPositions(decisions []Decision) string {
	var b strings.Builder
	for i, d := range decisions {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%s] %s", d.Agent, d.Content)
	}
	return b.String()
}

func agentNames(decisions []Decision) []string {
	names := make([]string, len(decisions))
	for i, d := range decisions {
		names[i] = d.Agent
	}
	return names
}

// TextSimilarity is the default comparator: 1.0 for texts equal after
// normalization, otherwise the Jaccard overlap of their token sets.
func TextSimilarity(a, b string) float64 {
	na, nb := normalize(a), normalize(b)
	if na == nb {
		if na == "" {
			return 0
		}
		return 1
	}

	ta, tb := tokens(na), tokens(nb)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for tok := range ta {
		if tb[tok] {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

func normalize(s string) string {
	fields := strings.Fields(strings.ToLower(s))
	for i, f := range fields {
		fields[i] = strings.Trim(f, ".,;:!?\"'()[]{}")
	}
	out := fields[:0]
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return strings.Join(out, " ")
}

func tokens(normalized string) map[string]bool {
	set := make(map[string]bool)
	for _, f := range strings.Fields(normalized) {
		set[f] = true
	}
	return set
}

// SortedContributing returns the contributing agent names in stable order
// for display and evidence records.
func (r Result) SortedContributing() []string {
	names := append([]string(nil), r.Contributing...)
	sort.Strings(names)
	return names
}
