package consensus

import (
	"encoding/json"
	"strings"
)

// Decision is one agent's parsed position for a stage.
type Decision struct {
	// Agent names the agent that produced this decision.
	Agent string

	// Content is the decision text used for cross-agent comparison.
	Content string

	// Confidence is the agent's self-assessed confidence in (0, 1].
	// Zero means the agent did not report one; such agents participate
	// with uniform weight.
	Confidence float64
}

// structuredDecision is the JSON shape agents are prompted to emit.
type structuredDecision struct {
	Decision   string  `json:"decision"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// ParseDecision extracts a Decision from an agent's raw stdout. Output that
// parses as the structured JSON shape yields its decision field and
// confidence; anything else is taken verbatim as an unweighted free-text
// decision. It returns false when the output contains nothing usable.
func ParseDecision(agent, stdout string) (Decision, bool) {
	text := strings.TrimSpace(stdout)
	if text == "" {
		return Decision{}, false
	}

	// Agents often wrap JSON in a fenced block; unwrap before decoding.
	if stripped, ok := stripFence(text); ok {
		text = stripped
	}

	if strings.HasPrefix(text, "{") {
		var sd structuredDecision
		if err := json.Unmarshal([]byte(text), &sd); err == nil && strings.TrimSpace(sd.Decision) != "" {
			conf := sd.Confidence
			if conf < 0 || conf > 1 {
				conf = 0
			}
			return Decision{Agent: agent, Content: strings.TrimSpace(sd.Decision), Confidence: conf}, true
		}
	}

	return Decision{Agent: agent, Content: text}, true
}

// stripFence removes a surrounding ```json ... ``` block if present.
func stripFence(text string) (string, bool) {
	if !strings.HasPrefix(text, "```") {
		return "", false
	}
	rest := strings.TrimPrefix(text, "```")
	if i := strings.IndexByte(rest, '\n'); i >= 0 {
		rest = rest[i+1:]
	}
	rest, ok := strings.CutSuffix(strings.TrimSpace(rest), "```")
	if !ok {
		return "", false
	}
	return strings.TrimSpace(rest), true
}
