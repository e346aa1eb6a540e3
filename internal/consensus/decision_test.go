package consensus

import "testing"

func TestParseDecision(t *testing.T) {
	tests := []struct {
		name     string
		stdout   string
		wantOK   bool
		wantText string
		wantConf float64
	}{
		{
			name:     "structured json",
			stdout:   `{"decision": "approve", "confidence": 0.92, "rationale": "tests pass"}`,
			wantOK:   true,
			wantText: "approve",
			wantConf: 0.92,
		},
		{
			name:     "fenced json",
			stdout:   "```json\n{\"decision\": \"reject\", \"confidence\": 0.7}\n```",
			wantOK:   true,
			wantText: "reject",
			wantConf: 0.7,
		},
		{
			name:     "free text",
			stdout:   "  I would approve this change.\n",
			wantOK:   true,
			wantText: "I would approve this change.",
			wantConf: 0,
		},
		{
			name:     "json without decision field falls back to text",
			stdout:   `{"verdict": "approve"}`,
			wantOK:   true,
			wantText: `{"verdict": "approve"}`,
			wantConf: 0,
		},
		{
			name:     "out of range confidence dropped",
			stdout:   `{"decision": "approve", "confidence": 7.5}`,
			wantOK:   true,
			wantText: "approve",
			wantConf: 0,
		},
		{
			name:   "blank output",
			stdout: "   \n\t",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := ParseDecision("claude", tt.stdout)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if d.Agent != "claude" {
				t.Errorf("Agent = %q", d.Agent)
			}
			if d.Content != tt.wantText {
				t.Errorf("Content = %q, want %q", d.Content, tt.wantText)
			}
			if d.Confidence != tt.wantConf {
				t.Errorf("Confidence = %v, want %v", d.Confidence, tt.wantConf)
			}
		})
	}
}
