package config

import (
	"os"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func findError(errs []ValidationError, field string) *ValidationError {
	for i := range errs {
		if errs[i].Field == field {
			return &errs[i]
		}
	}
	return nil
}

func TestValidateAgents(t *testing.T) {
	tests := []struct {
		name      string
		agent     AgentConfig
		wantField string
	}{
		{
			name:      "unknown provider",
			agent:     AgentConfig{Provider: "skynet", Mode: "read-only", TimeoutSeconds: 300},
			wantField: "agents.bad.provider",
		},
		{
			name:      "invalid mode",
			agent:     AgentConfig{Provider: "claude", Mode: "rampage", TimeoutSeconds: 300},
			wantField: "agents.bad.mode",
		},
		{
			name:      "zero timeout",
			agent:     AgentConfig{Provider: "claude", Mode: "read-only", TimeoutSeconds: 0},
			wantField: "agents.bad.timeout_seconds",
		},
		{
			name:      "negative timeout",
			agent:     AgentConfig{Provider: "claude", Mode: "read-only", TimeoutSeconds: -5},
			wantField: "agents.bad.timeout_seconds",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Agents["bad"] = tt.agent

			errs := cfg.Validate()
			if findError(errs, tt.wantField) == nil {
				t.Errorf("Validate() = %v, want error on %s", errs, tt.wantField)
			}
		})
	}
}

func TestValidateStages(t *testing.T) {
	tests := []struct {
		name      string
		stage     StageConfig
		wantField string
	}{
		{
			name:      "empty roster",
			stage:     StageConfig{Agents: nil, Threshold: 0.6},
			wantField: "stages.bad.agents",
		},
		{
			name:      "unknown agent",
			stage:     StageConfig{Agents: []string{"claude", "ghost"}, Threshold: 0.6},
			wantField: "stages.bad.agents",
		},
		{
			name:      "duplicate agent",
			stage:     StageConfig{Agents: []string{"claude", "claude"}, Threshold: 0.6},
			wantField: "stages.bad.agents",
		},
		{
			name:      "threshold above one",
			stage:     StageConfig{Agents: []string{"claude"}, Threshold: 1.5},
			wantField: "stages.bad.threshold",
		},
		{
			name:      "negative threshold",
			stage:     StageConfig{Agents: []string{"claude"}, Threshold: -0.1},
			wantField: "stages.bad.threshold",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Stages["bad"] = tt.stage

			errs := cfg.Validate()
			if findError(errs, tt.wantField) == nil {
				t.Errorf("Validate() = %v, want error on %s", errs, tt.wantField)
			}
		})
	}
}

func TestValidateRetry(t *testing.T) {
	tests := []struct {
		name      string
		retry     RetryConfig
		wantField string
	}{
		{
			name:      "zero attempts",
			retry:     RetryConfig{MaxAttempts: 0, BaseDelayMs: 100, MaxDelayMs: 400},
			wantField: "retry.max_attempts",
		},
		{
			name:      "negative base delay",
			retry:     RetryConfig{MaxAttempts: 4, BaseDelayMs: -1, MaxDelayMs: 400},
			wantField: "retry.base_delay_ms",
		},
		{
			name:      "cap below base",
			retry:     RetryConfig{MaxAttempts: 4, BaseDelayMs: 1000, MaxDelayMs: 100},
			wantField: "retry.max_delay_ms",
		},
		{
			name:      "jitter of one",
			retry:     RetryConfig{MaxAttempts: 4, BaseDelayMs: 100, MaxDelayMs: 400, JitterFraction: 1.0},
			wantField: "retry.jitter_fraction",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Retry = tt.retry

			errs := cfg.Validate()
			if findError(errs, tt.wantField) == nil {
				t.Errorf("Validate() = %v, want error on %s", errs, tt.wantField)
			}
		})
	}
}

func TestValidateScheduler(t *testing.T) {
	cfg := Default()
	cfg.Scheduler.MaxWorkers = 0

	errs := cfg.Validate()
	if findError(errs, "scheduler.max_workers") == nil {
		t.Errorf("Validate() = %v, want error on scheduler.max_workers", errs)
	}
}

func TestValidateLogging(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "shouting"

	errs := cfg.Validate()
	err := findError(errs, "logging.level")
	if err == nil {
		t.Fatalf("Validate() = %v, want error on logging.level", errs)
	}
	if !strings.Contains(err.Message, "debug") {
		t.Errorf("error message %q should list valid levels", err.Message)
	}
}

func TestValidationErrorsFormatting(t *testing.T) {
	errs := ValidationErrors{
		{Field: "retry.max_attempts", Value: 0, Message: "must be at least 1"},
		{Field: "scheduler.max_workers", Value: -1, Message: "must be at least 1"},
	}

	msg := errs.Error()
	if !strings.Contains(msg, "2 validation errors") {
		t.Errorf("Error() = %q, want count prefix", msg)
	}
	if !strings.Contains(msg, "retry.max_attempts") || !strings.Contains(msg, "scheduler.max_workers") {
		t.Errorf("Error() = %q, want both fields listed", msg)
	}

	single := ValidationErrors{errs[0]}
	if strings.Contains(single.Error(), "validation errors") {
		t.Errorf("single error should not carry a count prefix: %q", single.Error())
	}
}

func TestValidateAccumulatesAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Retry.MaxAttempts = 0
	cfg.Scheduler.MaxWorkers = 0
	cfg.Logging.Level = "nope"

	errs := cfg.Validate()
	if len(errs) < 3 {
		t.Errorf("Validate() found %d errors, want all three reported", len(errs))
	}
}
