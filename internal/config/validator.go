package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/quorumlabs/quorum/internal/agent"
	"github.com/quorumlabs/quorum/internal/logging"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "retry.max_attempts")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels as config file
// values, lowercased.
func ValidLogLevels() []string {
	levels := logging.ValidLevels()
	out := make([]string, len(levels))
	for i, l := range levels {
		out[i] = strings.ToLower(l)
	}
	return out
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateAgents()...)
	errors = append(errors, c.validateStages()...)
	errors = append(errors, c.validateRetry()...)
	errors = append(errors, c.validateScheduler()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateAgents validates every AgentConfig
func (c *Config) validateAgents() []ValidationError {
	var errors []ValidationError

	for name, a := range c.Agents {
		field := "agents." + name

		if _, err := agent.New(a.Provider); err != nil {
			errors = append(errors, ValidationError{
				Field:   field + ".provider",
				Value:   a.Provider,
				Message: "must be one of: " + strings.Join(agent.Names(), ", "),
			})
		}

		if a.Mode != "" && !IsValidAgentMode(a.Mode) {
			errors = append(errors, ValidationError{
				Field:   field + ".mode",
				Value:   a.Mode,
				Message: "must be one of: " + strings.Join(ValidAgentModes(), ", "),
			})
		}

		if a.TimeoutSeconds <= 0 {
			errors = append(errors, ValidationError{
				Field:   field + ".timeout_seconds",
				Value:   a.TimeoutSeconds,
				Message: "must be positive",
			})
		}
	}

	return errors
}

// validateStages validates every StageConfig against the agent set
func (c *Config) validateStages() []ValidationError {
	var errors []ValidationError

	for name, s := range c.Stages {
		field := "stages." + name

		if len(s.Agents) == 0 {
			errors = append(errors, ValidationError{
				Field:   field + ".agents",
				Value:   s.Agents,
				Message: "roster must name at least one agent",
			})
		}

		for _, agentName := range s.Agents {
			if _, ok := c.Agents[agentName]; !ok {
				errors = append(errors, ValidationError{
					Field:   field + ".agents",
					Value:   agentName,
					Message: "references an agent that is not configured",
				})
			}
		}

		seen := make(map[string]bool, len(s.Agents))
		for _, agentName := range s.Agents {
			if seen[agentName] {
				errors = append(errors, ValidationError{
					Field:   field + ".agents",
					Value:   agentName,
					Message: "roster lists the same agent twice",
				})
			}
			seen[agentName] = true
		}

		if s.Threshold < 0 || s.Threshold > 1 {
			errors = append(errors, ValidationError{
				Field:   field + ".threshold",
				Value:   s.Threshold,
				Message: "must be between 0 and 1",
			})
		}
	}

	return errors
}

// validateRetry validates the RetryConfig
func (c *Config) validateRetry() []ValidationError {
	var errors []ValidationError

	if c.Retry.MaxAttempts < 1 {
		errors = append(errors, ValidationError{
			Field:   "retry.max_attempts",
			Value:   c.Retry.MaxAttempts,
			Message: "must be at least 1",
		})
	}

	if c.Retry.BaseDelayMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "retry.base_delay_ms",
			Value:   c.Retry.BaseDelayMs,
			Message: "must not be negative",
		})
	}

	if c.Retry.MaxDelayMs < c.Retry.BaseDelayMs {
		errors = append(errors, ValidationError{
			Field:   "retry.max_delay_ms",
			Value:   c.Retry.MaxDelayMs,
			Message: "must not be smaller than base_delay_ms",
		})
	}

	if c.Retry.JitterFraction < 0 || c.Retry.JitterFraction >= 1 {
		errors = append(errors, ValidationError{
			Field:   "retry.jitter_fraction",
			Value:   c.Retry.JitterFraction,
			Message: "must be in [0, 1)",
		})
	}

	return errors
}

// validateScheduler validates the SchedulerConfig
func (c *Config) validateScheduler() []ValidationError {
	var errors []ValidationError

	if c.Scheduler.MaxWorkers < 1 {
		errors = append(errors, ValidationError{
			Field:   "scheduler.max_workers",
			Value:   c.Scheduler.MaxWorkers,
			Message: "must be at least 1",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: "must be one of: " + strings.Join(ValidLogLevels(), ", "),
		})
	}

	if c.Logging.MaxSizeMB < 1 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be at least 1",
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must not be negative",
		})
	}

	return errors
}
