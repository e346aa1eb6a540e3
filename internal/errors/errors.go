// Package errors provides centralized error definitions and error handling
// utilities for the quorum codebase. It defines the typed execution-error
// taxonomy produced by the process executor, semantic error types used by
// the rest of the pipeline, and classification helpers that drive the
// scheduler's retry policy.
//
// # Error Types
//
// ExecError is the tagged error produced by agent process execution. Its
// Kind selects one of a fixed set of variants:
//   - KindCommandNotFound: the agent executable is missing from PATH
//   - KindTimeout: the process outlived its timeout budget and was killed
//   - KindProcessCrash: the process exited abnormally (non-zero, no output)
//   - KindAuthRequired: stderr matched a provider credential-failure pattern
//   - KindIOFailure: spawn or pipe setup failed for a reason other than a
//     missing executable
//   - KindOutputCapture: a stream reader failed before its stream closed
//
// Semantic errors cover the non-execution surface:
//   - StageError: errors resolving or coordinating a pipeline stage
//   - EvidenceError: errors persisting per-agent or per-stage artifacts
//
// # Usage
//
// Creating errors:
//
//	err := errors.NewExecError(errors.KindTimeout, "agent exceeded budget", nil).
//		WithAgent("claude").WithTimeout(120 * time.Second)
//
// Checking errors:
//
//	var execErr *errors.ExecError
//	if errors.As(err, &execErr) && execErr.Kind == errors.KindAuthRequired {
//		fmt.Println(execErr.Remediation)
//	}
//
//	if errors.IsRetryable(err) { ... }
//
// # Classification
//
// CommandNotFound and AuthRequired are deterministic and never retryable.
// Timeout is terminal at the per-task level. ProcessCrash and IOFailure are
// transient. OutputCapture is transient but budgeted to a single retry; the
// scheduler owns that budget, this package only reports transience.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Stage-related sentinel errors
var (
	// ErrStageNotFound indicates that a named stage is not configured.
	ErrStageNotFound = New("stage not found")
	// ErrEmptyRoster indicates that a stage resolved to zero agents.
	ErrEmptyRoster = New("stage roster is empty")
	// ErrStageFailed indicates that no agent in a stage produced a usable result.
	ErrStageFailed = New("all agents failed")
	// ErrStageCanceled indicates that a stage run was canceled.
	ErrStageCanceled = New("stage canceled")
)

// Agent-related sentinel errors
var (
	// ErrAgentNotConfigured indicates that an agent name has no configuration.
	ErrAgentNotConfigured = New("agent not configured")
	// ErrAgentDisabled indicates that a configured agent is disabled.
	ErrAgentDisabled = New("agent is disabled")
	// ErrUnknownProvider indicates an agent references an unknown provider.
	ErrUnknownProvider = New("unknown provider")
	// ErrEmptyOutput indicates an agent exited cleanly but produced no
	// usable output. Treated as transient and retried.
	ErrEmptyOutput = New("agent produced no usable output")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Execution Errors
// -----------------------------------------------------------------------------

// Kind identifies one variant of the execution-error taxonomy.
type Kind int

const (
	// KindCommandNotFound means the agent executable could not be found.
	KindCommandNotFound Kind = iota
	// KindTimeout means the process was forcibly terminated at its deadline.
	KindTimeout
	// KindProcessCrash means the process exited abnormally.
	KindProcessCrash
	// KindAuthRequired means stderr matched a credential-failure pattern.
	KindAuthRequired
	// KindIOFailure means spawn or pipe setup failed.
	KindIOFailure
	// KindOutputCapture means an output stream reader failed mid-stream.
	KindOutputCapture
)

// String returns the string representation of the error kind.
func (k Kind) String() string {
	switch k {
	case KindCommandNotFound:
		return "command_not_found"
	case KindTimeout:
		return "timeout"
	case KindProcessCrash:
		return "process_crash"
	case KindAuthRequired:
		return "auth_required"
	case KindIOFailure:
		return "io_failure"
	case KindOutputCapture:
		return "output_capture"
	default:
		return "unknown"
	}
}

// ExecError is the typed error produced by agent process execution. Every
// expected failure of the executor is one of these; the executor never
// panics or returns an untyped error for an expected condition.
type ExecError struct {
	// Kind selects the variant.
	Kind Kind
	// Agent is the identifier of the agent whose execution failed.
	Agent string
	// Detail carries variant-specific text (crash detail, I/O error text).
	Detail string
	// Remediation is a human-readable fix suggestion, set for
	// CommandNotFound (install guidance) and AuthRequired (login guidance).
	Remediation string
	// Timeout is the budget that elapsed, set only for KindTimeout.
	Timeout time.Duration
	// cause is the underlying error, if any.
	cause error
}

// NewExecError creates a new ExecError of the given kind.
func NewExecError(kind Kind, detail string, cause error) *ExecError {
	return &ExecError{Kind: kind, Detail: detail, cause: cause}
}

// WithAgent attaches the owning agent identifier.
func (e *ExecError) WithAgent(agent string) *ExecError {
	e.Agent = agent
	return e
}

// WithRemediation attaches a user-facing fix suggestion.
func (e *ExecError) WithRemediation(hint string) *ExecError {
	e.Remediation = hint
	return e
}

// WithTimeout records the elapsed timeout budget.
func (e *ExecError) WithTimeout(d time.Duration) *ExecError {
	e.Timeout = d
	return e
}

// Error returns the formatted error message.
func (e *ExecError) Error() string {
	var parts []string
	if e.Agent != "" {
		parts = append(parts, fmt.Sprintf("agent=%s", e.Agent))
	}
	if e.Kind == KindTimeout && e.Timeout > 0 {
		parts = append(parts, fmt.Sprintf("timeout=%s", e.Timeout))
	}

	prefix := e.Kind.String()
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", e.Kind, strings.Join(parts, ", "))
	}

	switch {
	case e.Detail != "" && e.cause != nil:
		return fmt.Sprintf("%s: %s: %v", prefix, e.Detail, e.cause)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", prefix, e.Detail)
	case e.cause != nil:
		return fmt.Sprintf("%s: %v", prefix, e.cause)
	default:
		return prefix
	}
}

// Unwrap returns the underlying error.
func (e *ExecError) Unwrap() error {
	return e.cause
}

// Is reports whether this error matches the target. An ExecError matches
// another ExecError of the same kind, and ErrTimeout for the timeout kind.
func (e *ExecError) Is(target error) bool {
	if other, ok := target.(*ExecError); ok {
		return e.Kind == other.Kind
	}
	if e.Kind == KindTimeout && target == ErrTimeout {
		return true
	}
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity. Auth and missing-command failures
// are critical: the whole roster entry is unusable until a human acts.
func (e *ExecError) Severity() Severity {
	switch e.Kind {
	case KindCommandNotFound, KindAuthRequired:
		return SeverityCritical
	default:
		return SeverityError
	}
}

// IsRetryable reports whether the scheduler may retry this execution.
func (e *ExecError) IsRetryable() bool {
	switch e.Kind {
	case KindProcessCrash, KindIOFailure, KindOutputCapture:
		return true
	default:
		return false
	}
}

// IsUserFacing reports whether the message is safe to display to users.
func (e *ExecError) IsUserFacing() bool {
	return true
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// StageError represents errors resolving or coordinating a pipeline stage.
//
// Example:
//
//	err := errors.NewStageError("roster resolution failed", errors.ErrStageNotFound).
//		WithStage("plan")
type StageError struct {
	Stage   string
	Run     string
	message string
	cause   error
}

// NewStageError creates a new StageError.
func NewStageError(message string, cause error) *StageError {
	return &StageError{message: message, cause: cause}
}

// WithStage adds a stage name to the error context.
func (e *StageError) WithStage(stage string) *StageError {
	e.Stage = stage
	return e
}

// WithRun adds a run ID to the error context.
func (e *StageError) WithRun(runID string) *StageError {
	e.Run = runID
	return e
}

// Error returns the formatted error message.
func (e *StageError) Error() string {
	var parts []string
	if e.Stage != "" {
		parts = append(parts, fmt.Sprintf("stage=%s", e.Stage))
	}
	if e.Run != "" {
		parts = append(parts, fmt.Sprintf("run=%s", e.Run))
	}

	prefix := "stage error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("stage error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error { return e.cause }

// Is checks if this error matches the target.
func (e *StageError) Is(target error) bool {
	if _, ok := target.(*StageError); ok {
		return true
	}
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// EvidenceError represents errors persisting stage or agent artifacts.
type EvidenceError struct {
	Path    string
	message string
	cause   error
}

// NewEvidenceError creates a new EvidenceError.
func NewEvidenceError(message string, cause error) *EvidenceError {
	return &EvidenceError{message: message, cause: cause}
}

// WithPath adds the artifact path to the error context.
func (e *EvidenceError) WithPath(path string) *EvidenceError {
	e.Path = path
	return e
}

// Error returns the formatted error message.
func (e *EvidenceError) Error() string {
	prefix := "evidence error"
	if e.Path != "" {
		prefix = fmt.Sprintf("evidence error [path=%s]", e.Path)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Unwrap returns the underlying error.
func (e *EvidenceError) Unwrap() error { return e.cause }

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// classifiable is implemented by errors that carry their own classification.
type classifiable interface {
	IsRetryable() bool
}

// IsRetryable reports whether err is transient and the operation may
// succeed on retry. Unknown errors are treated as non-retryable so a bug
// cannot silently burn retry budget.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrEmptyOutput) {
		return true
	}
	var c classifiable
	if errors.As(err, &c) {
		return c.IsRetryable()
	}
	return false
}

// IsTerminal reports whether err should end all attempts for its agent
// within the current stage run.
func IsTerminal(err error) bool {
	return err != nil && !IsRetryable(err)
}

// Remediation extracts a user-facing fix suggestion from err, or "" if the
// error carries none.
func Remediation(err error) string {
	var execErr *ExecError
	if errors.As(err, &execErr) {
		return execErr.Remediation
	}
	return ""
}

// SeverityOf returns the severity of err, defaulting to SeverityError for
// errors that do not carry one.
func SeverityOf(err error) Severity {
	type sev interface{ Severity() Severity }
	var s sev
	if errors.As(err, &s) {
		return s.Severity()
	}
	return SeverityError
}
