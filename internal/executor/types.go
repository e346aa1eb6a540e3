package executor

import (
	"time"

	"github.com/quorumlabs/quorum/internal/agent"
)

// StdinThreshold is the payload size, in bytes, above which the prompt is
// delivered on the child's standard input instead of the argument vector.
// Argument delivery is subject to OS argv length ceilings; stdin is not.
const StdinThreshold = 1000

// DefaultMaxCaptureBytes bounds each captured stream when a task does not
// set its own limit. Large enough that agent output is never clipped in
// practice; small enough that a runaway child cannot exhaust memory.
const DefaultMaxCaptureBytes = 64 << 20 // 64 MiB

// AgentTask describes one agent invocation. Tasks are built by the stage
// router and are immutable once handed to the executor.
type AgentTask struct {
	// Agent is the roster identifier for this invocation.
	Agent string
	// Command is the executable to spawn. Relative names resolve via PATH.
	Command string
	// Args is the static argument list, before payload delivery.
	Args []string
	// Env is merged over the inherited OS environment. Values here win.
	Env map[string]string
	// Dir is the working directory. Empty means the caller's directory.
	Dir string
	// Timeout is the wall-clock budget for the whole operation. Must be
	// strictly positive.
	Timeout time.Duration
	// Payload is the prompt text. Delivered via stdin when larger than
	// StdinThreshold, otherwise appended to Args.
	Payload string
	// Provider supplies prompt-argument construction, credential env
	// mirroring, and auth-failure detection. Optional: a nil provider
	// appends the payload as a bare trailing argument and skips the
	// stderr auth scan.
	Provider agent.Provider
	// MaxCaptureBytes bounds each captured stream. Zero means
	// DefaultMaxCaptureBytes.
	MaxCaptureBytes int
}

// AgentOutcome is the captured result of one completed agent process. It is
// created exactly once per execution and owned by the scheduler until the
// synthesizer consumes it.
type AgentOutcome struct {
	// Agent is the roster identifier copied from the task.
	Agent string
	// Stdout is the full captured standard output.
	Stdout string
	// Stderr is the full captured standard error.
	Stderr string
	// ExitCode is the process exit status. Defined only when TimedOut is
	// false.
	ExitCode int
	// Duration is the wall-clock time from spawn to reap.
	Duration time.Duration
	// TimedOut reports whether the process was forcibly terminated at its
	// deadline. A timed-out execution surfaces as a Timeout error, so an
	// outcome returned to callers always has this false; the field exists
	// for evidence records written on the failure path.
	TimedOut bool
}
