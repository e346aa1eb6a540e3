// Package executor spawns one OS process per agent task, drains its output
// streams concurrently, enforces the task's timeout, and classifies every
// expected failure into the typed execution-error taxonomy.
//
// Completion is signaled by process exit and stream close only. There is no
// marker scanning and no polling: the only suspension points are the
// process wait and the stream reads. The child is always reaped, on every
// exit path, including cancellation of the calling context.
package executor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/quorumlabs/quorum/internal/agent"
	errs "github.com/quorumlabs/quorum/internal/errors"
	"github.com/quorumlabs/quorum/internal/logging"
)

// Executor runs agent tasks as subprocesses. The zero value is not usable;
// construct with New.
type Executor struct {
	logger *logging.Logger
}

// New creates an Executor. A nil logger disables logging.
func New(logger *logging.Logger) *Executor {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Executor{logger: logger}
}

// Run spawns exactly one process for task and blocks until the process has
// exited and both output streams have closed, the timeout elapses, or ctx
// is canceled. It returns either a fully-captured AgentOutcome or a typed
// execution error; it never returns both.
//
// On timeout the process group is killed, partial output is discarded, and
// the returned error has kind Timeout. On cancellation the process group is
// likewise killed and reaped before Run returns ctx.Err().
func (e *Executor) Run(ctx context.Context, task AgentTask) (*AgentOutcome, error) {
	if task.Timeout <= 0 {
		return nil, fmt.Errorf("%w: task %q has non-positive timeout %v",
			errs.ErrInvalidInput, task.Agent, task.Timeout)
	}

	if _, err := exec.LookPath(task.Command); err != nil {
		return nil, commandNotFound(task, err)
	}

	args, useStdin := buildArgs(task)

	cmd := exec.Command(task.Command, args...)
	cmd.Dir = task.Dir
	cmd.Env = buildEnv(task)
	setProcGroup(cmd)

	stdout := newCaptureBuffer(task.MaxCaptureBytes)
	stderr := newCaptureBuffer(task.MaxCaptureBytes)

	outPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, execErr(task, errs.KindIOFailure, "stdout pipe setup", err)
	}
	errPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, execErr(task, errs.KindIOFailure, "stderr pipe setup", err)
	}

	var stdin io.WriteCloser
	if useStdin {
		stdin, err = cmd.StdinPipe()
		if err != nil {
			return nil, execErr(task, errs.KindIOFailure, "stdin pipe setup", err)
		}
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		if errs.Is(err, exec.ErrNotFound) || os.IsNotExist(err) {
			return nil, commandNotFound(task, err)
		}
		return nil, execErr(task, errs.KindIOFailure, "spawn failed", err)
	}

	logger := e.logger.WithAgent(task.Agent)
	logger.Debug("process started",
		"command", task.Command,
		"pid", cmd.Process.Pid,
		"stdin_payload", useStdin,
		"timeout", task.Timeout.String(),
	)

	// Deliver the payload and signal end-of-input by closing the stream.
	// A write error alone does not fail the run: a child that exits early
	// without draining stdin is judged by its exit status, not by our
	// broken pipe.
	var stdinErr error
	var stdinWG sync.WaitGroup
	if useStdin {
		stdinWG.Add(1)
		go func() {
			defer stdinWG.Done()
			_, werr := io.WriteString(stdin, task.Payload)
			if cerr := stdin.Close(); werr == nil {
				werr = cerr
			}
			stdinErr = werr
		}()
	}

	// Each stream gets its own drain so a full buffer on one can never
	// block the other or the exit wait.
	var outErr, errErr error
	var drains sync.WaitGroup
	drains.Add(2)
	go func() {
		defer drains.Done()
		_, outErr = io.Copy(stdout, outPipe)
	}()
	go func() {
		defer drains.Done()
		_, errErr = io.Copy(stderr, errPipe)
	}()

	// Wait must not be called until both pipes are fully read.
	done := make(chan error, 1)
	go func() {
		drains.Wait()
		stdinWG.Wait()
		done <- cmd.Wait()
	}()

	timer := time.NewTimer(task.Timeout)
	defer timer.Stop()

	var waitErr error
	var timedOut bool
	select {
	case waitErr = <-done:
	case <-timer.C:
		timedOut = true
		killProcGroup(cmd)
		<-done // reap
	case <-ctx.Done():
		killProcGroup(cmd)
		<-done // reap before reporting cancellation complete
		logger.Debug("process canceled", "pid", cmd.Process.Pid)
		return nil, ctx.Err()
	}

	duration := time.Since(start)

	if timedOut {
		logger.Warn("process timed out",
			"timeout", task.Timeout.String(),
			"duration", duration.String(),
		)
		return nil, errs.NewExecError(errs.KindTimeout, "", nil).
			WithAgent(task.Agent).
			WithTimeout(task.Timeout)
	}

	// Credential failures masquerade as crashes: scan stderr before
	// looking at the exit status so AuthRequired wins over ProcessCrash.
	if task.Provider != nil {
		if hint, ok := agent.DetectAuthFailure(task.Provider, stderr.String()); ok {
			logger.Warn("authentication failure detected", "provider", task.Provider.Name())
			return nil, errs.NewExecError(errs.KindAuthRequired, tail(stderr.String(), 500), nil).
				WithAgent(task.Agent).
				WithRemediation(hint)
		}
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errs.As(waitErr, &exitErr) {
			detail := fmt.Sprintf("exit status %d", exitErr.ExitCode())
			if s := tail(stderr.String(), 500); s != "" {
				detail += ": " + s
			}
			return nil, execErr(task, errs.KindProcessCrash, detail, nil)
		}
		// Wait failed without an exit status: pipe or wait machinery.
		return nil, execErr(task, errs.KindIOFailure, "wait failed", waitErr)
	}

	if outErr != nil || errErr != nil {
		return nil, execErr(task, errs.KindOutputCapture, "stream drain failed",
			errs.Join(outErr, errErr))
	}
	if useStdin && stdinErr != nil {
		logger.Debug("stdin delivery error on successful exit", "error", stdinErr)
	}

	logger.Debug("process completed",
		"duration", duration.String(),
		"stdout_bytes", stdout.Len(),
		"stderr_bytes", stderr.Len(),
	)

	return &AgentOutcome{
		Agent:    task.Agent,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: cmd.ProcessState.ExitCode(),
		Duration: duration,
	}, nil
}

// buildArgs assembles the final argument vector and reports whether the
// payload goes to stdin instead.
func buildArgs(task AgentTask) ([]string, bool) {
	args := append([]string(nil), task.Args...)
	if task.Payload == "" {
		return args, false
	}
	if len(task.Payload) > StdinThreshold {
		return args, true
	}
	if task.Provider != nil {
		return append(args, task.Provider.PromptArgs(task.Payload)...), false
	}
	return append(args, task.Payload), false
}

// buildEnv merges the task environment over the inherited one and applies
// provider credential mirroring.
func buildEnv(task AgentTask) []string {
	merged := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			merged[k] = v
		}
	}
	for k, v := range task.Env {
		merged[k] = v
	}
	if task.Provider != nil {
		task.Provider.MirrorEnv(merged)
	}

	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, k+"="+v)
	}
	return env
}

func commandNotFound(task AgentTask, cause error) error {
	err := errs.NewExecError(errs.KindCommandNotFound, task.Command, cause).
		WithAgent(task.Agent)
	if task.Provider != nil {
		err = err.WithRemediation(task.Provider.InstallHint())
	}
	return err
}

func execErr(task AgentTask, kind errs.Kind, detail string, cause error) error {
	return errs.NewExecError(kind, detail, cause).WithAgent(task.Agent)
}

// tail returns at most n trailing bytes of s, trimmed of whitespace.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
