// Package scheduler fans a stage's agent tasks out over a bounded worker
// pool, applies a per-task retry policy, and collects one result per task
// into a write-once, index-addressed slot set.
//
// Failure isolation is the core contract: one agent's terminal error never
// aborts its siblings, and a slow agent never delays the delivery of a
// faster sibling's result.
package scheduler

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"

	errs "github.com/quorumlabs/quorum/internal/errors"
	"github.com/quorumlabs/quorum/internal/executor"
	"github.com/quorumlabs/quorum/internal/logging"
)

// DefaultMaxWorkers bounds concurrent agent processes when the caller does
// not choose a limit.
const DefaultMaxWorkers = 8

// RetryPolicy controls how many times a transiently-failing task is
// attempted and how long to wait between attempts.
type RetryPolicy struct {
	// MaxAttempts is the total attempt budget, first try included.
	MaxAttempts int

	// BaseDelay is the wait before the first retry. Each subsequent wait
	// doubles, up to MaxDelay.
	BaseDelay time.Duration

	// MaxDelay caps the doubling.
	MaxDelay time.Duration

	// JitterFraction adds up to this fraction of random extra delay so
	// simultaneously-failing siblings do not retry in lockstep. Must stay
	// below 1.0 to keep inter-attempt delays non-decreasing.
	JitterFraction float64
}

// DefaultRetryPolicy returns the standard policy: four attempts total with
// 2s, 4s, 8s waits between them.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    4,
		BaseDelay:      2 * time.Second,
		MaxDelay:       8 * time.Second,
		JitterFraction: 0.2,
	}
}

// delay returns the wait before attempt n's retry (n is 1-based).
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay << (attempt - 1)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.JitterFraction > 0 {
		d += time.Duration(rand.Float64() * p.JitterFraction * float64(d))
	}
	return d
}

// Runner executes a single agent task. Satisfied by *executor.Executor.
type Runner interface {
	Run(ctx context.Context, task executor.AgentTask) (*executor.AgentOutcome, error)
}

// SchedulerCallbacks holds callbacks for scheduling events. All fields are
// optional. Callbacks may be invoked from multiple goroutines.
type SchedulerCallbacks struct {
	// OnTaskStart is called when an attempt for a task begins.
	OnTaskStart func(agent string, attempt int)

	// OnAttemptFailed is called when an attempt fails but will be retried.
	OnAttemptFailed func(agent string, attempt int, delay time.Duration, err error)

	// OnTaskComplete is called when a task produces a usable outcome.
	OnTaskComplete func(agent string, outcome *executor.AgentOutcome)

	// OnTaskFailed is called when a task is terminally failed.
	OnTaskFailed func(agent string, err error)
}

// TaskResult is one task's final disposition. Exactly one of Outcome and
// Err is set.
type TaskResult struct {
	// Index is the task's position in the submitted slice.
	Index int

	// Agent names the agent the task belongs to.
	Agent string

	// Outcome is the successful execution result, nil on failure.
	Outcome *executor.AgentOutcome

	// Err is the terminal error after all attempts, nil on success.
	Err error

	// Attempts is how many executions were made for this task.
	Attempts int
}

// Scheduler runs agent tasks concurrently with retries.
type Scheduler struct {
	runner     Runner
	policy     RetryPolicy
	maxWorkers int
	logger     *logging.Logger
	callbacks  *SchedulerCallbacks

	// validate judges a successful outcome. A non-nil error marks the
	// attempt as failed; a retryable one consumes retry budget like any
	// transient execution failure.
	validate func(*executor.AgentOutcome) error
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Scheduler) { s.policy = p }
}

// WithMaxWorkers bounds the number of concurrently running tasks.
func WithMaxWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxWorkers = n
		}
	}
}

// WithValidator replaces the default outcome check (non-blank stdout).
func WithValidator(fn func(*executor.AgentOutcome) error) Option {
	return func(s *Scheduler) { s.validate = fn }
}

// New creates a Scheduler executing tasks through runner. A nil logger
// disables logging.
func New(runner Runner, logger *logging.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = logging.NopLogger()
	}
	s := &Scheduler{
		runner:     runner,
		policy:     DefaultRetryPolicy(),
		maxWorkers: DefaultMaxWorkers,
		logger:     logger,
		validate:   defaultValidate,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.policy.MaxAttempts < 1 {
		s.policy.MaxAttempts = 1
	}
	return s
}

// SetCallbacks sets the scheduling callbacks. Must be called before
// Schedule.
func (s *Scheduler) SetCallbacks(cb *SchedulerCallbacks) {
	s.callbacks = cb
}

func defaultValidate(outcome *executor.AgentOutcome) error {
	if strings.TrimSpace(outcome.Stdout) == "" {
		return errs.ErrEmptyOutput
	}
	return nil
}

// Schedule runs every task concurrently and returns one TaskResult per
// task, index-aligned with the input. It blocks until each task has either
// produced an outcome or exhausted its attempts. Cancellation of ctx stops
// further attempts and records the cancellation as each unfinished task's
// terminal error.
func (s *Scheduler) Schedule(ctx context.Context, tasks []executor.AgentTask) []TaskResult {
	results := make([]TaskResult, len(tasks))

	p := pool.New().WithMaxGoroutines(s.maxWorkers)
	for i, task := range tasks {
		p.Go(func() {
			// Each goroutine owns exactly one slot. No other goroutine
			// reads or writes it until Wait returns.
			results[i] = s.runTask(ctx, i, task)
		})
	}
	p.Wait()

	return results
}

// runTask drives one task through its attempt budget.
func (s *Scheduler) runTask(ctx context.Context, index int, task executor.AgentTask) TaskResult {
	logger := s.logger.WithAgent(task.Agent)
	result := TaskResult{Index: index, Agent: task.Agent}

	for attempt := 1; attempt <= s.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			result.Err = fmt.Errorf("%w: %w", errs.ErrStageCanceled, err)
			return result
		}

		s.notifyTaskStart(task.Agent, attempt)
		result.Attempts = attempt

		outcome, err := s.runner.Run(ctx, task)
		if err == nil {
			err = s.validate(outcome)
		}
		if err == nil {
			logger.Debug("task succeeded", "attempt", attempt)
			s.notifyTaskComplete(task.Agent, outcome)
			result.Outcome = outcome
			return result
		}

		if errs.IsTerminal(err) || attempt >= s.attemptBudget(err) {
			logger.Warn("task failed terminally",
				"attempt", attempt,
				"retryable", errs.IsRetryable(err),
				"error", err.Error(),
			)
			s.notifyTaskFailed(task.Agent, err)
			result.Err = err
			return result
		}

		delay := s.policy.delay(attempt)
		logger.Info("transient failure, retrying",
			"attempt", attempt,
			"delay", delay.String(),
			"error", err.Error(),
		)
		s.notifyAttemptFailed(task.Agent, attempt, delay, err)

		if err := sleep(ctx, delay); err != nil {
			result.Err = fmt.Errorf("%w: %w", errs.ErrStageCanceled, err)
			return result
		}
	}

	// Unreachable: the loop always returns from within.
	return result
}

// attemptBudget returns the total attempts allowed for a task whose last
// failure was err. Output-capture failures get a single retry.
func (s *Scheduler) attemptBudget(err error) int {
	var execErr *errs.ExecError
	if errs.As(err, &execErr) && execErr.Kind == errs.KindOutputCapture && s.policy.MaxAttempts > 2 {
		return 2
	}
	return s.policy.MaxAttempts
}

// sleep waits for d or until ctx is canceled.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) notifyTaskStart(agent string, attempt int) {
	if s.callbacks != nil && s.callbacks.OnTaskStart != nil {
		s.callbacks.OnTaskStart(agent, attempt)
	}
}

func (s *Scheduler) notifyAttemptFailed(agent string, attempt int, delay time.Duration, err error) {
	if s.callbacks != nil && s.callbacks.OnAttemptFailed != nil {
		s.callbacks.OnAttemptFailed(agent, attempt, delay, err)
	}
}

func (s *Scheduler) notifyTaskComplete(agent string, outcome *executor.AgentOutcome) {
	if s.callbacks != nil && s.callbacks.OnTaskComplete != nil {
		s.callbacks.OnTaskComplete(agent, outcome)
	}
}

func (s *Scheduler) notifyTaskFailed(agent string, err error) {
	if s.callbacks != nil && s.callbacks.OnTaskFailed != nil {
		s.callbacks.OnTaskFailed(agent, err)
	}
}
