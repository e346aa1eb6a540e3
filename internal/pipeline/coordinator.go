// Package pipeline coordinates one stage run end to end: resolve the
// stage to a roster, fan the tasks out with retries, synthesize the
// surviving decisions into a consensus, and record the whole trail as
// evidence.
//
// Failure semantics follow a strict ladder. A single agent failing is a
// warning attached to the report. Every agent failing, or the run being
// canceled, is a stage-level error. NoConsensus is not an error at all:
// the report carries every competing position for a human to choose from.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/quorumlabs/quorum/internal/consensus"
	errs "github.com/quorumlabs/quorum/internal/errors"
	"github.com/quorumlabs/quorum/internal/evidence"
	"github.com/quorumlabs/quorum/internal/executor"
	"github.com/quorumlabs/quorum/internal/logging"
	"github.com/quorumlabs/quorum/internal/router"
	"github.com/quorumlabs/quorum/internal/scheduler"
)

// AgentFailure is one agent's terminal failure within a stage run.
type AgentFailure struct {
	Agent       string
	Err         error
	Remediation string
}

// StageReport is the full outcome of one stage run.
type StageReport struct {
	// RunID identifies the run in logs and evidence.
	RunID string

	// Stage is the stage that ran.
	Stage string

	// Threshold is the stage's configured minimum agreement score.
	Threshold float64

	// Result is the synthesized consensus.
	Result consensus.Result

	// Results holds every task's final disposition, roster-ordered.
	Results []scheduler.TaskResult

	// Failures lists the agents that failed terminally. Non-empty
	// Failures with a usable Result is the partial-failure case the
	// caller should surface as a warning.
	Failures []AgentFailure

	// Duration is the stage's wall-clock time.
	Duration time.Duration
}

// MeetsThreshold reports whether the agreement score reached the stage's
// configured minimum.
func (r *StageReport) MeetsThreshold() bool {
	return r.Result.Score >= r.Threshold
}

// CoordinatorCallbacks holds callbacks for stage run events
type CoordinatorCallbacks struct {
	// OnStageStart is called once the stage has resolved to a roster
	OnStageStart func(runID, stage string, roster int)

	// OnAgentStart is called when an attempt for an agent begins
	OnAgentStart func(agent string, attempt int)

	// OnAgentRetry is called when an agent's attempt failed but will be retried
	OnAgentRetry func(agent string, attempt int, delay time.Duration, err error)

	// OnAgentComplete is called when an agent produces a usable outcome
	OnAgentComplete func(agent string, outcome *executor.AgentOutcome)

	// OnAgentFailed is called when an agent fails terminally
	OnAgentFailed func(agent string, err error)

	// OnSynthesis is called with the consensus before the report returns
	OnSynthesis func(result consensus.Result)
}

// Coordinator runs pipeline stages.
type Coordinator struct {
	router    *router.Router
	sched     *scheduler.Scheduler
	synth     *consensus.Synthesizer
	store     *evidence.Store
	logger    *logging.Logger
	callbacks *CoordinatorCallbacks
	parse     func(agent, output string) (consensus.Decision, bool)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithParser replaces the default decision parser. The parser extracts a
// structured decision from one agent's raw output; returning false marks
// the output unusable.
func WithParser(fn func(agent, output string) (consensus.Decision, bool)) Option {
	return func(c *Coordinator) {
		if fn != nil {
			c.parse = fn
		}
	}
}

// New creates a Coordinator. store may be nil to skip evidence recording;
// a nil logger disables logging.
func New(r *router.Router, sched *scheduler.Scheduler, synth *consensus.Synthesizer, store *evidence.Store, logger *logging.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = logging.NopLogger()
	}
	c := &Coordinator{
		router: r,
		sched:  sched,
		synth:  synth,
		store:  store,
		logger: logger,
		parse:  consensus.ParseDecision,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetCallbacks sets the coordinator callbacks. Must be called before
// RunStage.
func (c *Coordinator) SetCallbacks(cb *CoordinatorCallbacks) {
	c.callbacks = cb
	c.sched.SetCallbacks(&scheduler.SchedulerCallbacks{
		OnTaskStart: func(agent string, attempt int) {
			if cb != nil && cb.OnAgentStart != nil {
				cb.OnAgentStart(agent, attempt)
			}
		},
		OnAttemptFailed: func(agent string, attempt int, delay time.Duration, err error) {
			if cb != nil && cb.OnAgentRetry != nil {
				cb.OnAgentRetry(agent, attempt, delay, err)
			}
		},
		OnTaskComplete: func(agent string, outcome *executor.AgentOutcome) {
			if cb != nil && cb.OnAgentComplete != nil {
				cb.OnAgentComplete(agent, outcome)
			}
		},
		OnTaskFailed: func(agent string, err error) {
			if cb != nil && cb.OnAgentFailed != nil {
				cb.OnAgentFailed(agent, err)
			}
		},
	})
}

// RunStage executes the named stage over input and returns its report.
// The returned error is non-nil only for resolution failures, total agent
// failure, and cancellation; partial failure and NoConsensus are reported
// through the StageReport.
func (c *Coordinator) RunStage(ctx context.Context, stage, input string) (*StageReport, error) {
	run, err := c.router.Resolve(stage, input)
	if err != nil {
		return nil, err
	}

	logger := c.logger.WithRun(run.RunID).WithStage(stage)
	logger.Info("stage starting", "roster", len(run.Tasks), "threshold", run.Threshold)
	c.notifyStageStart(run)

	c.recordRunStart(ctx, run, input)

	start := time.Now()
	results := c.sched.Schedule(ctx, run.Tasks)
	duration := time.Since(start)

	report := &StageReport{
		RunID:     run.RunID,
		Stage:     stage,
		Threshold: run.Threshold,
		Results:   results,
		Duration:  duration,
	}

	if ctx.Err() != nil {
		logger.Warn("stage canceled", "duration", duration.String())
		// Flush on a background context so the canceled ctx cannot
		// abort the evidence writes.
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.recordOutcomes(flushCtx, run.RunID, results)
		c.finishRun(run.RunID, evidence.StatusCanceled)
		return report, errs.NewStageError("run canceled", fmt.Errorf("%w: %w", errs.ErrStageCanceled, ctx.Err())).
			WithStage(stage).WithRun(run.RunID)
	}

	decisions := c.collectDecisions(logger, results, report)

	report.Result = c.synth.Synthesize(len(run.Tasks), decisions)
	if c.callbacks != nil && c.callbacks.OnSynthesis != nil {
		c.callbacks.OnSynthesis(report.Result)
	}

	c.recordOutcomes(ctx, run.RunID, results)
	c.recordSynthesis(ctx, run.RunID, report.Result)

	if report.Result.TotalFailure() {
		logger.Error("stage failed: no agent produced a usable decision",
			"roster", len(run.Tasks),
			"duration", duration.String(),
		)
		c.finishRun(run.RunID, evidence.StatusFailed)
		cause := errs.Join(failureErrors(report.Failures)...)
		return report, errs.NewStageError("all agents failed", fmt.Errorf("%w: %w", errs.ErrStageFailed, cause)).
			WithStage(stage).WithRun(run.RunID)
	}

	logger.Info("stage completed",
		"level", report.Result.Level.String(),
		"score", fmt.Sprintf("%.3f", report.Result.Score),
		"degraded", report.Result.Degraded,
		"failures", len(report.Failures),
		"duration", duration.String(),
	)
	c.finishRun(run.RunID, evidence.StatusCompleted)
	return report, nil
}

// collectDecisions parses each successful outcome into a decision and
// folds terminal failures into the report.
func (c *Coordinator) collectDecisions(logger *logging.Logger, results []scheduler.TaskResult, report *StageReport) []consensus.Decision {
	var decisions []consensus.Decision
	for _, r := range results {
		if r.Err != nil {
			logger.Warn("agent failed terminally",
				"agent", r.Agent,
				"attempts", r.Attempts,
				"error", r.Err.Error(),
			)
			report.Failures = append(report.Failures, AgentFailure{
				Agent:       r.Agent,
				Err:         r.Err,
				Remediation: errs.Remediation(r.Err),
			})
			continue
		}
		d, ok := c.parse(r.Agent, r.Outcome.Stdout)
		if !ok {
			// Scheduler validation makes this unlikely, but an agent
			// racing its own shutdown can still emit only whitespace.
			logger.Warn("agent output unusable", "agent", r.Agent)
			report.Failures = append(report.Failures, AgentFailure{
				Agent: r.Agent,
				Err:   errs.ErrEmptyOutput,
			})
			continue
		}
		decisions = append(decisions, d)
	}
	return decisions
}

func (c *Coordinator) recordRunStart(ctx context.Context, run *router.StageRun, input string) {
	if c.store == nil {
		return
	}
	roster := make([]string, len(run.Tasks))
	for i, task := range run.Tasks {
		roster[i] = task.Agent
	}
	err := c.store.CreateRun(ctx, evidence.RunRecord{
		RunID:     run.RunID,
		Stage:     run.Stage,
		Input:     input,
		Roster:    roster,
		StartedAt: time.Now(),
	})
	if err != nil {
		c.logger.Warn("evidence: failed to record run start", "error", err.Error())
	}
}

func (c *Coordinator) recordOutcomes(ctx context.Context, runID string, results []scheduler.TaskResult) {
	if c.store == nil {
		return
	}
	records := make([]evidence.OutcomeRecord, 0, len(results))
	for _, r := range results {
		rec := evidence.OutcomeRecord{
			RunID:    runID,
			Agent:    r.Agent,
			Attempts: r.Attempts,
		}
		if r.Outcome != nil {
			rec.ExitCode = r.Outcome.ExitCode
			rec.DurationMs = r.Outcome.Duration.Milliseconds()
			rec.Stdout = r.Outcome.Stdout
			rec.Stderr = r.Outcome.Stderr
		}
		if r.Err != nil {
			rec.Error = r.Err.Error()
			var execErr *errs.ExecError
			if errs.As(r.Err, &execErr) {
				rec.ErrorKind = execErr.Kind.String()
			}
		}
		records = append(records, rec)
	}
	if err := c.store.AddOutcomes(ctx, records); err != nil {
		c.logger.Warn("evidence: failed to record outcomes", "error", err.Error())
	}
}

func (c *Coordinator) recordSynthesis(ctx context.Context, runID string, result consensus.Result) {
	if c.store == nil {
		return
	}
	err := c.store.AddSynthesis(ctx, evidence.SynthesisRecord{
		RunID:        runID,
		Level:        result.Level.String(),
		Score:        result.Score,
		Degraded:     result.Degraded,
		Content:      result.Content,
		Contributing: result.Contributing,
		Notes:        result.Notes,
	})
	if err != nil {
		c.logger.Warn("evidence: failed to record synthesis", "error", err.Error())
	}
}

// finishRun stamps the run's terminal status. Runs on a background
// context so a canceled stage still gets its status written.
func (c *Coordinator) finishRun(runID, status string) {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.store.FinishRun(ctx, runID, status); err != nil {
		c.logger.Warn("evidence: failed to finish run", "error", err.Error())
	}
}

func (c *Coordinator) notifyStageStart(run *router.StageRun) {
	if c.callbacks != nil && c.callbacks.OnStageStart != nil {
		c.callbacks.OnStageStart(run.RunID, run.Stage, len(run.Tasks))
	}
}

func failureErrors(failures []AgentFailure) []error {
	out := make([]error, 0, len(failures))
	for _, f := range failures {
		out = append(out, f.Err)
	}
	return out
}
