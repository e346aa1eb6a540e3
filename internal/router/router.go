// Package router resolves a named pipeline stage into a concrete run: a
// fresh run ID, the stage's agreement threshold, and one fully-specified
// executor task per enabled roster agent.
package router

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"text/template"

	"github.com/google/uuid"

	"github.com/quorumlabs/quorum/internal/agent"
	"github.com/quorumlabs/quorum/internal/config"
	errs "github.com/quorumlabs/quorum/internal/errors"
	"github.com/quorumlabs/quorum/internal/executor"
	"github.com/quorumlabs/quorum/internal/logging"
)

// StageRun is a resolved stage invocation ready for the scheduler.
type StageRun struct {
	// RunID uniquely identifies this invocation across logs and evidence.
	RunID string

	// Stage is the resolved stage name.
	Stage string

	// Threshold is the minimum agreement score the stage's result must
	// reach to be accepted without review.
	Threshold float64

	// Tasks holds one task per enabled roster agent, in roster order.
	Tasks []executor.AgentTask
}

// promptData is the template context for a stage's prompt template.
type promptData struct {
	Stage string
	Input string
}

// Router maps stage names onto agent task rosters using the active
// configuration. Safe for concurrent use; Reload swaps the configuration
// atomically under the lock.
type Router struct {
	mu     sync.RWMutex
	cfg    *config.Config
	logger *logging.Logger
}

// New creates a Router over cfg. A nil logger disables logging.
func New(cfg *config.Config, logger *logging.Logger) *Router {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Router{cfg: cfg, logger: logger}
}

// Reload replaces the active configuration. In-flight runs keep the tasks
// they were resolved with.
func (r *Router) Reload(cfg *config.Config) {
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
	r.logger.Info("configuration reloaded",
		"stages", len(cfg.Stages),
		"agents", len(cfg.Agents),
	)
}

// Stages returns the configured stage names, sorted.
func (r *Router) Stages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.cfg.Stages))
	for name := range r.cfg.Stages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stage returns the configuration for one stage.
func (r *Router) Stage(name string) (config.StageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.cfg.Stages[name]
	return s, ok
}

// Resolve builds a StageRun for the named stage over the given input.
// Disabled roster agents are skipped with a warning; a roster whose every
// agent is disabled resolves to ErrEmptyRoster.
func (r *Router) Resolve(stage, input string) (*StageRun, error) {
	r.mu.RLock()
	cfg := r.cfg
	r.mu.RUnlock()

	stageCfg, ok := cfg.Stages[stage]
	if !ok {
		return nil, fmt.Errorf("%w: %q (have: %s)",
			errs.ErrStageNotFound, stage, strings.Join(r.Stages(), ", "))
	}
	if len(stageCfg.Agents) == 0 {
		return nil, fmt.Errorf("%w: stage %q", errs.ErrEmptyRoster, stage)
	}

	payload, err := renderPrompt(stage, stageCfg.PromptTemplate, input)
	if err != nil {
		return nil, err
	}

	run := &StageRun{
		RunID:     uuid.NewString(),
		Stage:     stage,
		Threshold: stageCfg.Threshold,
	}

	for _, name := range stageCfg.Agents {
		agentCfg, ok := cfg.Agents[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q in stage %q roster",
				errs.ErrAgentNotConfigured, name, stage)
		}
		if agentCfg.Disabled {
			r.logger.Warn("skipping disabled agent", "agent", name, "stage", stage)
			continue
		}

		task, err := buildTask(name, agentCfg, stageCfg.Env, payload)
		if err != nil {
			return nil, err
		}
		run.Tasks = append(run.Tasks, task)
	}

	if len(run.Tasks) == 0 {
		return nil, fmt.Errorf("%w: stage %q has no enabled agents",
			errs.ErrEmptyRoster, stage)
	}

	r.logger.Debug("stage resolved",
		"run_id", run.RunID,
		"stage", stage,
		"roster", len(run.Tasks),
		"threshold", run.Threshold,
	)
	return run, nil
}

// buildTask assembles one executor task from an agent's configuration,
// falling back to the provider's defaults for command and arguments.
// Stage environment variables override same-named agent variables.
func buildTask(name string, cfg config.AgentConfig, stageEnv map[string]string, payload string) (executor.AgentTask, error) {
	p, err := agent.New(cfg.Provider)
	if err != nil {
		return executor.AgentTask{}, fmt.Errorf("agent %q: %w", name, err)
	}

	command := cfg.Command
	if command == "" {
		command = p.DefaultCommand()
	}
	args := cfg.Args
	if len(args) == 0 {
		args = p.DefaultArgs(cfg.AgentMode())
	}

	return executor.AgentTask{
		Agent:    name,
		Command:  command,
		Args:     args,
		Env:      mergeEnv(cfg.Env, stageEnv),
		Timeout:  cfg.Timeout(),
		Payload:  payload,
		Provider: p,
	}, nil
}

func mergeEnv(agentEnv, stageEnv map[string]string) map[string]string {
	if len(stageEnv) == 0 {
		return agentEnv
	}
	merged := make(map[string]string, len(agentEnv)+len(stageEnv))
	for k, v := range agentEnv {
		merged[k] = v
	}
	for k, v := range stageEnv {
		merged[k] = v
	}
	return merged
}

// renderPrompt applies the stage's prompt template to the input. An empty
// template passes the input through untouched.
func renderPrompt(stage, tmpl, input string) (string, error) {
	if tmpl == "" {
		return input, nil
	}

	t, err := template.New(stage).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("stage %q prompt template: %w", stage, err)
	}

	var b strings.Builder
	if err := t.Execute(&b, promptData{Stage: stage, Input: input}); err != nil {
		return "", fmt.Errorf("stage %q prompt template: %w", stage, err)
	}
	return b.String(), nil
}
