package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quorumlabs/quorum/internal/config"
	"github.com/quorumlabs/quorum/internal/consensus"
	errs "github.com/quorumlabs/quorum/internal/errors"
	"github.com/quorumlabs/quorum/internal/evidence"
	"github.com/quorumlabs/quorum/internal/executor"
	"github.com/quorumlabs/quorum/internal/router"
	"github.com/quorumlabs/quorum/internal/scheduler"
	"github.com/quorumlabs/quorum/internal/testutil"
)

// stageConfig builds a config whose three agents run the given scripts.
func stageConfig(commands map[string]string) *config.Config {
	cfg := config.Default()
	cfg.Agents = map[string]config.AgentConfig{}
	var roster []string
	for _, name := range []string{"claude", "gemini", "codex"} {
		cmd, ok := commands[name]
		if !ok {
			continue
		}
		cfg.Agents[name] = config.AgentConfig{
			Provider:       name,
			Command:        cmd,
			Args:           []string{},
			TimeoutSeconds: 30,
		}
		roster = append(roster, name)
	}
	cfg.Stages = map[string]config.StageConfig{
		"review": {Agents: roster, Threshold: 0.60},
	}
	return cfg
}

func newCoordinator(t *testing.T, cfg *config.Config, store *evidence.Store) *Coordinator {
	t.Helper()
	policy := scheduler.RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    40 * time.Millisecond,
	}
	r := router.New(cfg, nil)
	sched := scheduler.New(executor.New(nil), nil, scheduler.WithRetryPolicy(policy))
	return New(r, sched, consensus.New(nil), store, nil)
}

func TestRunStage_Unanimous(t *testing.T) {
	dir := t.TempDir()
	decision := `{"decision": "yes", "confidence": 0.9}`
	cfg := stageConfig(map[string]string{
		"claude": testutil.WriteScript(t, dir, "claude.sh", "printf '%s' '"+decision+"'"),
		"gemini": testutil.WriteScript(t, dir, "gemini.sh", "printf '%s' '"+decision+"'"),
		"codex":  testutil.WriteScript(t, dir, "codex.sh", "printf '%s' '"+decision+"'"),
	})

	report, err := newCoordinator(t, cfg, nil).RunStage(context.Background(), "review", "classify input X")
	if err != nil {
		t.Fatalf("RunStage failed: %v", err)
	}

	if report.Result.Level != consensus.Unanimous {
		t.Errorf("Level = %v, want Unanimous", report.Result.Level)
	}
	if report.Result.Content != "yes" {
		t.Errorf("Content = %q, want yes", report.Result.Content)
	}
	if report.Result.Degraded {
		t.Error("Degraded = true with a healthy roster")
	}
	if len(report.Failures) != 0 {
		t.Errorf("Failures = %v, want none", report.Failures)
	}
	if !report.MeetsThreshold() {
		t.Errorf("score %v below threshold %v", report.Result.Score, report.Threshold)
	}
	if report.RunID == "" {
		t.Error("RunID is empty")
	}
}

func TestRunStage_PartialFailureDegradedUnanimous(t *testing.T) {
	// Roster [claude, gemini, codex]; claude and gemini answer yes with
	// confidence 0.9; codex's executable does not exist.
	dir := t.TempDir()
	decision := `{"decision": "yes", "confidence": 0.9}`
	cfg := stageConfig(map[string]string{
		"claude": testutil.WriteScript(t, dir, "claude.sh", "printf '%s' '"+decision+"'"),
		"gemini": testutil.WriteScript(t, dir, "gemini.sh", "printf '%s' '"+decision+"'"),
		"codex":  filepath.Join(dir, "no-such-binary"),
	})

	report, err := newCoordinator(t, cfg, nil).RunStage(context.Background(), "review", "classify input X")
	if err != nil {
		t.Fatalf("partial failure must not fail the stage: %v", err)
	}

	if report.Result.Level != consensus.Unanimous {
		t.Errorf("Level = %v, want Unanimous over the survivors", report.Result.Level)
	}
	if !report.Result.Degraded {
		t.Error("Degraded = false with a failed roster member")
	}
	if report.Result.Content != "yes" {
		t.Errorf("Content = %q, want yes", report.Result.Content)
	}
	got := report.Result.SortedContributing()
	if len(got) != 2 || got[0] != "claude" || got[1] != "gemini" {
		t.Errorf("Contributing = %v, want [claude gemini]", got)
	}

	if len(report.Failures) != 1 {
		t.Fatalf("Failures = %v, want exactly codex", report.Failures)
	}
	f := report.Failures[0]
	if f.Agent != "codex" {
		t.Errorf("failed agent = %q", f.Agent)
	}
	var execErr *errs.ExecError
	if !errs.As(f.Err, &execErr) || execErr.Kind != errs.KindCommandNotFound {
		t.Errorf("failure = %v, want CommandNotFound", f.Err)
	}
}

func TestRunStage_NoConsensusIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	cfg := stageConfig(map[string]string{
		"claude": testutil.PrintAgent(t, dir, "migrate to postgres"),
		"gemini": testutil.WriteScript(t, dir, "gemini.sh", "printf '%s' 'keep sqlite forever'"),
		"codex":  testutil.WriteScript(t, dir, "codex.sh", "printf '%s' 'rewrite everything'"),
	})

	report, err := newCoordinator(t, cfg, nil).RunStage(context.Background(), "review", "what now")
	if err != nil {
		t.Fatalf("NoConsensus must not fail the stage: %v", err)
	}

	if report.Result.Level != consensus.NoConsensus {
		t.Fatalf("Level = %v, want NoConsensus", report.Result.Level)
	}
	if report.MeetsThreshold() {
		t.Error("MeetsThreshold() = true for a diverged stage")
	}
	// Every competing position is surfaced for a human to choose among.
	for _, agent := range []string{"claude", "gemini", "codex"} {
		if !strings.Contains(report.Result.Content, agent) {
			t.Errorf("Content missing %s's position: %q", agent, report.Result.Content)
		}
	}
}

func TestRunStage_CustomParser(t *testing.T) {
	// Agents wrap their verdict in a prefix the default parser would keep
	// verbatim; the custom parser strips it so the verdicts agree.
	dir := t.TempDir()
	cfg := stageConfig(map[string]string{
		"claude": testutil.WriteScript(t, dir, "claude.sh", "printf '%s' 'VERDICT: approve'"),
		"gemini": testutil.WriteScript(t, dir, "gemini.sh", "printf '%s' 'VERDICT: approve'"),
		"codex":  testutil.WriteScript(t, dir, "codex.sh", "printf '%s' 'VERDICT: approve'"),
	})

	policy := scheduler.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond}
	coord := New(
		router.New(cfg, nil),
		scheduler.New(executor.New(nil), nil, scheduler.WithRetryPolicy(policy)),
		consensus.New(nil),
		nil,
		nil,
		WithParser(func(agent, output string) (consensus.Decision, bool) {
			verdict, ok := strings.CutPrefix(strings.TrimSpace(output), "VERDICT: ")
			if !ok {
				return consensus.Decision{}, false
			}
			return consensus.Decision{Agent: agent, Content: verdict}, true
		}),
	)

	report, err := coord.RunStage(context.Background(), "review", "x")
	if err != nil {
		t.Fatalf("RunStage failed: %v", err)
	}
	if report.Result.Level != consensus.Unanimous {
		t.Errorf("Level = %v, want Unanimous", report.Result.Level)
	}
	if report.Result.Content != "approve" {
		t.Errorf("Content = %q, want approve", report.Result.Content)
	}
}

func TestRunStage_TotalFailure(t *testing.T) {
	dir := t.TempDir()
	cfg := stageConfig(map[string]string{
		"claude": filepath.Join(dir, "missing-a"),
		"gemini": filepath.Join(dir, "missing-b"),
		"codex":  filepath.Join(dir, "missing-c"),
	})

	report, err := newCoordinator(t, cfg, nil).RunStage(context.Background(), "review", "x")
	if err == nil {
		t.Fatal("total failure must fail the stage")
	}
	if !errs.Is(err, errs.ErrStageFailed) {
		t.Errorf("error = %v, want ErrStageFailed", err)
	}
	var stageErr *errs.StageError
	if !errs.As(err, &stageErr) || stageErr.Stage != "review" {
		t.Errorf("error = %v, want StageError for review", err)
	}

	if report == nil {
		t.Fatal("report missing on total failure")
	}
	if !report.Result.TotalFailure() {
		t.Error("TotalFailure() = false")
	}
	if len(report.Failures) != 3 {
		t.Errorf("Failures = %d, want 3", len(report.Failures))
	}
}

func TestRunStage_UnknownStage(t *testing.T) {
	cfg := stageConfig(map[string]string{"claude": "unused"})

	_, err := newCoordinator(t, cfg, nil).RunStage(context.Background(), "ghost", "x")
	if !errs.Is(err, errs.ErrStageNotFound) {
		t.Fatalf("error = %v, want ErrStageNotFound", err)
	}
}

func TestRunStage_Cancellation(t *testing.T) {
	dir := t.TempDir()
	cfg := stageConfig(map[string]string{
		"claude": testutil.SleepAgent(t, dir, 60),
		"gemini": testutil.SleepAgent(t, dir, 60),
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := newCoordinator(t, cfg, nil).RunStage(ctx, "review", "x")
	if err == nil {
		t.Fatal("cancellation must fail the stage")
	}
	if !errs.Is(err, errs.ErrStageCanceled) {
		t.Errorf("error = %v, want ErrStageCanceled", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("cancellation took %v, children not reaped promptly", elapsed)
	}
}

func TestRunStage_RecordsEvidence(t *testing.T) {
	dir := t.TempDir()
	decision := `{"decision": "yes", "confidence": 0.9}`
	cfg := stageConfig(map[string]string{
		"claude": testutil.WriteScript(t, dir, "claude.sh", "printf '%s' '"+decision+"'"),
		"gemini": testutil.WriteScript(t, dir, "gemini.sh", "printf '%s' '"+decision+"'"),
		"codex":  filepath.Join(dir, "no-such-binary"),
	})

	ctx := context.Background()
	store, err := evidence.Open(ctx, filepath.Join(t.TempDir(), "evidence.db"))
	if err != nil {
		t.Fatalf("evidence.Open: %v", err)
	}
	defer store.Close()

	report, err := newCoordinator(t, cfg, store).RunStage(ctx, "review", "classify input X")
	if err != nil {
		t.Fatalf("RunStage failed: %v", err)
	}

	runs, err := store.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d evidence runs, want 1", len(runs))
	}
	sum := runs[0]
	if sum.RunID != report.RunID {
		t.Errorf("evidence RunID = %q, want %q", sum.RunID, report.RunID)
	}
	if sum.Status != evidence.StatusCompleted {
		t.Errorf("Status = %q, want completed", sum.Status)
	}
	if sum.Level != "unanimous" || !sum.Degraded {
		t.Errorf("synthesis = %+v, want degraded unanimous", sum)
	}

	outcomes, err := store.Outcomes(ctx, report.RunID)
	if err != nil {
		t.Fatalf("Outcomes: %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("got %d outcome rows, want 3", len(outcomes))
	}
	byAgent := map[string]evidence.OutcomeRecord{}
	for _, o := range outcomes {
		byAgent[o.Agent] = o
	}
	if byAgent["claude"].Stdout != decision {
		t.Errorf("claude stdout = %q", byAgent["claude"].Stdout)
	}
	if byAgent["codex"].ErrorKind != "command_not_found" {
		t.Errorf("codex error kind = %q", byAgent["codex"].ErrorKind)
	}
}

func TestRunStage_Callbacks(t *testing.T) {
	dir := t.TempDir()
	decision := `{"decision": "yes", "confidence": 0.9}`
	cfg := stageConfig(map[string]string{
		"claude": testutil.WriteScript(t, dir, "claude.sh", "printf '%s' '"+decision+"'"),
		"gemini": filepath.Join(dir, "no-such-binary"),
	})

	coord := newCoordinator(t, cfg, nil)

	// Agent callbacks fire from scheduler goroutines.
	var mu sync.Mutex
	var started, completed, failed []string
	var synthesized *consensus.Result
	coord.SetCallbacks(&CoordinatorCallbacks{
		OnStageStart: func(runID, stage string, roster int) {
			if stage != "review" || roster != 2 {
				t.Errorf("OnStageStart(%q, %d)", stage, roster)
			}
		},
		OnAgentStart: func(agent string, attempt int) {
			mu.Lock()
			started = append(started, agent)
			mu.Unlock()
		},
		OnAgentComplete: func(agent string, _ *executor.AgentOutcome) {
			mu.Lock()
			completed = append(completed, agent)
			mu.Unlock()
		},
		OnAgentFailed: func(agent string, _ error) {
			mu.Lock()
			failed = append(failed, agent)
			mu.Unlock()
		},
		OnSynthesis: func(result consensus.Result) { synthesized = &result },
	})

	if _, err := coord.RunStage(context.Background(), "review", "x"); err != nil {
		t.Fatalf("RunStage failed: %v", err)
	}

	if len(started) != 2 {
		t.Errorf("started = %v, want both agents", started)
	}
	if len(completed) != 1 || completed[0] != "claude" {
		t.Errorf("completed = %v, want [claude]", completed)
	}
	if len(failed) != 1 || failed[0] != "gemini" {
		t.Errorf("failed = %v, want [gemini]", failed)
	}
	if synthesized == nil {
		t.Fatal("OnSynthesis never called")
	}
}
