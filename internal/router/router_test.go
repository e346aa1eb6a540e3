package router

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/quorumlabs/quorum/internal/config"
	errs "github.com/quorumlabs/quorum/internal/errors"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Stages["triage"] = config.StageConfig{
		Agents:         []string{"claude", "gemini"},
		Threshold:      0.75,
		PromptTemplate: "Stage {{.Stage}}: {{.Input}}",
	}
	return cfg
}

func TestResolve(t *testing.T) {
	r := New(testConfig(), nil)

	run, err := r.Resolve("review", "classify input X")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if run.RunID == "" {
		t.Error("RunID is empty")
	}
	if run.Stage != "review" {
		t.Errorf("Stage = %q", run.Stage)
	}
	if run.Threshold != 0.60 {
		t.Errorf("Threshold = %f, want 0.60", run.Threshold)
	}
	if len(run.Tasks) != 3 {
		t.Fatalf("got %d tasks, want 3", len(run.Tasks))
	}

	for i, want := range []string{"claude", "gemini", "codex"} {
		task := run.Tasks[i]
		if task.Agent != want {
			t.Errorf("task %d agent = %q, want %q (roster order)", i, task.Agent, want)
		}
		if task.Command == "" {
			t.Errorf("task %d has no command", i)
		}
		if task.Payload != "classify input X" {
			t.Errorf("task %d payload = %q", i, task.Payload)
		}
		if task.Timeout != 300*time.Second {
			t.Errorf("task %d timeout = %v, want 300s", i, task.Timeout)
		}
		if task.Provider == nil {
			t.Errorf("task %d has no provider", i)
		}
	}
}

func TestResolve_RunIDsAreUnique(t *testing.T) {
	r := New(testConfig(), nil)

	first, err := r.Resolve("review", "x")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	second, err := r.Resolve("review", "x")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if first.RunID == second.RunID {
		t.Errorf("two runs share RunID %q", first.RunID)
	}
}

func TestResolve_UnknownStage(t *testing.T) {
	r := New(testConfig(), nil)

	_, err := r.Resolve("nonexistent", "x")
	if !errs.Is(err, errs.ErrStageNotFound) {
		t.Fatalf("error = %v, want ErrStageNotFound", err)
	}
	if !strings.Contains(err.Error(), "review") {
		t.Errorf("error %q should list the available stages", err)
	}
}

func TestResolve_PromptTemplate(t *testing.T) {
	r := New(testConfig(), nil)

	run, err := r.Resolve("triage", "the bug report")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	want := "Stage triage: the bug report"
	for _, task := range run.Tasks {
		if task.Payload != want {
			t.Errorf("payload = %q, want %q", task.Payload, want)
		}
	}
	if run.Threshold != 0.75 {
		t.Errorf("Threshold = %f, want 0.75", run.Threshold)
	}
}

func TestResolve_BadPromptTemplate(t *testing.T) {
	cfg := testConfig()
	stage := cfg.Stages["triage"]
	stage.PromptTemplate = "{{.Input"
	cfg.Stages["triage"] = stage

	_, err := New(cfg, nil).Resolve("triage", "x")
	if err == nil {
		t.Fatal("expected template parse error")
	}
}

func TestResolve_DisabledAgentSkipped(t *testing.T) {
	cfg := testConfig()
	gemini := cfg.Agents["gemini"]
	gemini.Disabled = true
	cfg.Agents["gemini"] = gemini

	run, err := New(cfg, nil).Resolve("review", "x")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(run.Tasks) != 2 {
		t.Fatalf("got %d tasks, want 2 with gemini disabled", len(run.Tasks))
	}
	for _, task := range run.Tasks {
		if task.Agent == "gemini" {
			t.Error("disabled agent present in roster")
		}
	}
}

func TestResolve_AllAgentsDisabled(t *testing.T) {
	cfg := testConfig()
	for name, a := range cfg.Agents {
		a.Disabled = true
		cfg.Agents[name] = a
	}

	_, err := New(cfg, nil).Resolve("review", "x")
	if !errs.Is(err, errs.ErrEmptyRoster) {
		t.Fatalf("error = %v, want ErrEmptyRoster", err)
	}
}

func TestResolve_UnconfiguredAgentInRoster(t *testing.T) {
	cfg := testConfig()
	cfg.Stages["broken"] = config.StageConfig{Agents: []string{"claude", "phantom"}}

	_, err := New(cfg, nil).Resolve("broken", "x")
	if !errs.Is(err, errs.ErrAgentNotConfigured) {
		t.Fatalf("error = %v, want ErrAgentNotConfigured", err)
	}
}

func TestResolve_CommandAndArgsOverride(t *testing.T) {
	cfg := testConfig()
	claude := cfg.Agents["claude"]
	claude.Command = "/opt/claude/bin/claude"
	claude.Args = []string{"--profile", "ci"}
	cfg.Agents["claude"] = claude

	run, err := New(cfg, nil).Resolve("review", "x")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	task := run.Tasks[0]
	if task.Command != "/opt/claude/bin/claude" {
		t.Errorf("Command = %q, override not honored", task.Command)
	}
	if len(task.Args) != 2 || task.Args[0] != "--profile" {
		t.Errorf("Args = %v, override not honored", task.Args)
	}
}

func TestResolve_StageEnvOverridesAgentEnv(t *testing.T) {
	cfg := testConfig()
	claude := cfg.Agents["claude"]
	claude.Env = map[string]string{"MODEL": "agent-default", "AGENT_ONLY": "kept"}
	cfg.Agents["claude"] = claude
	stage := cfg.Stages["triage"]
	stage.Env = map[string]string{"MODEL": "stage-override", "STAGE_ONLY": "added"}
	cfg.Stages["triage"] = stage

	run, err := New(cfg, nil).Resolve("triage", "x")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	env := run.Tasks[0].Env
	if env["MODEL"] != "stage-override" {
		t.Errorf("MODEL = %q, want stage-override", env["MODEL"])
	}
	if env["AGENT_ONLY"] != "kept" {
		t.Errorf("AGENT_ONLY = %q, want kept", env["AGENT_ONLY"])
	}
	if env["STAGE_ONLY"] != "added" {
		t.Errorf("STAGE_ONLY = %q, want added", env["STAGE_ONLY"])
	}

	// gemini has no agent env; it still sees the stage env
	if got := run.Tasks[1].Env["STAGE_ONLY"]; got != "added" {
		t.Errorf("gemini STAGE_ONLY = %q, want added", got)
	}
}

func TestStages(t *testing.T) {
	got := New(testConfig(), nil).Stages()
	want := []string{"review", "triage"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Stages() = %v, want %v (sorted)", got, want)
	}
}

func TestReload(t *testing.T) {
	r := New(testConfig(), nil)

	updated := config.Default()
	updated.Stages = map[string]config.StageConfig{
		"audit": {Agents: []string{"claude"}, Threshold: 0.9},
	}
	r.Reload(updated)

	if _, err := r.Resolve("review", "x"); !errs.Is(err, errs.ErrStageNotFound) {
		t.Errorf("old stage still resolvable after reload: %v", err)
	}
	run, err := r.Resolve("audit", "x")
	if err != nil {
		t.Fatalf("new stage not resolvable: %v", err)
	}
	if run.Threshold != 0.9 {
		t.Errorf("Threshold = %f, want 0.9", run.Threshold)
	}
}

func TestConfigWatcher(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("stages:\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := New(testConfig(), nil)
	reloaded := make(chan *config.Config, 1)

	load := func() (*config.Config, error) {
		cfg := config.Default()
		cfg.Stages = map[string]config.StageConfig{
			"fresh": {Agents: []string{"claude"}, Threshold: 0.5},
		}
		return cfg, nil
	}
	w, err := NewConfigWatcher(r, path, load, func(cfg *config.Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	}, nil)
	if err != nil {
		t.Fatalf("NewConfigWatcher: %v", err)
	}
	w.Start()
	defer w.Stop()

	if err := os.WriteFile(path, []byte("stages: {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never reloaded after config write")
	}

	if _, err := r.Resolve("fresh", "x"); err != nil {
		t.Errorf("router did not pick up reloaded stages: %v", err)
	}
}
