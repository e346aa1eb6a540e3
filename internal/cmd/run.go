package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/quorumlabs/quorum/internal/config"
	"github.com/quorumlabs/quorum/internal/consensus"
	"github.com/quorumlabs/quorum/internal/evidence"
	"github.com/quorumlabs/quorum/internal/executor"
	"github.com/quorumlabs/quorum/internal/logging"
	"github.com/quorumlabs/quorum/internal/pipeline"
	"github.com/quorumlabs/quorum/internal/router"
	"github.com/quorumlabs/quorum/internal/scheduler"
	"github.com/quorumlabs/quorum/internal/util"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <stage> [input...]",
	Short: "Run a stage across its agent roster",
	Long: `Run a stage: fan the input out to every agent in the stage's roster,
wait for their answers, and synthesize a consensus decision.

The input is the remaining arguments joined with spaces. With no input
arguments, the input is read from stdin, so you can pipe a prompt in:

  git diff | quorum run review "does this change look safe?"
  quorum run review < prompt.txt`,
	Args:          cobra.MinimumNArgs(1),
	RunE:          runRun,
	SilenceUsage:  true,
	SilenceErrors: false,
}

var (
	runJSON        bool
	runQuiet       bool
	runEvidenceDir string
)

func init() {
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the result as JSON")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "suppress per-agent progress output")
	runCmd.Flags().StringVar(&runEvidenceDir, "evidence-dir", "", "record evidence under this directory (overrides config)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	stage := args[0]
	input, err := gatherInput(args[1:], cmd.InOrStdin())
	if err != nil {
		return err
	}
	if strings.TrimSpace(input) == "" {
		return fmt.Errorf("no input: pass it as arguments or pipe it on stdin")
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}
	if runEvidenceDir != "" {
		cfg.Evidence.Enabled = true
		cfg.Evidence.Dir = runEvidenceDir
	}
	baseDir := cfg.Evidence.ResolveDir(cwd)

	logger, err := openLogger(cfg, baseDir)
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store *evidence.Store
	if cfg.Evidence.Enabled {
		store, err = evidence.Open(ctx, filepath.Join(baseDir, "evidence.db"))
		if err != nil {
			return fmt.Errorf("failed to open evidence store: %w", err)
		}
		defer store.Close()
	}

	coord := buildCoordinator(cfg, logger, store)
	if !runQuiet && !runJSON {
		coord.SetCallbacks(progressCallbacks(cmd.ErrOrStderr()))
	}

	report, err := coord.RunStage(ctx, stage, input)
	if err != nil {
		if report != nil && !runJSON {
			renderFailures(cmd.ErrOrStderr(), report.Failures)
		}
		return err
	}

	if runJSON {
		return writeReportJSON(cmd.OutOrStdout(), report)
	}
	renderReport(cmd.OutOrStdout(), report)

	if !report.MeetsThreshold() {
		return fmt.Errorf("agreement score %.2f is below the stage threshold %.2f",
			report.Result.Score, report.Threshold)
	}
	return nil
}

func gatherInput(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read input from stdin: %w", err)
	}
	return string(data), nil
}

func openLogger(cfg *config.Config, baseDir string) (*logging.Logger, error) {
	if !cfg.Logging.Enabled {
		return logging.NopLogger(), nil
	}
	path := cfg.Logging.File
	if path == "" {
		path = filepath.Join(baseDir, "quorum.log")
	}
	logger, err := logging.NewLogger(path, cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return logger, nil
}

func buildCoordinator(cfg *config.Config, logger *logging.Logger, store *evidence.Store) *pipeline.Coordinator {
	policy := scheduler.RetryPolicy{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		BaseDelay:      cfg.Retry.BaseDelay(),
		MaxDelay:       cfg.Retry.MaxDelay(),
		JitterFraction: cfg.Retry.JitterFraction,
	}
	sched := scheduler.New(executor.New(logger), logger,
		scheduler.WithRetryPolicy(policy),
		scheduler.WithMaxWorkers(cfg.Scheduler.MaxWorkers))
	return pipeline.New(router.New(cfg, logger), sched, consensus.New(logger), store, logger)
}

func progressCallbacks(w io.Writer) *pipeline.CoordinatorCallbacks {
	return &pipeline.CoordinatorCallbacks{
		OnStageStart: func(runID, stage string, roster int) {
			fmt.Fprintf(w, "%s %s\n",
				titleStyle.Render("Running stage "+stage),
				mutedStyle.Render(fmt.Sprintf("(%d agents, run %s)", roster, runID)))
		},
		OnAgentStart: func(agent string, attempt int) {
			if attempt == 1 {
				fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("->"), agent)
			}
		},
		OnAgentRetry: func(agent string, attempt int, delay time.Duration, err error) {
			fmt.Fprintf(w, "  %s %s attempt %d failed, retrying in %s: %s\n",
				warnStyle.Render("~~"), agent, attempt, delay.Round(time.Millisecond),
				util.Ellipsize(err.Error(), 120))
		},
		OnAgentComplete: func(agent string, outcome *executor.AgentOutcome) {
			fmt.Fprintf(w, "  %s %s %s\n", okStyle.Render("ok"), agent,
				mutedStyle.Render(outcome.Duration.Round(time.Millisecond).String()))
		},
		OnAgentFailed: func(agent string, err error) {
			fmt.Fprintf(w, "  %s %s: %v\n", errorStyle.Render("!!"), agent, err)
		},
	}
}

func writeReportJSON(w io.Writer, report *pipeline.StageReport) error {
	out := struct {
		RunID        string   `json:"run_id"`
		Stage        string   `json:"stage"`
		Level        string   `json:"level"`
		Score        float64  `json:"score"`
		Threshold    float64  `json:"threshold"`
		MetThreshold bool     `json:"met_threshold"`
		Degraded     bool     `json:"degraded"`
		Content      string   `json:"content"`
		Contributing []string `json:"contributing"`
		Notes        []string `json:"notes,omitempty"`
		Failures     []string `json:"failures,omitempty"`
		DurationMs   int64    `json:"duration_ms"`
	}{
		RunID:        report.RunID,
		Stage:        report.Stage,
		Level:        report.Result.Level.String(),
		Score:        report.Result.Score,
		Threshold:    report.Threshold,
		MetThreshold: report.MeetsThreshold(),
		Degraded:     report.Result.Degraded,
		Content:      report.Result.Content,
		Contributing: report.Result.SortedContributing(),
		Notes:        report.Result.Notes,
		DurationMs:   report.Duration.Milliseconds(),
	}
	for _, f := range report.Failures {
		out.Failures = append(out.Failures, fmt.Sprintf("%s: %v", f.Agent, f.Err))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
