package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/quorumlabs/quorum/internal/config"
	"github.com/quorumlabs/quorum/internal/evidence"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded runs",
	Long: `List runs recorded in the evidence store, newest first. Each line
shows the run ID, stage, status, agreement level, and score.`,
	RunE: runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show every agent's outcome for a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyExportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Export a run as a JSONL artifact",
	Long: `Export one run's evidence as JSONL: a run line, one line per agent
outcome, and a synthesis line when one was recorded. Written to stdout
unless --out is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runHistoryExport,
}

var (
	historyLimit int
	exportOut    string
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum number of runs to list")
	historyExportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "write the artifact to this file instead of stdout")
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyExportCmd)
	rootCmd.AddCommand(historyCmd)
}

func openStore(cmd *cobra.Command) (*evidence.Store, error) {
	cfg := config.Get()
	if !cfg.Evidence.Enabled {
		return nil, fmt.Errorf("evidence recording is disabled; enable it with evidence.enabled in %s", config.ConfigFile())
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	dbPath := filepath.Join(cfg.Evidence.ResolveDir(cwd), "evidence.db")
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("no evidence store at %s: run a stage first", dbPath)
	}
	return evidence.Open(cmd.Context(), dbPath)
}

func runHistory(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No recorded runs")
		return nil
	}

	w := cmd.OutOrStdout()
	for _, run := range runs {
		level := run.Level
		if level == "" {
			level = "-"
		}
		degraded := ""
		if run.Degraded {
			degraded = warnStyle.Render(" degraded")
		}
		fmt.Fprintf(w, "%s  %-12s %-10s %-13s %.2f%s  %s\n",
			run.RunID,
			run.Stage,
			statusStyle(run.Status).Render(run.Status),
			level,
			run.Score,
			degraded,
			mutedStyle.Render(run.Started.Local().Format("2006-01-02 15:04:05")))
	}
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	outcomes, err := store.Outcomes(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if len(outcomes) == 0 {
		return fmt.Errorf("no outcomes recorded for run %s", args[0])
	}

	w := cmd.OutOrStdout()
	for _, o := range outcomes {
		fmt.Fprintf(w, "%s %s\n",
			titleStyle.Render(o.Agent),
			mutedStyle.Render(fmt.Sprintf("(%d attempt(s), %s)",
				o.Attempts, time.Duration(o.DurationMs)*time.Millisecond)))
		if o.Error != "" {
			fmt.Fprintf(w, "  %s %s: %s\n", errorStyle.Render("error"), o.ErrorKind, o.Error)
		} else {
			fmt.Fprintf(w, "  exit %d\n", o.ExitCode)
		}
		if o.Stdout != "" {
			fmt.Fprintln(w, contentBoxStyle.Render(o.Stdout))
		}
		if o.Stderr != "" {
			fmt.Fprintf(w, "  %s\n%s\n", mutedStyle.Render("stderr:"), o.Stderr)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func runHistoryExport(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	var w io.Writer = cmd.OutOrStdout()
	if exportOut != "" {
		f, err := os.Create(exportOut)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", exportOut, err)
		}
		defer f.Close()
		w = f
	}
	return store.ExportRun(cmd.Context(), args[0], w)
}

func statusStyle(status string) lipgloss.Style {
	switch status {
	case evidence.StatusCompleted:
		return okStyle
	case evidence.StatusFailed, evidence.StatusCanceled:
		return errorStyle
	default:
		return warnStyle
	}
}
