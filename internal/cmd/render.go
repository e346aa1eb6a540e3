package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/quorumlabs/quorum/internal/consensus"
	"github.com/quorumlabs/quorum/internal/pipeline"
	"github.com/quorumlabs/quorum/internal/util"
)

func levelBadge(level consensus.AgreementLevel) string {
	switch level {
	case consensus.Unanimous:
		return badgeUnanimous.Render("UNANIMOUS")
	case consensus.Majority:
		return badgeMajority.Render("MAJORITY")
	default:
		return badgeNoConsensus.Render("NO CONSENSUS")
	}
}

// renderReport writes the human-readable stage report.
func renderReport(w io.Writer, report *pipeline.StageReport) {
	fmt.Fprintln(w)

	header := lipgloss.JoinHorizontal(lipgloss.Center,
		levelBadge(report.Result.Level),
		mutedStyle.Render(fmt.Sprintf("  score %.2f / threshold %.2f  %s",
			report.Result.Score, report.Threshold,
			report.Duration.Round(time.Millisecond))))
	fmt.Fprintln(w, header)

	if report.Result.Degraded {
		fmt.Fprintln(w, warnStyle.Render("degraded: one or more agents did not contribute"))
	}

	if report.Result.Content != "" {
		fmt.Fprintln(w, contentBoxStyle.Render(report.Result.Content))
	}

	if contributing := report.Result.SortedContributing(); len(contributing) > 0 {
		fmt.Fprintf(w, "%s %s\n",
			mutedStyle.Render("contributing:"),
			strings.Join(contributing, ", "))
	}

	for _, note := range report.Result.Notes {
		fmt.Fprintf(w, "%s %s\n", mutedStyle.Render("note:"), note)
	}

	renderFailures(w, report.Failures)
}

func renderFailures(w io.Writer, failures []pipeline.AgentFailure) {
	for _, f := range failures {
		line := fmt.Sprintf("%s %s: %v", errorStyle.Render("failed:"), f.Agent, f.Err)
		fmt.Fprintln(w, util.Truncate(line, 160))
		if f.Remediation != "" {
			fmt.Fprintf(w, "  %s\n", mutedStyle.Render(f.Remediation))
		}
	}
}
