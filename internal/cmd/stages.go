package cmd

import (
	"fmt"
	"sort"

	"github.com/quorumlabs/quorum/internal/config"
	"github.com/quorumlabs/quorum/internal/util"
	"github.com/spf13/cobra"
)

var stagesCmd = &cobra.Command{
	Use:   "stages",
	Short: "List configured stages",
	Long: `List every configured stage with its agent roster and agreement
threshold. Stages come from the config file; without one, the built-in
"review" stage is available.`,
	RunE: runStages,
}

func init() {
	rootCmd.AddCommand(stagesCmd)
}

func runStages(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	names := make([]string, 0, len(cfg.Stages))
	for name := range cfg.Stages {
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No stages configured")
		return nil
	}

	w := cmd.OutOrStdout()
	for _, name := range names {
		stage := cfg.Stages[name]
		fmt.Fprintf(w, "%s %s\n",
			titleStyle.Render(name),
			mutedStyle.Render(fmt.Sprintf("(threshold %.2f)", stage.Threshold)))

		for _, agent := range stage.Agents {
			ac, ok := cfg.Agents[agent]
			switch {
			case !ok:
				fmt.Fprintf(w, "  %s %s\n", agent, errorStyle.Render("(not configured)"))
			case ac.Disabled:
				fmt.Fprintf(w, "  %s %s\n", agent, mutedStyle.Render("(disabled)"))
			default:
				fmt.Fprintf(w, "  %s\n", agent)
			}
		}
		if stage.PromptTemplate != "" {
			fmt.Fprintf(w, "  %s %s\n",
				mutedStyle.Render("template:"),
				util.FirstLine(stage.PromptTemplate))
		}
		fmt.Fprintln(w)
	}
	return nil
}
