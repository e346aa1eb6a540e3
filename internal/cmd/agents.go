package cmd

import (
	"fmt"
	"sort"

	"github.com/quorumlabs/quorum/internal/agent"
	"github.com/quorumlabs/quorum/internal/config"
	"github.com/spf13/cobra"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List configured agents",
	Long: `List every configured agent with its provider, command, mode, and
timeout. With --check, also verify that each agent's executable can be
found on PATH and print install guidance for the ones that cannot.`,
	RunE: runAgents,
}

var agentsCheck bool

func init() {
	agentsCmd.Flags().BoolVar(&agentsCheck, "check", false, "check that each agent's executable is on PATH")
	rootCmd.AddCommand(agentsCmd)
}

func runAgents(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	names := make([]string, 0, len(cfg.Agents))
	for name := range cfg.Agents {
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No agents configured")
		return nil
	}

	w := cmd.OutOrStdout()
	missing := 0
	for _, name := range names {
		ac := cfg.Agents[name]
		provider, err := agent.New(ac.Provider)
		if err != nil {
			fmt.Fprintf(w, "%s %s\n", titleStyle.Render(name), errorStyle.Render(err.Error()))
			continue
		}

		command := ac.Command
		if command == "" {
			command = provider.DefaultCommand()
		}

		status := ""
		if ac.Disabled {
			status = mutedStyle.Render(" disabled")
		}
		fmt.Fprintf(w, "%s%s\n", titleStyle.Render(name), status)
		fmt.Fprintf(w, "  provider: %s\n", provider.DisplayName())
		fmt.Fprintf(w, "  command:  %s\n", command)
		fmt.Fprintf(w, "  mode:     %s\n", ac.Mode)
		fmt.Fprintf(w, "  timeout:  %s\n", ac.Timeout())

		if agentsCheck {
			if agent.Available(command) {
				fmt.Fprintf(w, "  status:   %s\n", okStyle.Render("available"))
			} else {
				missing++
				fmt.Fprintf(w, "  status:   %s\n", errorStyle.Render("not found on PATH"))
				fmt.Fprintf(w, "  %s\n", mutedStyle.Render(provider.InstallHint()))
			}
		}
		fmt.Fprintln(w)
	}

	if agentsCheck && missing > 0 {
		return fmt.Errorf("%d agent(s) unavailable", missing)
	}
	return nil
}
