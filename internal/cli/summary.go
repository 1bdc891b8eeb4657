package cli

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/report"
)

var (
	actionStyle = lipgloss.NewStyle().Bold(true)
	detailStyle = lipgloss.NewStyle().Faint(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// printSummary renders the human-readable run summary for terminals. The
// machine formats stay on --output / --report-file.
func printSummary(cmd *cobra.Command, rep *report.Report) {
	w := cmd.OutOrStdout()

	mode := "applied"
	if rep.DryRun {
		mode = "dry-run"
	}

	for _, a := range rep.Actions {
		line := fmt.Sprintf("%s %s", actionStyle.Render(string(a.Kind)), a.Path)
		if a.Detail != "" {
			line += " " + detailStyle.Render("("+a.Detail+")")
		}

		mustN(fmt.Fprintln(w, line))

		if a.Diff != "" {
			mustN(fmt.Fprintln(w, detailStyle.Render(a.Diff)))
		}
	}

	for _, e := range rep.Errors {
		line := errorStyle.Render("error") + " " + e.Message
		if e.Path != "" {
			line += " " + e.Path
		}
		if e.Detail != "" {
			line += " " + detailStyle.Render("("+e.Detail+")")
		}

		mustN(fmt.Fprintln(w, line))
	}

	mustN(fmt.Fprintf(w, "%s (%s): %s\n", rep.Profile, mode, rep.Summary))
}
