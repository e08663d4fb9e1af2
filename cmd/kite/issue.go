// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/echoninelabs/kite/internal/issue"
)

func newIssueCommand(app *App) *cobra.Command {
	var style string
	cmd := &cobra.Command{
		Use:   "issue [id]",
		Short: "Explain a known problem",
		Long: `Render the troubleshooting guide for a catalog entry. Without an id,
list every entry. Ids are accepted as "KITE-3" or "3".`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				listIssues(app)
				return nil
			}
			return showIssue(app, args[0], style)
		},
	}
	cmd.Flags().StringVar(&style, "style", "dark", "glamour style: dark, light or notty")
	return cmd
}

// parseIssueID accepts "KITE-<n>" in any case or a bare number.
func parseIssueID(s string) (issue.Id, error) {
	raw := strings.TrimSpace(s)
	if len(raw) > 5 && strings.EqualFold(raw[:5], "kite-") {
		raw = raw[5:]
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid issue id %q", s)
	}
	return issue.Id(n), nil
}

func listIssues(app *App) {
	for _, entry := range issue.Values() {
		fmt.Fprintf(app.stdout, "  %s %s\n", CmdStyle.Render(fmt.Sprintf("KITE-%d", entry.Id())), entry.Title())
	}
}

func showIssue(app *App, raw, style string) error {
	id, err := parseIssueID(raw)
	if err != nil {
		return err
	}
	entry := issue.Get(id)
	if entry == nil {
		return fmt.Errorf("no issue KITE-%d; run 'kite issue' for the list", id)
	}
	out, err := entry.Render(style)
	if err != nil {
		return fmt.Errorf("render issue: %w", err)
	}
	fmt.Fprint(app.stdout, out)
	return nil
}
