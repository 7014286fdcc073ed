package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	historyLimit int
	pruneKeep    int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded pipeline runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		d, err := openHistory(cfg.History)
		if err != nil {
			return err
		}
		defer d.Close()

		runs, err := d.ListRuns(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(runs) == 0 {
			fmt.Fprintln(out, "No runs recorded.")
			return nil
		}
		fmt.Fprintf(out, "%-6s %-24s %-9s %-10s %-8s %-10s %s\n", "ID", "BRANCH", "SHA", "STATE", "OUTPUT", "VERDICT", "STARTED")
		fmt.Fprintf(out, "%-6s %-24s %-9s %-10s %-8s %-10s %s\n",
			strings.Repeat("─", 6), strings.Repeat("─", 24), strings.Repeat("─", 9), strings.Repeat("─", 10),
			strings.Repeat("─", 8), strings.Repeat("─", 10), strings.Repeat("─", 20))
		for _, r := range runs {
			sha := r.SHA
			if len(sha) > 7 {
				sha = sha[:7]
			}
			fmt.Fprintf(out, "%-6d %-24s %-9s %-10s %-8s %-10s %s\n", r.ID, r.Branch, sha, r.State, r.Output, r.Verdict, r.StartedAt)
		}
		return nil
	},
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete all but the most recent runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		d, err := openHistory(cfg.History)
		if err != nil {
			return err
		}
		defer d.Close()

		n, err := d.PruneRuns(cmd.Context(), pruneKeep)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d run(s).\n", n)
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to show")
	historyPruneCmd.Flags().IntVar(&pruneKeep, "keep", 100, "number of runs to keep")
	historyCmd.AddCommand(historyPruneCmd)
}
