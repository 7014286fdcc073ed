package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/nbuild/internal/plan"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate config, branch rules, SDKs, templates and the target graph",
	Long: `Check prepares the pipeline exactly as a run would and prints the
resulting plan. Nothing is built, pushed or deployed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := prepare(cmd.Context(), plan.Options{})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		d := p.Decision
		fmt.Fprintf(out, "branch:   %s\n", d.Branch)
		fmt.Fprintf(out, "matched:  %s\n", strings.Join(d.Matched, ", "))
		fmt.Fprintf(out, "output:   %s\n", p.Output)
		if len(d.Deploy) > 0 {
			fmt.Fprintf(out, "deploy:   %s (parallel: %t)\n", strings.Join(d.Deploy, ", "), d.Parallel)
		}
		fmt.Fprintln(out)

		fmt.Fprintf(out, "%-20s %-8s %-10s %-6s %s\n", "TARGET", "STAGE", "KIND", "LAYER", "DETAIL")
		fmt.Fprintf(out, "%-20s %-8s %-10s %-6s %s\n",
			strings.Repeat("─", 20), strings.Repeat("─", 8), strings.Repeat("─", 10), strings.Repeat("─", 6), strings.Repeat("─", 30))
		for _, layer := range p.Graph.Layers() {
			for _, name := range layer {
				t := p.Targets[name]
				selected := ""
				if !p.Selected(t.Stage) {
					selected = " (not selected)"
				}
				fmt.Fprintf(out, "%-20s %-8s %-10s %-6d %s%s\n", t.Name, t.Stage, t.Kind, t.Layer, detail(t), selected)
			}
		}

		fmt.Fprintln(out, "\nConfiguration is valid.")
		return nil
	},
}

func detail(t *plan.Target) string {
	switch {
	case t.Image != "":
		return t.Image
	case t.Release != nil:
		return "release " + t.Release.Tag
	case t.Destination != "":
		return t.Destination
	case len(t.Resources) > 0:
		return strings.Join(t.Resources, ", ")
	case len(t.Artifacts) > 0:
		return strings.Join(t.Artifacts, ", ")
	}
	return ""
}
