package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/nbuild/internal/config"
	"github.com/lucasnoah/nbuild/internal/failure"
	"github.com/lucasnoah/nbuild/internal/plan"
)

var dockerfilePath string

var dockerfileCmd = &cobra.Command{
	Use:   "dockerfile [target]",
	Short: "Print the Dockerfile and image name of each docker target",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := prepare(cmd.Context(), plan.Options{Dockerfile: dockerfilePath, MaxStage: config.OutputBuild})
		if err != nil {
			return err
		}

		targets := p.Docker()
		if len(args) == 1 {
			t, ok := p.Targets[args[0]]
			if !ok || t.Kind != config.KindDocker {
				return failure.Newf(failure.Config, "no docker target named %q", args[0])
			}
			targets = []*plan.Target{t}
		}

		out := cmd.OutOrStdout()
		for i, t := range targets {
			if i > 0 {
				fmt.Fprintln(out)
			}
			fmt.Fprintf(out, "# target: %s\n# image:  %s\n", t.Name, t.Image)
			if t.UserDockerfile != "" {
				fmt.Fprintf(out, "# source: %s\n", t.UserDockerfile)
			}
			fmt.Fprint(out, t.Dockerfile)
		}
		return nil
	},
}

func init() {
	dockerfileCmd.Flags().StringVar(&dockerfilePath, "dockerfile", "", "show this Dockerfile instead of the synthesized one")
}
