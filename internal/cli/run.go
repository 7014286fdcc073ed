package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/nbuild/internal/collab"
	"github.com/lucasnoah/nbuild/internal/config"
	"github.com/lucasnoah/nbuild/internal/ctxlog"
	"github.com/lucasnoah/nbuild/internal/pipeline"
	"github.com/lucasnoah/nbuild/internal/plan"
)

type runOptions struct {
	auto       bool
	dockerfile string
	dryRun     bool
	resultFile string
	record     bool
}

var (
	runOpts   runOptions
	buildOpts runOptions
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Build and publish; with --auto, deploy as the branch allows",
	Long: `Run the pipeline for the current branch.

Without --auto the run stops after publishing. With --auto it goes as far
as the branch rules allow, including deploys.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		maxStage := config.OutputRelease
		if runOpts.auto {
			maxStage = ""
		}
		return runPipeline(cmd, runOpts, maxStage)
	},
}

var autoCmd = &cobra.Command{
	Use:   "auto",
	Short: "Run the full pipeline unattended (same as run --auto)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := runOpts
		opts.auto = true
		return runPipeline(cmd, opts, "")
	},
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Run the build stage only",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd, buildOpts, config.OutputBuild)
	},
}

func runPipeline(cmd *cobra.Command, opts runOptions, maxStage string) error {
	ctx := cmd.Context()
	log := ctxlog.FromContext(ctx)

	p, err := prepare(ctx, plan.Options{Dockerfile: opts.dockerfile, MaxStage: maxStage})
	if err != nil {
		return err
	}

	ports := livePorts(p.Facts, cmd.ErrOrStderr())
	if opts.dryRun {
		ports = (&collab.Recorder{}).Ports()
		fmt.Fprintln(cmd.OutOrStdout(), "dry run: no commands will be executed")
	}

	exec := pipeline.NewExecutor(ports, p.Config.Execution)
	exec.SetProgress(cmd.ErrOrStderr())
	res := exec.Run(ctx, p)
	res.WriteSummary(cmd.OutOrStdout())

	if opts.resultFile != "" {
		if err := pipeline.WriteReport(opts.resultFile, res); err != nil {
			return err
		}
	}

	// Dry runs are recorded only on request.
	if opts.record || (p.Config.History.Enabled && !opts.dryRun) {
		if err := recordRun(cmd, p.Config.History, res.Snapshot()); err != nil {
			log.Warn("could not record run history", "error", err)
		}
	}
	return res.Err()
}

func recordRun(cmd *cobra.Command, h config.History, rep pipeline.Report) error {
	d, err := openHistory(h)
	if err != nil {
		return err
	}
	defer d.Close()

	id, err := d.RecordRun(cmd.Context(), rep)
	if err != nil {
		return err
	}
	ctxlog.FromContext(cmd.Context()).Info("recorded run", "id", id)
	return nil
}

func addRunFlags(cmd *cobra.Command, opts *runOptions) {
	cmd.Flags().StringVar(&opts.dockerfile, "dockerfile", "", "use this Dockerfile instead of the synthesized one")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "plan and report without running any command")
	cmd.Flags().StringVar(&opts.resultFile, "result-file", "", "write the run result as JSON to this path")
	cmd.Flags().BoolVar(&opts.record, "record", false, "record the run in the history store")
}

func init() {
	addRunFlags(runCmd, &runOpts)
	runCmd.Flags().BoolVar(&runOpts.auto, "auto", false, "run unattended up to the branch's output stage, including deploys")
	addRunFlags(autoCmd, &runOpts)

	buildCmd.Flags().StringVar(&buildOpts.dockerfile, "dockerfile", "", "use this Dockerfile instead of the synthesized one")
	buildCmd.Flags().BoolVar(&buildOpts.dryRun, "dry-run", false, "plan and report without running any command")
}
