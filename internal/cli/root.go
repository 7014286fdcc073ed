package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/nbuild/internal/ctxlog"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var (
	sourceDir  string
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "nb",
	Short: "nb: a declarative build, release and deploy pipeline",
	Long: `nb turns a small declarative config into a build, release and deploy
pipeline for a repository.

Configuration is read from nb.yaml, nb.yml or nb.toml in the source
directory and layered over built-in defaults. The current branch decides
how far the pipeline goes and which deploy profiles apply.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger := ctxlog.New(logLevel, logFormat, cmd.ErrOrStderr())
		cmd.SetContext(ctxlog.WithLogger(cmd.Context(), logger))
		return nil
	},
}

// Execute runs the root command under ctx.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&sourceDir, "source-directory", "s", ".", "repository to build")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: nb.yaml in the source directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text or json")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(autoCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(dockerfileCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(defaultConfigCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(historyCmd)
}
