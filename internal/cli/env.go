package cli

import (
	"context"
	"io"
	"os"

	"github.com/lucasnoah/nbuild/internal/attest"
	"github.com/lucasnoah/nbuild/internal/collab"
	"github.com/lucasnoah/nbuild/internal/config"
	"github.com/lucasnoah/nbuild/internal/db"
	"github.com/lucasnoah/nbuild/internal/docker"
	"github.com/lucasnoah/nbuild/internal/facts"
	"github.com/lucasnoah/nbuild/internal/gcs"
	"github.com/lucasnoah/nbuild/internal/github"
	"github.com/lucasnoah/nbuild/internal/naisdeploy"
	"github.com/lucasnoah/nbuild/internal/plan"
	"github.com/lucasnoah/nbuild/internal/shell"
)

// Seams replaced by tests.
var (
	getenv                 = os.Getenv
	git    facts.GitRunner = facts.ExecGit{}
)

// loadConfig loads --config, or the project config in the source
// directory, layered over the defaults. It returns the path used.
func loadConfig() (*config.PipelineConfig, string, error) {
	if configPath != "" {
		cfg, err := config.Load(configPath)
		return cfg, configPath, err
	}
	return config.LoadDefault(sourceDir)
}

// prepare loads and validates the config, gathers facts and builds the plan.
func prepare(ctx context.Context, opts plan.Options) (*plan.Plan, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := config.Check(cfg); err != nil {
		return nil, err
	}

	f, err := facts.Gather(ctx, facts.Options{
		Dir:    sourceDir,
		Team:   cfg.Team,
		App:    cfg.App,
		Getenv: getenv,
		Git:    git,
	})
	if err != nil {
		return nil, err
	}
	return plan.Prepare(ctx, cfg, f, opts)
}

// livePorts wires every collaborator to its command-line tool, with
// credentials taken from the gathered facts.
func livePorts(f *facts.Facts, out io.Writer) collab.Ports {
	runner := shell.ExecRunner{}
	containers := &docker.Client{
		Runner: runner,
		Token:  f.Secret(facts.EnvRegistryToken),
		Output: out,
	}
	return collab.Ports{
		Builder:  containers,
		Registry: containers,
		Releases: github.NewClient(&github.ExecRunner{Token: f.Secret(facts.EnvGitHubToken)}, f.Repository),
		CDN:      &gcs.Uploader{Runner: runner, Dir: f.WorkDir},
		Deployer: &naisdeploy.Client{
			Runner:     runner,
			APIKey:     f.Secret(facts.EnvDeployAPIKey),
			Server:     f.Secret(facts.EnvDeployServer),
			Repository: f.Repository,
			Ref:        f.SHA,
			Dir:        f.WorkDir,
			Output:     out,
		},
		Attestor: &attest.Cosign{Runner: runner},
		Host:     &shell.Host{Runner: runner, Output: out},
	}
}

// openHistory opens and migrates the configured run-history store. An
// sqlite store without a DSN lives in the user's home directory.
func openHistory(h config.History) (*db.DB, error) {
	dsn := h.DSN
	if dsn == "" && h.Driver != db.Postgres {
		path, err := db.DefaultDBPath()
		if err != nil {
			return nil, err
		}
		dsn = path
	}
	d, err := db.Open(h.Driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := d.Migrate(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}
