// Package facts gathers the read-only facts a run is built from: branch,
// commit, timestamps, identity and collaborator credentials.
package facts

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/lucasnoah/nbuild/internal/appmeta"
	"github.com/lucasnoah/nbuild/internal/ctxlog"
	"github.com/lucasnoah/nbuild/internal/tag"
)

// Credential environment variables passed through to collaborators.
const (
	EnvDeployAPIKey  = "NAIS_DEPLOY_APIKEY"
	EnvDeployServer  = "NAIS_DEPLOY_SERVER"
	EnvRegistryToken = "NB_REGISTRY_TOKEN"
	EnvGitHubToken   = "GITHUB_TOKEN"
)

var passthrough = []string{EnvDeployAPIKey, EnvDeployServer, EnvRegistryToken, EnvGitHubToken}

// Facts is the execution context of one run. It is built once and never
// modified afterwards.
type Facts struct {
	Branch         string            `json:"branch"`
	SHA            string            `json:"sha"`
	ShortSHA       string            `json:"short_sha"`
	Date           string            `json:"date"`
	Time           string            `json:"time"`
	Started        time.Time         `json:"started"`
	Team           string            `json:"team"`
	App            string            `json:"app"`
	WorkDir        string            `json:"workdir"`
	ReleaseCounter string            `json:"release_counter"`
	Repository     string            `json:"repository,omitempty"`
	Actor          string            `json:"actor,omitempty"`
	Manifest       string            `json:"manifest,omitempty"`
	Env            map[string]string `json:"-"`
}

// Vars returns the fixed tag placeholders.
func (f *Facts) Vars() tag.Vars {
	return tag.Vars{
		tag.Date:    f.Date,
		tag.Time:    f.Time,
		tag.SHA:     f.ShortSHA,
		tag.Team:    f.Team,
		tag.App:     f.App,
		tag.Counter: f.ReleaseCounter,
	}
}

// Secret returns a credential captured at gather time.
func (f *Facts) Secret(name string) string {
	return f.Env[name]
}

// GitRunner reads repository state.
type GitRunner interface {
	Branch(dir string) (string, error)
	Head(dir string) (string, error)
}

// ExecGit implements GitRunner by calling git.
type ExecGit struct{}

func (ExecGit) Branch(dir string) (string, error) {
	return runGit(dir, "rev-parse", "--abbrev-ref", "HEAD")
}

func (ExecGit) Head(dir string) (string, error) {
	return runGit(dir, "rev-parse", "HEAD")
}

func runGit(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// Options controls Gather. Team and App come from the config and win over
// the NAIS manifest.
type Options struct {
	Dir    string
	Team   string
	App    string
	Branch string
	Now    time.Time
	Getenv func(string) string
	Git    GitRunner
}

// Gather collects facts from CI environment variables, falling back to git
// and the NAIS manifest.
func Gather(ctx context.Context, opts Options) (*Facts, error) {
	log := ctxlog.FromContext(ctx)
	getenv := opts.Getenv
	if getenv == nil {
		getenv = func(string) string { return "" }
	}
	git := opts.Git
	if git == nil {
		git = ExecGit{}
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve source directory: %w", err)
	}

	f := &Facts{
		Date:           now.Format("2006-01-02"),
		Time:           now.Format("150405"),
		Started:        now,
		WorkDir:        dir,
		Team:           opts.Team,
		App:            opts.App,
		ReleaseCounter: firstNonEmpty(getenv("GITHUB_RUN_NUMBER"), "0"),
		Repository:     getenv("GITHUB_REPOSITORY"),
		Actor:          getenv("GITHUB_ACTOR"),
		Env:            make(map[string]string),
	}
	for _, k := range passthrough {
		if v := getenv(k); v != "" {
			f.Env[k] = v
		}
	}

	f.Branch = firstNonEmpty(opts.Branch, getenv("GITHUB_HEAD_REF"), getenv("GITHUB_REF_NAME"))
	if f.Branch == "" {
		b, err := git.Branch(dir)
		if err != nil {
			return nil, fmt.Errorf("determine branch: %w", err)
		}
		f.Branch = b
	}

	f.SHA = getenv("GITHUB_SHA")
	if f.SHA == "" {
		sha, err := git.Head(dir)
		if err != nil {
			return nil, fmt.Errorf("determine commit: %w", err)
		}
		f.SHA = sha
	}
	f.ShortSHA = f.SHA
	if len(f.ShortSHA) > 7 {
		f.ShortSHA = f.ShortSHA[:7]
	}

	if md, err := appmeta.Detect(dir); err == nil {
		f.Manifest = md.Path
		f.App = firstNonEmpty(f.App, md.App)
		f.Team = firstNonEmpty(f.Team, md.Team)
	} else {
		log.Debug("no nais manifest", "dir", dir, "error", err)
	}
	if f.App == "" {
		f.App = filepath.Base(dir)
	}

	log.Debug("gathered facts", "branch", f.Branch, "sha", f.ShortSHA, "team", f.Team, "app", f.App)
	return f, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
