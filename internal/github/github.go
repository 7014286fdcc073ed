// Package github creates releases on GitHub through the gh CLI.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/lucasnoah/nbuild/internal/collab"
	"github.com/lucasnoah/nbuild/internal/failure"
	"github.com/lucasnoah/nbuild/internal/shell"
)

// CmdRunner provides command execution. Interface for testing.
type CmdRunner interface {
	Run(ctx context.Context, args ...string) (string, error)
}

// ExecRunner runs gh commands via exec.
type ExecRunner struct {
	// Token, when set, is passed to gh as GH_TOKEN.
	Token string
}

func (r *ExecRunner) Run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "gh", args...)
	if r.Token != "" {
		cmd.Env = append(os.Environ(), "GH_TOKEN="+r.Token)
	}
	out, err := cmd.CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return text, ctxErr
		}
		return text, fmt.Errorf("gh %s: %s: %w", args[0], text, err)
	}
	return text, nil
}

// Client provides GitHub release operations.
type Client struct {
	cmd  CmdRunner
	repo string
}

// NewClient creates a GitHub client. repo is "owner/name"; empty means the
// repository gh infers from the working directory.
func NewClient(cmd CmdRunner, repo string) *Client {
	return &Client{cmd: cmd, repo: repo}
}

// ValidateTag checks that a release tag is usable on the command line.
func ValidateTag(tag string) error {
	if tag == "" {
		return errors.New("release tag is empty")
	}
	if strings.HasPrefix(tag, "-") {
		return fmt.Errorf("invalid release tag %q: must not start with -", tag)
	}
	if strings.ContainsAny(tag, " \t\n") {
		return fmt.Errorf("invalid release tag %q: must not contain whitespace", tag)
	}
	return nil
}

// FindRelease returns the URL of an existing release for tag, or "" when
// there is none.
func (c *Client) FindRelease(ctx context.Context, tag string) (string, error) {
	out, err := c.cmd.Run(ctx, c.withRepo("release", "view", tag, "--json", "url")...)
	if err != nil {
		if strings.Contains(out, "release not found") || strings.Contains(out, "Not Found") {
			return "", nil
		}
		return "", c.classify(fmt.Errorf("find release %s: %w", tag, err), out)
	}

	var view struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		return "", fmt.Errorf("parse release JSON: %w", err)
	}
	return view.URL, nil
}

// CreateRelease implements collab.ReleaseHost. A release that already
// exists for the tag is returned as is, so a retried attempt does not fail
// on its own earlier success.
func (c *Client) CreateRelease(ctx context.Context, r collab.Release) (string, error) {
	if err := ValidateTag(r.Tag); err != nil {
		return "", failure.ForTarget(failure.Template, r.Target, err)
	}

	if url, err := c.FindRelease(ctx, r.Tag); err != nil {
		return "", err
	} else if url != "" {
		return url, nil
	}

	args := []string{"release", "create", r.Tag}
	args = append(args, r.Assets...)
	title := r.Title
	if title == "" {
		title = r.Tag
	}
	args = append(args, "--title", title)
	if r.Notes != "" {
		args = append(args, "--notes", r.Notes)
	} else {
		args = append(args, "--generate-notes")
	}

	out, err := c.cmd.Run(ctx, c.withRepo(args...)...)
	if err != nil {
		return "", c.classify(fmt.Errorf("create release %s: %w", r.Tag, err), out)
	}
	return lastLine(out), nil
}

func (c *Client) withRepo(args ...string) []string {
	if c.repo == "" {
		return args
	}
	return append(args, "--repo", c.repo)
}

func (c *Client) classify(err error, out string) error {
	if shell.LooksTransient(out) || shell.LooksTransient(err.Error()) {
		return failure.AsTransient(err)
	}
	return err
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "\n"); i >= 0 {
		return s[i+1:]
	}
	return s
}
