// Package naisdeploy applies resources to clusters with the nais deploy client.
package naisdeploy

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/lucasnoah/nbuild/internal/collab"
	"github.com/lucasnoah/nbuild/internal/failure"
	"github.com/lucasnoah/nbuild/internal/shell"
)

// Client wraps the deploy binary.
type Client struct {
	Runner shell.Runner
	// Binary defaults to "deploy".
	Binary string
	APIKey string
	Server string
	// Repository is "owner/name" and Ref the commit, both reported to the
	// deploy server for traceability.
	Repository string
	Ref        string
	Dir        string
	Output     io.Writer
}

// Deploy implements collab.DeployTool. The API key is passed through the
// environment, never on the command line.
func (c *Client) Deploy(ctx context.Context, req collab.DeployRequest) (string, error) {
	if c.APIKey == "" {
		return "", failure.ForTarget(failure.Deploy, req.Target, fmt.Errorf("no deploy API key in environment"))
	}
	if len(req.Resources) == 0 {
		return "", failure.ForTarget(failure.Deploy, req.Target, fmt.Errorf("no resources to deploy"))
	}

	res, err := shell.Check(ctx, c.Runner, shell.Cmd{
		Dir:    c.Dir,
		Name:   c.binary(),
		Args:   c.args(req),
		Env:    map[string]string{"APIKEY": c.APIKey},
		Output: c.Output,
	})
	if err != nil {
		if shell.LooksTransient(res.Stderr) || shell.LooksTransient(res.Stdout) {
			return "", failure.AsTransient(err)
		}
		return "", err
	}
	return statusLine(res.Stdout, req.Cluster), nil
}

func (c *Client) binary() string {
	if c.Binary != "" {
		return c.Binary
	}
	return "deploy"
}

func (c *Client) args(req collab.DeployRequest) []string {
	args := []string{"--cluster", req.Cluster, "--wait"}
	for _, r := range req.Resources {
		args = append(args, "--resource", r)
	}
	for _, v := range req.VarFiles {
		args = append(args, "--vars", v)
	}
	keys := make([]string, 0, len(req.Vars))
	for k := range req.Vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--var", k+"="+req.Vars[k])
	}
	if c.Server != "" {
		args = append(args, "--deploy-server", c.Server)
	}
	if owner, repo, ok := strings.Cut(c.Repository, "/"); ok {
		args = append(args, "--owner", owner, "--repository", repo)
	}
	if c.Ref != "" {
		args = append(args, "--ref", c.Ref)
	}
	return args
}

func statusLine(out, cluster string) string {
	out = strings.TrimSpace(out)
	if out == "" {
		return "deployed to " + cluster
	}
	if i := strings.LastIndex(out, "\n"); i >= 0 {
		return strings.TrimSpace(out[i+1:])
	}
	return out
}
