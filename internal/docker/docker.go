// Package docker builds and pushes images with the docker CLI.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/lucasnoah/nbuild/internal/collab"
	"github.com/lucasnoah/nbuild/internal/ctxlog"
	"github.com/lucasnoah/nbuild/internal/failure"
	"github.com/lucasnoah/nbuild/internal/imagename"
	"github.com/lucasnoah/nbuild/internal/shell"
)

// Client talks to the local docker daemon through the CLI.
type Client struct {
	Runner shell.Runner
	// Binary defaults to "docker".
	Binary string
	// Token, when set, is used to log in to the image's registry before a push.
	Token string
	// Username for the registry login; GAR expects oauth2accesstoken.
	Username string
	Output   io.Writer
}

func (c *Client) binary() string {
	if c.Binary != "" {
		return c.Binary
	}
	return "docker"
}

// Build implements collab.ContainerBuilder. The Dockerfile is fed on stdin
// so nothing is written into the build context.
func (c *Client) Build(ctx context.Context, spec collab.BuildSpec) (string, error) {
	cmd := shell.Cmd{
		Dir:    spec.ContextDir,
		Name:   c.binary(),
		Args:   []string{"build", "--file", "-", "--tag", spec.Image, "."},
		Stdin:  strings.NewReader(spec.Dockerfile),
		Output: c.Output,
	}
	ctxlog.FromContext(ctx).Debug("docker build", "target", spec.Target, "image", spec.Image)

	res, err := shell.Check(ctx, c.Runner, cmd)
	if err != nil {
		return "", classifyBuild(err, res)
	}
	return spec.Image, nil
}

var digestRe = regexp.MustCompile(`digest:\s+(sha256:[a-f0-9]{64})`)

// Push implements collab.Registry.
func (c *Client) Push(ctx context.Context, image string) (digest.Digest, error) {
	if c.Token != "" {
		host, err := c.login(ctx, image)
		if err != nil {
			return "", err
		}
		defer c.logout(ctx, host)
	}

	res, err := shell.Check(ctx, c.Runner, shell.Cmd{
		Name:   c.binary(),
		Args:   []string{"push", image},
		Output: c.Output,
	})
	if err != nil {
		return "", classify(err, res)
	}
	return ParseDigest(res.Stdout)
}

func (c *Client) login(ctx context.Context, image string) (string, error) {
	host, err := imagename.Domain(image)
	if err != nil {
		return "", err
	}
	user := c.Username
	if user == "" {
		user = "oauth2accesstoken"
	}
	res, err := shell.Check(ctx, c.Runner, shell.Cmd{
		Name:  c.binary(),
		Args:  []string{"login", "--username", user, "--password-stdin", host},
		Stdin: strings.NewReader(c.Token),
	})
	if err != nil {
		return "", fmt.Errorf("registry login %s: %w", host, classify(err, res))
	}
	return host, nil
}

func (c *Client) logout(ctx context.Context, host string) {
	if _, err := shell.Check(context.WithoutCancel(ctx), c.Runner, shell.Cmd{Name: c.binary(), Args: []string{"logout", host}}); err != nil {
		ctxlog.FromContext(ctx).Warn("registry logout failed", "registry", host, "error", err)
	}
}

// ParseDigest extracts the manifest digest from docker push output.
func ParseDigest(output string) (digest.Digest, error) {
	m := digestRe.FindAllStringSubmatch(output, -1)
	if len(m) == 0 {
		return "", fmt.Errorf("no digest in push output")
	}
	d, err := digest.Parse(m[len(m)-1][1])
	if err != nil {
		return "", fmt.Errorf("parse digest: %w", err)
	}
	return d, nil
}

func classify(err error, res shell.Result) error {
	if failure.KindOf(err) == failure.Timeout || failure.KindOf(err) == failure.Cancelled {
		return err
	}
	if shell.LooksTransient(res.Stderr) || shell.LooksTransient(res.Stdout) {
		return failure.AsTransient(err)
	}
	return err
}

// daemonMarkers identify failures raised by the daemon or a registry
// before any RUN step executes, such as resolving or pulling a base image.
var daemonMarkers = []string{
	"cannot connect to the docker daemon",
	"error during connect",
	"failed to resolve source metadata",
	"error pulling image",
	"failed to fetch anonymous token",
	"failed to copy:",
}

// classifyBuild keeps a non-zero docker build exit deterministic. RUN step
// output is part of the build log and may contain network errors of its
// own, so only daemon or registry lines count as transient.
func classifyBuild(err error, res shell.Result) error {
	if k := failure.KindOf(err); k == failure.Timeout || k == failure.Cancelled {
		return err
	}
	var exitErr *shell.ExitError
	if !errors.As(err, &exitErr) {
		if errors.Is(err, exec.ErrNotFound) {
			return err
		}
		return failure.AsTransient(err)
	}
	if daemonFailure(res.Stderr) || daemonFailure(res.Stdout) {
		return failure.AsTransient(err)
	}
	return err
}

func daemonFailure(output string) bool {
	for _, line := range strings.Split(strings.ToLower(output), "\n") {
		if strings.Contains(line, "did not complete successfully") {
			continue
		}
		for _, m := range daemonMarkers {
			if !strings.Contains(line, m) {
				continue
			}
			if m == "cannot connect to the docker daemon" || m == "error during connect" || shell.LooksTransient(line) {
				return true
			}
		}
	}
	return false
}
