// Package shell runs external programs for the collaborator adapters.
package shell

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
)

// Cmd describes one program invocation.
type Cmd struct {
	Dir   string
	Name  string
	Args  []string
	Env   map[string]string
	Stdin io.Reader
	// Output, when set, also receives stdout and stderr as they are written.
	Output io.Writer
}

func (c Cmd) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result holds a finished command's output.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner abstracts command execution for testability. A non-zero exit is
// reported through Result.ExitCode, not as an error; errors mean the
// program could not run or the context ended.
type Runner interface {
	Run(ctx context.Context, c Cmd) (Result, error)
}

// ExecRunner implements Runner with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, c Cmd) (Result, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdin = c.Stdin
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), envList(c.Env)...)
	}

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf
	if c.Output != nil {
		cmd.Stdout = io.MultiWriter(&stdoutBuf, c.Output)
		cmd.Stderr = io.MultiWriter(&stderrBuf, c.Output)
	}

	err := cmd.Run()
	res := Result{Stdout: stdoutBuf.String(), Stderr: stderrBuf.String()}
	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1
		return res, ctxErr
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		res.ExitCode = -1
		return res, fmt.Errorf("exec %s: %w", c.Name, err)
	}
	return res, nil
}

// ExitError reports a command that ran and exited non-zero.
type ExitError struct {
	Cmd      string
	ExitCode int
	Stderr   string
	Stdout   string
}

// Error names the last stderr line, or the last stdout line for tools
// such as BuildKit that report step failures on stdout.
func (e *ExitError) Error() string {
	msg := lastLine(e.Stderr)
	if msg == "" {
		msg = lastLine(e.Stdout)
	}
	if msg == "" {
		return fmt.Sprintf("%s: exit status %d", e.Cmd, e.ExitCode)
	}
	return fmt.Sprintf("%s: exit status %d: %s", e.Cmd, e.ExitCode, msg)
}

// Check runs c and turns a non-zero exit into an *ExitError.
func Check(ctx context.Context, r Runner, c Cmd) (Result, error) {
	res, err := r.Run(ctx, c)
	if err != nil {
		return res, err
	}
	if res.ExitCode != 0 {
		return res, &ExitError{Cmd: c.Name, ExitCode: res.ExitCode, Stderr: res.Stderr, Stdout: res.Stdout}
	}
	return res, nil
}

// Script runs a shell command line through sh -c.
func Script(dir, command string, env map[string]string) Cmd {
	return Cmd{Dir: dir, Name: "sh", Args: []string{"-c", command}, Env: env}
}

// transientMarkers are output fragments that indicate a network or
// registry-side problem rather than a problem with the build itself.
var transientMarkers = []string{
	"i/o timeout",
	"connection reset",
	"connection refused",
	"tls handshake timeout",
	"temporary failure in name resolution",
	"no such host",
	"unexpected eof",
	"too many requests",
	"toomanyrequests",
	"service unavailable",
	"502 bad gateway",
	"503 service",
	"504 gateway",
	"rate limit",
}

// LooksTransient reports whether command output points at a retryable
// network or service failure.
func LooksTransient(output string) bool {
	lower := strings.ToLower(output)
	for _, m := range transientMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k + "=" + env[k]
	}
	return out
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "\n"); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
