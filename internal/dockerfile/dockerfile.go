// Package dockerfile synthesizes multi-stage Dockerfiles for docker build
// targets. Output depends only on Params, so printing a Dockerfile and
// building from it always agree.
package dockerfile

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/lucasnoah/nbuild/internal/sdk"
	"github.com/lucasnoah/nbuild/internal/tag"
)

// Input is an artifact produced by one of the target's input targets.
// Docker inputs are copied out of their image; binary and directory inputs
// are copied from the build context.
type Input struct {
	Target string
	Kind   string
	Image  string
	Paths  []string
}

// Params is everything that shapes one target's Dockerfile.
type Params struct {
	Target     string
	SDK        sdk.Definition
	Outputs    []sdk.Output
	Copy       []string
	Env        map[string]string
	Ports      []int
	User       string
	Group      string
	PreScript  string
	PostScript string
	Build      string
	Test       string
	Lint       string
	Entrypoint []string
	Inputs     []Input
}

// Synthesize renders the Dockerfile for p.
func Synthesize(p Params) (string, error) {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format+"\n", args...)
	}

	runtimeImage := p.SDK.RuntimeImage
	if runtimeImage == "" {
		runtimeImage = sdk.DefaultRuntimeImage
	}

	line("# Dockerfile generated by nb for target %s", p.Target)
	line("")
	line("#")
	line("# Builder image")
	line("#")
	line("FROM %s AS builder", p.SDK.BuilderImage)
	for _, k := range sortedKeys(p.SDK.Env) {
		line("ENV %s=%s", k, quoteEnv(p.SDK.Env[k]))
	}
	line("WORKDIR /src")

	if len(p.SDK.CacheFiles) > 0 {
		line("")
		line("# Dependencies first, so they stay cached until the manifests change.")
		line("COPY %s /src/", strings.Join(p.SDK.CacheFiles, " "))
		if p.SDK.Prepare != "" {
			line("RUN %s", p.SDK.Prepare)
		}
	}

	copies := p.Copy
	if len(copies) == 0 {
		copies = []string{"."}
	}
	for _, c := range copies {
		if c == "." {
			line("COPY . /src")
			continue
		}
		line("COPY %s %s", c, path.Join("/src", c))
	}
	line("RUN mkdir -p /build")

	if p.PreScript != "" {
		line("")
		line("# Pre-build script")
		line("RUN %s", p.PreScript)
	}

	lint := firstNonEmpty(p.Lint, p.SDK.Lint)
	test := firstNonEmpty(p.Test, p.SDK.Test)
	if lint != "" || test != "" {
		line("")
	}
	if lint != "" {
		line("RUN %s", lint)
	}
	if test != "" {
		line("RUN %s", test)
	}

	build := firstNonEmpty(p.Build, p.SDK.Build)
	if build != "" {
		line("")
		line("# Build %s", outputNames(p.Outputs))
		cmds, err := buildCommands(build, p.Outputs)
		if err != nil {
			return "", fmt.Errorf("target %s: %w", p.Target, err)
		}
		for _, c := range cmds {
			line("RUN %s", c)
		}
	}

	if p.PostScript != "" {
		line("")
		line("# Post-build script")
		line("RUN %s", p.PostScript)
	}

	line("")
	line("#")
	line("# Runtime image")
	line("#")
	line("FROM %s", runtimeImage)
	line("WORKDIR /app")
	for _, o := range p.Outputs {
		line("COPY --from=builder /build/%s /app/%s", o.Name, o.Name)
	}
	for _, in := range p.Inputs {
		for _, src := range in.Paths {
			dst := path.Join("/app", path.Base(src))
			if in.Image != "" {
				line("COPY --from=%s %s %s", in.Image, src, dst)
			} else {
				line("COPY %s %s", src, dst)
			}
		}
	}

	env := p.Env
	for _, k := range sortedKeys(env) {
		line("ENV %s=%s", k, quoteEnv(env[k]))
	}
	ports := p.Ports
	if len(ports) == 0 {
		ports = p.SDK.Ports
	}
	for _, port := range dedupePorts(ports) {
		line("EXPOSE %d", port)
	}

	user := firstNonEmpty(p.User, p.SDK.User)
	group := firstNonEmpty(p.Group, p.SDK.Group)
	switch {
	case user != "" && group != "":
		line("USER %s:%s", user, group)
	case user != "":
		line("USER %s", user)
	}

	switch {
	case len(p.Entrypoint) > 0:
		line("ENTRYPOINT %s", execForm(p.Entrypoint))
	case len(p.Outputs) == 1 && len(p.SDK.Cmd) > 0:
		cmd := make([]string, len(p.SDK.Cmd))
		for i, arg := range p.SDK.Cmd {
			s, err := tag.Render(arg, tag.Vars{"output": p.Outputs[0].Name})
			if err != nil {
				return "", fmt.Errorf("target %s: %w", p.Target, err)
			}
			cmd[i] = s
		}
		line("CMD %s", execForm(cmd))
	case len(p.Outputs) > 1:
		line("# Default CMD omitted due to multiple outputs")
	}

	return b.String(), nil
}

// buildCommands renders the build template once per output. A template
// without {{output}} builds everything in one command.
func buildCommands(tmpl string, outputs []sdk.Output) ([]string, error) {
	perOutput := false
	for _, name := range tag.Placeholders(tmpl) {
		if name == "output" || name == "source" {
			perOutput = true
		}
	}
	if !perOutput {
		return []string{tmpl}, nil
	}

	cmds := make([]string, 0, len(outputs))
	for _, o := range outputs {
		c, err := tag.Render(tmpl, tag.Vars{"output": o.Name, "source": o.Source})
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, c)
	}
	return cmds, nil
}

func outputNames(outputs []sdk.Output) string {
	names := make([]string, len(outputs))
	for i, o := range outputs {
		names[i] = o.Name
	}
	return strings.Join(names, ", ")
}

func execForm(args []string) string {
	data, _ := json.Marshal(args)
	return string(data)
}

// quoteEnv quotes values that the Dockerfile parser would otherwise split.
func quoteEnv(v string) string {
	if v == "" || strings.ContainsAny(v, " \t\"'$\\") {
		return fmt.Sprintf("%q", v)
	}
	return v
}

func dedupePorts(ports []int) []int {
	seen := make(map[int]bool)
	var out []int
	for _, p := range ports {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
