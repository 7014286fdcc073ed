// Package plan runs the prepare phase: every decision and every generated
// artifact a run needs, computed before any collaborator is touched.
package plan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/lucasnoah/nbuild/internal/branch"
	"github.com/lucasnoah/nbuild/internal/collab"
	"github.com/lucasnoah/nbuild/internal/config"
	"github.com/lucasnoah/nbuild/internal/ctxlog"
	"github.com/lucasnoah/nbuild/internal/deploy"
	"github.com/lucasnoah/nbuild/internal/dockerfile"
	"github.com/lucasnoah/nbuild/internal/facts"
	"github.com/lucasnoah/nbuild/internal/failure"
	"github.com/lucasnoah/nbuild/internal/graph"
	"github.com/lucasnoah/nbuild/internal/imagename"
	"github.com/lucasnoah/nbuild/internal/sdk"
	"github.com/lucasnoah/nbuild/internal/tag"
)

// Options adjust one prepare run.
type Options struct {
	// Dockerfile replaces the synthesized Dockerfile of every docker target.
	Dockerfile string
	// MaxStage caps the decision's output stage; empty means no cap.
	MaxStage string
}

// Target is one fully resolved target.
type Target struct {
	Name   string      `json:"name"`
	Stage  graph.Stage `json:"stage"`
	Kind   string      `json:"kind"`
	Inputs []string    `json:"inputs,omitempty"`
	Layer  int         `json:"layer"`

	// Build targets.
	SDK            string            `json:"sdk,omitempty"`
	Outputs        []sdk.Output      `json:"outputs,omitempty"`
	Image          string            `json:"image,omitempty"`
	Dockerfile     string            `json:"-"`
	UserDockerfile string            `json:"user_dockerfile,omitempty"`
	Command        string            `json:"command,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	Artifacts      []string          `json:"artifacts,omitempty"`

	// Publish targets.
	Release     *collab.Release `json:"release,omitempty"`
	Destination string          `json:"destination,omitempty"`

	// Deploy targets.
	Resources []string          `json:"resources,omitempty"`
	Vars      map[string]string `json:"vars,omitempty"`
}

// Plan is the immutable input of one execution.
type Plan struct {
	Facts    *facts.Facts           `json:"facts"`
	Decision *branch.Decision       `json:"decision"`
	Output   string                 `json:"output"`
	Deploys  []deploy.Expansion     `json:"deploys,omitempty"`
	Targets  map[string]*Target     `json:"targets"`
	Graph    *graph.Graph           `json:"-"`
	Config   *config.PipelineConfig `json:"-"`
}

// Selected reports whether targets of stage run under the plan's output.
func (p *Plan) Selected(stage graph.Stage) bool {
	switch stage {
	case graph.StageBuild:
		return branch.StageRank(p.Output) >= branch.StageRank(config.OutputBuild)
	case graph.StagePublish:
		return branch.StageRank(p.Output) >= branch.StageRank(config.OutputRelease)
	case graph.StageDeploy:
		return branch.StageRank(p.Output) >= branch.StageRank(config.OutputDeploy)
	}
	return false
}

// Docker returns the docker build targets in name order.
func (p *Plan) Docker() []*Target {
	var out []*Target
	for _, name := range p.Graph.Names() {
		if t := p.Targets[name]; t.Stage == graph.StageBuild && t.Kind == config.KindDocker {
			out = append(out, t)
		}
	}
	return out
}

// Prepare resolves cfg against f. Every configuration, graph, SDK and
// template problem surfaces here as a classified error.
func Prepare(ctx context.Context, cfg *config.PipelineConfig, f *facts.Facts, opts Options) (*Plan, error) {
	log := ctxlog.FromContext(ctx)

	decision, err := branch.Resolve(cfg.Branch, f.Branch, cfg.Profile)
	if err != nil {
		return nil, err
	}
	output := decision.Output
	if opts.MaxStage != "" && branch.StageRank(opts.MaxStage) < branch.StageRank(output) {
		output = opts.MaxStage
	}
	log.Info("branch decision", "branch", f.Branch, "output", decision.Output, "stage", output, "matched", decision.Matched)

	deploys, err := deploy.Resolve(decision.Deploy, cfg.Profile)
	if err != nil {
		return nil, err
	}

	p := &Plan{
		Facts:    f,
		Decision: decision,
		Output:   output,
		Deploys:  deploys,
		Targets:  make(map[string]*Target),
		Config:   cfg,
	}

	if err := p.resolveBuilds(cfg); err != nil {
		return nil, err
	}

	g, err := graph.Build(graph.FromConfig(cfg))
	if err != nil {
		return nil, err
	}
	p.Graph = g

	vars := f.Vars().With(decision.Captures)
	if err := p.nameImages(cfg, vars); err != nil {
		return nil, err
	}
	if err := p.resolvePublishes(cfg, vars); err != nil {
		return nil, err
	}
	if err := p.resolveDeploys(cfg, vars); err != nil {
		return nil, err
	}

	for _, name := range g.Names() {
		n, _ := g.Node(name)
		t := p.Targets[name]
		t.Layer = n.Layer
		t.Inputs = n.Inputs
	}

	if err := p.dockerfiles(cfg, opts); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Plan) resolveBuilds(cfg *config.PipelineConfig) error {
	catalog := sdk.NewCatalog(cfg.Sdk)
	root := p.Facts.WorkDir

	for _, name := range sortedKeys(cfg.Build) {
		bt := cfg.Build[name]
		t := &Target{Name: name, Stage: graph.StageBuild, Kind: bt.Kind, Command: bt.Command, Env: bt.Env}
		p.Targets[name] = t

		switch bt.Kind {
		case config.KindDocker:
			def, err := catalog.Resolve(root, firstNonEmpty(bt.Sdk, cfg.Sdk.Override))
			if err != nil {
				return fmt.Errorf("target %s: %w", name, err)
			}
			t.SDK = def.ID
			outs, err := def.Outputs(root, p.Facts.App, bt.Outputs)
			if err != nil {
				return failure.ForTarget(failure.SdkDetection, name, err)
			}
			t.Outputs = outs

		case config.KindBinary:
			declared := bt.Outputs
			if len(declared) == 0 {
				def, err := catalog.Resolve(root, firstNonEmpty(bt.Sdk, cfg.Sdk.Override))
				if err != nil {
					return fmt.Errorf("target %s: %w", name, err)
				}
				t.SDK = def.ID
				outs, err := def.Outputs(root, p.Facts.App, nil)
				if err != nil {
					return failure.ForTarget(failure.SdkDetection, name, err)
				}
				for _, o := range outs {
					declared = append(declared, path.Join("bin", o.Name))
				}
			}
			t.Artifacts = declared

		case config.KindDirectory:
			t.Artifacts = bt.Outputs
			if len(t.Artifacts) == 0 {
				t.Artifacts = []string{name}
			}
		}
	}
	return nil
}

func (p *Plan) nameImages(cfg *config.PipelineConfig, vars tag.Vars) error {
	var docker []string
	for _, name := range sortedKeys(cfg.Build) {
		if cfg.Build[name].Kind == config.KindDocker {
			docker = append(docker, name)
		}
	}

	primary := primaryImage(docker, p.Facts.App)
	owners := make(map[string]string, len(docker))
	for _, name := range docker {
		bt := cfg.Build[name]
		rendered, err := tag.Render(bt.Tag, vars)
		if err != nil {
			return failure.ForTarget(failure.Template, name, err)
		}
		image, err := imagename.Build(imagename.Spec{
			Release: cfg.Release,
			Team:    p.Facts.Team,
			App:     p.Facts.App,
			Target:  name,
			Primary: name == primary,
			Prefix:  p.Decision.NamePrefix,
			Tag:     rendered,
		})
		if err != nil {
			return fmt.Errorf("target %s: %w", name, err)
		}
		if other, ok := owners[image]; ok {
			return failure.ForTarget(failure.Config, name,
				fmt.Errorf("image %s is also produced by target %s", image, other))
		}
		owners[image] = name
		p.Targets[name].Image = image
	}
	return nil
}

// primaryImage picks the one docker target that is published under the
// bare application name: the target named after the app, then "app", then
// a lone docker target.
func primaryImage(docker []string, app string) string {
	for _, want := range []string{app, "app"} {
		for _, name := range docker {
			if want != "" && name == want {
				return name
			}
		}
	}
	if len(docker) == 1 {
		return docker[0]
	}
	return ""
}

func (p *Plan) resolvePublishes(cfg *config.PipelineConfig, vars tag.Vars) error {
	for _, name := range sortedKeys(cfg.Publish) {
		pt := cfg.Publish[name]
		t := &Target{Name: name, Stage: graph.StagePublish, Kind: pt.Kind}
		p.Targets[name] = t

		rendered, err := renderAll(pt.Vars, vars)
		if err != nil {
			return failure.ForTarget(failure.Template, name, err)
		}
		t.Vars = rendered

		switch pt.Kind {
		case config.PublishRelease:
			tagName := rendered["name"]
			if tagName == "" {
				if tagName, err = tag.Render(config.DefaultTag, vars); err != nil {
					return failure.ForTarget(failure.Template, name, err)
				}
			}
			t.Release = &collab.Release{
				Target: name,
				Tag:    tagName,
				Title:  rendered["title"],
				Notes:  rendered["notes"],
				Assets: p.artifactsOf(pt.Inputs),
			}
		case config.PublishCDN:
			dest, err := tag.Render(pt.Destination, vars)
			if err != nil {
				return failure.ForTarget(failure.Template, name, err)
			}
			t.Destination = dest
			t.Artifacts = p.artifactsOf(pt.Inputs)
		}
	}
	return nil
}

func (p *Plan) resolveDeploys(cfg *config.PipelineConfig, vars tag.Vars) error {
	for _, name := range sortedKeys(cfg.Deploy) {
		dt := cfg.Deploy[name]
		t := &Target{Name: name, Stage: graph.StageDeploy, Kind: "deploy"}
		p.Targets[name] = t

		rendered, err := renderAll(dt.Vars, vars)
		if err != nil {
			return failure.ForTarget(failure.Template, name, err)
		}
		t.Vars = rendered

		t.Resources = dt.Resources
		if len(t.Resources) == 0 && p.Facts.Manifest != "" {
			t.Resources = []string{relTo(p.Facts.WorkDir, p.Facts.Manifest)}
		}
		if len(t.Resources) == 0 && p.Selected(graph.StageDeploy) {
			return failure.ForTarget(failure.Config, name, errors.New("no resources declared and no nais manifest found"))
		}
	}
	return nil
}

func (p *Plan) dockerfiles(cfg *config.PipelineConfig, opts Options) error {
	catalog := sdk.NewCatalog(cfg.Sdk)

	for _, t := range p.Docker() {
		bt := cfg.Build[t.Name]

		if src := firstNonEmpty(opts.Dockerfile, bt.Dockerfile); src != "" {
			full := src
			if !filepath.IsAbs(full) {
				full = filepath.Join(p.Facts.WorkDir, src)
			}
			data, err := os.ReadFile(full)
			if err != nil {
				return failure.ForTarget(failure.Config, t.Name, fmt.Errorf("reading dockerfile: %w", err))
			}
			t.Dockerfile = string(data)
			t.UserDockerfile = src
			continue
		}

		def, _ := catalog.Get(t.SDK)
		params := dockerfile.Params{
			Target:     t.Name,
			SDK:        def,
			Outputs:    t.Outputs,
			Copy:       bt.Copy,
			Env:        bt.Env,
			Ports:      bt.Ports,
			User:       bt.User,
			Group:      bt.Group,
			PreScript:  bt.PreScript,
			PostScript: bt.PostScript,
			Build:      bt.BuildCmd,
			Test:       bt.TestCmd,
			Lint:       bt.LintCmd,
			Entrypoint: bt.Entrypoint,
		}
		for _, in := range t.Inputs {
			params.Inputs = append(params.Inputs, p.dockerInput(in))
		}

		text, err := dockerfile.Synthesize(params)
		if err != nil {
			return failure.ForTarget(failure.Template, t.Name, err)
		}
		t.Dockerfile = text
	}
	return nil
}

func (p *Plan) dockerInput(name string) dockerfile.Input {
	in := p.Targets[name]
	if in.Kind == config.KindDocker {
		paths := make([]string, len(in.Outputs))
		for i, o := range in.Outputs {
			paths[i] = "/app/" + o.Name
		}
		return dockerfile.Input{Target: name, Kind: in.Kind, Image: in.Image, Paths: paths}
	}
	return dockerfile.Input{Target: name, Kind: in.Kind, Paths: in.Artifacts}
}

// Images returns the image references of the docker targets among names.
func (p *Plan) Images(names []string) []string {
	var out []string
	for _, n := range names {
		if t := p.Targets[n]; t != nil && t.Image != "" {
			out = append(out, t.Image)
		}
	}
	return out
}

func (p *Plan) artifactsOf(names []string) []string {
	var out []string
	for _, n := range names {
		if t := p.Targets[n]; t != nil {
			out = append(out, t.Artifacts...)
		}
	}
	return out
}

func renderAll(m map[string]string, vars tag.Vars) (map[string]string, error) {
	if len(m) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(m))
	for _, k := range sortedKeys(m) {
		v, err := tag.Render(m[k], vars)
		if err != nil {
			return nil, fmt.Errorf("var %s: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

func relTo(base, target string) string {
	if rel, err := filepath.Rel(base, target); err == nil {
		return rel
	}
	return target
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
