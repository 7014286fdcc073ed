// Package branch turns the ordered branch rules of a config into the one
// effective decision for the branch being built.
package branch

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/lucasnoah/nbuild/internal/config"
	"github.com/lucasnoah/nbuild/internal/failure"
	"github.com/lucasnoah/nbuild/internal/tag"
)

// Decision is the merged, branch-scoped configuration for one run.
type Decision struct {
	Branch     string            `json:"branch"`
	Output     string            `json:"output"`
	Deploy     []string          `json:"deploy,omitempty"`
	NamePrefix string            `json:"name_prefix,omitempty"`
	Parallel   bool              `json:"parallel"`
	Matched    []string          `json:"matched"`
	Captures   map[string]string `json:"captures,omitempty"`
}

// Reaches reports whether the decision's output stage includes stage.
func (d *Decision) Reaches(stage string) bool {
	return StageRank(d.Output) >= StageRank(stage)
}

// StageRank orders output stages: build < release < deploy.
func StageRank(stage string) int {
	switch stage {
	case config.OutputBuild:
		return 1
	case config.OutputRelease:
		return 2
	case config.OutputDeploy:
		return 3
	}
	return 0
}

// Resolve evaluates every rule in declaration order against name. Each
// matching rule overwrites the fields it sets; list fields are replaced,
// never appended. Captures of the last matching rule are then substituted
// into the name prefix. Every deploy profile the decision names must exist
// in profiles.
func Resolve(rules config.BranchRules, name string, profiles map[string]config.DeployProfile) (*Decision, error) {
	d := &Decision{Branch: name, Output: config.OutputBuild}
	var prefixTmpl string

	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, failure.New(failure.Config, fmt.Errorf("branch pattern %q: %w", r.Pattern, err))
		}
		m := re.FindStringSubmatch(name)
		if m == nil {
			continue
		}

		d.Matched = append(d.Matched, r.Pattern)
		d.Captures = captures(re, m)
		if r.Output != nil {
			d.Output = *r.Output
		}
		if r.Deploy != nil {
			d.Deploy = append([]string(nil), (*r.Deploy)...)
		}
		if r.NamePrefix != nil {
			prefixTmpl = *r.NamePrefix
		}
		if r.Parallel != nil {
			d.Parallel = *r.Parallel
		}
	}

	if len(d.Matched) == 0 {
		return nil, failure.Newf(failure.Config, "no branch rule matches %q", name)
	}

	for _, p := range d.Deploy {
		if _, ok := profiles[p]; !ok {
			return nil, failure.Newf(failure.Config, "branch %q: deploy profile %q is not defined", name, p)
		}
	}

	if prefixTmpl != "" {
		prefix, err := tag.Render(prefixTmpl, tag.Vars(d.Captures))
		if err != nil {
			return nil, fmt.Errorf("branch %q name_prefix: %w", name, err)
		}
		d.NamePrefix = prefix
	}
	return d, nil
}

// captures exposes numbered groups as "1", "2", ... and named groups by name.
// Groups that did not participate in the match are present and empty.
func captures(re *regexp.Regexp, m []string) map[string]string {
	out := make(map[string]string, len(m))
	for i, name := range re.SubexpNames() {
		if i == 0 {
			continue
		}
		out[strconv.Itoa(i)] = m[i]
		if name != "" {
			out[name] = m[i]
		}
	}
	return out
}
