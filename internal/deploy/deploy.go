// Package deploy expands deploy profiles into concrete cluster deployments
// and runs them with sequential or parallel semantics.
package deploy

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/lucasnoah/nbuild/internal/config"
	"github.com/lucasnoah/nbuild/internal/failure"
)

// Expansion is one named profile resolved against the profile table.
type Expansion struct {
	Profile   string   `json:"profile"`
	Clusters  []string `json:"clusters"`
	Resources []string `json:"resources,omitempty"`
	VarFiles  []string `json:"var_files,omitempty"`
	Parallel  bool     `json:"parallel"`
}

// Resolve expands profile names in order. An unknown name is a
// configuration error, raised before any deploy work starts.
func Resolve(names []string, profiles map[string]config.DeployProfile) ([]Expansion, error) {
	out := make([]Expansion, 0, len(names))
	for _, name := range names {
		p, ok := profiles[name]
		if !ok {
			return nil, failure.Newf(failure.Config, "deploy profile %q is not defined", name)
		}
		if len(p.Clusters) == 0 {
			return nil, failure.Newf(failure.Config, "deploy profile %q has no clusters", name)
		}
		out = append(out, Expansion{
			Profile:   name,
			Clusters:  append([]string(nil), p.Clusters...),
			Resources: append([]string(nil), p.Resources...),
			VarFiles:  append([]string(nil), p.Vars...),
			Parallel:  p.Parallel,
		})
	}
	return out, nil
}

// Outcome is the final state of one cluster deploy.
type Outcome string

const (
	Succeeded    Outcome = "succeeded"
	Failed       Outcome = "failed"
	NotAttempted Outcome = "not_attempted"
)

// ClusterResult reports one cluster.
type ClusterResult struct {
	Cluster string  `json:"cluster"`
	Outcome Outcome `json:"outcome"`
	Message string  `json:"message,omitempty"`
	Err     error   `json:"-"`
}

// ProfileReport reports every cluster of one profile.
type ProfileReport struct {
	Profile  string          `json:"profile"`
	Clusters []ClusterResult `json:"clusters"`
}

// Failed reports whether any cluster failed or was not attempted.
func (r ProfileReport) Failed() bool {
	for _, c := range r.Clusters {
		if c.Outcome != Succeeded {
			return true
		}
	}
	return false
}

// Err returns the first cluster error, if any.
func (r ProfileReport) Err() error {
	for _, c := range r.Clusters {
		if c.Err != nil {
			return fmt.Errorf("profile %s, cluster %s: %w", r.Profile, c.Cluster, c.Err)
		}
	}
	if r.Failed() {
		return fmt.Errorf("profile %s: not every cluster was deployed", r.Profile)
	}
	return nil
}

// Func deploys one profile to one cluster and returns a status line.
type Func func(ctx context.Context, exp Expansion, cluster string) (string, error)

// RunProfile deploys exp to its clusters. Sequential profiles stop at the
// first failure and mark the rest not attempted; parallel profiles attempt
// every cluster and report each one independently.
func RunProfile(ctx context.Context, exp Expansion, fn Func) ProfileReport {
	report := ProfileReport{Profile: exp.Profile, Clusters: make([]ClusterResult, len(exp.Clusters))}

	if exp.Parallel {
		var g errgroup.Group
		for i, cluster := range exp.Clusters {
			g.Go(func() error {
				report.Clusters[i] = deployOne(ctx, exp, cluster, fn)
				return nil
			})
		}
		_ = g.Wait()
		return report
	}

	var stopped string
	for i, cluster := range exp.Clusters {
		if stopped != "" {
			report.Clusters[i] = ClusterResult{Cluster: cluster, Outcome: NotAttempted, Message: stopped}
			continue
		}
		res := deployOne(ctx, exp, cluster, fn)
		report.Clusters[i] = res
		if res.Outcome != Succeeded {
			stopped = fmt.Sprintf("not attempted: %s did not deploy", cluster)
		}
	}
	return report
}

// RunAll deploys every profile, either one after another (stopping after
// the first failed profile) or all at once.
func RunAll(ctx context.Context, exps []Expansion, parallel bool, fn Func) []ProfileReport {
	reports := make([]ProfileReport, len(exps))

	if parallel {
		var wg sync.WaitGroup
		for i, exp := range exps {
			wg.Add(1)
			go func() {
				defer wg.Done()
				reports[i] = RunProfile(ctx, exp, fn)
			}()
		}
		wg.Wait()
		return reports
	}

	var stopped string
	for i, exp := range exps {
		if stopped != "" {
			reports[i] = skipped(exp, stopped)
			continue
		}
		reports[i] = RunProfile(ctx, exp, fn)
		if reports[i].Failed() {
			stopped = fmt.Sprintf("not attempted: profile %s failed", exp.Profile)
		}
	}
	return reports
}

func deployOne(ctx context.Context, exp Expansion, cluster string, fn Func) ClusterResult {
	if err := ctx.Err(); err != nil {
		return ClusterResult{Cluster: cluster, Outcome: NotAttempted, Message: "not attempted: " + err.Error(), Err: err}
	}
	msg, err := fn(ctx, exp, cluster)
	if err != nil {
		return ClusterResult{Cluster: cluster, Outcome: Failed, Message: err.Error(), Err: err}
	}
	return ClusterResult{Cluster: cluster, Outcome: Succeeded, Message: msg}
}

func skipped(exp Expansion, reason string) ProfileReport {
	r := ProfileReport{Profile: exp.Profile, Clusters: make([]ClusterResult, len(exp.Clusters))}
	for i, c := range exp.Clusters {
		r.Clusters[i] = ClusterResult{Cluster: c, Outcome: NotAttempted, Message: reason}
	}
	return r
}
