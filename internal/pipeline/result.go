package pipeline

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/lucasnoah/nbuild/internal/deploy"
	"github.com/lucasnoah/nbuild/internal/failure"
	"github.com/lucasnoah/nbuild/internal/graph"
	"github.com/lucasnoah/nbuild/internal/plan"
)

// Result accumulates target outcomes while a run executes. Every status
// transition happens under one lock and readers only ever see copies.
type Result struct {
	mu       sync.Mutex
	branch   string
	sha      string
	output   string
	state    RunState
	started  time.Time
	finished time.Time
	order    []string
	targets  map[string]*TargetResult
}

func newResult(p *plan.Plan, now time.Time) *Result {
	r := &Result{
		branch:  p.Facts.Branch,
		sha:     p.Facts.ShortSHA,
		output:  p.Output,
		state:   Preparing,
		started: now,
		order:   p.Graph.Order(),
		targets: make(map[string]*TargetResult),
	}
	for _, name := range r.order {
		t := p.Targets[name]
		r.targets[name] = &TargetResult{Name: name, Stage: t.Stage, Layer: t.Layer, Status: Pending}
	}
	return r
}

func (r *Result) setState(s RunState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
	if s == Completed || s == Aborted {
		r.finished = time.Now()
	}
}

// State returns the run-wide state.
func (r *Result) State() RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Target returns a copy of one target's result.
func (r *Result) Target(name string) (TargetResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.targets[name]
	if !ok {
		return TargetResult{}, false
	}
	return copyTarget(t), true
}

func (r *Result) start(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.targets[name]
	t.Status = Running
	t.Started = time.Now()
}

// update applies fn to a target under the lock.
func (r *Result) update(name string, fn func(t *TargetResult)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.targets[name])
}

func (r *Result) succeed(name, reason string) {
	r.finish(name, Succeeded, failure.Unknown, reason, nil)
}

func (r *Result) fail(name string, stage graph.Stage, err error) {
	kind := failure.KindOf(err)
	if kind == failure.Unknown || kind == failure.Transient {
		kind = stageKind(stage)
	}
	r.finish(name, Failed, kind, err.Error(), err)
}

func (r *Result) skip(name, reason string) {
	r.finish(name, Skipped, failure.Unknown, reason, nil)
}

func (r *Result) finish(name string, s Status, kind failure.Kind, reason string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.targets[name]
	if t.Status.Done() {
		return
	}
	t.Status = s
	t.Kind = kind
	if reason != "" {
		t.Reason = reason
	}
	t.Err = err
	t.Finished = time.Now()
	if !t.Started.IsZero() {
		t.Duration = t.Finished.Sub(t.Started).Round(time.Millisecond).String()
	}
}

// blocker returns the first input that did not succeed, with its status.
func (r *Result) blocker(inputs []string) (string, Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, in := range inputs {
		if s := r.targets[in].Status; s != Succeeded {
			return in, s
		}
	}
	return "", ""
}

// skipPending marks every target that never started as skipped.
func (r *Result) skipPending(reason string) {
	r.mu.Lock()
	var pending []string
	for _, name := range r.order {
		if r.targets[name].Status == Pending {
			pending = append(pending, name)
		}
	}
	r.mu.Unlock()
	for _, name := range pending {
		r.skip(name, reason)
	}
}

// Snapshot returns a copy of the whole result in execution order.
func (r *Result) Snapshot() Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep := Report{
		Branch:   r.branch,
		SHA:      r.sha,
		Output:   r.output,
		State:    r.state,
		Verdict:  r.verdictLocked(),
		Started:  r.started,
		Finished: r.finished,
		Targets:  make([]TargetResult, 0, len(r.order)),
	}
	if !r.finished.IsZero() {
		rep.Duration = r.finished.Sub(r.started).Round(time.Millisecond).String()
	}
	for _, name := range r.order {
		rep.Targets = append(rep.Targets, copyTarget(r.targets[name]))
	}
	return rep
}

// Verdict reports success only for a completed run without failed targets.
func (r *Result) Verdict() Verdict {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.verdictLocked()
}

func (r *Result) verdictLocked() Verdict {
	if r.state != Completed {
		return Failure
	}
	for _, t := range r.targets {
		if t.Status == Failed {
			return Failure
		}
	}
	return Success
}

var stageRank = map[graph.Stage]int{graph.StageBuild: 1, graph.StagePublish: 2, graph.StageDeploy: 3}

// Err summarises a failed run as one classified error. An aborted run is a
// timeout or cancellation; otherwise the failure of the latest stage wins.
func (r *Result) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == Aborted {
		kind := failure.Cancelled
		for _, name := range r.order {
			t := r.targets[name]
			if t.Kind == failure.Timeout || strings.Contains(t.Reason, "deadline") {
				kind = failure.Timeout
				break
			}
		}
		if kind == failure.Timeout {
			return failure.Newf(kind, "run deadline exceeded")
		}
		return failure.Newf(kind, "run cancelled")
	}

	var worst *TargetResult
	failed := 0
	for _, name := range r.order {
		t := r.targets[name]
		if t.Status != Failed {
			continue
		}
		failed++
		if worst == nil || stageRank[t.Stage] > stageRank[worst.Stage] {
			worst = t
		}
	}
	if worst == nil {
		return nil
	}
	kind := stageKind(worst.Stage)
	if worst.Kind.Prepare() || worst.Kind == failure.Timeout || worst.Kind == failure.Cancelled {
		kind = worst.Kind
	}
	return failure.ForTarget(kind, worst.Name, fmt.Errorf("%d target(s) failed, first cause: %s", failed, worst.Reason))
}

// WriteSummary prints one line per target and the verdict.
func (r *Result) WriteSummary(w io.Writer) {
	rep := r.Snapshot()
	fmt.Fprintf(w, "%-20s %-8s %-10s %-10s %s\n", "TARGET", "STAGE", "STATUS", "DURATION", "DETAIL")
	fmt.Fprintf(w, "%-20s %-8s %-10s %-10s %s\n",
		strings.Repeat("-", 20),
		strings.Repeat("-", 8),
		strings.Repeat("-", 10),
		strings.Repeat("-", 10),
		strings.Repeat("-", 6))
	for _, t := range rep.Targets {
		detail := t.Reason
		switch {
		case t.Status == Failed && t.Kind != failure.Unknown:
			detail = fmt.Sprintf("[%s] %s", t.Kind, t.Reason)
		case detail == "" && len(t.Images) > 0:
			detail = strings.Join(t.Images, ", ")
		case detail == "" && t.Image != "":
			detail = t.Image
		case detail == "" && t.URL != "":
			detail = t.URL
		}
		if t.Attestation != "" {
			detail = strings.TrimSpace(detail + " (attestation: " + t.Attestation + ")")
		}
		fmt.Fprintf(w, "%-20s %-8s %-10s %-10s %s\n", t.Name, t.Stage, t.Status, t.Duration, detail)
		for _, p := range t.Deploys {
			for _, c := range p.Clusters {
				fmt.Fprintf(w, "%-20s %-8s %-10s %-10s %s\n", "", "", "", "", fmt.Sprintf("%s/%s: %s %s", p.Profile, c.Cluster, c.Outcome, c.Message))
			}
		}
	}
	fmt.Fprintf(w, "\nrun %s: %s (branch %s, stage %s)\n", rep.State, rep.Verdict, rep.Branch, rep.Output)
}

func stageKind(s graph.Stage) failure.Kind {
	switch s {
	case graph.StagePublish:
		return failure.Publish
	case graph.StageDeploy:
		return failure.Deploy
	}
	return failure.Build
}

func copyTarget(t *TargetResult) TargetResult {
	out := *t
	out.Images = append([]string(nil), t.Images...)
	if t.Deploys != nil {
		out.Deploys = make([]deploy.ProfileReport, len(t.Deploys))
		for i, p := range t.Deploys {
			out.Deploys[i] = deploy.ProfileReport{Profile: p.Profile, Clusters: append([]deploy.ClusterResult(nil), p.Clusters...)}
		}
	}
	return out
}
