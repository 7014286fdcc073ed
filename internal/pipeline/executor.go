// Package pipeline executes a prepared plan: targets run layer by layer on
// a bounded worker pool, failures are contained to their dependents and
// every outcome is collected into a Result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"

	"github.com/lucasnoah/nbuild/internal/collab"
	"github.com/lucasnoah/nbuild/internal/config"
	"github.com/lucasnoah/nbuild/internal/ctxlog"
	"github.com/lucasnoah/nbuild/internal/deploy"
	"github.com/lucasnoah/nbuild/internal/failure"
	"github.com/lucasnoah/nbuild/internal/graph"
	"github.com/lucasnoah/nbuild/internal/imagename"
	"github.com/lucasnoah/nbuild/internal/plan"
)

// Executor runs plans against a set of collaborators.
type Executor struct {
	ports    collab.Ports
	settings config.Execution
	progress io.Writer // live progress output; nil = silent
}

// NewExecutor creates an executor.
func NewExecutor(ports collab.Ports, settings config.Execution) *Executor {
	if settings.Workers < 1 {
		settings.Workers = 1
	}
	if settings.Retry.Attempts < 1 {
		settings.Retry.Attempts = 1
	}
	return &Executor{ports: ports, settings: settings}
}

// SetProgress sets a writer for live progress output (e.g. os.Stderr).
func (e *Executor) SetProgress(w io.Writer) {
	e.progress = w
}

func (e *Executor) logf(format string, args ...interface{}) {
	if e.progress != nil {
		fmt.Fprintf(e.progress, "  → "+format+"\n", args...)
	}
}

// run is the state of one Run call.
type run struct {
	plan    *plan.Plan
	result  *Result
	ctx     context.Context // run-wide: carries the deadline and cancellation
	attests sync.WaitGroup
}

// Run executes p and returns its result. It never returns early: every
// target ends Succeeded, Failed or Skipped, including on cancellation.
func (e *Executor) Run(ctx context.Context, p *plan.Plan) *Result {
	log := ctxlog.FromContext(ctx)
	r := &run{plan: p, result: newResult(p, time.Now())}

	runCtx := ctx
	if d := e.settings.TimeoutDuration(); d > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	r.ctx = runCtx

	r.result.setState(Executing)
	log.Info("executing plan", "branch", p.Facts.Branch, "stage", p.Output, "targets", len(p.Targets), "workers", e.settings.Workers)

	for i, layer := range p.Graph.Layers() {
		if err := runCtx.Err(); err != nil {
			break
		}
		e.logf("layer %d: %v", i, layer)

		var g errgroup.Group
		g.SetLimit(e.settings.Workers)
		for _, name := range layer {
			t := p.Targets[name]
			if !p.Selected(t.Stage) {
				r.result.skip(name, "stage not selected")
				continue
			}
			if in, status := r.result.blocker(t.Inputs); in != "" {
				r.result.skip(name, fmt.Sprintf("input %s %s", in, status))
				e.logf("%s skipped: input %s %s", name, in, status)
				continue
			}
			g.Go(func() error {
				e.runTarget(r, t)
				return nil
			})
		}
		_ = g.Wait()
	}

	// Attestations finish before the result is reported.
	r.attests.Wait()

	if err := runCtx.Err(); err != nil {
		r.result.skipPending(cancelReason(err))
		r.result.setState(Aborted)
		log.Warn("run aborted", "reason", cancelReason(err))
	} else {
		r.result.setState(Completed)
	}
	log.Info("run finished", "state", r.result.State(), "verdict", r.result.Verdict())
	return r.result
}

func cancelReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "run deadline exceeded"
	}
	return "run cancelled"
}

// workContext returns the context started work runs under. In drain mode
// it is detached from cancellation so started targets can finish.
func (e *Executor) workContext(ctx context.Context) context.Context {
	if e.settings.OnCancel == "drain" {
		return context.WithoutCancel(ctx)
	}
	return ctx
}

func (e *Executor) runTarget(r *run, t *plan.Target) {
	if err := r.ctx.Err(); err != nil {
		r.result.skip(t.Name, cancelReason(err))
		return
	}

	log := ctxlog.FromContext(r.ctx).With("target", t.Name, "stage", t.Stage)
	ctx := ctxlog.WithLogger(e.workContext(r.ctx), log)

	r.result.start(t.Name)
	e.logf("%s: running", t.Name)
	log.Info("target started")

	var err error
	switch t.Stage {
	case graph.StageBuild:
		err = e.build(ctx, r, t)
	case graph.StagePublish:
		err = e.publish(ctx, r, t)
	case graph.StageDeploy:
		err = e.deploy(ctx, r, t)
	}

	if err != nil {
		r.result.fail(t.Name, t.Stage, err)
		e.logf("%s: failed: %v", t.Name, err)
		log.Error("target failed", "kind", failure.KindOf(err), "error", err)
		return
	}
	r.result.succeed(t.Name, "")
	e.logf("%s: succeeded", t.Name)
	log.Info("target succeeded")
}

func (e *Executor) build(ctx context.Context, r *run, t *plan.Target) error {
	switch t.Kind {
	case config.KindDocker:
		var ref string
		err := e.retry(ctx, r, t.Name, failure.Build, func(ctx context.Context) error {
			var err error
			ref, err = e.ports.Builder.Build(ctx, collab.BuildSpec{
				Target:     t.Name,
				ContextDir: r.plan.Facts.WorkDir,
				Dockerfile: t.Dockerfile,
				Image:      t.Image,
			})
			return err
		})
		if err != nil {
			return err
		}
		r.result.update(t.Name, func(tr *TargetResult) { tr.Image = ref })
		return nil

	default:
		if t.Command == "" {
			return nil
		}
		return e.retry(ctx, r, t.Name, failure.Build, func(ctx context.Context) error {
			return e.ports.Host.RunScript(ctx, collab.Script{
				Target:  t.Name,
				Dir:     r.plan.Facts.WorkDir,
				Command: t.Command,
				Env:     t.Env,
			})
		})
	}
}

func (e *Executor) publish(ctx context.Context, r *run, t *plan.Target) error {
	switch t.Kind {
	case config.PublishRegistry:
		var pinned []string
		for _, image := range r.plan.Images(t.Inputs) {
			var d digest.Digest
			err := e.retry(ctx, r, t.Name, failure.Publish, func(ctx context.Context) error {
				var err error
				d, err = e.ports.Registry.Push(ctx, image)
				return err
			})
			if err != nil {
				return err
			}
			ref, err := imagename.Pin(image, d)
			if err != nil {
				return failure.ForTarget(failure.Publish, t.Name, err)
			}
			pinned = append(pinned, ref)
		}
		r.result.update(t.Name, func(tr *TargetResult) { tr.Images = pinned })
		return e.attest(ctx, r, t, pinned)

	case config.PublishRelease:
		var url string
		err := e.retry(ctx, r, t.Name, failure.Publish, func(ctx context.Context) error {
			var err error
			url, err = e.ports.Releases.CreateRelease(ctx, *t.Release)
			return err
		})
		if err != nil {
			return err
		}
		r.result.update(t.Name, func(tr *TargetResult) { tr.URL = url })
		return nil

	case config.PublishCDN:
		err := e.retry(ctx, r, t.Name, failure.Publish, func(ctx context.Context) error {
			return e.ports.CDN.Upload(ctx, t.Artifacts, t.Destination)
		})
		if err != nil {
			return err
		}
		r.result.update(t.Name, func(tr *TargetResult) { tr.URL = t.Destination })
		return nil
	}
	return failure.Newf(failure.Config, "unknown publish kind %q", t.Kind)
}

func (e *Executor) deploy(ctx context.Context, r *run, t *plan.Target) error {
	if len(r.plan.Deploys) == 0 {
		r.result.update(t.Name, func(tr *TargetResult) { tr.Reason = "no deploy profiles selected" })
		return nil
	}

	vars := make(map[string]string, len(t.Vars)+1)
	for k, v := range t.Vars {
		vars[k] = v
	}
	if _, ok := vars["image"]; !ok {
		for _, in := range t.Inputs {
			if tr, ok := r.result.Target(in); ok && len(tr.Images) > 0 {
				vars["image"] = tr.Images[0]
				break
			}
		}
	}

	fn := func(ctx context.Context, exp deploy.Expansion, cluster string) (string, error) {
		var status string
		err := e.retry(e.workContext(ctx), r, t.Name, failure.Deploy, func(ctx context.Context) error {
			var err error
			status, err = e.ports.Deployer.Deploy(ctx, collab.DeployRequest{
				Target:    t.Name,
				Profile:   exp.Profile,
				Cluster:   cluster,
				Resources: append(append([]string(nil), t.Resources...), exp.Resources...),
				VarFiles:  exp.VarFiles,
				Vars:      vars,
			})
			return err
		})
		e.logf("%s: %s/%s: %s", t.Name, exp.Profile, cluster, firstNonEmpty(status, errString(err)))
		return status, err
	}

	// Clusters check the run context before they start, so a cancelled
	// run reports the remaining clusters as not attempted.
	runCtx := ctxlog.WithLogger(r.ctx, ctxlog.FromContext(ctx))
	reports := deploy.RunAll(runCtx, r.plan.Deploys, r.plan.Decision.Parallel, fn)
	r.result.update(t.Name, func(tr *TargetResult) { tr.Deploys = reports })

	for _, rep := range reports {
		if rep.Failed() {
			err := rep.Err()
			if failure.KindOf(err) == failure.Unknown {
				err = failure.ForTarget(failure.Deploy, t.Name, err)
			}
			return err
		}
	}
	return nil
}

// attest signs pushed images. Non-fatal attestation runs in the background
// and is recorded on the target when done; fatal attestation is awaited.
func (e *Executor) attest(ctx context.Context, r *run, t *plan.Target, images []string) error {
	a := e.settings.Attestation
	if !a.Enabled || e.ports.Attestor == nil || len(images) == 0 {
		return nil
	}

	sign := func(ctx context.Context) error {
		for _, img := range images {
			if err := e.ports.Attestor.Attest(ctx, img); err != nil {
				return err
			}
		}
		return nil
	}

	if a.Fatal {
		if err := sign(ctx); err != nil {
			r.result.update(t.Name, func(tr *TargetResult) { tr.Attestation = "failed" })
			return failure.ForTarget(failure.Publish, t.Name, fmt.Errorf("attestation: %w", err))
		}
		r.result.update(t.Name, func(tr *TargetResult) { tr.Attestation = "signed" })
		return nil
	}

	r.attests.Add(1)
	go func() {
		defer r.attests.Done()
		outcome := "signed"
		if err := sign(ctx); err != nil {
			outcome = "failed: " + err.Error()
			ctxlog.FromContext(ctx).Warn("attestation failed", "error", err)
		}
		r.result.update(t.Name, func(tr *TargetResult) { tr.Attestation = outcome })
	}()
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
