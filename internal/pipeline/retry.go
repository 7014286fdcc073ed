package pipeline

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lucasnoah/nbuild/internal/ctxlog"
	"github.com/lucasnoah/nbuild/internal/failure"
)

// retry runs op until it succeeds, fails permanently or the attempt budget
// is spent. Only transient failures are retried; timeouts are retried when
// retry_timeouts is set. Retrying stops once the run is cancelled. The
// final error is reclassified to owner unless it is already classified.
func (e *Executor) retry(ctx context.Context, r *run, target string, owner failure.Kind, op func(ctx context.Context) error) error {
	initial, ceiling := e.settings.Retry.Intervals()
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = initial
	policy.MaxInterval = ceiling
	policy.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(e.settings.Retry.Attempts-1)), r.ctx)

	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if e.retryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, b, func(err error, wait time.Duration) {
		ctxlog.FromContext(ctx).Warn("retrying", "attempt", attempts, "wait", wait, "error", err)
		e.logf("%s: attempt %d failed, retrying in %s: %v", target, attempts, wait.Round(time.Millisecond), err)
	})

	r.result.update(target, func(tr *TargetResult) { tr.Attempts += attempts })
	return failure.Reclassify(err, owner)
}

func (e *Executor) retryable(err error) bool {
	switch failure.KindOf(err) {
	case failure.Timeout:
		return e.settings.Retry.RetryTimeouts
	case failure.Cancelled:
		return false
	}
	return failure.IsTransient(err)
}
