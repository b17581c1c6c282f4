package orchestrator

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/gophzip/internal/common"
	"github.com/sethvargo/go-retry"
)

func (o *Orchestrator) backoff() retry.Backoff {
	b := retry.NewExponential(o.opts.RetryBase)
	b = retry.WithCappedDuration(o.opts.RetryCap, b)
	return retry.WithMaxRetries(uint64(o.opts.RetryAttempts-1), b)
}

// withRetry runs fn until it succeeds, returns a non-transient error or
// the attempts run out. Each attempt gets its own timeout.
func (o *Orchestrator) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return o.retryWith(ctx, o.backoff(), op, fn)
}

// untilDone retries transient failures with capped backoff until fn
// succeeds or ctx ends.
func (o *Orchestrator) untilDone(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	b := retry.WithCappedDuration(o.opts.RetryCap, retry.NewExponential(o.opts.RetryBase))
	return o.retryWith(ctx, b, op, fn)
}

func (o *Orchestrator) retryWith(ctx context.Context, b retry.Backoff, op string, fn func(ctx context.Context) error) error {
	attempt := 0
	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		actx, cancel := context.WithTimeout(ctx, o.opts.AttemptTimeout)
		defer cancel()

		err := fn(actx)
		if err == nil {
			return nil
		}
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			err = common.Transient(op, err)
		}
		if !common.IsTransient(err) {
			return err
		}
		o.log.Debug(ctx, "transient failure, retrying", "op", op, "attempt", attempt, "error", err)
		return retry.RetryableError(err)
	})
}
