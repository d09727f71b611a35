package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/rollout/pkg/lock"
	"github.com/cuemby/rollout/pkg/metrics"
	"github.com/cuemby/rollout/pkg/types"
)

// permanent errors end a retry immediately
func permanent(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, types.ErrNoInstancesFound) ||
		errors.Is(err, types.ErrNoStableRevision) ||
		errors.Is(err, types.ErrRevisionNotFound) ||
		errors.Is(err, types.ErrVerificationTimeout)
}

// retry calls fn until it succeeds, fails permanently, or the backoff runs
// out of steps. Each call gets its own deadline; zero timeout uses the
// controller's call timeout. The last error is returned on exhaustion.
func (c *Controller) retry(ctx context.Context, op string, timeout time.Duration, fn func(context.Context) error) error {
	if timeout <= 0 {
		timeout = c.callTimeout
	}
	backoff := c.backoff
	attempts := backoff.Steps
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if permanent(err) || attempt >= attempts {
			return err
		}

		// Step stops growing once Cap is reached; attempts are counted here
		delay := backoff.Step()
		metrics.RetriesTotal.WithLabelValues(op).Inc()
		c.logger.Debug().
			Err(err).
			Str("operation", op).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("Retrying")

		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// withLock runs fn while holding the lineage lock. A held lock is a rejected
// rollback and is retried with backoff.
func (c *Controller) withLock(ctx context.Context, lineage string, fn func() error) error {
	var unlock func()
	err := c.retry(ctx, "lock", 0, func(callCtx context.Context) error {
		var err error
		unlock, err = c.locker.TryLock(callCtx, lineage)
		if errors.Is(err, lock.ErrLocked) {
			return fmt.Errorf("%s: %v: %w", lineage, err, types.ErrRollbackRejected)
		}
		return err
	})
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
