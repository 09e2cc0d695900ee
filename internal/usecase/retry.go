package usecase

import (
	"context"
	"errors"
	"time"

	domain "github.com/farmlink/market-api/internal/entity"
	"github.com/farmlink/market-api/internal/logging"
	"github.com/farmlink/market-api/internal/observ"
)

// RetryPolicy bounds how often a unit of work is re-run after domain.ErrConflict.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration // attempt n waits n*Backoff
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: 100 * time.Millisecond}
}

// Do runs fn until it returns something other than a conflict or the attempts run out.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil || !errors.Is(err, domain.ErrConflict) {
			return err
		}
		if attempt >= maxAttempts {
			return &ConflictError{Op: op, Attempts: attempt, Err: err}
		}
		observ.ConflictRetries.WithLabelValues(op).Inc()
		logging.FromCtx(ctx).Warn("write conflict, retrying", "op", op, "attempt", attempt, "err", err)

		if p.Backoff <= 0 {
			continue
		}
		t := time.NewTimer(time.Duration(attempt) * p.Backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
