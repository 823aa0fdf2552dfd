package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"ms-railway/internal/models"
)

// Releaser is the half of the ledger that compensation paths need.
type Releaser interface {
	Release(ctx context.Context, key models.LedgerKey, count int) error
}

// RetryPolicy bounds the retries callers wrap around idempotent ledger calls.
type RetryPolicy struct {
	Attempts int
	Initial  time.Duration
}

var DefaultRetry = RetryPolicy{Attempts: 3, Initial: 100 * time.Millisecond}

// BackOff builds an exponential schedule that gives up after p.Attempts tries
// or when ctx ends.
func (p RetryPolicy) BackOff(ctx context.Context) backoff.BackOff {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.NewExponentialBackOff()
	if p.Initial > 0 {
		b.InitialInterval = p.Initial
	}
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// ReleaseWithRetry retries transient release failures. A consistency violation
// is a caller bug and is returned at once.
func ReleaseWithRetry(ctx context.Context, l Releaser, key models.LedgerKey, count int, p RetryPolicy, notify backoff.Notify) error {
	op := func() error {
		err := l.Release(ctx, key, count)
		if errors.Is(err, ErrConsistencyViolation) || errors.Is(err, ErrInvalidCount) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.RetryNotify(op, p.BackOff(ctx), notify)
}
