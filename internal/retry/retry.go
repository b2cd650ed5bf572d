// Package retry wraps cenkalti/backoff with the linear schedule used for
// provider calls: the wait after attempt n is n times the base delay.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

type linear struct {
	step time.Duration
	n    int64
}

func (l *linear) NextBackOff() time.Duration {
	l.n++
	return l.step * time.Duration(l.n)
}

func (l *linear) Reset() { l.n = 0 }

// Notify is called before each wait with the failed attempt number.
type Notify func(err error, attempt int, wait time.Duration)

// Do runs op until it succeeds, returns a backoff.Permanent error, ctx ends,
// or MaxAttempts is reached. It returns the number of attempts made.
func (p Policy) Do(ctx context.Context, op func(attempt int) error, notify Notify) (int, error) {
	max := p.MaxAttempts
	if max < 1 {
		max = 1
	}
	attempts := 0
	wrapped := func() error {
		attempts++
		return op(attempts)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(&linear{step: p.Delay}, uint64(max-1)), ctx)
	var n backoff.Notify
	if notify != nil {
		n = func(err error, wait time.Duration) { notify(err, attempts, wait) }
	}
	err := backoff.RetryNotify(wrapped, b, n)
	return attempts, err
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
