package wait

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned by Until when the condition never held within the timeout.
var ErrTimeout = errors.New("wait: condition not met before timeout")

// Condition is polled by Until. Returning an error aborts the wait.
type Condition func(ctx context.Context) (bool, error)

// Sleep pauses for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, clock Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Until evaluates cond immediately and then every interval until it reports
// true, it fails, ctx is done, or timeout elapses. A zero timeout means the
// wait is bounded only by ctx.
func Until(ctx context.Context, clock Clock, cond Condition, timeout, interval time.Duration) error {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		deadline = clock.After(timeout)
	}

	for {
		ok, err := cond(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return ErrTimeout
		case <-clock.After(interval):
		}
	}
}

// Stable polls sample every interval and succeeds once two consecutive
// samples are equal. It is used as a settle signal for a changing DOM.
func Stable(ctx context.Context, clock Clock, sample func(ctx context.Context) (int, error), timeout, interval time.Duration) error {
	last := -1
	return Until(ctx, clock, func(ctx context.Context) (bool, error) {
		n, err := sample(ctx)
		if err != nil {
			return false, err
		}
		settled := n == last
		last = n
		return settled, nil
	}, timeout, interval)
}
