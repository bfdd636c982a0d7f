package inference

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/hpungsan/strata/internal/errors"
)

// Clock sleeps between attempts. Tests substitute a recording clock.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
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

// Policy is the fixed retry schedule of non-streaming calls.
type Policy struct {
	MaxAttempts int
	// Delays[n] is slept before attempt n (zero-based); the last entry
	// repeats if there are more attempts than delays.
	Delays         []time.Duration
	AttemptTimeout time.Duration
}

// DefaultPolicy is three attempts after 0ms, 1000ms and 3000ms.
var DefaultPolicy = Policy{
	MaxAttempts:    3,
	Delays:         []time.Duration{0, time.Second, 3 * time.Second},
	AttemptTimeout: 120 * time.Second,
}

func (p Policy) delay(attempt int) time.Duration {
	if len(p.Delays) == 0 {
		return 0
	}
	if attempt < len(p.Delays) {
		return p.Delays[attempt]
	}
	return p.Delays[len(p.Delays)-1]
}

// retry runs fn until it succeeds or the policy is exhausted. Every failure is
// retried. The returned error is INFERENCE_TIMEOUT when the last attempt hit
// its own deadline, INFERENCE_UNAVAILABLE otherwise.
func retry[T any](ctx context.Context, p Policy, clock Clock, onFailure func(attempt int, err error), fn func(context.Context) (T, error)) (T, int, error) {
	var zero T
	var lastErr error
	timedOut := false
	attempts := 0

	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for i := 0; i < maxAttempts; i++ {
		if err := clock.Sleep(ctx, p.delay(i)); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}

		attempts++
		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}
		out, err := fn(attemptCtx)
		timedOut = err != nil && ctx.Err() == nil &&
			(attemptCtx.Err() == context.DeadlineExceeded || stderrors.Is(err, context.DeadlineExceeded))
		cancel()

		if err == nil {
			recordAttempt("success")
			return out, attempts, nil
		}

		lastErr = err
		if timedOut {
			recordAttempt("timeout")
		} else {
			recordAttempt("error")
		}
		if onFailure != nil {
			onFailure(attempts, err)
		}
		if ctx.Err() != nil {
			break
		}
	}

	if timedOut {
		return zero, attempts, errors.NewInferenceTimeout(p.AttemptTimeout, lastErr)
	}
	return zero, attempts, errors.NewInferenceUnavailable(lastErr)
}
