package orchestrator

import (
	"context"
	"time"
)

// retryPolicy bounds the verification poll loop of step 2 (covering ->
// covered): up to maxAttempts calls to fn, sleeping delay between
// attempts and growing delay by factor after each failed attempt, capped
// at max.
type retryPolicy struct {
	maxAttempts int
	delay       time.Duration
	factor      float64
	max         time.Duration
}

// defaultRetryPolicy matches spec.md §4.5's documented defaults.
func defaultRetryPolicy() retryPolicy {
	return retryPolicy{
		maxAttempts: 10,
		delay:       2 * time.Second,
		factor:      1.5,
		max:         10 * time.Second,
	}
}

// run calls fn until it returns true, ctx is canceled, or the attempt
// budget is exhausted. It returns (true, nil) on success, (false, nil) if
// the budget ran out without fn ever returning true, or (false, err) if
// fn or the context itself errored.
func (p retryPolicy) run(ctx context.Context, fn func(ctx context.Context) (bool, error)) (bool, error) {
	delay := p.delay
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		ok, err := fn(ctx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if attempt == p.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * p.factor)
		if delay > p.max {
			delay = p.max
		}
	}
	return false, nil
}
