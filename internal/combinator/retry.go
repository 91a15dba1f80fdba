package combinator

import (
	"log/slog"
	"time"

	"github.com/tjfontaine/oapipe/internal/core/domain"
	"github.com/tjfontaine/oapipe/internal/pipeline"
)

// DefaultMaxRetryAttempts is used when RetryOptions.MaxRetryAttempts is
// not positive.
const DefaultMaxRetryAttempts = 3

// RetryOptions configures RetryWhen.
type RetryOptions struct {
	MaxRetryAttempts int
	// ScalingDuration is multiplied by the attempt number to get the wait
	// after that attempt.
	ScalingDuration time.Duration
	// Error replaces the *domain.RetryExhaustedError returned when no
	// attempt satisfied the condition.
	Error error
}

// RetryWhen returns a step that invokes step until condition holds for its
// result. Each attempt after the first receives the previous result. Step
// errors are returned as is.
func RetryWhen(step pipeline.Step, condition func(any) bool, opts RetryOptions) pipeline.Step {
	if opts.MaxRetryAttempts <= 0 {
		opts.MaxRetryAttempts = DefaultMaxRetryAttempts
	}
	return &retry{step: step, condition: condition, opts: opts}
}

type retry struct {
	step      pipeline.Step
	condition func(any) bool
	opts      RetryOptions
}

func (r *retry) Invoke(value any, c *pipeline.Context, inst pipeline.Instance) pipeline.Result {
	return r.attempt(1, value, c, inst)
}

// attempt runs attempt n. It stays synchronous while the step settles
// synchronously and no wait is due.
func (r *retry) attempt(n int, value any, c *pipeline.Context, inst pipeline.Instance) pipeline.Result {
	if c.IsCanceled() {
		return pipeline.Fail(canceledAt(c, n))
	}

	res := r.step.Invoke(value, c, inst)
	if res.IsPending() {
		return pipeline.Pending(pipeline.Spawn(func() (any, error) {
			v, err := res.Wait()
			if err != nil {
				return nil, err
			}
			return r.next(n, v, c, inst).Wait()
		}))
	}

	v, err := res.Wait()
	if err != nil {
		return pipeline.Fail(err)
	}
	return r.next(n, v, c, inst)
}

// next decides what follows attempt n that produced v.
func (r *retry) next(n int, v any, c *pipeline.Context, inst pipeline.Instance) pipeline.Result {
	if r.condition(v) {
		return pipeline.Sync(v)
	}
	if n >= r.opts.MaxRetryAttempts {
		if r.opts.Error != nil {
			return pipeline.Fail(r.opts.Error)
		}
		return pipeline.Fail(&domain.RetryExhaustedError{Attempts: n, Last: v})
	}

	delay := r.opts.ScalingDuration * time.Duration(n)
	if c != nil && c.Logger != nil {
		c.Logger.Debug("retry condition not met",
			slog.Int("attempt", n),
			slog.Duration("delay", delay),
		)
	}
	if delay <= 0 {
		return r.attempt(n+1, v, c, inst)
	}
	return pipeline.Pending(pipeline.Spawn(func() (any, error) {
		if err := sleep(c, delay, n); err != nil {
			return nil, err
		}
		return r.attempt(n+1, v, c, inst).Wait()
	}))
}

// sleep waits d, returning early when the token of c is canceled.
func sleep(c *pipeline.Context, d time.Duration, n int) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	var done <-chan struct{}
	if c != nil && c.Token != nil {
		done = c.Context().Done()
	}
	select {
	case <-timer.C:
		return nil
	case <-done:
		return canceledAt(c, n)
	}
}

func canceledAt(c *pipeline.Context, n int) error {
	return &domain.CanceledError{Reason: c.Token.Reason(), Attempt: n}
}
