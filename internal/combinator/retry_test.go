package combinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tjfontaine/oapipe/internal/core/domain"
	"github.com/tjfontaine/oapipe/internal/pipeline"
)

var increment = pipeline.Func(func(v any, _ *pipeline.Context, _ pipeline.Instance) (any, error) {
	return v.(int) + 1, nil
})

func atLeast(n int) func(any) bool {
	return func(v any) bool { return v.(int) >= n }
}

func TestRetryWhen_FeedsPreviousResult(t *testing.T) {
	step := RetryWhen(increment, atLeast(4), RetryOptions{})

	r := step.Invoke(1, pipeline.NewContext(context.Background()), nil)
	if r.IsPending() {
		t.Fatal("synchronous retries without delay should settle synchronously")
	}
	if v, err := r.Wait(); err != nil || v != 4 {
		t.Errorf("RetryWhen() = %v, %v; want 4", v, err)
	}
}

func TestRetryWhen_Exhausted(t *testing.T) {
	step := RetryWhen(increment, atLeast(100), RetryOptions{})

	_, err := step.Invoke(1, pipeline.NewContext(context.Background()), nil).Wait()
	var ex *domain.RetryExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("expected RetryExhaustedError, got %v", err)
	}
	if err.Error() != "Condition was not meet in 3 retries." {
		t.Errorf("message = %q", err.Error())
	}
	if ex.Last != 4 {
		t.Errorf("Last = %v, want 4", ex.Last)
	}
}

func TestRetryWhen_CustomErrorAndAttempts(t *testing.T) {
	custom := errors.New("still pending")
	step := RetryWhen(increment, atLeast(100), RetryOptions{MaxRetryAttempts: 5, Error: custom})

	_, err := step.Invoke(0, pipeline.NewContext(context.Background()), nil).Wait()
	if !errors.Is(err, custom) {
		t.Errorf("error = %v, want custom error", err)
	}
}

func TestRetryWhen_StepErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	failing := pipeline.Func(func(any, *pipeline.Context, pipeline.Instance) (any, error) {
		calls++
		return nil, boom
	})

	_, err := RetryWhen(failing, atLeast(1), RetryOptions{}).Invoke(0, pipeline.NewContext(context.Background()), nil).Wait()
	if !errors.Is(err, boom) || calls != 1 {
		t.Errorf("error = %v after %d calls", err, calls)
	}
}

func TestRetryWhen_ScalingDelay(t *testing.T) {
	step := RetryWhen(increment, atLeast(3), RetryOptions{ScalingDuration: 5 * time.Millisecond})

	start := time.Now()
	r := step.Invoke(1, pipeline.NewContext(context.Background()), nil)
	if !r.IsPending() {
		t.Fatal("delayed retries should be pending")
	}
	v, err := r.Wait()
	if err != nil || v != 3 {
		t.Fatalf("RetryWhen() = %v, %v", v, err)
	}
	if elapsed := time.Since(start); elapsed < 5*time.Millisecond {
		t.Errorf("elapsed %v, want at least one scaled delay", elapsed)
	}
}

func TestRetryWhen_CanceledWhileWaiting(t *testing.T) {
	c := pipeline.NewContext(context.Background())
	step := RetryWhen(increment, atLeast(100), RetryOptions{ScalingDuration: time.Hour})

	r := step.Invoke(1, c, nil)
	c.Token.Cancel("shutdown")

	done := make(chan error, 1)
	go func() {
		_, err := r.Wait()
		done <- err
	}()

	select {
	case err := <-done:
		var ce *domain.CanceledError
		if !errors.As(err, &ce) || ce.Attempt != 1 || ce.Reason != "shutdown" {
			t.Errorf("error = %v, want cancellation at attempt 1", err)
		}
	case <-time.After(time.Second):
		t.Fatal("retry did not abort on cancellation")
	}
}

func TestRetryWhen_AsyncStep(t *testing.T) {
	step := RetryWhen(pipeline.Go(func(v any, _ *pipeline.Context, _ pipeline.Instance) (any, error) {
		return v.(int) * 2, nil
	}), atLeast(8), RetryOptions{})

	v, err := step.Invoke(1, pipeline.NewContext(context.Background()), nil).Wait()
	if err != nil || v != 8 {
		t.Errorf("RetryWhen() = %v, %v; want 8", v, err)
	}
}
