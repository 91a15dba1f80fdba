package oapipe_test

import (
	"context"
	"testing"

	"github.com/tjfontaine/oapipe/pkg/oapipe"
)

func TestRegistryRoundTrip(t *testing.T) {
	reg, err := oapipe.NewRegistry("v1")
	if err != nil {
		t.Fatal(err)
	}
	double := oapipe.Func(func(v any, _ *oapipe.Context, _ oapipe.Instance) (any, error) {
		return v.(int) * 2, nil
	})
	if err := reg.MustOperation("double").Setup(oapipe.Value(21), double); err != nil {
		t.Fatal(err)
	}
	if err := reg.Bootstrap(); err != nil {
		t.Fatal(err)
	}

	got, err := reg.Run(context.Background(), "double", oapipe.Raw{}).Wait()
	if err != nil || got != 42 {
		t.Errorf("Run() = %v, %v; want 42", got, err)
	}

	if _, err := reg.Run(context.Background(), "missing", oapipe.Raw{}).Wait(); !oapipe.IsNotFound(err) {
		t.Errorf("missing operation error = %v", err)
	}
}

func TestRetryExhaustion(t *testing.T) {
	step := oapipe.RetryWhen(oapipe.Value(1), func(any) bool { return false }, oapipe.RetryOptions{MaxRetryAttempts: 2})
	p := oapipe.MustPipe(step)

	_, err := p.Invoke(nil, oapipe.NewContext(context.Background()), nil).Wait()
	if !oapipe.IsRetryExhausted(err) {
		t.Errorf("error = %v, want retry exhausted", err)
	}
}
