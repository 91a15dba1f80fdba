package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tjfontaine/oapipe/internal/core/domain"
)

// blockUntilCanceled registers an observer and parks until the token fires
// or release is closed.
func blockUntilCanceled(observed *atomic.Int32, release <-chan struct{}) Step {
	return Go(func(v any, c *Context, inst Instance) (any, error) {
		c.Token.OnCancel(func() { observed.Add(1) })
		select {
		case <-c.Context().Done():
			return nil, context.Cause(c.Context())
		case <-release:
			return v, nil
		}
	})
}

func TestStart_SyncSettlesImmediately(t *testing.T) {
	e := Start(MustPipe(add(1)), 1, NewContext(context.Background()), nil)
	if !e.IsSync() || !e.Settled() {
		t.Fatal("expected execution to settle synchronously")
	}
	v, err := e.Wait()
	if err != nil || v != 2 {
		t.Errorf("got %v, %v", v, err)
	}
}

func TestExecution_CancelRejects(t *testing.T) {
	var observed atomic.Int32
	release := make(chan struct{})
	defer close(release)

	e := Start(MustPipe(blockUntilCanceled(&observed, release)), 1, NewContext(context.Background()), nil)
	if e.IsSync() {
		t.Fatal("expected pending execution")
	}
	if !e.Cancel("client went away") {
		t.Fatal("expected first cancel to take effect")
	}
	if e.Cancel("again") {
		t.Error("second cancel must be a no-op")
	}

	_, err := e.Wait()
	var ce *domain.CanceledError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CanceledError, got %v", err)
	}
	if ce.Reason != "client went away" {
		t.Errorf("unexpected reason %q", ce.Reason)
	}
}

func TestExecution_ConcurrentRunsAreIsolated(t *testing.T) {
	var observed1, observed2 atomic.Int32
	release := make(chan struct{})

	p1 := MustPipe(blockUntilCanceled(&observed1, release), add(1))
	p2 := MustPipe(blockUntilCanceled(&observed2, release), add(1))

	e1 := Start(p1, 1, NewContext(context.Background()), nil)
	e2 := Start(p2, 1, NewContext(context.Background()), nil)

	e1.Cancel("")
	if _, err := e1.Wait(); !domain.IsCanceled(err) {
		t.Fatalf("expected execution 1 to be canceled, got %v", err)
	}
	if e2.Context().IsCanceled() {
		t.Fatal("execution 2 must not be canceled")
	}

	close(release)
	v, err := e2.Wait()
	if err != nil || v != 2 {
		t.Errorf("execution 2: got %v, %v", v, err)
	}
	if observed2.Load() != 0 {
		t.Error("execution 2 observer must not fire")
	}
}

func TestExecution_ParentContextCancels(t *testing.T) {
	var observed atomic.Int32
	release := make(chan struct{})
	defer close(release)

	parent, cancel := context.WithCancel(context.Background())
	e := Start(MustPipe(blockUntilCanceled(&observed, release)), 1, NewContext(parent), nil)
	cancel()

	select {
	case <-e.Done():
	case <-time.After(time.Second):
		t.Fatal("execution did not settle after parent cancellation")
	}
	if _, err := e.Wait(); !domain.IsCanceled(err) {
		t.Errorf("expected CanceledError, got %v", err)
	}
}

func TestExecution_CancelAfterSettleKeepsResult(t *testing.T) {
	e := Start(MustPipe(add(1)), 1, NewContext(context.Background()), nil)
	e.Cancel("late")

	v, err := e.Wait()
	if err != nil || v != 2 {
		t.Errorf("got %v, %v", v, err)
	}
}

func TestExecution_HandledErrorIsUnwrapped(t *testing.T) {
	rethrown := &domain.NotFoundError{OperationID: "x"}
	p := MustPipe(fail(errors.New("boom"))).CatchError(func(error, *Context, Instance) (any, error) {
		return nil, rethrown
	})

	_, err := Start(p, nil, NewContext(context.Background()), nil).Wait()
	if err != rethrown {
		t.Errorf("expected the handler's error itself, got %#v", err)
	}
}

func TestContextFactory_New(t *testing.T) {
	seed := map[string]any{"tenant": "acme"}
	f := ContextFactory{NewID: func() string { return "exec-1" }}

	c := f.New(context.Background(), domain.Raw{
		Request: &domain.Request{Query: map[string]any{"limit": "1"}},
		Data:    seed,
	}, ValidationHooks{})

	if c.ID != "exec-1" {
		t.Errorf("expected id exec-1, got %q", c.ID)
	}
	if v, ok := c.Get("tenant"); !ok || v != "acme" {
		t.Errorf("expected seeded data, got %v", v)
	}
	c.Set("tenant", "other")
	if seed["tenant"] != "acme" {
		t.Error("context data must not alias raw data")
	}
	if c.Request == nil || c.Request.Query["limit"] != "1" {
		t.Error("expected request to be carried")
	}
	if err := c.ValidateRequestSchema(nil); err != nil {
		t.Errorf("nil hook must be a no-op, got %v", err)
	}
}

func TestContext_ValidationHooks(t *testing.T) {
	var gotReq *domain.Request
	var gotStatus int
	req := &domain.Request{}
	resp := &domain.Response{StatusCode: 201}

	c := ContextFactory{}.New(context.Background(), domain.Raw{Request: req, Response: resp}, ValidationHooks{
		Request: func(r *domain.Request) error {
			gotReq = r
			return nil
		},
		Response: func(r *domain.Response, status int) error {
			gotStatus = status
			return errors.New("bad response")
		},
	})

	if err := c.ValidateRequestSchema(nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotReq != req {
		t.Error("expected context request to be validated")
	}
	if err := c.ValidateResponseSchema(nil, 404); err == nil {
		t.Error("expected hook error")
	}
	if gotStatus != 404 {
		t.Errorf("expected status 404, got %d", gotStatus)
	}
}

func TestContext_ValidateResponseSchemaBody(t *testing.T) {
	var got *domain.Response
	var gotStatus int
	hooks := ValidationHooks{
		Response: func(r *domain.Response, status int) error {
			got, gotStatus = r, status
			return nil
		},
	}
	headers := map[string]any{"content-type": "application/json"}
	c := ContextFactory{}.New(context.Background(), domain.Raw{
		Response: &domain.Response{StatusCode: 201, Headers: headers},
	}, hooks)

	if err := c.ValidateResponseSchema([]any{1}, 0); err != nil {
		t.Fatal(err)
	}
	if got == nil || got.StatusCode != 201 || got.Headers["content-type"] != "application/json" {
		t.Fatalf("wrapped response = %+v", got)
	}
	if body, ok := got.Body.([]any); !ok || len(body) != 1 {
		t.Errorf("body = %v", got.Body)
	}
	if gotStatus != 0 {
		t.Errorf("status = %d, want the caller's 0", gotStatus)
	}

	if err := c.ValidateResponseSchema(domain.Response{StatusCode: 404, Body: "x"}, 404); err != nil {
		t.Fatal(err)
	}
	if got.StatusCode != 404 || got.Body != "x" {
		t.Errorf("value response = %+v", got)
	}

	bare := ContextFactory{}.New(context.Background(), domain.Raw{}, ValidationHooks{})
	if r := bare.ResponseFor("x"); r.StatusCode != 0 || r.Headers != nil || r.Body != "x" {
		t.Errorf("ResponseFor without run response = %+v", r)
	}
}

func TestContextFactory_FreshPerCall(t *testing.T) {
	f := ContextFactory{}
	a := f.New(context.Background(), domain.Raw{}, ValidationHooks{})
	b := f.New(context.Background(), domain.Raw{}, ValidationHooks{})

	if a.ID == b.ID {
		t.Error("expected distinct ids")
	}
	if a.Token == b.Token {
		t.Error("expected distinct tokens")
	}
	a.Set("k", 1)
	if _, ok := b.Get("k"); ok {
		t.Error("data bags must not be shared")
	}
}
