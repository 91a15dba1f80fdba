// Package token provides the per-execution cooperative cancellation token.
package token

import (
	"context"
	"sync"

	"github.com/tjfontaine/oapipe/internal/core/domain"
)

// Token is a cancellation flag with an ordered observer list. A token is
// owned by exactly one execution context.
//
// Observers registered after cancellation fire immediately on the
// registering goroutine.
type Token struct {
	mu        sync.Mutex
	canceled  bool
	reason    string
	observers []func()

	ctx    context.Context
	cancel context.CancelCauseFunc
	stop   func() bool
}

// New creates a token. When parent is done the token is canceled with the
// parent's cause.
func New(parent context.Context) *Token {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancelCause(context.WithoutCancel(parent))
	t := &Token{ctx: ctx, cancel: cancel}
	if parent.Done() != nil {
		t.stop = context.AfterFunc(parent, func() {
			reason := ""
			if cause := context.Cause(parent); cause != nil {
				reason = cause.Error()
			}
			t.Cancel(reason)
		})
	}
	return t
}

// IsCanceled reports whether Cancel has been called.
func (t *Token) IsCanceled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.canceled
}

// Reason returns the reason given to the first Cancel call.
func (t *Token) Reason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

// Err returns a *domain.CanceledError once the token is canceled, nil
// before.
func (t *Token) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.canceled {
		return nil
	}
	return &domain.CanceledError{Reason: t.reason}
}

// Cancel sets the flag and fires every observer once, in registration order.
// Only the first call has an effect; it returns true.
func (t *Token) Cancel(reason string) bool {
	t.mu.Lock()
	if t.canceled {
		t.mu.Unlock()
		return false
	}
	t.canceled = true
	t.reason = reason
	observers := t.observers
	t.observers = nil
	t.mu.Unlock()

	t.cancel(&domain.CanceledError{Reason: reason})
	if t.stop != nil {
		t.stop()
	}
	for _, fn := range observers {
		fn()
	}
	return true
}

// OnCancel registers fn to run when the token is canceled.
func (t *Token) OnCancel(fn func()) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	if t.canceled {
		t.mu.Unlock()
		fn()
		return
	}
	t.observers = append(t.observers, fn)
	t.mu.Unlock()
}

// Context returns a context that is canceled, with a *domain.CanceledError
// cause, when the token is. Values of the parent are preserved.
func (t *Token) Context() context.Context {
	return t.ctx
}

// Release detaches the token from its parent context. Call it once the
// owning execution has settled.
func (t *Token) Release() {
	if t.stop != nil {
		t.stop()
	}
}
