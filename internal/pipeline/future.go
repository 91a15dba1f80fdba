package pipeline

import "sync"

// Future is a value that settles exactly once.
type Future struct {
	once  sync.Once
	done  chan struct{}
	value any
	err   error
}

// NewFuture creates an unsettled future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolved returns a future already settled with v.
func Resolved(v any) *Future {
	f := NewFuture()
	f.Resolve(v)
	return f
}

// Rejected returns a future already settled with err.
func Rejected(err error) *Future {
	f := NewFuture()
	f.Reject(err)
	return f
}

// Spawn runs fn on a new goroutine and settles the returned future with its
// outcome.
func Spawn(fn func() (any, error)) *Future {
	f := NewFuture()
	go func() {
		f.Settle(fn())
	}()
	return f
}

// Settle settles the future. Only the first call has an effect; it returns
// true.
func (f *Future) Settle(v any, err error) bool {
	settled := false
	f.once.Do(func() {
		f.value, f.err = v, err
		close(f.done)
		settled = true
	})
	return settled
}

// Resolve settles the future with v.
func (f *Future) Resolve(v any) bool { return f.Settle(v, nil) }

// Reject settles the future with err.
func (f *Future) Reject(err error) bool { return f.Settle(nil, err) }

// Done is closed once the future has settled.
func (f *Future) Done() <-chan struct{} { return f.done }

// Settled reports whether the future has settled.
func (f *Future) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the future settles.
func (f *Future) Wait() (any, error) {
	<-f.done
	return f.value, f.err
}

// Result is the tagged outcome of a step: settled synchronously with a value
// or an error, or pending on a Future.
type Result struct {
	value  any
	err    error
	future *Future
}

// Sync is a synchronously settled successful result.
func Sync(v any) Result { return Result{value: v} }

// Fail is a synchronously settled failed result.
func Fail(err error) Result { return Result{err: err} }

// Pending is a result that settles with f. A nil f is Sync(nil).
func Pending(f *Future) Result { return Result{future: f} }

// IsPending reports whether the result has not settled synchronously.
func (r Result) IsPending() bool { return r.future != nil }

// Err returns the error of a synchronously settled result.
func (r Result) Err() error { return r.err }

// Wait returns the outcome, blocking on pending results.
func (r Result) Wait() (any, error) {
	if r.future != nil {
		return r.future.Wait()
	}
	return r.value, r.err
}

// Future returns the result as a future; synchronous results are returned
// already settled.
func (r Result) Future() *Future {
	if r.future != nil {
		return r.future
	}
	f := NewFuture()
	f.Settle(r.value, r.err)
	return f
}
