package pipeline

// Execution is the cancellable handle of one run.
type Execution struct {
	ctx  *Context
	out  *Future
	sync bool
}

// Start invokes step with value. A synchronously settled step settles the
// execution before Start returns. A pending step settles it when the step
// settles or when the token is canceled, whichever comes first.
func Start(step Step, value any, c *Context, inst Instance) *Execution {
	e := &Execution{ctx: c, out: NewFuture()}

	r := step.Invoke(value, c, inst)
	if !r.IsPending() {
		e.sync = true
		e.out.Settle(r.value, Unmark(r.err))
		c.Token.Release()
		return e
	}

	c.Token.OnCancel(func() {
		e.out.Reject(c.Token.Err())
	})
	go func() {
		v, err := r.Wait()
		e.out.Settle(v, Unmark(err))
		c.Token.Release()
	}()
	return e
}

// RejectedExecution returns an execution that has already failed with err.
func RejectedExecution(c *Context, err error) *Execution {
	e := &Execution{ctx: c, out: Rejected(err), sync: true}
	c.Token.Release()
	return e
}

// Wait blocks until the execution settles.
func (e *Execution) Wait() (any, error) { return e.out.Wait() }

// Done is closed once the execution has settled.
func (e *Execution) Done() <-chan struct{} { return e.out.Done() }

// Settled reports whether the execution has settled.
func (e *Execution) Settled() bool { return e.out.Settled() }

// IsSync reports whether the execution settled synchronously inside Start.
func (e *Execution) IsSync() bool { return e.sync }

// Context returns the execution's context.
func (e *Execution) Context() *Context { return e.ctx }

// Cancel cancels the execution's token. It returns false if the token was
// already canceled.
func (e *Execution) Cancel(reason string) bool { return e.ctx.Token.Cancel(reason) }
