// Package pipeline provides the step composer, the per-execution context
// and the cancellable execution handle.
//
// # Steps and results
//
// A Step receives the previous value, the execution Context and the owning
// Instance, and returns a Result. A Result is either settled synchronously
// (Sync, Fail) or Pending on a Future:
//
//	double := pipeline.Func(func(v any, c *pipeline.Context, _ pipeline.Instance) (any, error) {
//	    return v.(int) * 2, nil
//	})
//	fetch := pipeline.Go(func(v any, c *pipeline.Context, _ pipeline.Instance) (any, error) {
//	    return load(c.Context(), v)
//	})
//
// # Composition
//
// Pipe folds steps left to right. While every step settles synchronously the
// pipeline does too; once a step is pending the remainder of that execution
// continues on a goroutine:
//
//	p := pipeline.MustPipe(double, fetch).CatchError(func(err error, c *pipeline.Context, _ pipeline.Instance) (any, error) {
//	    return fallback, nil
//	})
//
// # Cancellation
//
// Every Context owns a token. The composer checks it before each step and
// after the last one; a canceled token stops the chain with a
// *domain.CanceledError. Steps holding resources register teardown with
// c.Token.OnCancel or watch c.Context().Done().
package pipeline
