package pipeline

import "github.com/tjfontaine/oapipe/internal/core/ports"

// Instance is the version registry a step runs under.
type Instance interface {
	Version() string
	Logger() ports.Logger
}

// Step is a unit of pipeline work.
type Step interface {
	Invoke(value any, c *Context, inst Instance) Result
}

// Func adapts a synchronous function to a Step.
type Func func(value any, c *Context, inst Instance) (any, error)

// Invoke calls f and settles synchronously.
func (f Func) Invoke(value any, c *Context, inst Instance) Result {
	v, err := f(value, c, inst)
	if err != nil {
		return Fail(err)
	}
	return Sync(v)
}

// AsyncFunc adapts a function returning a future to a Step.
type AsyncFunc func(value any, c *Context, inst Instance) *Future

// Invoke calls f. A nil future is treated as Sync(nil).
func (f AsyncFunc) Invoke(value any, c *Context, inst Instance) Result {
	fut := f(value, c, inst)
	if fut == nil {
		return Sync(nil)
	}
	return Pending(fut)
}

// Go returns a Step that runs fn on its own goroutine.
func Go(fn Func) Step {
	return AsyncFunc(func(value any, c *Context, inst Instance) *Future {
		return Spawn(func() (any, error) {
			return fn(value, c, inst)
		})
	})
}

// Value returns a Step that ignores its input and yields v.
func Value(v any) Step {
	return Func(func(any, *Context, Instance) (any, error) {
		return v, nil
	})
}

// StepFunc adapts a function returning a Result to a Step.
type StepFunc func(value any, c *Context, inst Instance) Result

// Invoke calls f.
func (f StepFunc) Invoke(value any, c *Context, inst Instance) Result {
	return f(value, c, inst)
}
