package pipeline

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/tjfontaine/oapipe/internal/core/domain"
)

// ErrorHandler recovers from a failed pipeline. Its outcome becomes the
// pipeline's outcome.
type ErrorHandler func(err error, c *Context, inst Instance) (any, error)

// Pipeline is a left fold of steps with an optional error handler.
// A Pipeline is itself a Step.
type Pipeline struct {
	mu      sync.RWMutex
	steps   []Step
	handler ErrorHandler
}

// Pipe composes steps left to right. It fails when steps is empty or any
// step is nil.
func Pipe(steps ...Step) (*Pipeline, error) {
	if len(steps) == 0 {
		return nil, &domain.InvalidPipelineDefinitionError{Reason: "at least one step is required"}
	}
	for i, s := range steps {
		if isNil(s) {
			return nil, &domain.InvalidPipelineDefinitionError{Reason: fmt.Sprintf("step %d is not callable", i)}
		}
	}
	return &Pipeline{steps: append([]Step(nil), steps...)}, nil
}

func isNil(s Step) bool {
	if s == nil {
		return true
	}
	rv := reflect.ValueOf(s)
	switch rv.Kind() {
	case reflect.Func, reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// MustPipe is like Pipe but panics on an invalid definition.
func MustPipe(steps ...Step) *Pipeline {
	p, err := Pipe(steps...)
	if err != nil {
		panic(err)
	}
	return p
}

// CatchError sets the pipeline's error handler, replacing any previous one.
func (p *Pipeline) CatchError(h ErrorHandler) *Pipeline {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
	return p
}

// Len returns the number of composed steps.
func (p *Pipeline) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.steps)
}

// Clone returns a pipeline with the same steps and no error handler.
func (p *Pipeline) Clone() *Pipeline {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return &Pipeline{steps: append([]Step(nil), p.steps...)}
}

// Invoke runs the pipeline.
func (p *Pipeline) Invoke(value any, c *Context, inst Instance) Result {
	p.mu.RLock()
	steps, handler := p.steps, p.handler
	p.mu.RUnlock()

	return catch(run(steps, 0, value, c, inst), handler, c, inst)
}

func run(steps []Step, from int, value any, c *Context, inst Instance) Result {
	for i := from; i < len(steps); i++ {
		if err := canceled(c); err != nil {
			return Fail(err)
		}

		r := steps[i].Invoke(value, c, inst)
		if r.IsPending() {
			next := i + 1
			return Pending(Spawn(func() (any, error) {
				v, err := r.Wait()
				if err != nil {
					return nil, err
				}
				return run(steps, next, v, c, inst).Wait()
			}))
		}
		if r.err != nil {
			return r
		}
		value = r.value
	}

	if err := canceled(c); err != nil {
		return Fail(err)
	}
	return Sync(value)
}

func canceled(c *Context) error {
	if !c.IsCanceled() {
		return nil
	}
	return c.Token.Err()
}

func catch(r Result, h ErrorHandler, c *Context, inst Instance) Result {
	if h == nil {
		return r
	}
	if r.IsPending() {
		return Pending(Spawn(func() (any, error) {
			v, err := r.Wait()
			if err == nil {
				return v, nil
			}
			return handle(err, h, c, inst)
		}))
	}
	if r.err == nil {
		return r
	}
	v, err := handle(r.err, h, c, inst)
	if err != nil {
		return Fail(err)
	}
	return Sync(v)
}

func handle(err error, h ErrorHandler, c *Context, inst Instance) (any, error) {
	var he *handledError
	if errors.As(err, &he) || domain.IsCanceled(err) {
		return nil, err
	}
	v, herr := h(err, c, inst)
	if herr != nil {
		return nil, &handledError{err: herr}
	}
	return v, nil
}

// handledError marks an error produced by an error handler so that
// enclosing pipelines propagate it untouched.
type handledError struct {
	err error
}

func (e *handledError) Error() string { return e.err.Error() }

func (e *handledError) Unwrap() error { return e.err }

// Unmark strips the handled marker from err.
func Unmark(err error) error {
	if he, ok := err.(*handledError); ok {
		return he.err
	}
	return err
}
