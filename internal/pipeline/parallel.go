package pipeline

import (
	"fmt"
	"reflect"

	"golang.org/x/sync/errgroup"

	"github.com/tjfontaine/oapipe/internal/core/domain"
)

// Settlement statuses.
const (
	StatusFulfilled = "fulfilled"
	StatusRejected  = "rejected"
)

// Settlement is the per-branch outcome of ParallelAllSettled.
type Settlement struct {
	Status string
	Value  any
	Reason error
}

// Parallel runs every step with the same input and resolves with their
// values in order. It rejects as soon as any branch rejects.
func Parallel(steps ...Step) Step {
	return StepFunc(func(value any, c *Context, inst Instance) Result {
		results := make([]Result, len(steps))
		for i, s := range steps {
			results[i] = s.Invoke(value, c, inst)
			if !results[i].IsPending() && results[i].err != nil {
				return Fail(results[i].err)
			}
		}
		return all(results)
	})
}

// ParallelMap runs step once per element of a slice input and resolves with
// the mapped values in order. It rejects as soon as any element rejects.
func ParallelMap(step Step) Step {
	return StepFunc(func(value any, c *Context, inst Instance) Result {
		items, err := toSlice(value)
		if err != nil {
			return Fail(err)
		}
		results := make([]Result, len(items))
		for i, item := range items {
			results[i] = step.Invoke(item, c, inst)
			if !results[i].IsPending() && results[i].err != nil {
				return Fail(results[i].err)
			}
		}
		return all(results)
	})
}

// ParallelAllSettled runs every step with the same input and always
// resolves with one Settlement per branch.
func ParallelAllSettled(steps ...Step) Step {
	return StepFunc(func(value any, c *Context, inst Instance) Result {
		out := make([]Settlement, len(steps))
		var pending []int
		results := make([]Result, len(steps))
		for i, s := range steps {
			results[i] = s.Invoke(value, c, inst)
			if results[i].IsPending() {
				pending = append(pending, i)
				continue
			}
			out[i] = settlement(results[i].Wait())
		}
		if len(pending) == 0 {
			return Sync(out)
		}

		f := NewFuture()
		var g errgroup.Group
		for _, i := range pending {
			g.Go(func() error {
				out[i] = settlement(results[i].Wait())
				return nil
			})
		}
		go func() {
			_ = g.Wait()
			f.Resolve(out)
		}()
		return Pending(f)
	})
}

func settlement(v any, err error) Settlement {
	if err != nil {
		return Settlement{Status: StatusRejected, Reason: Unmark(err)}
	}
	return Settlement{Status: StatusFulfilled, Value: v}
}

func all(results []Result) Result {
	values := make([]any, len(results))
	var pending []int
	for i, r := range results {
		if r.IsPending() {
			pending = append(pending, i)
			continue
		}
		values[i] = r.value
	}
	if len(pending) == 0 {
		return Sync(values)
	}

	f := NewFuture()
	var g errgroup.Group
	for _, i := range pending {
		g.Go(func() error {
			v, err := results[i].Wait()
			if err != nil {
				f.Reject(err)
				return err
			}
			values[i] = v
			return nil
		})
	}
	go func() {
		if g.Wait() == nil {
			f.Resolve(values)
		}
	}()
	return Pending(f)
}

func toSlice(value any) ([]any, error) {
	if items, ok := value.([]any); ok {
		return items, nil
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, &domain.InvalidInputError{
			Step:     "parallel map",
			Expected: "slice",
			Got:      fmt.Sprintf("%T", value),
		}
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, nil
}
