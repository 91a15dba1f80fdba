// Package operation binds pipelines to OpenAPI operations and groups them
// into version registries.
package operation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tjfontaine/oapipe/internal/core/domain"
	"github.com/tjfontaine/oapipe/internal/pipeline"
	"github.com/tjfontaine/oapipe/internal/schema"
	"github.com/tjfontaine/oapipe/internal/telemetry"
)

// Operation owns the handler, validators and version link of one operation
// id within a registry.
//
// A new operation is unconfigured: it is private and every run fails with a
// *domain.NotFoundError. Setup configures it.
type Operation struct {
	mu       sync.RWMutex
	id       string
	registry *Registry

	handler *pipeline.Pipeline
	// explicit is set once Setup has been called on this operation.
	explicit   bool
	errHandler pipeline.ErrorHandler

	route      *domain.Route
	validators *schema.OperationValidators

	requestValidation  *bool
	responseValidation *bool

	private    bool
	privateSet bool
	deprecated bool

	inheritedFrom *Operation
	next          *Operation
}

func newOperation(id string, r *Registry) *Operation {
	return &Operation{id: id, registry: r, private: true}
}

// ID returns the operation id.
func (o *Operation) ID() string { return o.id }

// Registry returns the registry the operation belongs to.
func (o *Operation) Registry() *Registry { return o.registry }

// Setup composes steps into the operation's handler. Construction and
// validator compilation errors are returned here, never at run time.
//
// Later versions that inherited this operation and were not set up
// themselves pick up the new handler.
func (o *Operation) Setup(steps ...pipeline.Step) error {
	p, err := pipeline.Pipe(steps...)
	if err != nil {
		return fmt.Errorf("setup %s: %w", o.id, err)
	}

	o.mu.Lock()
	validators, err := o.compileLocked(o.route)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	o.handler = p
	o.explicit = true
	o.validators = validators
	if !o.privateSet {
		o.private = false
	}
	next := o.next
	private := o.private
	o.mu.Unlock()

	o.registry.logger.Debug("operation configured",
		slog.String("operation", o.id),
		slog.String("version", o.registry.version),
		slog.Int("steps", p.Len()),
	)

	if next != nil {
		next.follow(o, p, private)
	}
	return nil
}

// follow replaces the handler inherited from src unless the operation was
// set up on its own.
func (o *Operation) follow(src *Operation, p *pipeline.Pipeline, private bool) {
	o.mu.Lock()
	if o.explicit || o.inheritedFrom != src {
		o.mu.Unlock()
		return
	}
	validators, err := o.compileLocked(o.route)
	if err != nil {
		o.mu.Unlock()
		o.registry.logger.Warn("inherited operation validators not compiled",
			slog.String("operation", o.id),
			slog.String("version", o.registry.version),
			slog.String("error", err.Error()),
		)
		return
	}
	o.handler = p.Clone()
	o.validators = validators
	if !o.privateSet {
		o.private = private
	}
	next := o.next
	o.mu.Unlock()

	if next != nil {
		next.follow(o, p, private)
	}
}

// AddRoute attaches route metadata. Validators are compiled now when the
// operation is configured, else on the next Setup.
func (o *Operation) AddRoute(route domain.Route) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var validators *schema.OperationValidators
	if o.handler != nil {
		var err error
		if validators, err = o.compileLocked(&route); err != nil {
			return err
		}
	}
	o.route = &route
	o.validators = validators
	return nil
}

// compileLocked compiles validators for route. It returns nil validators
// for a nil route.
func (o *Operation) compileLocked(route *domain.Route) (*schema.OperationValidators, error) {
	if route == nil {
		return nil, nil
	}
	defaults := o.registry.ValidationDefaults()
	v, err := o.registry.compiler.CompileOperation(*route, schema.Options{
		RequestStatusCode: defaults.RequestStatusCode,
	})
	if err != nil {
		return nil, fmt.Errorf("compile validators of %s: %w", o.id, err)
	}
	return v, nil
}

// ensureValidators compiles validators for a configured operation with a
// route when none are present, or always when force is set.
func (o *Operation) ensureValidators(force bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.handler == nil || o.route == nil || (o.validators != nil && !force) {
		return nil
	}
	v, err := o.compileLocked(o.route)
	if err != nil {
		return err
	}
	o.validators = v
	return nil
}

// CatchError sets the operation-level error handler. It applies to errors
// from validation and the handler, and is never copied to other versions.
func (o *Operation) CatchError(h pipeline.ErrorHandler) *Operation {
	o.mu.Lock()
	o.errHandler = h
	o.mu.Unlock()
	return o
}

// SetRequestValidation overrides the registry default for request
// validation.
func (o *Operation) SetRequestValidation(enabled bool) *Operation {
	o.mu.Lock()
	o.requestValidation = &enabled
	o.mu.Unlock()
	return o
}

// SetResponseValidation overrides the registry default for response
// validation.
func (o *Operation) SetResponseValidation(enabled bool) *Operation {
	o.mu.Lock()
	o.responseValidation = &enabled
	o.mu.Unlock()
	return o
}

// RequestValidation reports whether runs validate the request.
func (o *Operation) RequestValidation() bool {
	o.mu.RLock()
	override := o.requestValidation
	o.mu.RUnlock()
	if override != nil {
		return *override
	}
	return o.registry.ValidationDefaults().Request
}

// ResponseValidation reports whether runs validate the response.
func (o *Operation) ResponseValidation() bool {
	o.mu.RLock()
	override := o.responseValidation
	o.mu.RUnlock()
	if override != nil {
		return *override
	}
	return o.registry.ValidationDefaults().Response
}

// SetPrivate marks the operation private or public.
func (o *Operation) SetPrivate(private bool) *Operation {
	o.mu.Lock()
	o.private = private
	o.privateSet = true
	o.mu.Unlock()
	return o
}

// SetDeprecated marks the operation deprecated. Deprecated operations are
// not inherited by later versions.
func (o *Operation) SetDeprecated(deprecated bool) *Operation {
	o.mu.Lock()
	o.deprecated = deprecated
	o.mu.Unlock()
	return o
}

// Private reports whether the operation is hidden from Public listings.
func (o *Operation) Private() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.private
}

// Deprecated reports whether the operation is skipped by inheritance.
func (o *Operation) Deprecated() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.deprecated
}

// Configured reports whether the operation has a handler, set up directly
// or inherited.
func (o *Operation) Configured() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.handler != nil
}

// Route returns a copy of the attached route, if any.
func (o *Operation) Route() (domain.Route, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.route == nil {
		return domain.Route{}, false
	}
	return *o.route, true
}

// Validators returns the compiled validators, nil until compiled.
func (o *Operation) Validators() *schema.OperationValidators {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.validators
}

// NextVersion returns the operation of a later version that inherited this
// one.
func (o *Operation) NextVersion() *Operation {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.next
}

// InheritedFrom returns the operation this one was inherited from.
func (o *Operation) InheritedFrom() *Operation {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.inheritedFrom
}

// inheritInto creates the copy of o living in r.
func (o *Operation) inheritInto(r *Registry) *Operation {
	o.mu.RLock()
	created := &Operation{
		id:                 o.id,
		registry:           r,
		explicit:           false,
		route:              o.route,
		requestValidation:  o.requestValidation,
		responseValidation: o.responseValidation,
		private:            o.private,
		privateSet:         o.privateSet,
		inheritedFrom:      o,
	}
	if o.handler != nil {
		created.handler = o.handler.Clone()
	}
	o.mu.RUnlock()

	o.mu.Lock()
	o.next = created
	o.mu.Unlock()
	return created
}

// Run executes the operation with a fresh execution context. The first step
// receives raw.
func (o *Operation) Run(parent context.Context, raw domain.Raw) *pipeline.Execution {
	if parent == nil {
		parent = context.Background()
	}
	r := o.registry

	o.mu.RLock()
	handler := o.handler
	validators := o.validators
	errHandler := o.errHandler
	o.mu.RUnlock()

	var hooks pipeline.ValidationHooks
	if validators != nil {
		hooks.Request = validators.ValidateRequest
		hooks.Response = validators.ValidateResponse
	}

	var steps []pipeline.Step
	if handler == nil {
		steps = append(steps, notFound(o.id, r.version))
	} else {
		if validators != nil && validators.HasRequestSchema() && o.RequestValidation() {
			steps = append(steps, validateRequest)
		}
		steps = append(steps, handler)
		if validators != nil && o.ResponseValidation() {
			steps = append(steps, validateResponse)
		}
	}
	chain := pipeline.MustPipe(steps...)
	if errHandler != nil {
		chain.CatchError(errHandler)
	}

	ctx, span := telemetry.StartRun(parent, o.id, r.version)
	c := r.contexts.New(ctx, raw, hooks)
	start := time.Now()

	exec := pipeline.Start(chain, raw, c, r)

	finish := func() {
		_, err := exec.Wait()
		telemetry.EndRun(span, c.ID, err)
		attrs := []any{
			slog.String("operation", o.id),
			slog.Duration("duration", time.Since(start)),
		}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		c.Logger.Debug("operation run settled", attrs...)

		if r.runs != nil {
			rec := domain.NewRunRecord(c.ID, r.version, o.id, start, err)
			if err := r.runs.RecordRun(context.WithoutCancel(parent), rec); err != nil {
				c.Logger.Warn("failed to record run", slog.String("error", err.Error()))
			}
		}
	}
	if exec.Settled() {
		finish()
	} else {
		go func() {
			<-exec.Done()
			finish()
		}()
	}
	return exec
}

func notFound(id, version string) pipeline.Step {
	return pipeline.Func(func(any, *pipeline.Context, pipeline.Instance) (any, error) {
		return nil, &domain.NotFoundError{OperationID: id, Version: version}
	})
}

var validateRequest = pipeline.Func(func(v any, c *pipeline.Context, _ pipeline.Instance) (any, error) {
	if err := c.ValidateRequestSchema(nil); err != nil {
		return nil, err
	}
	return v, nil
})

// validateResponse checks the handler result. Values other than a
// *domain.Response are validated as the body of the run's response.
var validateResponse = pipeline.Func(func(v any, c *pipeline.Context, _ pipeline.Instance) (any, error) {
	resp, ok := v.(*domain.Response)
	if !ok {
		resp = c.ResponseFor(v)
	}
	if err := c.ValidateResponseSchema(resp, resp.StatusCode); err != nil {
		return nil, err
	}
	return v, nil
})
