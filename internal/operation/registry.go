package operation

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/tjfontaine/oapipe/internal/core/domain"
	"github.com/tjfontaine/oapipe/internal/core/ports"
	"github.com/tjfontaine/oapipe/internal/logging"
	"github.com/tjfontaine/oapipe/internal/pipeline"
	"github.com/tjfontaine/oapipe/internal/schema"
)

// ValidationDefaults are the registry-wide validation toggles. Per-operation
// overrides win over them.
type ValidationDefaults struct {
	Request  bool
	Response bool
	// RequestStatusCode is carried by request validation errors.
	RequestStatusCode int
}

// DefaultValidationDefaults validates requests and not responses.
func DefaultValidationDefaults() ValidationDefaults {
	return ValidationDefaults{
		Request:           true,
		Response:          false,
		RequestStatusCode: domain.DefaultRequestValidationStatus,
	}
}

// Option configures a Registry.
type Option func(*Registry) error

// WithLogger sets the registry logger. The candidate must implement the
// full logger method set; a *slog.Logger is accepted as well.
func WithLogger(candidate any) Option {
	return func(r *Registry) error {
		l, err := logging.Validate(candidate)
		if err != nil {
			return err
		}
		r.logger = l
		return nil
	}
}

// WithValidationDefaults sets the registry validation defaults.
func WithValidationDefaults(d ValidationDefaults) Option {
	return func(r *Registry) error {
		r.defaults = normalizeDefaults(d)
		return nil
	}
}

// WithCompiler shares a schema compiler, and its validator cache, between
// registries.
func WithCompiler(c *schema.Compiler) Option {
	return func(r *Registry) error {
		if c != nil {
			r.compiler = c
		}
		return nil
	}
}

// WithIDGenerator sets the execution id generator.
func WithIDGenerator(fn func() string) Option {
	return func(r *Registry) error {
		r.newID = fn
		return nil
	}
}

// WithRunStore records every settled run in store.
func WithRunStore(store ports.RunStore) Option {
	return func(r *Registry) error {
		r.runs = store
		return nil
	}
}

// Registry holds the operations of one API version. Operations are created
// on first access until Bootstrap freezes the key set.
type Registry struct {
	version  string
	logger   ports.Logger
	compiler *schema.Compiler
	newID    func() string
	runs     ports.RunStore
	contexts pipeline.ContextFactory

	mu           sync.RWMutex
	defaults     ValidationDefaults
	ops          map[string]*Operation
	bootstrapped bool
}

// NewRegistry creates the registry of version.
func NewRegistry(version string, opts ...Option) (*Registry, error) {
	r := &Registry{
		version:  version,
		logger:   logging.Default(),
		compiler: schema.NewCompiler(),
		defaults: DefaultValidationDefaults(),
		ops:      make(map[string]*Operation),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	r.contexts = pipeline.ContextFactory{
		Logger: r.logger.Child("version", version),
		NewID:  r.newID,
	}
	return r, nil
}

// Version returns the API version name.
func (r *Registry) Version() string { return r.version }

// Logger returns the registry logger.
func (r *Registry) Logger() ports.Logger { return r.logger }

// Compiler returns the schema compiler.
func (r *Registry) Compiler() *schema.Compiler { return r.compiler }

// Operation returns the operation with id, creating it before bootstrap.
// After bootstrap unknown ids fail with *domain.NotFoundError.
func (r *Registry) Operation(id string) (*Operation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if op, ok := r.ops[id]; ok {
		return op, nil
	}
	if r.bootstrapped {
		return nil, &domain.NotFoundError{OperationID: id, Version: r.version}
	}
	op := newOperation(id, r)
	r.ops[id] = op
	return op, nil
}

// MustOperation is like Operation but panics on error.
func (r *Registry) MustOperation(id string) *Operation {
	op, err := r.Operation(id)
	if err != nil {
		panic(err)
	}
	return op
}

// Lookup returns an existing operation without creating it.
func (r *Registry) Lookup(id string) (*Operation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.ops[id]
	return op, ok
}

// Operations returns a snapshot of the operations by id.
func (r *Registry) Operations() map[string]*Operation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.ops)
}

// IDs returns the sorted operation ids.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.ops))
}

// Public returns the sorted ids of configured, non-private operations.
func (r *Registry) Public() []string {
	var ids []string
	for _, id := range r.IDs() {
		op, _ := r.Lookup(id)
		if op.Configured() && !op.Private() {
			ids = append(ids, id)
		}
	}
	return ids
}

// AddRoutes attaches each route to the operation named by its id.
func (r *Registry) AddRoutes(routes []domain.Route) error {
	for _, route := range routes {
		op, err := r.Operation(route.OperationID)
		if err != nil {
			return err
		}
		if err := op.AddRoute(route); err != nil {
			return err
		}
	}
	r.logger.Debug("routes added",
		slog.String("version", r.version),
		slog.Int("count", len(routes)),
	)
	return nil
}

// InheritOperationsFrom copies every non-deprecated operation of earlier
// that this registry lacks. Existing operations always win. It fails with
// *domain.InheritanceTooLateError after Bootstrap.
func (r *Registry) InheritOperationsFrom(earlier *Registry) error {
	if earlier == nil || earlier == r {
		return nil
	}
	source := earlier.Operations()

	r.mu.Lock()
	if r.bootstrapped {
		r.mu.Unlock()
		return &domain.InheritanceTooLateError{Version: r.version, From: earlier.version}
	}
	var created []*Operation
	for _, id := range slices.Sorted(maps.Keys(source)) {
		src := source[id]
		if src.Deprecated() {
			continue
		}
		if _, ok := r.ops[id]; ok {
			continue
		}
		op := src.inheritInto(r)
		r.ops[id] = op
		created = append(created, op)
	}
	r.mu.Unlock()

	for _, op := range created {
		if err := op.ensureValidators(false); err != nil {
			return err
		}
	}

	r.logger.Info("operations inherited",
		slog.String("version", r.version),
		slog.String("from", earlier.version),
		slog.Int("count", len(created)),
	)
	return nil
}

// Bootstrap freezes the key set and compiles validators of configured
// operations with routes. Calling it again has no effect.
func (r *Registry) Bootstrap() error {
	r.mu.Lock()
	if r.bootstrapped {
		r.mu.Unlock()
		return nil
	}
	r.bootstrapped = true
	ops := maps.Clone(r.ops)
	r.mu.Unlock()

	for _, id := range slices.Sorted(maps.Keys(ops)) {
		if err := ops[id].ensureValidators(false); err != nil {
			return fmt.Errorf("bootstrap %s: %w", r.version, err)
		}
	}

	r.logger.Info("registry bootstrapped",
		slog.String("version", r.version),
		slog.Int("operations", len(ops)),
	)
	return nil
}

// Bootstrapped reports whether Bootstrap has run.
func (r *Registry) Bootstrapped() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bootstrapped
}

// ValidationDefaults returns the registry validation defaults.
func (r *Registry) ValidationDefaults() ValidationDefaults {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaults
}

// SetValidationDefaults replaces the registry validation defaults. A changed
// request status recompiles the validators of every operation.
func (r *Registry) SetValidationDefaults(d ValidationDefaults) error {
	d = normalizeDefaults(d)

	r.mu.Lock()
	recompile := d.RequestStatusCode != r.defaults.RequestStatusCode
	r.defaults = d
	ops := maps.Clone(r.ops)
	r.mu.Unlock()

	if !recompile {
		return nil
	}
	for _, id := range slices.Sorted(maps.Keys(ops)) {
		if err := ops[id].ensureValidators(true); err != nil {
			return err
		}
	}
	return nil
}

// Run executes operation id. Unknown ids yield an execution rejected with
// *domain.NotFoundError.
func (r *Registry) Run(ctx context.Context, id string, raw domain.Raw) *pipeline.Execution {
	if op, ok := r.Lookup(id); ok {
		return op.Run(ctx, raw)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	c := r.contexts.New(ctx, raw, pipeline.ValidationHooks{})
	return pipeline.RejectedExecution(c, &domain.NotFoundError{OperationID: id, Version: r.version})
}

func normalizeDefaults(d ValidationDefaults) ValidationDefaults {
	if d.RequestStatusCode == 0 {
		d.RequestStatusCode = domain.DefaultRequestValidationStatus
	}
	return d
}
