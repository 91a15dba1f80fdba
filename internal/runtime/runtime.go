// Package runtime assembles version registries from configuration and keeps
// them in line with it while running.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tjfontaine/oapipe/internal/combinator"
	"github.com/tjfontaine/oapipe/internal/core/domain"
	"github.com/tjfontaine/oapipe/internal/core/ports"
	"github.com/tjfontaine/oapipe/internal/openapi"
	"github.com/tjfontaine/oapipe/internal/operation"
	"github.com/tjfontaine/oapipe/internal/pipeline"
	"github.com/tjfontaine/oapipe/internal/pkg/config"
	"github.com/tjfontaine/oapipe/internal/schema"
	"github.com/tjfontaine/oapipe/internal/storage"
	"github.com/tjfontaine/oapipe/internal/telemetry"
)

// Runtime owns the registries of every configured API version.
type Runtime struct {
	// Dependencies (injected via options)
	config    ports.ConfigProvider
	parser    ports.Parser
	compiler  *schema.Compiler
	configure []ConfigureFunc
	logger    *slog.Logger
	runs      ports.RunStore

	// Internal state
	cfg        *config.Config
	registries map[string]*operation.Registry
	versions   []string
	shutdown   func(context.Context) error
	ownsRuns   bool

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
}

// New creates a Runtime with the given options. A config provider is
// required.
func New(opts ...Option) (*Runtime, error) {
	rt := &Runtime{
		logger:     slog.Default(),
		parser:     openapi.NewParser(),
		compiler:   schema.NewCompiler(),
		registries: make(map[string]*operation.Registry),
	}

	for _, opt := range opts {
		if err := opt(rt); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if rt.config == nil {
		return nil, fmt.Errorf("config provider required (use WithFileConfig or WithConfig)")
	}
	return rt, nil
}

// Start loads the configuration, builds and bootstraps one registry per
// declared version, and starts watching the configuration. Configure
// functions run inside Start and may call Config, Cache and Retry.
func (rt *Runtime) Start(ctx context.Context) error {
	rt.mu.Lock()
	rt.ctx, rt.cancel = context.WithCancel(ctx)
	rt.mu.Unlock()

	cfg, err := rt.config.Load(rt.ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	rt.mu.Lock()
	rt.cfg = cfg
	rt.mu.Unlock()

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(telemetry.Config{ServiceName: cfg.Telemetry.ServiceName}, rt.logger)
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		rt.mu.Lock()
		rt.shutdown = shutdown
		rt.mu.Unlock()
	}

	rt.mu.Lock()
	if rt.runs == nil {
		store, err := storage.Open(cfg.Journal)
		if err != nil {
			rt.mu.Unlock()
			return fmt.Errorf("open run journal: %w", err)
		}
		rt.runs, rt.ownsRuns = store, store != nil
	}
	rt.mu.Unlock()

	registries, versions, err := rt.build(rt.ctx, cfg)
	if err != nil {
		return err
	}

	rt.mu.Lock()
	rt.registries = registries
	rt.versions = versions
	rt.mu.Unlock()

	go rt.watchConfig()

	rt.logger.Info("runtime started", slog.Int("versions", len(versions)))
	return nil
}

// build creates the registries in declaration order: routes, configure
// functions, inheritance, bootstrap.
func (rt *Runtime) build(ctx context.Context, cfg *config.Config) (map[string]*operation.Registry, []string, error) {
	opts := []operation.Option{
		operation.WithLogger(rt.logger),
		operation.WithCompiler(rt.compiler),
		operation.WithValidationDefaults(validationDefaults(cfg)),
	}
	if rt.runs != nil {
		opts = append(opts, operation.WithRunStore(rt.runs))
	}
	registries := make(map[string]*operation.Registry, len(cfg.Versions))
	var versions []string

	for _, v := range cfg.Versions {
		reg, err := operation.NewRegistry(v.Name, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("create registry %s: %w", v.Name, err)
		}

		if v.Document != "" {
			doc, err := openapi.Load(v.Document)
			if err != nil {
				return nil, nil, &domain.ParseError{Source: v.Document, Err: err}
			}
			res, err := openapi.Routes(ctx, rt.parser, v.Document, doc)
			if err != nil {
				return nil, nil, err
			}
			if err := reg.AddRoutes(res.Routes); err != nil {
				return nil, nil, fmt.Errorf("add routes to %s: %w", v.Name, err)
			}
		}

		for _, fn := range rt.configure {
			if err := fn(v.Name, reg); err != nil {
				return nil, nil, fmt.Errorf("configure %s: %w", v.Name, err)
			}
		}

		if v.InheritFrom != "" {
			if err := reg.InheritOperationsFrom(registries[v.InheritFrom]); err != nil {
				return nil, nil, fmt.Errorf("inherit %s from %s: %w", v.Name, v.InheritFrom, err)
			}
		}

		if err := reg.Bootstrap(); err != nil {
			return nil, nil, err
		}

		registries[v.Name] = reg
		versions = append(versions, v.Name)
	}
	return registries, versions, nil
}

// Shutdown stops watching the configuration, closes the run journal it
// opened and flushes traces.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.logger.Info("shutting down runtime")

	if rt.cancel != nil {
		rt.cancel()
	}

	var errs []error
	if err := rt.config.Close(); err != nil {
		rt.logger.Error("failed to close config", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	if rt.ownsRuns {
		if err := rt.runs.Close(); err != nil {
			rt.logger.Error("failed to close run journal", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		rt.runs, rt.ownsRuns = nil, false
	}
	if rt.shutdown != nil {
		if err := rt.shutdown(ctx); err != nil {
			rt.logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// watchConfig applies configuration changes to the running registries.
func (rt *Runtime) watchConfig() {
	if err := rt.config.Watch(rt.ctx, rt.apply); err != nil {
		if !errors.Is(err, context.Canceled) {
			rt.logger.Error("config watch failed", slog.String("error", err.Error()))
		}
	}
}

// apply re-applies the validation defaults of cfg. Version changes need a
// restart.
func (rt *Runtime) apply(cfg *config.Config) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.logger.Info("config changed, reloading")
	rt.cfg = cfg

	defaults := validationDefaults(cfg)
	for _, name := range rt.versions {
		if err := rt.registries[name].SetValidationDefaults(defaults); err != nil {
			rt.logger.Error("failed to apply validation defaults",
				slog.String("version", name),
				slog.String("error", err.Error()))
		}
	}

	if len(cfg.Versions) != len(rt.versions) {
		rt.logger.Warn("version changes require a restart",
			slog.Int("configured", len(cfg.Versions)),
			slog.Int("running", len(rt.versions)))
	}
}

// Config returns the current configuration.
func (rt *Runtime) Config() *config.Config {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.cfg
}

// Versions returns the version names in declaration order.
func (rt *Runtime) Versions() []string {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return append([]string(nil), rt.versions...)
}

// Registry returns the registry of version.
func (rt *Runtime) Registry(version string) (*operation.Registry, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	reg, ok := rt.registries[version]
	return reg, ok
}

// Run executes operation id of version.
func (rt *Runtime) Run(ctx context.Context, version, id string, raw domain.Raw) *pipeline.Execution {
	if reg, ok := rt.Registry(version); ok {
		return reg.Run(ctx, id, raw)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return pipeline.RejectedExecution(pipeline.NewContext(ctx), &domain.NotFoundError{OperationID: id, Version: version})
}

// Runs lists the runs recorded by the journal, newest first.
func (rt *Runtime) Runs(ctx context.Context, opts ports.RunListOptions) ([]*domain.RunRecord, error) {
	rt.mu.RLock()
	runs := rt.runs
	rt.mu.RUnlock()
	if runs == nil {
		return nil, fmt.Errorf("run journal disabled (set journal.driver)")
	}
	return runs.ListRuns(ctx, opts)
}

// Cache wraps step in a cache sized by the cache configuration.
func (rt *Runtime) Cache(step pipeline.Step) (*combinator.Cache, error) {
	return combinator.NewCache(step, cacheOptions(rt.Config()))
}

// Retry wraps step in a retry bounded by the retry configuration.
func (rt *Runtime) Retry(step pipeline.Step, condition func(any) bool) pipeline.Step {
	return combinator.RetryWhen(step, condition, retryOptions(rt.Config()))
}
