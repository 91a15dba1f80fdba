package runtime

import (
	"fmt"
	"log/slog"

	"github.com/tjfontaine/oapipe/internal/adapters/config/file"
	"github.com/tjfontaine/oapipe/internal/core/ports"
	"github.com/tjfontaine/oapipe/internal/operation"
	"github.com/tjfontaine/oapipe/internal/schema"
)

// Option is a functional option for configuring a Runtime.
type Option func(*Runtime) error

// ConfigureFunc attaches handlers to the registry of one version. It runs
// after the version's routes are added and before inheritance.
type ConfigureFunc func(version string, r *operation.Registry) error

// WithFileConfig uses file-based configuration with hot-reload.
func WithFileConfig(path string) Option {
	return func(rt *Runtime) error {
		provider, err := file.NewProvider(path, rt.logger)
		if err != nil {
			return fmt.Errorf("create file config provider: %w", err)
		}
		rt.config = provider
		return nil
	}
}

// WithConfig uses a custom configuration provider.
func WithConfig(provider ports.ConfigProvider) Option {
	return func(rt *Runtime) error {
		if provider == nil {
			return fmt.Errorf("config provider cannot be nil")
		}
		rt.config = provider
		return nil
	}
}

// WithLogger sets the logger. Set it before WithFileConfig so the provider
// logs through it.
func WithLogger(logger *slog.Logger) Option {
	return func(rt *Runtime) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		rt.logger = logger
		return nil
	}
}

// WithParser replaces the default OpenAPI parser.
func WithParser(p ports.Parser) Option {
	return func(rt *Runtime) error {
		if p == nil {
			return fmt.Errorf("parser cannot be nil")
		}
		rt.parser = p
		return nil
	}
}

// WithCompiler shares a schema compiler across runtimes.
func WithCompiler(c *schema.Compiler) Option {
	return func(rt *Runtime) error {
		if c == nil {
			return fmt.Errorf("compiler cannot be nil")
		}
		rt.compiler = c
		return nil
	}
}

// WithRunStore records settled runs in store instead of the journal named
// by the configuration. The caller keeps ownership of store.
func WithRunStore(store ports.RunStore) Option {
	return func(rt *Runtime) error {
		if store == nil {
			return fmt.Errorf("run store cannot be nil")
		}
		rt.runs = store
		return nil
	}
}

// WithConfigure registers a ConfigureFunc. Functions run in registration
// order for every version.
func WithConfigure(fn ConfigureFunc) Option {
	return func(rt *Runtime) error {
		if fn == nil {
			return fmt.Errorf("configure func cannot be nil")
		}
		rt.configure = append(rt.configure, fn)
		return nil
	}
}
