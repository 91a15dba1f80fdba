// Package ports defines the interfaces the pipeline core consumes from its
// collaborators.
package ports

import (
	"context"

	"github.com/tjfontaine/oapipe/internal/core/domain"
	"github.com/tjfontaine/oapipe/internal/pkg/config"
)

// ConfigProvider loads and manages configuration.
type ConfigProvider interface {
	Load(ctx context.Context) (*config.Config, error)
	Watch(ctx context.Context, onChange func(*config.Config)) error
	Close() error
}

// Parser turns an already-dereferenced OpenAPI document into routes.
// Implementations must not perform network I/O.
type Parser interface {
	Parse(ctx context.Context, document map[string]any) (*domain.ParseResult, error)
}
