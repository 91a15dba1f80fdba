package ports

import (
	"context"

	"github.com/tjfontaine/oapipe/internal/core/domain"
)

// RunStore persists settled operation runs.
type RunStore interface {
	RecordRun(ctx context.Context, rec *domain.RunRecord) error
	// ListRuns returns the newest runs first.
	ListRuns(ctx context.Context, opts RunListOptions) ([]*domain.RunRecord, error)
	Close() error
}

// RunListOptions filters ListRuns. Empty fields match everything and a zero
// Limit returns every match.
type RunListOptions struct {
	Version     string
	OperationID string
	Status      domain.RunStatus
	Limit       int
}
