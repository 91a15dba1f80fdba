package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/tjfontaine/oapipe/internal/core/domain"
	"github.com/tjfontaine/oapipe/internal/core/ports"
)

// Store is an in-memory run journal. It keeps at most MaxRuns records and
// drops the oldest first.
type Store struct {
	mu      sync.RWMutex
	runs    []*domain.RunRecord
	maxRuns int
}

var _ ports.RunStore = (*Store)(nil)

// New creates an in-memory store keeping up to maxRuns records, unbounded
// when maxRuns is zero.
func New(maxRuns int) *Store {
	return &Store{maxRuns: maxRuns}
}

func (s *Store) RecordRun(ctx context.Context, rec *domain.RunRecord) error {
	if rec == nil || rec.ExecutionID == "" {
		return fmt.Errorf("run record requires an execution id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	s.runs = append(s.runs, &cp)
	if s.maxRuns > 0 && len(s.runs) > s.maxRuns {
		s.runs = s.runs[len(s.runs)-s.maxRuns:]
	}
	return nil
}

func (s *Store) ListRuns(ctx context.Context, opts ports.RunListOptions) ([]*domain.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.RunRecord
	for i := len(s.runs) - 1; i >= 0; i-- {
		rec := s.runs[i]
		if opts.Version != "" && rec.Version != opts.Version {
			continue
		}
		if opts.OperationID != "" && rec.OperationID != opts.OperationID {
			continue
		}
		if opts.Status != "" && rec.Status != opts.Status {
			continue
		}
		cp := *rec
		result = append(result, &cp)
		if opts.Limit > 0 && len(result) == opts.Limit {
			break
		}
	}
	return result, nil
}

func (s *Store) Close() error {
	return nil
}
