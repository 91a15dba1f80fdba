package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tjfontaine/oapipe/internal/core/domain"
	"github.com/tjfontaine/oapipe/internal/core/ports"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_RecordAndList(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	runs := []*domain.RunRecord{
		{ExecutionID: "e1", Version: "v1", OperationID: "listPets", Status: domain.RunSucceeded, Duration: time.Millisecond, StartedAt: base},
		{ExecutionID: "e2", Version: "v1", OperationID: "getPet", Status: domain.RunFailed, ErrorCode: "validation", ErrorMessage: "request validation failed", StartedAt: base.Add(time.Second)},
		{ExecutionID: "e3", Version: "v2", OperationID: "listPets", Status: domain.RunCanceled, StartedAt: base.Add(2 * time.Second)},
	}
	for _, rec := range runs {
		if err := store.RecordRun(ctx, rec); err != nil {
			t.Fatalf("RecordRun(%s) error = %v", rec.ExecutionID, err)
		}
	}

	tests := []struct {
		name string
		opts ports.RunListOptions
		want []string
	}{
		{"all newest first", ports.RunListOptions{}, []string{"e3", "e2", "e1"}},
		{"by version", ports.RunListOptions{Version: "v1"}, []string{"e2", "e1"}},
		{"by operation and status", ports.RunListOptions{OperationID: "listPets", Status: domain.RunSucceeded}, []string{"e1"}},
		{"limit", ports.RunListOptions{Limit: 2}, []string{"e3", "e2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ListRuns(ctx, tt.opts)
			if err != nil {
				t.Fatalf("ListRuns() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ListRuns() returned %d records, want %d", len(got), len(tt.want))
			}
			for i, rec := range got {
				if rec.ExecutionID != tt.want[i] {
					t.Errorf("record %d = %s, want %s", i, rec.ExecutionID, tt.want[i])
				}
			}
		})
	}

	got, _ := store.ListRuns(ctx, ports.RunListOptions{OperationID: "getPet"})
	rec := got[0]
	if rec.ErrorCode != "validation" || rec.ErrorMessage != "request validation failed" || !rec.StartedAt.Equal(base.Add(time.Second)) {
		t.Errorf("round-tripped record = %+v", rec)
	}
}

func TestSQLiteStore_DuplicateExecution(t *testing.T) {
	store := newStore(t)
	rec := &domain.RunRecord{ExecutionID: "e1", Version: "v1", OperationID: "a", Status: domain.RunSucceeded, StartedAt: time.Now()}
	if err := store.RecordRun(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordRun(context.Background(), rec); err == nil {
		t.Error("expected error recording the same execution twice")
	}
}
