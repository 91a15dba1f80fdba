package memory

import (
	"context"
	"testing"
	"time"

	"github.com/tjfontaine/oapipe/internal/core/domain"
	"github.com/tjfontaine/oapipe/internal/core/ports"
)

func record(t *testing.T, s *Store, id, op string, status domain.RunStatus) {
	t.Helper()
	err := s.RecordRun(context.Background(), &domain.RunRecord{
		ExecutionID: id,
		Version:     "v1",
		OperationID: op,
		Status:      status,
		StartedAt:   time.Now(),
	})
	if err != nil {
		t.Fatalf("RecordRun(%s) error = %v", id, err)
	}
}

func TestStore_ListRuns(t *testing.T) {
	s := New(0)
	record(t, s, "e1", "listPets", domain.RunSucceeded)
	record(t, s, "e2", "getPet", domain.RunFailed)
	record(t, s, "e3", "listPets", domain.RunFailed)

	tests := []struct {
		name string
		opts ports.RunListOptions
		want []string
	}{
		{"all newest first", ports.RunListOptions{}, []string{"e3", "e2", "e1"}},
		{"by operation", ports.RunListOptions{OperationID: "listPets"}, []string{"e3", "e1"}},
		{"by status", ports.RunListOptions{Status: domain.RunFailed}, []string{"e3", "e2"}},
		{"limit", ports.RunListOptions{Limit: 1}, []string{"e3"}},
		{"other version", ports.RunListOptions{Version: "v2"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListRuns(context.Background(), tt.opts)
			if err != nil {
				t.Fatal(err)
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
}

func TestStore_DropsOldest(t *testing.T) {
	s := New(2)
	record(t, s, "e1", "a", domain.RunSucceeded)
	record(t, s, "e2", "a", domain.RunSucceeded)
	record(t, s, "e3", "a", domain.RunSucceeded)

	got, _ := s.ListRuns(context.Background(), ports.RunListOptions{})
	if len(got) != 2 || got[0].ExecutionID != "e3" || got[1].ExecutionID != "e2" {
		t.Errorf("ListRuns() = %+v", got)
	}
}

func TestStore_RejectsMissingID(t *testing.T) {
	if err := New(0).RecordRun(context.Background(), &domain.RunRecord{}); err == nil {
		t.Error("expected error for record without execution id")
	}
}
