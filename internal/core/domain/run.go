package domain

import (
	"errors"
	"time"
)

// RunStatus is how an operation run settled.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

// RunRecord is one settled operation run as kept by a run journal.
type RunRecord struct {
	ExecutionID  string        `json:"execution_id"`
	Version      string        `json:"version"`
	OperationID  string        `json:"operation_id"`
	Status       RunStatus     `json:"status"`
	ErrorCode    string        `json:"error_code,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	Duration     time.Duration `json:"duration"`
	StartedAt    time.Time     `json:"started_at"`
}

// NewRunRecord describes a run that started at start and settled with err.
func NewRunRecord(executionID, version, operationID string, start time.Time, err error) *RunRecord {
	rec := &RunRecord{
		ExecutionID: executionID,
		Version:     version,
		OperationID: operationID,
		Status:      RunSucceeded,
		Duration:    time.Since(start),
		StartedAt:   start,
	}
	if err == nil {
		return rec
	}
	rec.Status = RunFailed
	var canceled *CanceledError
	if errors.As(err, &canceled) {
		rec.Status = RunCanceled
	}
	fields := Serialize(err)
	rec.ErrorCode, _ = fields["code"].(string)
	rec.ErrorMessage = err.Error()
	return rec
}
