// Package domain provides the canonical types and error taxonomy of the
// pipeline core.
package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
)

// ErrorCode is the stable, serialized category of an error.
type ErrorCode string

const (
	ErrorCodeNotFound                  ErrorCode = "not_found"
	ErrorCodeValidation                ErrorCode = "validation"
	ErrorCodePipelineCanceled          ErrorCode = "pipeline_canceled"
	ErrorCodeInvalidPipelineDefinition ErrorCode = "invalid_pipeline_definition"
	ErrorCodeInvalidInput              ErrorCode = "invalid_input"
	ErrorCodeInheritanceTooLate        ErrorCode = "inheritance_too_late"
	ErrorCodeRetryExhausted            ErrorCode = "retry_exhausted"
	ErrorCodeInvalidLogger             ErrorCode = "invalid_logger"
	ErrorCodeParse                     ErrorCode = "parse_error"
	ErrorCodeUnknown                   ErrorCode = "unknown"
)

// ValidationKind tells request and response validation failures apart.
type ValidationKind string

const (
	ValidationKindRequest  ValidationKind = "request"
	ValidationKindResponse ValidationKind = "response"
)

// DefaultRequestValidationStatus is the status carried by request
// validation failures unless configured otherwise.
const DefaultRequestValidationStatus = http.StatusUnprocessableEntity

// Error is implemented by every error of the taxonomy.
type Error interface {
	error
	Code() ErrorCode
	// Fields returns the structured fields of the error, including "code"
	// and "message".
	Fields() map[string]any
}

// Serialize returns a stable map form of err suitable for cross-process
// logging. Errors outside the taxonomy are reported with the unknown code.
func Serialize(err error) map[string]any {
	if err == nil {
		return nil
	}
	var de Error
	if errors.As(err, &de) {
		fields := de.Fields()
		if msg := err.Error(); msg != de.Error() {
			fields["message"] = msg
		}
		return fields
	}
	return map[string]any{
		"code":    string(ErrorCodeUnknown),
		"message": err.Error(),
	}
}

func logValue(fields map[string]any) slog.Value {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, fields[k]))
	}
	return slog.GroupValue(attrs...)
}

func marshalFields(fields map[string]any) ([]byte, error) {
	return json.Marshal(fields)
}

// NotFoundError is returned when an operation has no pipeline configured or
// does not exist in a frozen registry.
type NotFoundError struct {
	OperationID string `json:"operation_id"`
	Version     string `json:"version,omitempty"`
}

func (e *NotFoundError) Error() string {
	if e.Version != "" {
		return fmt.Sprintf("operation %s not found in version %s", e.OperationID, e.Version)
	}
	return fmt.Sprintf("operation %s not found", e.OperationID)
}

func (e *NotFoundError) Code() ErrorCode { return ErrorCodeNotFound }

// StatusCode returns the HTTP status matching the error.
func (e *NotFoundError) StatusCode() int { return http.StatusNotFound }

func (e *NotFoundError) Fields() map[string]any {
	return map[string]any{
		"code":         string(e.Code()),
		"message":      e.Error(),
		"operation_id": e.OperationID,
		"version":      e.Version,
		"status_code":  e.StatusCode(),
	}
}

func (e *NotFoundError) LogValue() slog.Value { return logValue(e.Fields()) }

func (e *NotFoundError) MarshalJSON() ([]byte, error) { return marshalFields(e.Fields()) }

// FieldError is one normalized schema violation.
type FieldError struct {
	// Path is the dotted instance path inside Location ("" for the root).
	Path string `json:"path"`
	// Location is the request section (params, body, query, headers) or
	// "response".
	Location string `json:"location"`
	// Message is the human-readable violation.
	Message string `json:"message"`
	// ErrorCode is the schema keyword that failed (type, required, ...).
	ErrorCode string `json:"errorCode"`
}

func (f FieldError) String() string {
	if f.Path == "" {
		return fmt.Sprintf("%s: %s", f.Location, f.Message)
	}
	return fmt.Sprintf("%s.%s: %s", f.Location, f.Path, f.Message)
}

// ValidationError is returned when a request or response does not match its
// compiled schema.
type ValidationError struct {
	Kind       ValidationKind `json:"kind"`
	Errors     []FieldError   `json:"errors"`
	StatusCode int            `json:"status_code"`
	// Response is the offending payload for response validation failures.
	Response any `json:"response,omitempty"`
}

// NewRequestValidationError creates a request validation error. A zero
// status falls back to DefaultRequestValidationStatus.
func NewRequestValidationError(status int, errs []FieldError) *ValidationError {
	if status == 0 {
		status = DefaultRequestValidationStatus
	}
	return &ValidationError{
		Kind:       ValidationKindRequest,
		Errors:     errs,
		StatusCode: status,
	}
}

// NewResponseValidationError creates a response validation error carrying
// the offending payload.
func NewResponseValidationError(payload any, errs []FieldError) *ValidationError {
	return &ValidationError{
		Kind:       ValidationKindResponse,
		Errors:     errs,
		StatusCode: http.StatusInternalServerError,
		Response:   payload,
	}
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.String()
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%s validation failed", e.Kind)
	}
	return fmt.Sprintf("%s validation failed: %s", e.Kind, strings.Join(parts, "; "))
}

func (e *ValidationError) Code() ErrorCode { return ErrorCodeValidation }

func (e *ValidationError) Fields() map[string]any {
	fields := map[string]any{
		"code":        string(e.Code()),
		"message":     e.Error(),
		"kind":        string(e.Kind),
		"errors":      e.Errors,
		"status_code": e.StatusCode,
	}
	if e.Response != nil {
		fields["response"] = e.Response
	}
	return fields
}

func (e *ValidationError) LogValue() slog.Value { return logValue(e.Fields()) }

func (e *ValidationError) MarshalJSON() ([]byte, error) { return marshalFields(e.Fields()) }

// CanceledError is returned when an execution is aborted through its
// cancellation token.
type CanceledError struct {
	Reason string `json:"reason,omitempty"`
	// Attempt is set when a retry loop observed the cancellation.
	Attempt int `json:"attempt,omitempty"`
}

func (e *CanceledError) Error() string {
	msg := "pipeline canceled"
	if e.Attempt > 0 {
		msg = fmt.Sprintf("pipeline canceled at attempt %d", e.Attempt)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *CanceledError) Code() ErrorCode { return ErrorCodePipelineCanceled }

func (e *CanceledError) Fields() map[string]any {
	return map[string]any{
		"code":    string(e.Code()),
		"message": e.Error(),
		"reason":  e.Reason,
		"attempt": e.Attempt,
	}
}

func (e *CanceledError) LogValue() slog.Value { return logValue(e.Fields()) }

func (e *CanceledError) MarshalJSON() ([]byte, error) { return marshalFields(e.Fields()) }

// InvalidPipelineDefinitionError reports construction-time misuse.
type InvalidPipelineDefinitionError struct {
	Reason string `json:"reason"`
}

func (e *InvalidPipelineDefinitionError) Error() string {
	return "invalid pipeline definition: " + e.Reason
}

func (e *InvalidPipelineDefinitionError) Code() ErrorCode { return ErrorCodeInvalidPipelineDefinition }

func (e *InvalidPipelineDefinitionError) Fields() map[string]any {
	return map[string]any{
		"code":    string(e.Code()),
		"message": e.Error(),
		"reason":  e.Reason,
	}
}

func (e *InvalidPipelineDefinitionError) LogValue() slog.Value { return logValue(e.Fields()) }

func (e *InvalidPipelineDefinitionError) MarshalJSON() ([]byte, error) {
	return marshalFields(e.Fields())
}

// InvalidInputError is returned when a step receives a value of an
// unsupported shape.
type InvalidInputError struct {
	Step     string `json:"step"`
	Expected string `json:"expected"`
	Got      string `json:"got"`
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("%s: expected %s input, got %s", e.Step, e.Expected, e.Got)
}

func (e *InvalidInputError) Code() ErrorCode { return ErrorCodeInvalidInput }

func (e *InvalidInputError) Fields() map[string]any {
	return map[string]any{
		"code":     string(e.Code()),
		"message":  e.Error(),
		"step":     e.Step,
		"expected": e.Expected,
		"got":      e.Got,
	}
}

func (e *InvalidInputError) LogValue() slog.Value { return logValue(e.Fields()) }

func (e *InvalidInputError) MarshalJSON() ([]byte, error) { return marshalFields(e.Fields()) }

// InheritanceTooLateError is returned when a version tries to inherit
// operations after it has been bootstrapped.
type InheritanceTooLateError struct {
	Version string `json:"version"`
	From    string `json:"from"`
}

func (e *InheritanceTooLateError) Error() string {
	return fmt.Sprintf("version %s cannot inherit operations from %s after bootstrap", e.Version, e.From)
}

func (e *InheritanceTooLateError) Code() ErrorCode { return ErrorCodeInheritanceTooLate }

func (e *InheritanceTooLateError) Fields() map[string]any {
	return map[string]any{
		"code":    string(e.Code()),
		"message": e.Error(),
		"version": e.Version,
		"from":    e.From,
	}
}

func (e *InheritanceTooLateError) LogValue() slog.Value { return logValue(e.Fields()) }

func (e *InheritanceTooLateError) MarshalJSON() ([]byte, error) { return marshalFields(e.Fields()) }

// RetryExhaustedError is returned when a retried step never satisfied its
// condition.
type RetryExhaustedError struct {
	Attempts int `json:"attempts"`
	// Last is the value produced by the final attempt.
	Last any `json:"last,omitempty"`
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("Condition was not meet in %d retries.", e.Attempts)
}

func (e *RetryExhaustedError) Code() ErrorCode { return ErrorCodeRetryExhausted }

func (e *RetryExhaustedError) Fields() map[string]any {
	return map[string]any{
		"code":     string(e.Code()),
		"message":  e.Error(),
		"attempts": e.Attempts,
	}
}

func (e *RetryExhaustedError) LogValue() slog.Value { return logValue(e.Fields()) }

func (e *RetryExhaustedError) MarshalJSON() ([]byte, error) { return marshalFields(e.Fields()) }

// InvalidLoggerError is returned when a custom logger lacks part of the
// required method set.
type InvalidLoggerError struct {
	Missing []string `json:"missing"`
}

func (e *InvalidLoggerError) Error() string {
	return "invalid logger: missing " + strings.Join(e.Missing, ", ")
}

func (e *InvalidLoggerError) Code() ErrorCode { return ErrorCodeInvalidLogger }

func (e *InvalidLoggerError) Fields() map[string]any {
	return map[string]any{
		"code":    string(e.Code()),
		"message": e.Error(),
		"missing": e.Missing,
	}
}

func (e *InvalidLoggerError) LogValue() slog.Value { return logValue(e.Fields()) }

func (e *InvalidLoggerError) MarshalJSON() ([]byte, error) { return marshalFields(e.Fields()) }

// ParseError wraps any failure of the upstream OpenAPI parser.
type ParseError struct {
	Source string `json:"source,omitempty"`
	Err    error  `json:"-"`
}

func (e *ParseError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("parse openapi document %s: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("parse openapi document: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Code() ErrorCode { return ErrorCodeParse }

func (e *ParseError) Fields() map[string]any {
	cause := ""
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return map[string]any{
		"code":    string(e.Code()),
		"message": e.Error(),
		"source":  e.Source,
		"cause":   cause,
	}
}

func (e *ParseError) LogValue() slog.Value { return logValue(e.Fields()) }

func (e *ParseError) MarshalJSON() ([]byte, error) { return marshalFields(e.Fields()) }

// IsNotFound returns true if err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// IsValidation returns true if err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// IsCanceled returns true if err is or wraps a CanceledError.
func IsCanceled(err error) bool {
	var e *CanceledError
	return errors.As(err, &e)
}

// IsInvalidPipelineDefinition returns true if err is or wraps an
// InvalidPipelineDefinitionError.
func IsInvalidPipelineDefinition(err error) bool {
	var e *InvalidPipelineDefinitionError
	return errors.As(err, &e)
}

// IsInheritanceTooLate returns true if err is or wraps an
// InheritanceTooLateError.
func IsInheritanceTooLate(err error) bool {
	var e *InheritanceTooLateError
	return errors.As(err, &e)
}

// IsRetryExhausted returns true if err is or wraps a RetryExhaustedError.
func IsRetryExhausted(err error) bool {
	var e *RetryExhaustedError
	return errors.As(err, &e)
}
