// Package oapipe provides the public API for composing OpenAPI operation
// pipelines. This is the stable API for external consumers.
package oapipe

import (
	"github.com/tjfontaine/oapipe/internal/combinator"
	"github.com/tjfontaine/oapipe/internal/core/domain"
	"github.com/tjfontaine/oapipe/internal/operation"
	"github.com/tjfontaine/oapipe/internal/pipeline"
	"github.com/tjfontaine/oapipe/internal/runtime"
	"github.com/tjfontaine/oapipe/internal/token"
)

// Pipeline building blocks.
type (
	Step         = pipeline.Step
	Func         = pipeline.Func
	AsyncFunc    = pipeline.AsyncFunc
	StepFunc     = pipeline.StepFunc
	Result       = pipeline.Result
	Future       = pipeline.Future
	Context      = pipeline.Context
	Instance     = pipeline.Instance
	Pipeline     = pipeline.Pipeline
	Execution    = pipeline.Execution
	ErrorHandler = pipeline.ErrorHandler
	Settlement   = pipeline.Settlement
	Token        = token.Token
)

var (
	Pipe               = pipeline.Pipe
	NewContext         = pipeline.NewContext
	MustPipe           = pipeline.MustPipe
	Value              = pipeline.Value
	Go                 = pipeline.Go
	Parallel           = pipeline.Parallel
	ParallelMap        = pipeline.ParallelMap
	ParallelAllSettled = pipeline.ParallelAllSettled
	Sync               = pipeline.Sync
	Fail               = pipeline.Fail
	Pending            = pipeline.Pending
	Spawn              = pipeline.Spawn
)

// Combinators.
type (
	Cache        = combinator.Cache
	CacheOptions = combinator.CacheOptions
	RetryOptions = combinator.RetryOptions
)

var (
	NewCache  = combinator.NewCache
	RetryWhen = combinator.RetryWhen
)

// Operations and version registries.
type (
	Registry           = operation.Registry
	Operation          = operation.Operation
	RegistryOption     = operation.Option
	ValidationDefaults = operation.ValidationDefaults
)

var (
	NewRegistry               = operation.NewRegistry
	WithRegistryLogger        = operation.WithLogger
	WithValidationDefaults    = operation.WithValidationDefaults
	WithRegistryCompiler      = operation.WithCompiler
	WithIDGenerator           = operation.WithIDGenerator
	DefaultValidationDefaults = operation.DefaultValidationDefaults
)

// Runtime is a set of registries assembled from a configuration file.
// See internal/runtime.Runtime for full documentation.
type (
	Runtime       = runtime.Runtime
	Option        = runtime.Option
	ConfigureFunc = runtime.ConfigureFunc
)

// New creates a new Runtime with the given options.
// Example:
//
//	rt, err := oapipe.New(
//	    oapipe.WithFileConfig("oapipe.yaml"),
//	    oapipe.WithConfigure(func(version string, r *oapipe.Registry) error {
//	        return r.MustOperation("listPets").Setup(listPets)
//	    }),
//	)
var New = runtime.New

// Runtime options
var (
	WithFileConfig = runtime.WithFileConfig
	WithConfig     = runtime.WithConfig
	WithLogger     = runtime.WithLogger
	WithParser     = runtime.WithParser
	WithCompiler   = runtime.WithCompiler
	WithConfigure  = runtime.WithConfigure
)

// Request and error types.
type (
	Raw                            = domain.Raw
	Request                        = domain.Request
	Response                       = domain.Response
	Route                          = domain.Route
	FieldError                     = domain.FieldError
	NotFoundError                  = domain.NotFoundError
	ValidationError                = domain.ValidationError
	CanceledError                  = domain.CanceledError
	InvalidPipelineDefinitionError = domain.InvalidPipelineDefinitionError
	InvalidInputError              = domain.InvalidInputError
	InheritanceTooLateError        = domain.InheritanceTooLateError
	RetryExhaustedError            = domain.RetryExhaustedError
	InvalidLoggerError             = domain.InvalidLoggerError
	ParseError                     = domain.ParseError
)

var (
	IsNotFound                  = domain.IsNotFound
	IsValidation                = domain.IsValidation
	IsCanceled                  = domain.IsCanceled
	IsInvalidPipelineDefinition = domain.IsInvalidPipelineDefinition
	IsInheritanceTooLate        = domain.IsInheritanceTooLate
	IsRetryExhausted            = domain.IsRetryExhausted
	SerializeError              = domain.Serialize
)
