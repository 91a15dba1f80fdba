package pipeline

import (
	"context"
	"maps"
	"sync"

	"github.com/google/uuid"

	"github.com/tjfontaine/oapipe/internal/core/domain"
	"github.com/tjfontaine/oapipe/internal/core/ports"
	"github.com/tjfontaine/oapipe/internal/logging"
	"github.com/tjfontaine/oapipe/internal/token"
)

// ValidationHooks are bound into a Context at run time. Nil hooks are
// no-ops.
type ValidationHooks struct {
	Request  func(req *domain.Request) error
	Response func(resp *domain.Response, statusCode int) error
}

// Context is the per-execution state bag. It is created fresh for every run
// and never shared between executions.
type Context struct {
	ID       string
	Logger   ports.Logger
	Token    *token.Token
	Request  *domain.Request
	Response *domain.Response

	mu    sync.RWMutex
	data  map[string]any
	hooks ValidationHooks
}

// Get returns a value from the data bag.
func (c *Context) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[key]
	return v, ok
}

// Set stores a value in the data bag.
func (c *Context) Set(key string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = v
}

// Delete removes a value from the data bag.
func (c *Context) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
}

// Data returns a copy of the data bag.
func (c *Context) Data() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.data)
}

// ValidateRequestSchema validates req, or the context's request when req is
// nil, with the operation's request validator.
func (c *Context) ValidateRequestSchema(req *domain.Request) error {
	if req == nil {
		req = c.Request
	}
	if c.hooks.Request == nil {
		return nil
	}
	return c.hooks.Request(req)
}

// ValidateResponseSchema validates response against the schema of
// statusCode. response may be a *domain.Response, or a bare body that is
// wrapped with ResponseFor; nil validates the context's response. A zero
// statusCode uses the response's own status, then 200.
func (c *Context) ValidateResponseSchema(response any, statusCode int) error {
	var resp *domain.Response
	switch r := response.(type) {
	case nil:
		resp = c.Response
	case *domain.Response:
		resp = r
	case domain.Response:
		resp = &r
	default:
		resp = c.ResponseFor(r)
	}
	if c.hooks.Response == nil {
		return nil
	}
	return c.hooks.Response(resp, statusCode)
}

// ResponseFor wraps body in a response carrying the status code and headers
// of the context's response, when there is one.
func (c *Context) ResponseFor(body any) *domain.Response {
	resp := &domain.Response{Body: body}
	if c.Response != nil {
		resp.StatusCode = c.Response.StatusCode
		resp.Headers = c.Response.Headers
	}
	return resp
}

// IsCanceled reports whether the execution's token has been canceled.
func (c *Context) IsCanceled() bool {
	return c != nil && c.Token != nil && c.Token.IsCanceled()
}

// Context returns a context.Context that is canceled with the token.
func (c *Context) Context() context.Context {
	return c.Token.Context()
}

// ContextFactory builds execution contexts.
type ContextFactory struct {
	Logger ports.Logger
	// NewID generates execution ids. Defaults to random UUIDs.
	NewID func() string
}

// New builds a fresh Context with its own token and data bag seeded from
// raw.Data.
func (f ContextFactory) New(parent context.Context, raw domain.Raw, hooks ValidationHooks) *Context {
	newID := f.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	logger := f.Logger
	if logger == nil {
		logger = logging.Default()
	}

	id := newID()
	data := maps.Clone(raw.Data)
	if data == nil {
		data = make(map[string]any)
	}

	return &Context{
		ID:       id,
		Logger:   logger.Child("execution_id", id),
		Token:    token.New(parent),
		Request:  raw.Request,
		Response: raw.Response,
		data:     data,
		hooks:    hooks,
	}
}

// NewContext builds a Context with default logger, ids and no validation
// hooks.
func NewContext(parent context.Context) *Context {
	return ContextFactory{}.New(parent, domain.Raw{}, ValidationHooks{})
}
