// Package request defines the transport-agnostic request context that is
// threaded through the hook pipeline and finalized exactly once with a
// result and status code.
package request

import (
	"context"
	"fmt"
	"net/http"
)

// Method represents a dispatch method, independent of any transport verb.
type Method int

const (
	// MethodCreate inserts a new record into a collection
	MethodCreate Method = iota
	// MethodGet fetches a single record by id, or lists the collection
	MethodGet
	// MethodPatch partially updates an existing record
	MethodPatch
	// MethodRemove deletes an existing record
	MethodRemove
)

// String returns the string representation of the method
func (m Method) String() string {
	switch m {
	case MethodCreate:
		return "create"
	case MethodGet:
		return "get"
	case MethodPatch:
		return "patch"
	case MethodRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// ParseMethod converts a string to a Method
func ParseMethod(s string) (Method, error) {
	switch s {
	case "create":
		return MethodCreate, nil
	case "get", "list":
		return MethodGet, nil
	case "patch":
		return MethodPatch, nil
	case "remove":
		return MethodRemove, nil
	default:
		return 0, fmt.Errorf("unknown method: %s", s)
	}
}

// Identity is the resolved caller identity attached by authentication hooks.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Dev    bool   `json:"dev,omitempty"`
}

// ErrorBody is the structured error payload written into Context.Result
// when a request terminates with a non-2xx status.
type ErrorBody struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// Context carries a single request through the dispatch state machine and
// hook chain. It is created per inbound call, passed by pointer, and
// finalized once with a result/status pair.
type Context struct {
	Path     string
	Method   Method
	Data     map[string]any
	Params   map[string]string
	Headers  map[string]string
	Identity *Identity

	// Output slots, set via Finalize.
	Result     any
	StatusCode int

	ctx       context.Context
	finalized bool
}

// New creates a request context bound to the given cancellation context.
func New(ctx context.Context, path string, method Method) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Context{
		Path:    path,
		Method:  method,
		Params:  make(map[string]string),
		Headers: make(map[string]string),
		ctx:     ctx,
	}
}

// Context returns the cancellation context the request was created with.
func (c *Context) Context() context.Context {
	return c.ctx
}

// Err reports the cancellation state of the underlying context.
func (c *Context) Err() error {
	return c.ctx.Err()
}

// Header returns the value of a request header, using the canonical MIME
// header key form.
func (c *Context) Header(name string) string {
	if v, ok := c.Headers[name]; ok {
		return v
	}
	return c.Headers[http.CanonicalHeaderKey(name)]
}

// Finalize records the terminal result and status code for the request.
// The first call wins; later calls are ignored so that an outer hook
// cannot overwrite a short-circuit produced further down the chain.
func (c *Context) Finalize(statusCode int, result any) {
	if c.finalized {
		return
	}
	c.finalized = true
	c.StatusCode = statusCode
	c.Result = result
}

// Finalized reports whether the request already carries a terminal result.
func (c *Context) Finalized() bool {
	return c.finalized
}

// Fail finalizes the request with a structured error body.
func (c *Context) Fail(statusCode int, message string, details any) {
	c.Finalize(statusCode, &ErrorBody{Error: message, Details: details})
}
