package interservice

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/LerianStudio/lib-interservice/interservice/log"
	"github.com/google/uuid"
)

// ErrNilParentContext indicates that a nil parent context was provided.
var ErrNilParentContext = errors.New("cannot create context from nil parent")

type requestScopeKey string

// RequestScopeKey is the context key under which the request-scoped
// correlation container is stored.
var RequestScopeKey = requestScopeKey("request_scope")

// RequestScope holds the per-request facilities attached to a context:
// correlation and request identifiers, the request-scoped logger, and the
// end-user headers to forward on downstream calls.
//
// A scope belongs to exactly one in-flight request. Setters copy the
// container so concurrent requests never share a mutable cell.
type RequestScope struct {
	CorrelationID string
	RequestID     string
	Logger        log.Logger

	// Forward holds inbound end-user headers (X-User-Id, X-User-Roles,
	// X-Session-Id) replayed verbatim on outbound calls.
	Forward map[string]string
}

// clone returns a copy of the scope safe to mutate. A nil receiver yields an
// empty scope.
func (s *RequestScope) clone() *RequestScope {
	if s == nil {
		return &RequestScope{}
	}

	copied := *s

	if s.Forward != nil {
		copied.Forward = make(map[string]string, len(s.Forward))
		for k, v := range s.Forward {
			copied.Forward[k] = v
		}
	}

	return &copied
}

// ScopeFromContext returns the request scope stored in ctx, or nil when the
// context carries none.
func ScopeFromContext(ctx context.Context) *RequestScope {
	if scope, ok := ctx.Value(RequestScopeKey).(*RequestScope); ok {
		return scope
	}

	return nil
}

// ContextWithScope stores the given scope in ctx.
func ContextWithScope(ctx context.Context, scope *RequestScope) context.Context {
	return context.WithValue(ctx, RequestScopeKey, scope)
}

// ContextWithCorrelationID returns a context whose scope carries the given
// correlation id.
func ContextWithCorrelationID(ctx context.Context, correlationID string) context.Context {
	scope := ScopeFromContext(ctx).clone()
	scope.CorrelationID = correlationID

	return ContextWithScope(ctx, scope)
}

// ContextWithRequestID returns a context whose scope carries the given
// request id.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	scope := ScopeFromContext(ctx).clone()
	scope.RequestID = requestID

	return ContextWithScope(ctx, scope)
}

// ContextWithLogger returns a context whose scope carries the given logger.
func ContextWithLogger(ctx context.Context, logger log.Logger) context.Context {
	scope := ScopeFromContext(ctx).clone()
	scope.Logger = logger

	return ContextWithScope(ctx, scope)
}

// ContextWithForwardHeaders returns a context whose scope carries end-user
// headers to replay on outbound calls. The map is copied.
func ContextWithForwardHeaders(ctx context.Context, headers map[string]string) context.Context {
	scope := ScopeFromContext(ctx).clone()

	if len(headers) > 0 {
		scope.Forward = make(map[string]string, len(headers))
		for k, v := range headers {
			scope.Forward[k] = v
		}
	}

	return ContextWithScope(ctx, scope)
}

// CorrelationIDFromContext returns the ambient correlation id, or "" when the
// context carries none.
func CorrelationIDFromContext(ctx context.Context) string {
	if scope := ScopeFromContext(ctx); scope != nil {
		return scope.CorrelationID
	}

	return ""
}

// RequestIDFromContext returns the ambient request id, or "" when the
// context carries none.
func RequestIDFromContext(ctx context.Context) string {
	if scope := ScopeFromContext(ctx); scope != nil {
		return scope.RequestID
	}

	return ""
}

// ForwardHeadersFromContext returns a copy of the forwarded end-user headers
// stored in ctx, or nil.
func ForwardHeadersFromContext(ctx context.Context) map[string]string {
	scope := ScopeFromContext(ctx)
	if scope == nil || len(scope.Forward) == 0 {
		return nil
	}

	out := make(map[string]string, len(scope.Forward))
	for k, v := range scope.Forward {
		out[k] = v
	}

	return out
}

// LoggerFromContext extracts the request-scoped logger from ctx, falling
// back to a no-op logger so callers never need a nil check.
//
//nolint:ireturn
func LoggerFromContext(ctx context.Context) log.Logger {
	if scope := ScopeFromContext(ctx); scope != nil && scope.Logger != nil {
		return scope.Logger
	}

	return &log.NopLogger{}
}

// NewCorrelationID generates a fresh correlation id.
func NewCorrelationID() string {
	return uuid.New().String()
}

// childSuffixLength is the number of random hex characters appended when
// deriving a child correlation id.
const childSuffixLength = 8

// ChildCorrelationID derives a hierarchical correlation id for a fan-out
// sub-operation: "parent.suffix". An empty parent yields a fresh id so the
// result is always usable as a correlation id.
func ChildCorrelationID(parent string) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:childSuffixLength]

	if strings.TrimSpace(parent) == "" {
		return NewCorrelationID()
	}

	return parent + "." + suffix
}

// WithTimeoutSafe creates a context with the specified timeout, but respects
// any existing deadline in the parent context. Returns an error if parent is
// nil.
//
// When the parent's deadline is shorter than the requested timeout, the
// returned context inherits the parent's deadline rather than extending it.
func WithTimeoutSafe(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc, error) {
	if parent == nil {
		return nil, nil, ErrNilParentContext
	}

	if deadline, ok := parent.Deadline(); ok {
		if time.Until(deadline) < timeout {
			ctx, cancel := context.WithCancel(parent)
			return ctx, cancel, nil
		}
	}

	ctx, cancel := context.WithTimeout(parent, timeout)

	return ctx, cancel, nil
}
