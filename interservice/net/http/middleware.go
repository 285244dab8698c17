// Package http provides the fiber middleware that establishes the
// request-scoped correlation context on inbound requests, plus the helper
// that propagates it on outbound ones.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/LerianStudio/lib-interservice/interservice"
	constant "github.com/LerianStudio/lib-interservice/interservice/constants"
	"github.com/LerianStudio/lib-interservice/interservice/log"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// forwardedHeaders are the end-user headers captured from the inbound
// request and replayed verbatim on outbound inter-service calls.
var forwardedHeaders = []string{
	constant.HeaderUserID,
	constant.HeaderUserRoles,
	constant.HeaderSessionID,
}

type correlationMiddleware struct {
	logger            log.Logger
	correlationHeader string
	accessLogs        bool
}

// CorrelationOption customizes the correlation middleware.
type CorrelationOption func(*correlationMiddleware)

// WithCorrelationLogger attaches a logger; each request gets a child logger
// carrying its correlation and request ids, stored on the request scope.
func WithCorrelationLogger(logger log.Logger) CorrelationOption {
	return func(m *correlationMiddleware) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithCorrelationHeader overrides the header the correlation id is read
// from. The response is stamped under the same name.
func WithCorrelationHeader(name string) CorrelationOption {
	return func(m *correlationMiddleware) {
		if name != "" {
			m.correlationHeader = name
		}
	}
}

// WithAccessLogs enables structured start/completion logs per request.
func WithAccessLogs() CorrelationOption {
	return func(m *correlationMiddleware) {
		m.accessLogs = true
	}
}

// WithCorrelation returns the fiber middleware that extracts or generates
// the correlation id, assigns a fresh request id, stores both request-scoped
// on the user context, and stamps X-Correlation-Id, X-Request-Id, and
// X-Response-Time on the response.
func WithCorrelation(opts ...CorrelationOption) fiber.Handler {
	mid := &correlationMiddleware{
		logger:            &log.NopLogger{},
		correlationHeader: constant.HeaderCorrelationID,
	}

	for _, opt := range opts {
		opt(mid)
	}

	return func(c *fiber.Ctx) error {
		correlationID := c.Get(mid.correlationHeader)
		if correlationID == "" {
			correlationID = interservice.NewCorrelationID()
		}

		requestID := uuid.New().String()

		logger := mid.logger.With(
			log.String("correlation_id", correlationID),
			log.String("request_id", requestID),
		)

		scope := &interservice.RequestScope{
			CorrelationID: correlationID,
			RequestID:     requestID,
			Logger:        logger,
			Forward:       captureForwarded(c),
		}

		c.SetUserContext(interservice.ContextWithScope(c.UserContext(), scope))

		c.Set(mid.correlationHeader, correlationID)
		c.Set(constant.HeaderRequestID, requestID)

		if span := trace.SpanFromContext(c.UserContext()); span.SpanContext().IsValid() {
			span.SetAttributes(
				attribute.String("correlation.id", correlationID),
				attribute.String("request.id", requestID),
			)
		}

		if mid.accessLogs {
			logger.Log(c.UserContext(), log.LevelInfo, "request started",
				log.String("method", c.Method()),
				log.String("path", c.Path()),
			)
		}

		start := time.Now()
		err := c.Next()
		elapsed := time.Since(start)

		c.Set(constant.HeaderResponseTime, fmt.Sprintf("%dms", elapsed.Milliseconds()))

		if mid.accessLogs {
			logger.Log(c.UserContext(), log.LevelInfo, "request completed",
				log.String("method", c.Method()),
				log.String("path", c.Path()),
				log.Int("status", c.Response().StatusCode()),
				log.Duration("duration", elapsed),
			)
		}

		return err
	}
}

// captureForwarded collects the end-user headers present on the inbound
// request.
func captureForwarded(c *fiber.Ctx) map[string]string {
	var captured map[string]string

	for _, header := range forwardedHeaders {
		if value := c.Get(header); value != "" {
			if captured == nil {
				captured = make(map[string]string, len(forwardedHeaders))
			}

			captured[header] = value
		}
	}

	return captured
}

// PropagateHeaders copies the ambient correlation id (and a child request
// id) from ctx onto an outbound header set. Used when calling services
// through a transport the inter-service client does not own.
func PropagateHeaders(ctx context.Context, header http.Header) {
	if correlationID := interservice.CorrelationIDFromContext(ctx); correlationID != "" {
		header.Set(constant.HeaderCorrelationID, correlationID)
	}

	header.Set(constant.HeaderRequestID, uuid.New().String())

	for key, value := range interservice.ForwardHeadersFromContext(ctx) {
		header.Set(key, value)
	}
}
