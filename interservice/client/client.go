// Package client composes service discovery, circuit breaking, retries,
// service tokens, and correlation propagation into one outbound call path.
//
// Flow per request: resolve a healthy instance, run the retried network
// call through the breaker keyed by that instance's id, classify the
// response, decode the body.
package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/LerianStudio/lib-interservice/interservice"
	"github.com/LerianStudio/lib-interservice/interservice/auth"
	"github.com/LerianStudio/lib-interservice/interservice/circuitbreaker"
	"github.com/LerianStudio/lib-interservice/interservice/log"
	"github.com/LerianStudio/lib-interservice/interservice/registry"
	"github.com/LerianStudio/lib-interservice/interservice/retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultTimeout bounds one network attempt when the request does not
	// carry its own timeout.
	DefaultTimeout = 10 * time.Second
	// DefaultMaxRedirects caps how many redirects one attempt may follow.
	DefaultMaxRedirects = 10
)

// Config holds client-wide settings.
type Config struct {
	// ServiceName identifies this process on outbound requests and in
	// issued service tokens.
	ServiceName string
	// Timeout is the per-attempt timeout. Zero means DefaultTimeout.
	Timeout time.Duration
	// MaxRedirects caps the redirect chain one attempt may follow. Zero
	// means DefaultMaxRedirects; a negative value refuses redirects
	// outright.
	MaxRedirects int
	// Token configures service token issuance.
	Token auth.Config
	// Breaker configures the per-instance circuit breakers.
	Breaker circuitbreaker.Config
}

// Client is the inter-service caller. Safe for concurrent use.
type Client struct {
	config     Config
	registry   *registry.Registry
	breakers   *circuitbreaker.Factory
	retry      *retry.Executor
	issuer     *auth.Issuer
	httpClient *http.Client
	logger     log.Logger
	tracer     trace.Tracer
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the client's logger.
func WithLogger(logger log.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient replaces the transport used for network calls. The
// supplied client carries its own redirect policy; Config.MaxRedirects only
// applies to the default client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithRetryExecutor replaces the default retry executor.
func WithRetryExecutor(executor *retry.Executor) Option {
	return func(c *Client) {
		if executor != nil {
			c.retry = executor
		}
	}
}

// WithBreakerFactory replaces the default breaker factory, letting several
// clients share breaker accounting.
func WithBreakerFactory(factory *circuitbreaker.Factory) Option {
	return func(c *Client) {
		if factory != nil {
			c.breakers = factory
		}
	}
}

// New creates a Client on top of reg.
func New(config Config, reg *registry.Registry, opts ...Option) (*Client, error) {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}

	if config.MaxRedirects == 0 {
		config.MaxRedirects = DefaultMaxRedirects
	}

	issuer, err := auth.NewIssuer(config.Token)
	if err != nil {
		return nil, fmt.Errorf("configure token issuer: %w", err)
	}

	c := &Client{
		config:     config,
		registry:   reg,
		retry:      retry.New(),
		issuer:     issuer,
		httpClient: &http.Client{CheckRedirect: redirectPolicy(config.MaxRedirects)},
		logger:     &log.NopLogger{},
		tracer:     otel.Tracer("interservice.client"),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.breakers == nil {
		c.breakers = circuitbreaker.NewFactory(config.Breaker, c.logger)
	}

	return c, nil
}

// redirectPolicy bounds the redirect chain at maxHops.
func redirectPolicy(maxHops int) func(*http.Request, []*http.Request) error {
	if maxHops < 0 {
		maxHops = 0
	}

	return func(_ *http.Request, via []*http.Request) error {
		if len(via) >= maxHops {
			return fmt.Errorf("stopped after %d redirects", maxHops)
		}

		return nil
	}
}

// Request performs one inter-service call. No healthy or degraded instance
// means an immediate *interservice.ServiceUnavailableError with zero
// network attempts; an open breaker for the resolved instance means an
// immediate *interservice.CircuitOpenError.
func (c *Client) Request(ctx context.Context, req Request) (*Response, error) {
	instance := c.registry.GetHealthyInstance(req.Service)
	if instance == nil {
		c.logger.Log(ctx, log.LevelWarn, "no available instance",
			log.String("service", req.Service),
		)

		return nil, &interservice.ServiceUnavailableError{Service: req.Service}
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = interservice.CorrelationIDFromContext(ctx)
	}

	if correlationID == "" {
		correlationID = interservice.NewCorrelationID()
	}

	ctx, span := c.tracer.Start(ctx, req.Service+" "+req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("peer.service", req.Service),
		attribute.String("http.method", req.Method),
		attribute.String("http.target", req.Path),
		attribute.String("correlation.id", correlationID),
	)

	start := time.Now()

	result, err := c.breakers.Execute(instance.ID, func() (any, error) {
		return retry.Do(ctx, c.retry, func(ctx context.Context) (*Response, error) {
			return c.attempt(ctx, req, instance, correlationID)
		})
	})

	elapsed := time.Since(start)

	if err != nil {
		span.RecordError(err)
		c.logger.Log(ctx, log.LevelWarn, "inter-service call failed",
			log.String("service", req.Service),
			log.String("method", req.Method),
			log.String("path", req.Path),
			log.String("correlation_id", correlationID),
			log.Duration("elapsed", elapsed),
			log.Err(err),
		)

		return nil, err
	}

	response := result.(*Response)

	span.SetAttributes(attribute.Int("http.status_code", response.Status))
	c.logger.Log(ctx, log.LevelInfo, "inter-service call completed",
		log.String("service", req.Service),
		log.String("method", req.Method),
		log.String("path", req.Path),
		log.Int("status", response.Status),
		log.String("correlation_id", correlationID),
		log.Duration("elapsed", elapsed),
	)

	return response, nil
}

// Get performs a GET request against service.
func (c *Client) Get(ctx context.Context, service, path string, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, buildRequest(service, http.MethodGet, path, opts))
}

// Post performs a POST request with a JSON body against service.
func (c *Client) Post(ctx context.Context, service, path string, body any, opts ...RequestOption) (*Response, error) {
	req := buildRequest(service, http.MethodPost, path, opts)
	req.Body = body

	return c.Request(ctx, req)
}

// Put performs a PUT request with a JSON body against service.
func (c *Client) Put(ctx context.Context, service, path string, body any, opts ...RequestOption) (*Response, error) {
	req := buildRequest(service, http.MethodPut, path, opts)
	req.Body = body

	return c.Request(ctx, req)
}

// Delete performs a DELETE request against service.
func (c *Client) Delete(ctx context.Context, service, path string, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, buildRequest(service, http.MethodDelete, path, opts))
}

// HealthCheck reports the breaker health of every dependency this client
// has called.
func (c *Client) HealthCheck() map[string]circuitbreaker.Health {
	return c.breakers.HealthReports()
}

// Shutdown clears cached service tokens and drops all breakers.
func (c *Client) Shutdown() {
	c.issuer.Purge()
	c.breakers.Shutdown()
}
