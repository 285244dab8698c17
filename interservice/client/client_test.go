//go:build unit

package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LerianStudio/lib-interservice/interservice"
	"github.com/LerianStudio/lib-interservice/interservice/auth"
	constant "github.com/LerianStudio/lib-interservice/interservice/constants"
	"github.com/LerianStudio/lib-interservice/interservice/registry"
	"github.com/LerianStudio/lib-interservice/interservice/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingTransport counts network attempts so tests can assert that some
// failure paths never touch the wire.
type countingTransport struct {
	attempts atomic.Int64
	base     http.RoundTripper
}

func (t *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.attempts.Add(1)

	return t.base.RoundTrip(req)
}

func newTestRegistry(t *testing.T, serverURL string) *registry.Registry {
	t.Helper()

	parsed, err := url.Parse(serverURL)
	require.NoError(t, err)

	port, err := strconv.Atoi(parsed.Port())
	require.NoError(t, err)

	reg := registry.New()
	t.Cleanup(func() { reg.Shutdown(context.Background()) })

	require.NoError(t, reg.Register(context.Background(), &registry.ServiceInstance{
		ID:       "svc-a-1",
		Name:     "svc-a",
		Host:     parsed.Hostname(),
		Port:     port,
		Protocol: "http",
		HealthCheck: registry.HealthCheck{
			Interval: time.Hour,
			Timeout:  time.Second,
		},
	}))

	return reg
}

func fastRetry(attempts int) *retry.Executor {
	return retry.New(
		retry.WithMaxAttempts(attempts),
		retry.WithStrategy(retry.Fixed(retry.StrategyConfig{BaseDelay: time.Millisecond})),
	)
}

func newTestClient(t *testing.T, reg *registry.Registry, opts ...Option) *Client {
	t.Helper()

	opts = append([]Option{WithRetryExecutor(fastRetry(3))}, opts...)

	c, err := New(Config{
		ServiceName: "caller-svc",
		Token:       auth.Config{Enabled: true, Secret: "test-secret"},
	}, reg, opts...)
	require.NoError(t, err)

	t.Cleanup(c.Shutdown)

	return c
}

func TestClient_NoInstanceMeansNoNetworkAttempt(t *testing.T) {
	t.Parallel()

	transport := &countingTransport{base: http.DefaultTransport}

	reg := registry.New()
	defer reg.Shutdown(context.Background())

	c := newTestClient(t, reg, WithHTTPClient(&http.Client{Transport: transport}))

	_, err := c.Get(context.Background(), "svc-missing", "/things")

	var unavailable *interservice.ServiceUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "svc-missing", unavailable.Service)
	assert.Zero(t, transport.attempts.Load(), "no network attempt without an instance")
}

func TestClient_SuccessfulCall(t *testing.T) {
	t.Parallel()

	var gotHeaders http.Header

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		w.Header().Set(constant.HeaderContentType, constant.ContentTypeJSON)
		w.Write([]byte(`{"id":"42","amount":100}`))
	}))
	defer server.Close()

	reg := newTestRegistry(t, server.URL)
	c := newTestClient(t, reg)

	ctx := interservice.ContextWithForwardHeaders(
		interservice.ContextWithCorrelationID(context.Background(), "corr-123"),
		map[string]string{
			constant.HeaderUserID:    "user-7",
			constant.HeaderSessionID: "sess-9",
		},
	)

	resp, err := c.Get(ctx, "svc-a", "/things/42")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)

	var decoded struct {
		ID     string `json:"id"`
		Amount int    `json:"amount"`
	}

	require.NoError(t, resp.Decode(&decoded))
	assert.Equal(t, "42", decoded.ID)
	assert.Equal(t, 100, decoded.Amount)

	// The standard header set travels with the request.
	assert.Equal(t, "corr-123", gotHeaders.Get(constant.HeaderCorrelationID))
	assert.NotEmpty(t, gotHeaders.Get(constant.HeaderRequestID))
	assert.Equal(t, "caller-svc", gotHeaders.Get(constant.HeaderServiceName))
	assert.Equal(t, constant.ContentTypeJSON, gotHeaders.Get(constant.HeaderContentType))
	assert.NotEmpty(t, gotHeaders.Get(constant.HeaderTimestamp))
	assert.Equal(t, "user-7", gotHeaders.Get(constant.HeaderUserID))
	assert.Equal(t, "sess-9", gotHeaders.Get(constant.HeaderSessionID))

	// The service token verifies against the shared secret.
	claims, err := auth.Verify(gotHeaders.Get(constant.HeaderServiceToken), "test-secret")
	require.NoError(t, err)
	assert.Equal(t, "caller-svc", claims.Service)
}

func TestClient_GeneratesCorrelationID(t *testing.T) {
	t.Parallel()

	var got string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get(constant.HeaderCorrelationID)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	reg := newTestRegistry(t, server.URL)
	c := newTestClient(t, reg)

	_, err := c.Get(context.Background(), "svc-a", "/things")
	require.NoError(t, err)
	assert.NotEmpty(t, got, "a correlation id is generated when none is supplied")
}

func TestClient_PostEncodesBody(t *testing.T) {
	t.Parallel()

	var gotBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = buf
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	reg := newTestRegistry(t, server.URL)
	c := newTestClient(t, reg)

	resp, err := c.Post(context.Background(), "svc-a", "/things", map[string]string{"name": "widget"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.JSONEq(t, `{"name":"widget"}`, string(gotBody))
}

func TestClient_QueryParams(t *testing.T) {
	t.Parallel()

	var gotQuery url.Values

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	reg := newTestRegistry(t, server.URL)
	c := newTestClient(t, reg)

	_, err := c.Get(context.Background(), "svc-a", "/things",
		WithParams(map[string]string{"page": "2", "limit": "50"}),
	)
	require.NoError(t, err)
	assert.Equal(t, "2", gotQuery.Get("page"))
	assert.Equal(t, "50", gotQuery.Get("limit"))
}

func TestClient_ServerErrorIsRetriedThenSurfaced(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	reg := newTestRegistry(t, server.URL)
	c := newTestClient(t, reg)

	_, err := c.Get(context.Background(), "svc-a", "/things")

	var exhausted *interservice.MaxRetriesExceededError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, int64(3), calls.Load())

	var remote *interservice.ServiceError
	require.ErrorAs(t, err, &remote, "the last ServiceError is reachable through Unwrap")
	assert.Equal(t, http.StatusBadGateway, remote.Status)
}

func TestClient_ClientErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"code":"THING_NOT_FOUND","message":"no such thing"}`))
	}))
	defer server.Close()

	reg := newTestRegistry(t, server.URL)
	c := newTestClient(t, reg)

	_, err := c.Get(context.Background(), "svc-a", "/things/nope")

	var remote *interservice.ServiceError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, http.StatusNotFound, remote.Status)
	assert.Equal(t, "THING_NOT_FOUND", remote.Code)
	assert.Equal(t, "svc-a", remote.Service)
	assert.Equal(t, int64(1), calls.Load(), "4xx is never retried")
}

func TestClient_OpenBreakerShortCircuits(t *testing.T) {
	t.Parallel()

	transport := &countingTransport{base: http.DefaultTransport}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	reg := newTestRegistry(t, server.URL)

	c, err := New(Config{ServiceName: "caller-svc"}, reg,
		WithRetryExecutor(fastRetry(1)),
		WithHTTPClient(&http.Client{Transport: transport}),
	)
	require.NoError(t, err)

	t.Cleanup(c.Shutdown)

	// Default breaker config trips after 5 consecutive failures.
	for i := 0; i < 5; i++ {
		_, err := c.Get(context.Background(), "svc-a", "/things")
		require.Error(t, err)
	}

	before := transport.attempts.Load()

	_, err = c.Get(context.Background(), "svc-a", "/things")

	var open *interservice.CircuitOpenError
	require.ErrorAs(t, err, &open)
	assert.Equal(t, "svc-a-1", open.Dependency, "breakers are keyed by instance id")
	assert.Positive(t, open.RetryAfter)
	assert.Equal(t, before, transport.attempts.Load(), "open breaker bypasses the network")
}

func TestClient_RedirectLimit(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/hop":
			http.Redirect(w, r, "/final", http.StatusFound)
		case "/final":
			w.WriteHeader(http.StatusOK)
		default:
			http.Redirect(w, r, "/loop", http.StatusFound)
		}
	}))
	defer server.Close()

	reg := newTestRegistry(t, server.URL)

	c, err := New(Config{ServiceName: "caller-svc", MaxRedirects: 2}, reg,
		WithRetryExecutor(fastRetry(1)),
	)
	require.NoError(t, err)

	t.Cleanup(c.Shutdown)

	resp, err := c.Get(context.Background(), "svc-a", "/hop")
	require.NoError(t, err, "redirects under the cap are followed")
	assert.Equal(t, http.StatusOK, resp.Status)

	_, err = c.Get(context.Background(), "svc-a", "/loop")
	require.Error(t, err)
	assert.ErrorContains(t, err, "stopped after 2 redirects")
}

func TestClient_HealthCheck(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	reg := newTestRegistry(t, server.URL)
	c := newTestClient(t, reg)

	_, err := c.Get(context.Background(), "svc-a", "/things")
	require.NoError(t, err)

	reports := c.HealthCheck()
	require.Contains(t, reports, "svc-a-1")
	assert.True(t, reports["svc-a-1"].Healthy)
}

func TestClient_RequestTimeout(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	reg := newTestRegistry(t, server.URL)

	c, err := New(Config{ServiceName: "caller-svc"}, reg,
		WithRetryExecutor(fastRetry(1)),
	)
	require.NoError(t, err)

	t.Cleanup(c.Shutdown)

	_, err = c.Get(context.Background(), "svc-a", "/slow", WithTimeout(20*time.Millisecond))
	require.Error(t, err)

	var exhausted *interservice.MaxRetriesExceededError
	assert.ErrorAs(t, err, &exhausted, "timeouts are retriable and exhaust the budget")
}
