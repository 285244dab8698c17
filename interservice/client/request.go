package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/LerianStudio/lib-interservice/interservice"
	constant "github.com/LerianStudio/lib-interservice/interservice/constants"
	"github.com/LerianStudio/lib-interservice/interservice/registry"
	"github.com/google/uuid"
)

// Request describes one inter-service call.
type Request struct {
	// Service is the logical service name to resolve.
	Service string
	Method  string
	Path    string
	// Headers are merged over the standard header set.
	Headers map[string]string
	// Params are appended to the URL as query parameters.
	Params map[string]string
	// Body is JSON-encoded when non-nil.
	Body any
	// Timeout overrides the client's per-attempt timeout.
	Timeout time.Duration
	// CorrelationID overrides the ambient correlation id.
	CorrelationID string
}

// RequestOption customizes a convenience-method request.
type RequestOption func(*Request)

// WithHeaders merges extra headers into the request.
func WithHeaders(headers map[string]string) RequestOption {
	return func(r *Request) {
		r.Headers = headers
	}
}

// WithParams sets the request's query parameters.
func WithParams(params map[string]string) RequestOption {
	return func(r *Request) {
		r.Params = params
	}
}

// WithTimeout overrides the per-attempt timeout for this request.
func WithTimeout(timeout time.Duration) RequestOption {
	return func(r *Request) {
		r.Timeout = timeout
	}
}

// WithCorrelationID pins the request's correlation id.
func WithCorrelationID(correlationID string) RequestOption {
	return func(r *Request) {
		r.CorrelationID = correlationID
	}
}

func buildRequest(service, method, path string, opts []RequestOption) Request {
	req := Request{Service: service, Method: method, Path: path}

	for _, opt := range opts {
		opt(&req)
	}

	return req
}

// Response is a decoded-enough view of the remote reply. The body is fully
// read so the underlying connection can be reused.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Decode unmarshals the JSON body into out.
func (r *Response) Decode(out any) error {
	if len(r.Body) == 0 {
		return nil
	}

	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}

	return nil
}

// errorBody is the conventional error payload shape; Code enriches
// ServiceError when present.
type errorBody struct {
	Code string `json:"code"`
}

// attempt performs one network attempt against the resolved instance.
func (c *Client) attempt(ctx context.Context, req Request, instance *registry.ServiceInstance, correlationID string) (*Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.config.Timeout
	}

	attemptCtx, cancel, err := interservice.WithTimeoutSafe(ctx, timeout)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var body io.Reader

	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return nil, interservice.MarkNonRetriable(fmt.Errorf("encode request body: %w", err))
		}

		body = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, c.requestURL(req, instance), body)
	if err != nil {
		return nil, interservice.MarkNonRetriable(fmt.Errorf("build request: %w", err))
	}

	if err := c.setHeaders(ctx, httpReq, req, correlationID); err != nil {
		return nil, err
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", req.Service, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", req.Service, err)
	}

	if httpResp.StatusCode >= http.StatusBadRequest {
		var parsed errorBody

		_ = json.Unmarshal(respBody, &parsed)

		return nil, &interservice.ServiceError{
			Service: req.Service,
			Method:  req.Method,
			Path:    req.Path,
			Status:  httpResp.StatusCode,
			Code:    parsed.Code,
			Body:    string(respBody),
		}
	}

	return &Response{
		Status:  httpResp.StatusCode,
		Headers: httpResp.Header,
		Body:    respBody,
	}, nil
}

// requestURL joins the instance address, path, and query parameters.
func (c *Client) requestURL(req Request, instance *registry.ServiceInstance) string {
	target := instance.BaseURL() + req.Path

	if len(req.Params) > 0 {
		query := url.Values{}
		for key, value := range req.Params {
			query.Set(key, value)
		}

		target += "?" + query.Encode()
	}

	return target
}

// setHeaders assembles the standard header set: content negotiation,
// correlation and request ids, caller identity, timestamp, service token,
// and the end-user headers forwarded from the caller's inbound request.
func (c *Client) setHeaders(ctx context.Context, httpReq *http.Request, req Request, correlationID string) error {
	httpReq.Header.Set(constant.HeaderContentType, constant.ContentTypeJSON)
	httpReq.Header.Set(constant.HeaderAccept, constant.ContentTypeJSON)
	httpReq.Header.Set(constant.HeaderCorrelationID, correlationID)
	httpReq.Header.Set(constant.HeaderRequestID, uuid.New().String())
	httpReq.Header.Set(constant.HeaderServiceName, c.config.ServiceName)
	httpReq.Header.Set(constant.HeaderTimestamp, time.Now().UTC().Format(time.RFC3339))

	token, err := c.issuer.Token(c.config.ServiceName)
	if err != nil {
		return interservice.MarkNonRetriable(fmt.Errorf("issue service token: %w", err))
	}

	if token != "" {
		httpReq.Header.Set(constant.HeaderServiceToken, token)
	}

	for key, value := range interservice.ForwardHeadersFromContext(ctx) {
		httpReq.Header.Set(key, value)
	}

	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	return nil
}
