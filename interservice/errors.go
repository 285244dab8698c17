package interservice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// RetriableError is implemented by errors that carry an explicit
// retriability decision. Classify consults it before falling back to
// error-class heuristics.
type RetriableError interface {
	error
	Retriable() bool
}

// ServiceUnavailableError reports that discovery found no healthy or
// degraded instance for a logical service. It is never retriable: retrying
// cannot conjure an instance that the registry does not know about.
type ServiceUnavailableError struct {
	Service string
}

func (e *ServiceUnavailableError) Error() string {
	return fmt.Sprintf("no available instance for service %q", e.Service)
}

// Retriable always returns false for ServiceUnavailableError.
func (e *ServiceUnavailableError) Retriable() bool { return false }

// CircuitOpenError reports that a circuit breaker rejected the call without
// invoking the protected operation. RetryAfter is the remaining cooldown.
type CircuitOpenError struct {
	Dependency string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open, retry after %s", e.Dependency, e.RetryAfter.Round(time.Millisecond))
}

// Retriable always returns false for CircuitOpenError: the breaker already
// decided the dependency must not be called.
func (e *CircuitOpenError) Retriable() bool { return false }

// ServiceError reports a non-success status from a remote service. Server
// errors (>=500), 429 and 408 are retriable; every other client error is
// not.
type ServiceError struct {
	Service string
	Method  string
	Path    string
	Status  int
	Code    string
	Body    string
}

func (e *ServiceError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("service %s responded %d (%s) on %s %s", e.Service, e.Status, e.Code, e.Method, e.Path)
	}

	return fmt.Sprintf("service %s responded %d on %s %s", e.Service, e.Status, e.Method, e.Path)
}

// Retriable reports whether the remote status is worth retrying.
func (e *ServiceError) Retriable() bool {
	return RetriableStatus(e.Status)
}

// MaxRetriesExceededError reports that the retry budget was exhausted.
// Unwrap exposes the last attempt's error for errors.Is/As inspection.
type MaxRetriesExceededError struct {
	Attempts int
	LastErr  error
}

func (e *MaxRetriesExceededError) Error() string {
	return fmt.Sprintf("operation failed after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *MaxRetriesExceededError) Unwrap() error { return e.LastErr }

// nonRetriableError wraps an error with an explicit do-not-retry marking.
type nonRetriableError struct {
	err error
}

func (e *nonRetriableError) Error() string   { return e.err.Error() }
func (e *nonRetriableError) Unwrap() error   { return e.err }
func (e *nonRetriableError) Retriable() bool { return false }

// MarkNonRetriable wraps err so Classify reports it as non-retriable
// regardless of its class. A nil err stays nil.
func MarkNonRetriable(err error) error {
	if err == nil {
		return nil
	}

	return &nonRetriableError{err: err}
}

// RetriableStatus reports whether an HTTP status code indicates a transient
// condition: any server error, plus 429 (rate limited) and 408 (request
// timeout).
func RetriableStatus(status int) bool {
	return status >= http.StatusInternalServerError ||
		status == http.StatusTooManyRequests ||
		status == http.StatusRequestTimeout
}

// Classify reports whether err is worth retrying.
//
// Precedence: a nil error is not retriable; an explicit RetriableError
// marking anywhere in the chain wins; a cancelled context is never retried.
// Everything else, connection failures and timeouts included, is treated as
// transient and retried inside the bounded attempt budget.
func Classify(err error) bool {
	if err == nil {
		return false
	}

	var marked RetriableError
	if errors.As(err, &marked) {
		return marked.Retriable()
	}

	return !errors.Is(err, context.Canceled)
}
