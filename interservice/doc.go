// Package interservice is the root of the resilient inter-service
// communication library. It holds what every other package shares: the
// request-scoped correlation container carried on context.Context, the error
// taxonomy surfaced to callers, and deadline-safe context helpers.
//
// The composing pieces live in subpackages: retry (backoff strategies and
// the retry executor), circuitbreaker (per-dependency failure guarding),
// registry (service discovery and health probing), auth (service identity
// tokens), client (the integration point tying them together), and net/http
// (inbound correlation middleware).
package interservice
