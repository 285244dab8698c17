// Package circuitbreaker guards calls to failing dependencies with a
// CLOSED/OPEN/HALF_OPEN state machine.
//
// A Breaker trips on a consecutive-failure threshold or on the error rate
// observed in a rolling outcome window, rejects calls while open, and
// recovers through half-open probing. The open→half-open transition is
// evaluated lazily at call time, so no background timer is needed.
//
// Use a Factory to share one breaker per dependency name across concurrent
// callers and to observe success/failure/state-change/reset events.
package circuitbreaker
