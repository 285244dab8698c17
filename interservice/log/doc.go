// Package log defines the structured logging interface used across the
// library and the typed fields attached to log events.
//
// Adapters (such as the zap package) implement Logger so library components
// never depend on a concrete logging backend. Every component that logs
// accepts a Logger and falls back to NopLogger when none is provided.
package log
