// Package zap provides the go.uber.org/zap implementation of the library's
// log.Logger interface. Log events emitted with a context carrying an active
// OpenTelemetry span are automatically enriched with trace_id and span_id.
package zap
