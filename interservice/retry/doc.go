// Package retry implements the attempt/backoff engine used on every
// inter-service call.
//
// Delay computation is a plain Strategy interface (ComputeDelay(attempt))
// selected via NewStrategy; the Executor owns the attempt loop, the retry
// predicate, and context-aware sleeping between attempts. Strategies that
// carry per-call state (decorrelated jitter) are re-instantiated for each
// Execute invocation so concurrent operations never share jitter sequences.
package retry
