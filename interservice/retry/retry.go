package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/LerianStudio/lib-interservice/interservice"
	"github.com/LerianStudio/lib-interservice/interservice/log"
)

// Operation is one attemptable unit of work. The supplied context is the
// Execute caller's context; implementations should honor its cancellation.
type Operation func(ctx context.Context) error

// Predicate decides whether a failed attempt is worth retrying.
type Predicate func(err error) bool

// Executor runs operations with bounded retries and strategy-computed
// delays. It is immutable after construction and safe for concurrent use.
type Executor struct {
	maxAttempts int
	strategy    Strategy
	jitter      bool
	predicate   Predicate
	logger      log.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// Option customizes an Executor.
type Option func(*Executor)

// WithMaxAttempts sets the total attempt budget (first try included).
// Values below 1 are clamped to 1.
func WithMaxAttempts(n int) Option {
	return func(e *Executor) {
		if n < 1 {
			n = 1
		}

		e.maxAttempts = n
	}
}

// WithStrategy sets the delay strategy.
func WithStrategy(s Strategy) Option {
	return func(e *Executor) {
		if s != nil {
			e.strategy = s
		}
	}
}

// WithJitter enables the uniform 0–30% delay perturbation.
func WithJitter() Option {
	return func(e *Executor) {
		e.jitter = true
	}
}

// WithPredicate replaces the default retriability predicate.
func WithPredicate(p Predicate) Option {
	return func(e *Executor) {
		if p != nil {
			e.predicate = p
		}
	}
}

// WithLogger sets the logger used for per-attempt diagnostics.
func WithLogger(logger log.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 100 * time.Millisecond
	defaultMaxDelay    = 10 * time.Second
)

// New creates an Executor. Defaults: 3 attempts, exponential backoff from
// 100ms capped at 10s, no jitter, interservice.Classify as the predicate.
func New(opts ...Option) *Executor {
	e := &Executor{
		maxAttempts: defaultMaxAttempts,
		strategy: Exponential(StrategyConfig{
			BaseDelay: defaultBaseDelay,
			MaxDelay:  defaultMaxDelay,
		}),
		predicate: interservice.Classify,
		logger:    &log.NopLogger{},
		sleep:     sleepWithContext,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Execute runs op up to the attempt budget. A failure the predicate rejects
// propagates immediately; otherwise the executor sleeps the computed delay
// (skipped after the final attempt) and retries. When the budget is
// exhausted it returns *interservice.MaxRetriesExceededError wrapping the
// last error.
func (e *Executor) Execute(ctx context.Context, op Operation) error {
	strategy := e.strategy
	if sessioned, ok := strategy.(Sessioned); ok {
		strategy = sessioned.Session()
	}

	var lastErr error

	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry aborted: %w", err)
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if !e.predicate(lastErr) {
			return lastErr
		}

		if attempt == e.maxAttempts-1 {
			break
		}

		delay := strategy.ComputeDelay(attempt)
		if e.jitter {
			delay = applyJitter(delay)
		}

		e.logger.Log(ctx, log.LevelDebug, "retrying after failure",
			log.Int("attempt", attempt+1),
			log.Duration("delay", delay),
			log.Err(lastErr),
		)

		if err := e.sleep(ctx, delay); err != nil {
			return fmt.Errorf("retry aborted: %w", err)
		}
	}

	return &interservice.MaxRetriesExceededError{
		Attempts: e.maxAttempts,
		LastErr:  lastErr,
	}
}

// Do runs op through the executor and returns its value. It is the generic
// companion to Execute for operations that produce a result.
func Do[T any](ctx context.Context, e *Executor, op func(ctx context.Context) (T, error)) (T, error) {
	var result T

	err := e.Execute(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)

		return opErr
	})
	if err != nil {
		var zero T
		return zero, err
	}

	return result, nil
}

// sleepWithContext sleeps for the given duration but returns early with the
// context's error if it is cancelled first.
func sleepWithContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
