package retry

import (
	"context"
	"errors"
	"time"

	"github.com/LerianStudio/lib-interservice/interservice"
	"github.com/sony/gobreaker"
)

// BreakerConfig tunes the lightweight internal breaker wrapped around an
// Executor by NewWithBreaker.
type BreakerConfig struct {
	// Name labels the breaker in errors and diagnostics.
	Name string
	// ConsecutiveFailures is the failure streak that opens the breaker.
	// Zero means the default of 5.
	ConsecutiveFailures uint32
	// Cooldown is how long the breaker stays open before allowing a single
	// probe. Zero means the default of 30 seconds.
	Cooldown time.Duration
}

const (
	defaultBreakerFailures = 5
	defaultBreakerCooldown = 30 * time.Second
)

// BreakerExecutor layers a consecutive-failure breaker over an Executor:
// once the failure streak trips it, calls fail fast for the cooldown without
// invoking the operation, then a single probe is allowed and a success
// resets the streak.
//
// This is deliberately simpler than the circuitbreaker package (no rolling
// window, no error-rate trip) and is meant for wrapping one hot operation
// rather than guarding a whole dependency.
type BreakerExecutor struct {
	executor *Executor
	breaker  *gobreaker.CircuitBreaker
	cooldown time.Duration
}

// NewWithBreaker wraps executor with the internal breaker described by cfg.
func NewWithBreaker(executor *Executor, cfg BreakerConfig) *BreakerExecutor {
	failures := cfg.ConsecutiveFailures
	if failures == 0 {
		failures = defaultBreakerFailures
	}

	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = defaultBreakerCooldown
	}

	name := cfg.Name
	if name == "" {
		name = "retry"
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
	}

	return &BreakerExecutor{
		executor: executor,
		breaker:  gobreaker.NewCircuitBreaker(settings),
		cooldown: cooldown,
	}
}

// Execute runs op through the breaker and, when admitted, through the retry
// executor. While the breaker is open it returns *interservice.CircuitOpenError
// without invoking op; the error is marked non-retriable so outer retry
// layers do not hammer a tripped breaker.
func (b *BreakerExecutor) Execute(ctx context.Context, op Operation) error {
	_, err := b.breaker.Execute(func() (any, error) {
		return nil, b.executor.Execute(ctx, op)
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &interservice.CircuitOpenError{
			Dependency: b.breaker.Name(),
			RetryAfter: b.cooldown,
		}
	}

	return err
}
