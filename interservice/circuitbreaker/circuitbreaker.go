package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/LerianStudio/lib-interservice/interservice"
	"github.com/LerianStudio/lib-interservice/interservice/log"
)

// State represents the breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Config holds per-dependency breaker settings.
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens a closed
	// breaker.
	FailureThreshold int
	// SuccessThreshold is the consecutive-success count that closes a
	// half-open breaker.
	SuccessThreshold int
	// Timeout is how long the breaker stays open before the next call is
	// allowed through as a half-open probe.
	Timeout time.Duration
	// VolumeThreshold is the minimum number of calls in the rolling window
	// before the error-rate condition is evaluated.
	VolumeThreshold int
	// ErrorThresholdPercentage is the window error rate (0–100) that opens
	// the breaker once VolumeThreshold is met.
	ErrorThresholdPercentage float64
	// RollingWindow is the span of the outcome window.
	RollingWindow time.Duration
}

// DefaultConfig provides balanced settings for most dependencies.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:         5,
		SuccessThreshold:         2,
		Timeout:                  30 * time.Second,
		VolumeThreshold:          10,
		ErrorThresholdPercentage: 50,
		RollingWindow:            60 * time.Second,
	}
}

// withDefaults fills zero-valued fields from DefaultConfig.
func (c Config) withDefaults() Config {
	defaults := DefaultConfig()

	if c.FailureThreshold <= 0 {
		c.FailureThreshold = defaults.FailureThreshold
	}

	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = defaults.SuccessThreshold
	}

	if c.Timeout <= 0 {
		c.Timeout = defaults.Timeout
	}

	if c.VolumeThreshold <= 0 {
		c.VolumeThreshold = defaults.VolumeThreshold
	}

	if c.ErrorThresholdPercentage <= 0 {
		c.ErrorThresholdPercentage = defaults.ErrorThresholdPercentage
	}

	if c.RollingWindow <= 0 {
		c.RollingWindow = defaults.RollingWindow
	}

	return c
}

// Metrics is a point-in-time snapshot of breaker accounting.
type Metrics struct {
	Name            string
	State           State
	FailureCount    int
	SuccessCount    int
	WindowRequests  int
	WindowFailures  int
	ErrorPercentage float64
	LastFailureTime time.Time
	NextAttemptTime time.Time
	IsOpen          bool
	IsHalfOpen      bool
}

// Statistics summarizes latency over the rolling window.
type Statistics struct {
	SampleCount int
	P95         time.Duration
	P99         time.Duration
}

// Health is a human-oriented breaker summary.
type Health struct {
	Name    string
	State   State
	Healthy bool
	// RetryAfter is the remaining open cooldown; zero unless open.
	RetryAfter time.Duration
	Summary    string
}

// Breaker is the per-dependency state machine. All counter and window
// updates are serialized by one internal mutex, so a single Breaker may be
// shared by any number of concurrent callers.
type Breaker struct {
	name   string
	config Config
	logger log.Logger

	// onEvent, when set by the owning Factory, receives every lifecycle
	// event. Always invoked outside the breaker lock.
	onEvent func(Event)

	// now is the clock, replaceable in tests.
	now func() time.Time

	mu              sync.Mutex
	state           State
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	nextAttemptTime time.Time
	window          *rollingWindow
	pending         []Event
}

// New creates a Breaker. Zero-valued config fields take defaults.
func New(name string, config Config, opts ...BreakerOption) *Breaker {
	config = config.withDefaults()

	b := &Breaker{
		name:   name,
		config: config,
		logger: &log.NopLogger{},
		now:    time.Now,
		state:  StateClosed,
		window: newRollingWindow(config.RollingWindow),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// BreakerOption customizes a Breaker.
type BreakerOption func(*Breaker)

// WithLogger sets the breaker's logger.
func WithLogger(logger log.Logger) BreakerOption {
	return func(b *Breaker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithClock replaces the breaker's time source. Intended for tests.
func WithClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// Name returns the dependency name this breaker guards.
func (b *Breaker) Name() string { return b.name }

// Execute runs fn if the current state permits. While open and before the
// cooldown expires it returns *interservice.CircuitOpenError without calling
// fn; an expired cooldown transitions to half-open and admits the call.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	if err := b.admit(); err != nil {
		return nil, err
	}

	start := b.now()
	result, err := fn()
	elapsed := b.now().Sub(start)

	if err != nil {
		b.recordFailure(elapsed, err)
		return nil, err
	}

	b.recordSuccess(elapsed)

	return result, nil
}

// ExecuteWithFallback behaves like Execute but returns fallback() instead of
// the error when the breaker rejects the call. Failures of fn itself are
// still returned unchanged.
func (b *Breaker) ExecuteWithFallback(fn func() (any, error), fallback func() (any, error)) (any, error) {
	result, err := b.Execute(fn)

	var open *interservice.CircuitOpenError
	if errors.As(err, &open) {
		return fallback()
	}

	return result, err
}

// admit decides whether a call may proceed, handling the lazy open→half-open
// transition.
func (b *Breaker) admit() error {
	b.mu.Lock()

	now := b.now()

	if b.state == StateOpen {
		if now.Before(b.nextAttemptTime) {
			wait := b.nextAttemptTime.Sub(now)
			b.mu.Unlock()

			return &interservice.CircuitOpenError{Dependency: b.name, RetryAfter: wait}
		}

		b.transitionLocked(StateHalfOpen, now)
	}

	events := b.takePendingLocked()
	b.mu.Unlock()
	b.dispatch(events)

	return nil
}

// recordSuccess applies a successful outcome to the state machine.
func (b *Breaker) recordSuccess(elapsed time.Duration) {
	b.mu.Lock()

	now := b.now()
	b.window.add(now, true, elapsed)

	switch b.state {
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.config.SuccessThreshold {
			b.transitionLocked(StateClosed, now)
		}
	case StateClosed:
		b.failureCount = 0
	case StateOpen:
		// A success landing while open means the call was admitted before
		// the trip; it does not reopen the admission gate.
	}

	b.pending = append(b.pending, Event{Type: EventSuccess, Breaker: b.name, At: now})

	events := b.takePendingLocked()
	b.mu.Unlock()
	b.dispatch(events)
}

// recordFailure applies a failed outcome to the state machine.
func (b *Breaker) recordFailure(elapsed time.Duration, cause error) {
	b.mu.Lock()

	now := b.now()
	b.window.add(now, false, elapsed)
	b.lastFailureTime = now

	switch b.state {
	case StateHalfOpen:
		// Any half-open failure reopens with a fresh cooldown.
		b.transitionLocked(StateOpen, now)
	case StateClosed:
		b.failureCount++

		if b.shouldTripLocked(now) {
			b.transitionLocked(StateOpen, now)
		}
	case StateOpen:
	}

	b.pending = append(b.pending, Event{Type: EventFailure, Breaker: b.name, At: now, Err: cause})

	events := b.takePendingLocked()
	b.mu.Unlock()
	b.dispatch(events)
}

// shouldTripLocked evaluates the closed→open conditions: a consecutive
// failure streak, or enough window volume with a high enough error rate.
func (b *Breaker) shouldTripLocked(now time.Time) bool {
	if b.failureCount >= b.config.FailureThreshold {
		return true
	}

	total, failures := b.window.counts(now)
	if total < b.config.VolumeThreshold {
		return false
	}

	return float64(failures)/float64(total)*100 >= b.config.ErrorThresholdPercentage
}

// transitionLocked moves the state machine and queues the state-change
// event. Caller must hold the lock.
func (b *Breaker) transitionLocked(to State, now time.Time) {
	from := b.state
	if from == to {
		return
	}

	b.state = to

	switch to {
	case StateOpen:
		b.nextAttemptTime = now.Add(b.config.Timeout)
		b.successCount = 0
	case StateHalfOpen:
		b.successCount = 0
	case StateClosed:
		b.failureCount = 0
		b.successCount = 0
	}

	b.logger.Log(context.Background(), log.LevelWarn, "circuit breaker state changed",
		log.String("breaker", b.name),
		log.String("from", string(from)),
		log.String("to", string(to)),
	)

	b.pending = append(b.pending, Event{Type: EventStateChange, Breaker: b.name, At: now, From: from, To: to})
}

// takePendingLocked pops queued events. Caller must hold the lock.
func (b *Breaker) takePendingLocked() []Event {
	events := b.pending
	b.pending = nil

	return events
}

// dispatch forwards events to the factory sink when one is attached. The
// sink is read under the lock so detach can run concurrently with in-flight
// executions.
func (b *Breaker) dispatch(events []Event) {
	if len(events) == 0 {
		return
	}

	b.mu.Lock()
	sink := b.onEvent
	b.mu.Unlock()

	if sink == nil {
		return
	}

	for _, event := range events {
		sink(event)
	}
}

// detach removes the event sink so no further events reach the factory.
func (b *Breaker) detach() {
	b.mu.Lock()
	b.onEvent = nil
	b.mu.Unlock()
}

// Open manually forces the breaker open with a full cooldown.
func (b *Breaker) Open() {
	b.mu.Lock()
	b.transitionLocked(StateOpen, b.now())
	events := b.takePendingLocked()
	b.mu.Unlock()
	b.dispatch(events)
}

// Close manually forces the breaker closed.
func (b *Breaker) Close() {
	b.mu.Lock()
	b.transitionLocked(StateClosed, b.now())
	events := b.takePendingLocked()
	b.mu.Unlock()
	b.dispatch(events)
}

// Reset zeroes all accounting and returns the breaker to closed.
func (b *Breaker) Reset() {
	b.mu.Lock()

	now := b.now()
	b.transitionLocked(StateClosed, now)
	b.failureCount = 0
	b.successCount = 0
	b.lastFailureTime = time.Time{}
	b.nextAttemptTime = time.Time{}
	b.window.reset()
	b.pending = append(b.pending, Event{Type: EventReset, Breaker: b.name, At: now})

	events := b.takePendingLocked()
	b.mu.Unlock()
	b.dispatch(events)
}

// State returns the current state without advancing the machine.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// Metrics returns a snapshot of the breaker's counters and window.
func (b *Breaker) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	total, failures := b.window.counts(now)

	return Metrics{
		Name:            b.name,
		State:           b.state,
		FailureCount:    b.failureCount,
		SuccessCount:    b.successCount,
		WindowRequests:  total,
		WindowFailures:  failures,
		ErrorPercentage: b.window.errorPercentage(now),
		LastFailureTime: b.lastFailureTime,
		NextAttemptTime: b.nextAttemptTime,
		IsOpen:          b.state == StateOpen,
		IsHalfOpen:      b.state == StateHalfOpen,
	}
}

// Statistics returns latency percentiles over the rolling window.
func (b *Breaker) Statistics() Statistics {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	total, _ := b.window.counts(now)

	return Statistics{
		SampleCount: total,
		P95:         b.window.percentile(now, 95),
		P99:         b.window.percentile(now, 99),
	}
}

// HealthReport returns a human-oriented summary including the remaining
// cooldown while open.
func (b *Breaker) HealthReport() Health {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	health := Health{
		Name:    b.name,
		State:   b.state,
		Healthy: b.state == StateClosed,
	}

	switch b.state {
	case StateOpen:
		if remaining := b.nextAttemptTime.Sub(now); remaining > 0 {
			health.RetryAfter = remaining
		}

		health.Summary = fmt.Sprintf("%s is open; next attempt in %s", b.name, health.RetryAfter.Round(time.Millisecond))
	case StateHalfOpen:
		health.Summary = fmt.Sprintf("%s is half-open; %d/%d probe successes", b.name, b.successCount, b.config.SuccessThreshold)
	case StateClosed:
		health.Summary = fmt.Sprintf("%s is closed; %d recent failures", b.name, b.failureCount)
	}

	return health
}
