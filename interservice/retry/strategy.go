package retry

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Strategy computes the delay before the retry following attempt n
// (zero-based). Implementations must never return a negative duration.
type Strategy interface {
	ComputeDelay(attempt int) time.Duration
}

// Sessioned is implemented by strategies that carry per-call state. The
// Executor calls Session once per Execute invocation and uses the returned
// strategy for that call only, so concurrent operations never interfere.
type Sessioned interface {
	Session() Strategy
}

// Kind names a built-in delay strategy for factory selection.
type Kind string

const (
	KindFixed              Kind = "fixed"
	KindLinear             Kind = "linear"
	KindExponential        Kind = "exponential"
	KindFibonacci          Kind = "fibonacci"
	KindDecorrelatedJitter Kind = "decorrelated-jitter"
)

// ErrUnknownStrategy indicates a Kind not handled by the factory.
var ErrUnknownStrategy = errors.New("unknown retry strategy")

// StrategyConfig holds the delay parameters shared by all strategies.
// It is immutable after construction.
type StrategyConfig struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Factor is the exponential growth multiplier. Zero means the default of 2.
	Factor float64
}

func (c StrategyConfig) factor() float64 {
	if c.Factor <= 0 {
		return 2
	}

	return c.Factor
}

// cap bounds a delay to MaxDelay when one is configured.
func (c StrategyConfig) cap(d time.Duration) time.Duration {
	if c.MaxDelay > 0 && d > c.MaxDelay {
		return c.MaxDelay
	}

	if d < 0 {
		return 0
	}

	return d
}

// NewStrategy builds a Strategy for the given kind.
//
//nolint:ireturn
func NewStrategy(kind Kind, cfg StrategyConfig) (Strategy, error) {
	switch kind {
	case KindFixed:
		return Fixed(cfg), nil
	case KindLinear:
		return Linear(cfg), nil
	case KindExponential:
		return Exponential(cfg), nil
	case KindFibonacci:
		return NewFibonacci(cfg), nil
	case KindDecorrelatedJitter:
		return NewDecorrelatedJitter(cfg), nil
	default:
		return nil, fmt.Errorf("%q: %w", kind, ErrUnknownStrategy)
	}
}

// Fixed always waits BaseDelay between attempts.
type Fixed StrategyConfig

// ComputeDelay implements Strategy.
func (s Fixed) ComputeDelay(_ int) time.Duration {
	return StrategyConfig(s).cap(s.BaseDelay)
}

// Linear waits BaseDelay × (n+1), capped at MaxDelay.
type Linear StrategyConfig

// ComputeDelay implements Strategy.
func (s Linear) ComputeDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	return StrategyConfig(s).cap(s.BaseDelay * time.Duration(attempt+1))
}

// Exponential waits BaseDelay × Factor^n, capped at MaxDelay.
type Exponential StrategyConfig

// ComputeDelay implements Strategy.
func (s Exponential) ComputeDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	cfg := StrategyConfig(s)
	delay := float64(s.BaseDelay) * math.Pow(cfg.factor(), float64(attempt))

	// math.Pow overflows to +Inf for large attempts; clamp before the
	// float→duration conversion goes undefined.
	if delay > math.MaxInt64 || math.IsInf(delay, 1) {
		return cfg.cap(time.Duration(math.MaxInt64))
	}

	return cfg.cap(time.Duration(delay))
}

// Fibonacci waits BaseDelay × fib(n), capped at MaxDelay. The fibonacci
// sequence is memoized across calls; the memo is safe for concurrent use.
type Fibonacci struct {
	cfg StrategyConfig

	mu   sync.Mutex
	memo []int64
}

// NewFibonacci creates a Fibonacci strategy with an initialized memo.
func NewFibonacci(cfg StrategyConfig) *Fibonacci {
	return &Fibonacci{cfg: cfg, memo: []int64{1, 1}}
}

// ComputeDelay implements Strategy.
func (s *Fibonacci) ComputeDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	multiplier := s.fib(attempt)

	if s.cfg.BaseDelay > 0 && multiplier > int64(time.Duration(math.MaxInt64)/s.cfg.BaseDelay) {
		return s.cfg.cap(time.Duration(math.MaxInt64))
	}

	return s.cfg.cap(s.cfg.BaseDelay * time.Duration(multiplier))
}

// fib returns the nth fibonacci number (1, 1, 2, 3, 5, …), growing the memo
// as needed and saturating on overflow.
func (s *Fibonacci) fib(n int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.memo) <= n {
		last := len(s.memo) - 1

		next := s.memo[last] + s.memo[last-1]
		if next < s.memo[last] {
			next = math.MaxInt64
		}

		s.memo = append(s.memo, next)
	}

	return s.memo[n]
}

// DecorrelatedJitter implements the decorrelated-jitter strategy: the first
// attempt waits BaseDelay, each subsequent delay is drawn uniformly from
// [BaseDelay, min(lastDelay×3, MaxDelay)].
//
// The lastDelay state is scoped to a single Execute invocation: the Executor
// calls Session to obtain a fresh instance per call, so one configured
// strategy shared across concurrent operations yields independent sequences.
type DecorrelatedJitter struct {
	cfg  StrategyConfig
	last time.Duration
}

// NewDecorrelatedJitter creates a decorrelated-jitter strategy template.
func NewDecorrelatedJitter(cfg StrategyConfig) *DecorrelatedJitter {
	return &DecorrelatedJitter{cfg: cfg}
}

// Session implements Sessioned, returning a fresh per-call instance.
//
//nolint:ireturn
func (s *DecorrelatedJitter) Session() Strategy {
	return &DecorrelatedJitter{cfg: s.cfg}
}

// ComputeDelay implements Strategy.
func (s *DecorrelatedJitter) ComputeDelay(attempt int) time.Duration {
	if attempt <= 0 || s.last <= 0 {
		s.last = s.cfg.cap(s.cfg.BaseDelay)
		return s.last
	}

	upper := s.last * 3
	if s.cfg.MaxDelay > 0 && upper > s.cfg.MaxDelay {
		upper = s.cfg.MaxDelay
	}

	lower := s.cfg.BaseDelay
	if upper <= lower {
		s.last = lower
		return s.cfg.cap(lower)
	}

	s.last = lower + time.Duration(rand.Int63n(int64(upper-lower+1)))

	return s.cfg.cap(s.last)
}

// jitterFraction is the maximum uniform perturbation applied by WithJitter:
// up to 30% of the computed delay.
const jitterFraction = 0.3

// applyJitter adds a uniform random 0–30% of delay. The random addition is
// rounded to the nearest millisecond when large enough for that to matter,
// so the result always stays within [delay, delay×1.3].
func applyJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return delay
	}

	addition := time.Duration(rand.Float64() * jitterFraction * float64(delay))

	if addition >= 10*time.Millisecond {
		rounded := addition.Round(time.Millisecond)
		if rounded <= time.Duration(jitterFraction*float64(delay)) {
			addition = rounded
		}
	}

	return delay + addition
}
