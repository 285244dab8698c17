//go:build unit

package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixed_ComputeDelay(t *testing.T) {
	t.Parallel()

	s := Fixed(StrategyConfig{BaseDelay: 50 * time.Millisecond})

	for attempt := 0; attempt < 5; attempt++ {
		assert.Equal(t, 50*time.Millisecond, s.ComputeDelay(attempt))
	}
}

func TestLinear_ComputeDelay(t *testing.T) {
	t.Parallel()

	s := Linear(StrategyConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: 350 * time.Millisecond})

	assert.Equal(t, 100*time.Millisecond, s.ComputeDelay(0))
	assert.Equal(t, 200*time.Millisecond, s.ComputeDelay(1))
	assert.Equal(t, 300*time.Millisecond, s.ComputeDelay(2))
	assert.Equal(t, 350*time.Millisecond, s.ComputeDelay(3), "capped at MaxDelay")
	assert.Equal(t, 350*time.Millisecond, s.ComputeDelay(100))
}

func TestExponential_ComputeDelay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		cfg      StrategyConfig
		attempt  int
		expected time.Duration
	}{
		{
			name:     "attempt 0 returns base",
			cfg:      StrategyConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Minute},
			attempt:  0,
			expected: 100 * time.Millisecond,
		},
		{
			name:     "attempt 3 is 8x base with default factor",
			cfg:      StrategyConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Minute},
			attempt:  3,
			expected: 800 * time.Millisecond,
		},
		{
			name:     "custom factor",
			cfg:      StrategyConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Minute, Factor: 3},
			attempt:  2,
			expected: 900 * time.Millisecond,
		},
		{
			name:     "capped at MaxDelay",
			cfg:      StrategyConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second},
			attempt:  10,
			expected: time.Second,
		},
		{
			name:     "huge attempt saturates instead of overflowing",
			cfg:      StrategyConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second},
			attempt:  10_000,
			expected: time.Second,
		},
		{
			name:     "negative attempt treated as 0",
			cfg:      StrategyConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Minute},
			attempt:  -3,
			expected: 100 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := Exponential(tt.cfg)
			assert.Equal(t, tt.expected, s.ComputeDelay(tt.attempt))
		})
	}
}

func TestFibonacci_ComputeDelay(t *testing.T) {
	t.Parallel()

	s := NewFibonacci(StrategyConfig{BaseDelay: 10 * time.Millisecond, MaxDelay: time.Second})

	expected := []time.Duration{
		10 * time.Millisecond,  // fib(0)=1
		10 * time.Millisecond,  // fib(1)=1
		20 * time.Millisecond,  // fib(2)=2
		30 * time.Millisecond,  // fib(3)=3
		50 * time.Millisecond,  // fib(4)=5
		80 * time.Millisecond,  // fib(5)=8
		130 * time.Millisecond, // fib(6)=13
	}

	for attempt, want := range expected {
		assert.Equal(t, want, s.ComputeDelay(attempt), "attempt %d", attempt)
	}

	assert.Equal(t, time.Second, s.ComputeDelay(30), "capped at MaxDelay")
}

func TestStrategies_NonDecreasingAndBounded(t *testing.T) {
	t.Parallel()

	cfg := StrategyConfig{BaseDelay: 20 * time.Millisecond, MaxDelay: 2 * time.Second}

	strategies := map[string]Strategy{
		"fixed":       Fixed(cfg),
		"linear":      Linear(cfg),
		"exponential": Exponential(cfg),
		"fibonacci":   NewFibonacci(cfg),
	}

	for name, s := range strategies {
		var prev time.Duration

		for attempt := 0; attempt < 40; attempt++ {
			delay := s.ComputeDelay(attempt)

			assert.GreaterOrEqual(t, delay, prev, "%s delay must be non-decreasing", name)
			assert.LessOrEqual(t, delay, cfg.MaxDelay, "%s delay must never exceed MaxDelay", name)

			prev = delay
		}
	}
}

func TestDecorrelatedJitter_BoundsAndSessionIsolation(t *testing.T) {
	t.Parallel()

	cfg := StrategyConfig{BaseDelay: 10 * time.Millisecond, MaxDelay: 500 * time.Millisecond}
	template := NewDecorrelatedJitter(cfg)

	session, ok := template.Session().(*DecorrelatedJitter)
	require.True(t, ok)

	last := session.ComputeDelay(0)
	assert.Equal(t, cfg.BaseDelay, last, "first attempt uses BaseDelay")

	for attempt := 1; attempt < 30; attempt++ {
		delay := session.ComputeDelay(attempt)

		upper := last * 3
		if upper > cfg.MaxDelay {
			upper = cfg.MaxDelay
		}

		assert.GreaterOrEqual(t, delay, cfg.BaseDelay, "attempt %d below base", attempt)
		assert.LessOrEqual(t, delay, upper, "attempt %d above 3x previous", attempt)
		assert.LessOrEqual(t, delay, cfg.MaxDelay)

		last = delay
	}

	// A fresh session must restart from BaseDelay regardless of the first
	// session's accumulated state.
	fresh := template.Session()
	assert.Equal(t, cfg.BaseDelay, fresh.ComputeDelay(0))
}

func TestNewStrategy_Factory(t *testing.T) {
	t.Parallel()

	cfg := StrategyConfig{BaseDelay: time.Millisecond}

	for _, kind := range []Kind{KindFixed, KindLinear, KindExponential, KindFibonacci, KindDecorrelatedJitter} {
		s, err := NewStrategy(kind, cfg)
		require.NoError(t, err, "kind %s", kind)
		require.NotNil(t, s)
	}

	_, err := NewStrategy(Kind("bogus"), cfg)
	require.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestApplyJitter_Bounds(t *testing.T) {
	t.Parallel()

	delay := 200 * time.Millisecond

	for i := 0; i < 200; i++ {
		jittered := applyJitter(delay)

		assert.GreaterOrEqual(t, jittered, delay)
		assert.LessOrEqual(t, jittered, delay+time.Duration(jitterFraction*float64(delay)))
	}

	assert.Equal(t, time.Duration(0), applyJitter(0))
}
