//go:build unit

package interservice

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/LerianStudio/lib-interservice/interservice/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextWithCorrelationID(t *testing.T) {
	t.Parallel()

	ctx := ContextWithCorrelationID(context.Background(), "corr-1")
	assert.Equal(t, "corr-1", CorrelationIDFromContext(ctx))

	// Empty context yields empty values, not panics.
	assert.Empty(t, CorrelationIDFromContext(context.Background()))
	assert.Empty(t, RequestIDFromContext(context.Background()))
}

func TestRequestScope_CopyOnWrite(t *testing.T) {
	t.Parallel()

	parent := ContextWithCorrelationID(context.Background(), "corr-1")
	child := ContextWithRequestID(parent, "req-9")

	// The child sees both values; the parent is untouched.
	assert.Equal(t, "corr-1", CorrelationIDFromContext(child))
	assert.Equal(t, "req-9", RequestIDFromContext(child))
	assert.Empty(t, RequestIDFromContext(parent))
}

func TestContextWithForwardHeaders_Copies(t *testing.T) {
	t.Parallel()

	headers := map[string]string{"X-User-Id": "user-1"}
	ctx := ContextWithForwardHeaders(context.Background(), headers)

	headers["X-User-Id"] = "mutated"

	forwarded := ForwardHeadersFromContext(ctx)
	assert.Equal(t, "user-1", forwarded["X-User-Id"], "the scope holds its own copy")

	// Mutating the returned map does not leak back either.
	forwarded["X-User-Id"] = "mutated-again"
	assert.Equal(t, "user-1", ForwardHeadersFromContext(ctx)["X-User-Id"])
}

func TestLoggerFromContext_Fallback(t *testing.T) {
	t.Parallel()

	logger := LoggerFromContext(context.Background())
	require.NotNil(t, logger, "callers never need a nil check")

	custom := &log.NopLogger{}
	ctx := ContextWithLogger(context.Background(), custom)
	assert.Same(t, custom, LoggerFromContext(ctx))
}

func TestNewCorrelationID_Unique(t *testing.T) {
	t.Parallel()

	a := NewCorrelationID()
	b := NewCorrelationID()

	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestChildCorrelationID(t *testing.T) {
	t.Parallel()

	child := ChildCorrelationID("corr-1")
	require.True(t, strings.HasPrefix(child, "corr-1."))
	assert.Len(t, child, len("corr-1.")+childSuffixLength)

	// Two children of the same parent differ.
	assert.NotEqual(t, child, ChildCorrelationID("corr-1"))

	// An empty parent still yields a usable id.
	orphan := ChildCorrelationID("")
	assert.NotEmpty(t, orphan)
	assert.NotContains(t, orphan, ".")
}

func TestWithTimeoutSafe(t *testing.T) {
	t.Parallel()

	t.Run("nil parent", func(t *testing.T) {
		t.Parallel()

		_, _, err := WithTimeoutSafe(nil, time.Second) //nolint:staticcheck
		assert.ErrorIs(t, err, ErrNilParentContext)
	})

	t.Run("applies timeout", func(t *testing.T) {
		t.Parallel()

		ctx, cancel, err := WithTimeoutSafe(context.Background(), time.Minute)
		require.NoError(t, err)

		defer cancel()

		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		assert.InDelta(t, time.Minute, time.Until(deadline), float64(time.Second))
	})

	t.Run("keeps shorter parent deadline", func(t *testing.T) {
		t.Parallel()

		parent, parentCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer parentCancel()

		ctx, cancel, err := WithTimeoutSafe(parent, time.Minute)
		require.NoError(t, err)

		defer cancel()

		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		assert.LessOrEqual(t, time.Until(deadline), 50*time.Millisecond)
	})
}
