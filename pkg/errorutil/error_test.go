package errorutil

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryableClassification(t *testing.T) {
	assert.True(t, IsRetryable(Retriable("catalog unavailable")))
	assert.True(t, IsRetryable(Retriablef("fetch failed: %d", 503)))
	assert.False(t, IsRetryable(NonRetriable("missing gender")))
	assert.False(t, IsRetryable(NonRetriablef("unknown code %q", "HB")))
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(errors.New("plain error")))
}

func TestClassificationSurvivesWrapping(t *testing.T) {
	inner := Retriable("catalog unavailable")
	wrapped := fmt.Errorf("transform order 1234: %w", inner)

	assert.True(t, IsRetryable(wrapped))

	var e *Error
	require.True(t, errors.As(wrapped, &e))
	assert.Equal(t, "catalog unavailable", e.Message)
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil))

	// Already classified errors pass through.
	orig := NonRetriable("bad payload")
	assert.Same(t, orig, Wrap(fmt.Errorf("outer: %w", orig)))

	// Unclassified errors default to non-retryable.
	wrapped := Wrap(errors.New("what even is this"))
	require.NotNil(t, wrapped)
	assert.False(t, wrapped.Retryable)
	assert.Equal(t, "what even is this", wrapped.Message)
}
