package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := New("test error")
	require.NotNil(t, err)
	assert.Equal(t, "test error", err.Error())
}

func TestWrap(t *testing.T) {
	original := New("original")
	wrapped := Wrap(original, "wrapped")

	assert.Contains(t, wrapped.Error(), "wrapped")
	assert.Contains(t, wrapped.Error(), "original")
	assert.True(t, Is(wrapped, original))
}

func TestWrapf(t *testing.T) {
	original := New("original")
	wrapped := Wrapf(original, "wrapped: %d", 42)

	assert.Contains(t, wrapped.Error(), "wrapped: 42")
	assert.True(t, Is(wrapped, original))
}

func TestSentinels(t *testing.T) {
	err := Wrap(ErrNotFound, "message t1")
	assert.True(t, IsNotFoundError(err))
	assert.False(t, IsNotFoundError(nil))
	assert.False(t, IsNotFoundError(New("other")))

	bad := Wrapf(ErrBadRequest, "filter %q", "in+notIn")
	assert.True(t, IsBadRequestError(bad))
	assert.False(t, IsBadRequestError(err))
}

func TestIsThroughFmtWrapping(t *testing.T) {
	err := fmt.Errorf("outer: %w", ErrConflict)
	assert.True(t, Is(err, ErrConflict))
}

func TestWithDetail(t *testing.T) {
	err := WithDetail(New("base"), "extra context")
	require.NotNil(t, err)
	assert.True(t, Is(err, err))
	assert.Equal(t, "base", err.Error())
}
