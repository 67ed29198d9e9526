package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelWrapping(t *testing.T) {
	err := Wrap(ErrNotFound, "schedule abc123")
	assert.True(t, Is(err, ErrNotFound))
	assert.True(t, IsNotFoundError(err))
	assert.False(t, IsInvalidRequestError(err))
}

func TestNewNotFoundError(t *testing.T) {
	err := NewNotFoundError("schedule %s not found", "abc123")
	assert.True(t, IsNotFoundError(err))
	assert.Contains(t, err.Error(), "abc123")
}

func TestWrapPreservesChain(t *testing.T) {
	base := New("disk full")
	wrapped := Wrapf(Wrap(base, "write failed"), "saving schedule %s", "s1")
	assert.True(t, Is(wrapped, base))
	assert.Contains(t, wrapped.Error(), "disk full")
	assert.Contains(t, wrapped.Error(), "s1")
}

func TestNilChecks(t *testing.T) {
	assert.False(t, IsNotFoundError(nil))
	assert.False(t, IsInvalidRequestError(nil))
}
