package model

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsConflict(t *testing.T) {
	assert.True(t, IsConflict(NewVersionConflict("session", "s-1", 3, nil)))
	assert.True(t, IsConflict(NewTimestampConflict("session", "s-1", time.Now())))
	assert.True(t, IsConflict(NewNamespaceMismatch("m-1", "a", "b")))

	assert.False(t, IsConflict(NewNotFound("session", "s-1")))
	assert.False(t, IsConflict(errors.New("plain")))
	assert.False(t, IsConflict(nil))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(NewNotFound("machine", "m-1")))

	assert.False(t, IsNotFound(NewVersionConflict("session", "s-1", 1, nil)))
	assert.False(t, IsNotFound(errors.New("plain")))
	assert.False(t, IsNotFound(nil))
}

func TestPredicates_SeeThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("update session: %w", NewVersionConflict("session", "s-1", 2, Doc(`{}`)))

	assert.True(t, IsConflict(wrapped))

	var me *Error
	require.ErrorAs(t, wrapped, &me)
	assert.Equal(t, int64(2), me.CurrentVersion)
}

func TestNewVersionConflict_CarriesState(t *testing.T) {
	err := NewVersionConflict("session", "s-1", 7, Doc(`{"a":1}`))

	assert.Equal(t, ErrCodeConflict, err.Code)
	assert.Equal(t, "session", err.Entity)
	assert.Equal(t, "s-1", err.ID)
	assert.Equal(t, int64(7), err.CurrentVersion)
	assert.JSONEq(t, `{"a":1}`, string(err.CurrentValue))
}

func TestError_Message(t *testing.T) {
	err := NewNotFound("session", "s-1")
	assert.Contains(t, err.Error(), "NOT_FOUND")
	assert.Contains(t, err.Error(), "s-1")

	mismatch := NewNamespaceMismatch("m-1", "ns-a", "ns-b")
	assert.Contains(t, mismatch.Error(), "NAMESPACE_MISMATCH")
	assert.Contains(t, mismatch.Error(), "ns-a")
}
