package cli

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitError_Message(t *testing.T) {
	err := WrapExitError(ExitFailure, "operation failed", errors.New("boom"))
	assert.Equal(t, "operation failed: boom", err.Error())

	bare := WrapExitError(ExitCommandError, "bad input", nil)
	assert.Equal(t, "bad input", bare.Error())
}

func TestExitError_Unwrap(t *testing.T) {
	inner := errors.New("boom")
	err := WrapExitError(ExitFailure, "wrapped", inner)

	assert.ErrorIs(t, err, inner)
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "x", nil)))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))

	// Wrapped ExitErrors still surface their code.
	wrapped := fmt.Errorf("outer: %w", WrapExitError(ExitCommandError, "x", nil))
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
}

func TestOutputFormatter_IsJSON(t *testing.T) {
	assert.True(t, (&OutputFormatter{Format: "json"}).IsJSON())
	assert.False(t, (&OutputFormatter{Format: "text"}).IsJSON())
}

func TestOutputFormatter_JSON(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, f.JSON(map[string]int{"seq": 7}))
	assert.JSONEq(t, `{"seq":7}`, buf.String())
}
