package session

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	cause := errors.New("connection reset")
	err := WrapError(CodeTransportFault, "send failed", cause)

	assert.True(t, errors.Is(err, ErrTransportFault))
	assert.False(t, errors.Is(err, ErrCancelled))
	assert.True(t, errors.Is(err, cause))

	wrapped := fmt.Errorf("session s1: %w", err)
	var se *Error
	assert.True(t, errors.As(wrapped, &se))
	assert.Equal(t, CodeTransportFault, se.Code)
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "cancelled: session cancelled", NewError(CodeCancelled, "session cancelled").Error())
	assert.Equal(t, "handler_fault: handler failed: boom",
		WrapError(CodeHandlerFault, "handler failed", errors.New("boom")).Error())
}

func TestStateTerminal(t *testing.T) {
	for _, s := range []State{StateCompleted, StateFailed, StateCancelled} {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []State{StateCreated, StateAcknowledging, StateRunning} {
		assert.False(t, s.Terminal(), s)
	}
}
