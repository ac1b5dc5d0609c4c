package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to State }{
		{StateInit, StateReady},
		{StateReady, StateRunning},
		{StateRunning, StateWaiting},
		{StateRunning, StateCompleted},
		{StateRunning, StateFailed},
		{StateWaiting, StateRunning},
		{StateWaiting, StateFailed},
	}
	for _, tc := range allowed {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	denied := []struct{ from, to State }{
		{StateInit, StateRunning},
		{StateReady, StateCompleted},
		{StateWaiting, StateCompleted},
		{StateCompleted, StateRunning},
		{StateFailed, StateRunning},
	}
	for _, tc := range denied {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestErrInvalidTransition(t *testing.T) {
	err := ErrInvalidTransition{From: StateCompleted, To: StateRunning}
	assert.Equal(t, "invalid state transition: completed -> running", err.Error())
}
