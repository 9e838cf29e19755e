package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidTransition_HappyPath(t *testing.T) {
	assert.True(t, IsValidTransition(StatusPending, StatusProcessing))
	assert.True(t, IsValidTransition(StatusProcessing, StatusConfirming))
	assert.True(t, IsValidTransition(StatusConfirming, StatusFinalizing))
	assert.True(t, IsValidTransition(StatusFinalizing, StatusCompleted))
}

func TestIsValidTransition_RetryLoop(t *testing.T) {
	assert.True(t, IsValidTransition(StatusProcessing, StatusFailed))
	assert.True(t, IsValidTransition(StatusFailed, StatusPending))
}

func TestIsValidTransition_RejectsTerminalReentry(t *testing.T) {
	assert.False(t, IsValidTransition(StatusCompleted, StatusPending))
	assert.False(t, IsValidTransition(StatusCompleted, StatusFailed))
}

func TestIsValidTransition_RejectsSkippedStates(t *testing.T) {
	assert.False(t, IsValidTransition(StatusPending, StatusConfirming))
	assert.False(t, IsValidTransition(StatusPending, StatusCompleted))
	assert.False(t, IsValidTransition(StatusPending, StatusFinalizing))
}

func TestIsValidTransition_UnknownFromState(t *testing.T) {
	assert.False(t, IsValidTransition(TransferStatus("BOGUS"), StatusPending))
}
