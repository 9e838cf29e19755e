package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize_FallsBackOnInvalidPoolSizes(t *testing.T) {
	c := DefaultConfig
	c.Pool.DepositWorkers = 0
	c.Pool.WithdrawalWorkers = -1

	sanitized := c.Sanitize()

	assert.Equal(t, DefaultConfig.Pool.DepositWorkers, sanitized.Pool.DepositWorkers)
	assert.Equal(t, DefaultConfig.Pool.WithdrawalWorkers, sanitized.Pool.WithdrawalWorkers)
}

func TestSanitize_PreservesValidOverrides(t *testing.T) {
	c := DefaultConfig
	c.Pool.DepositWorkers = 9
	c.Retry.Max = 2

	sanitized := c.Sanitize()

	assert.Equal(t, 9, sanitized.Pool.DepositWorkers)
	assert.Equal(t, 2, sanitized.Retry.Max)
}

func TestSanitize_RejectsUnknownStorageBackend(t *testing.T) {
	c := DefaultConfig
	c.Storage.Backend = "dynamodb"

	sanitized := c.Sanitize()

	assert.Equal(t, DefaultConfig.Storage.Backend, sanitized.Storage.Backend)
}

func TestSanitize_AcceptsKnownStorageBackend(t *testing.T) {
	c := DefaultConfig
	c.Storage.Backend = "mysql"

	sanitized := c.Sanitize()

	assert.Equal(t, "mysql", sanitized.Storage.Backend)
}

func TestDurationHelpers(t *testing.T) {
	c := DefaultConfig
	assert.Equal(t, c.Poll.IntervalMs, c.PollInterval().Milliseconds())
	assert.Equal(t, c.Finalization.ChallengeWindowS, int64(c.ChallengeWindow().Seconds()))
}
