package bigutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse_RejectsEmptyAndGarbage(t *testing.T) {
	_, err := Parse("")
	assert.Equal(t, ErrInvalid, err)

	_, err = Parse("not-a-number")
	assert.Equal(t, ErrInvalid, err)
}

func TestParse_AcceptsDecimal(t *testing.T) {
	v, err := Parse("12345678901234567890")
	assert.NoError(t, err)
	assert.Equal(t, "12345678901234567890", v.String())
}

func TestIsPositiveAndNonNegative(t *testing.T) {
	assert.True(t, IsPositive("1"))
	assert.False(t, IsPositive("0"))
	assert.False(t, IsPositive("-1"))

	assert.True(t, IsNonNegative("0"))
	assert.True(t, IsNonNegative("5"))
	assert.False(t, IsNonNegative("-5"))
	assert.False(t, IsNonNegative("garbage"))
}

func TestCmp(t *testing.T) {
	assert.Equal(t, 0, Cmp("100", "100"))
	assert.Equal(t, -1, Cmp("1", "2"))
	assert.Equal(t, 1, Cmp("2", "1"))
	// invalid operands sort as zero
	assert.Equal(t, 0, Cmp("garbage", "0"))
}

func TestAdd(t *testing.T) {
	sum, err := Add("10", "15")
	assert.NoError(t, err)
	assert.Equal(t, "25", sum)

	_, err = Add("garbage", "1")
	assert.Error(t, err)
}
