// Package bigutil provides helpers for the string-encoded big integers used
// throughout the data model (spec §3: "non-negative big integer in the
// source token's smallest unit (string-encoded)"), mirroring the teacher's
// pervasive use of math/big.Int for token amounts (node/sc/bridge_manager.go
// TokenReceivedEvent.Amount, TokenTransferEvent.Amount).
package bigutil

import (
	"errors"
	"math/big"
)

var ErrInvalid = errors.New("bigutil: invalid decimal integer string")

// Parse decodes a base-10 string into a big.Int. It rejects empty strings
// and anything that is not a valid decimal integer.
func Parse(s string) (*big.Int, error) {
	if s == "" {
		return nil, ErrInvalid
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, ErrInvalid
	}
	return v, nil
}

// IsPositive reports whether s parses to a strictly positive integer.
func IsPositive(s string) bool {
	v, err := Parse(s)
	if err != nil {
		return false
	}
	return v.Sign() > 0
}

// IsNonNegative reports whether s parses to a non-negative integer.
func IsNonNegative(s string) bool {
	v, err := Parse(s)
	if err != nil {
		return false
	}
	return v.Sign() >= 0
}

// Cmp compares two decimal strings as big integers. Invalid operands sort
// as if they were zero; callers are expected to validate inputs first.
func Cmp(a, b string) int {
	av, err := Parse(a)
	if err != nil {
		av = big.NewInt(0)
	}
	bv, err := Parse(b)
	if err != nil {
		bv = big.NewInt(0)
	}
	return av.Cmp(bv)
}

// Add returns the decimal string sum of a and b.
func Add(a, b string) (string, error) {
	av, err := Parse(a)
	if err != nil {
		return "", err
	}
	bv, err := Parse(b)
	if err != nil {
		return "", err
	}
	return new(big.Int).Add(av, bv).String(), nil
}

// Zero is the canonical string encoding of zero.
const Zero = "0"
