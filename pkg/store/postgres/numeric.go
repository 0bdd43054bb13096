package postgres

import (
	"fmt"
	"strconv"

	"github.com/holiman/uint256"
)

func parseAmount(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return v, nil
}

func parseCount(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse count %q: %w", s, err)
	}
	return v, nil
}

func formatCount(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// nullableAmount maps a nil amount to SQL NULL.
func nullableAmount(v *uint256.Int) *string {
	if v == nil {
		return nil
	}
	s := v.Dec()
	return &s
}
