package repository

import (
	"fmt"
	"math/big"
)

// formatAmount renders an amount for a DECIMAL(65,0) column.
func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// parseAmount reads a DECIMAL(65,0) value. MySQL may return a trailing
// fractional part of zeros, which is accepted.
func parseAmount(s string) (*big.Int, error) {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			for _, c := range s[i+1:] {
				if c != '0' {
					return nil, fmt.Errorf("amount %q is not integral", s)
				}
			}
			s = s[:i]
			break
		}
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}
