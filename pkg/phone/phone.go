// Package phone normalizes raw phone number input into E.164-style
// canonical form before any carrier interaction.
package phone

import (
	"fmt"
	"strings"
)

// Normalize strips formatting from a raw phone string and returns the
// canonical form. Ten digits are treated as US national numbers, eleven
// digits with a leading 1 as US numbers with country code, and anything
// from 8 to 15 digits as an already-prefixed international number.
func Normalize(raw string) (string, error) {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}

	d := digits.String()
	switch n := len(d); {
	case n == 0:
		return "", fmt.Errorf("Phone number contains no digits.")
	case n == 10:
		return "+1" + d, nil
	case n == 11 && d[0] == '1':
		return "+" + d, nil
	case n >= 8 && n <= 15:
		return "+" + d, nil
	default:
		return "", fmt.Errorf("Invalid phone number length: %d digits.", n)
	}
}
