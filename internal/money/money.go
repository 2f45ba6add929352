// Package money holds fixed-point amounts expressed in minor currency units.
package money

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Amount is a quantity of minor units (cents, kobo, ...). Two decimal places are assumed
// when formatting and parsing.
type Amount int64

const minorPerMajor = 100

// BasisPointsDenominator is the divisor for basis point rates (10000 bps = 100%).
const BasisPointsDenominator = 10_000

var ErrInvalidAmount = errors.New("money: invalid amount")

// Positive reports whether a is greater than zero.
func (a Amount) Positive() bool { return a > 0 }

func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/minorPerMajor, v%minorPerMajor)
}

// Parse reads a decimal string such as "500", "500.5" or "500.50" into minor units.
// More than two fractional digits is rejected rather than rounded.
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	raw := s
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	whole, frac, _ := strings.Cut(s, ".")
	if !digits(whole) || len(frac) > 2 || (strings.Contains(s, ".") && !digits(frac)) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	if w > (math.MaxInt64-f)/minorPerMajor {
		return 0, fmt.Errorf("%w: %q overflows", ErrInvalidAmount, raw)
	}
	v := w*minorPerMajor + f
	if neg {
		v = -v
	}
	return Amount(v), nil
}

// digits reports whether s is a non-empty run of ASCII digits.
func digits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Fee returns the basis point share of a, rounded half up.
// Fee(1250, 500) is 62.5 minor units and rounds to 63.
func Fee(a Amount, bps int64) Amount {
	if a <= 0 || bps <= 0 {
		return 0
	}
	return Amount((int64(a)*bps + BasisPointsDenominator/2) / BasisPointsDenominator)
}

// Split returns the fee taken from a and the remainder paid out.
func Split(a Amount, bps int64) (fee, payout Amount) {
	fee = Fee(a, bps)
	return fee, a - fee
}
