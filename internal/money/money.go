package money

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Cents is a currency amount in integer minor units. All internal arithmetic
// happens on this type; decimal strings exist only at the json and display
// boundaries.
type Cents int64

var ErrBadAmount = errors.New("money: malformed amount")

// FromFloat converts a decimal amount to cents, rounding half away from zero.
func FromFloat(v float64) Cents {
	return Cents(math.Round(v * 100))
}

// Parse reads a decimal currency string such as "12.99" or "-0.5".
// Amounts with more than two fractional digits are rounded.
func Parse(s string) (Cents, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrBadAmount
	}
	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return 0, ErrBadAmount
	}
	// the sign was consumed above, so only digits may follow the point
	for i := 0; i < len(frac); i++ {
		if frac[i] < '0' || frac[i] > '9' {
			return 0, ErrBadAmount
		}
	}
	if len(frac) > 2 {
		// too precise for exact cent math, round through float
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, ErrBadAmount
		}
		if neg {
			f = -f
		}
		return FromFloat(f), nil
	}
	if whole == "" {
		whole = "0"
	}
	for len(frac) < 2 {
		frac += "0"
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, ErrBadAmount
	}
	minor, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, ErrBadAmount
	}
	c := Cents(units*100 + minor)
	if neg {
		c = -c
	}
	return c, nil
}

// Mul scales the amount by an integer quantity.
func (c Cents) Mul(qty int) Cents {
	return c * Cents(qty)
}

// String renders the amount as a plain two-decimal string, e.g. "12.99".
func (c Cents) String() string {
	n := int64(c)
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	return fmt.Sprintf("%s%d.%02d", sign, n/100, n%100)
}

// Format renders the amount with a currency symbol, e.g. "£12.99".
func (c Cents) Format(symbol string) string {
	if c < 0 {
		return "-" + symbol + (-c).String()
	}
	return symbol + c.String()
}

// Float returns the decimal value. Display use only.
func (c Cents) Float() float64 {
	return float64(c) / 100
}

// MarshalJSON emits the amount as a decimal json number with two places,
// matching what the upstream backend serves.
func (c Cents) MarshalJSON() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalJSON accepts both json numbers and quoted decimal strings.
func (c *Cents) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(bytes.TrimSpace(data), `"`)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = 0
		return nil
	}
	v, err := Parse(string(data))
	if err != nil {
		return fmt.Errorf("money: unmarshal %q: %w", data, err)
	}
	*c = v
	return nil
}
