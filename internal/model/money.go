package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Money is an amount in cents. It travels on the wire as a JSON decimal
// number ("3.5", "12.00") so peers never see a float rounding artifact.
type Money int64

// maxWhole is the largest whole-unit part whose cent value still fits.
const maxWhole = (math.MaxInt64 - 99) / 100

func Dollars(d int64, cents int64) Money { return Money(d*100 + cents) }

func (m Money) String() string {
	if m < 0 {
		return "-$" + (-m).Decimal()
	}
	return "$" + m.Decimal()
}

// Decimal formats the amount without currency sign, e.g. "12.00".
func (m Money) Decimal() string {
	v := int64(m)
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.Decimal()), nil
}

func (m *Money) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	// accept "3.50" as well as 3.50
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		s = str
	}
	v, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseMoney parses a decimal amount with at most two fractional digits.
func ParseMoney(s string) (Money, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "$")
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 2 {
		// tolerate trailing zeros from float encoders ("3.500")
		if strings.Trim(frac[2:], "0") != "" {
			return 0, fmt.Errorf("invalid amount %q: more than two decimals", s)
		}
		frac = frac[:2]
	}
	for len(frac) < 2 {
		frac += "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil || w < 0 || f < 0 {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	if w > maxWhole {
		return 0, fmt.Errorf("invalid amount %q: out of range", s)
	}
	v := Money(w*100 + f)
	if neg {
		v = -v
	}
	return v, nil
}

// mulQty returns m*qty and false when the product does not fit.
func mulQty(m Money, qty int) (Money, bool) {
	if m < 0 || qty < 0 {
		return 0, false
	}
	if qty != 0 && int64(m) > math.MaxInt64/int64(qty) {
		return 0, false
	}
	return m * Money(qty), true
}
