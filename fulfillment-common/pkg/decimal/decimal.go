// Package decimal provides exact base-10 arithmetic for order totals.
package decimal

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// Decimal is an immutable fixed-point number: value * 10^-scale.
type Decimal struct {
	value *big.Int
	scale int
}

var Zero = Decimal{value: big.NewInt(0)}

// New parses a plain decimal literal such as "12.34" or "-0.5".
func New(s string) (Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, nil
	}

	negative := strings.HasPrefix(s, "-")
	digits := strings.TrimPrefix(s, "-")

	intPart, fracPart, _ := strings.Cut(digits, ".")
	if intPart == "" && fracPart == "" {
		return Zero, fmt.Errorf("invalid decimal: %q", s)
	}

	value, ok := new(big.Int).SetString(intPart+fracPart, 10)
	if !ok || strings.ContainsAny(intPart+fracPart, "+-") {
		return Zero, fmt.Errorf("invalid decimal: %q", s)
	}
	if negative {
		value.Neg(value)
	}
	return Decimal{value: value, scale: len(fracPart)}, nil
}

func MustNew(s string) Decimal {
	d, err := New(s)
	if err != nil {
		panic(err)
	}
	return d
}

func FromInt(v int64) Decimal {
	return Decimal{value: big.NewInt(v)}
}

// FromFloat converts using the shortest representation that round-trips, so
// 0.1 becomes exactly 0.1 rather than its binary approximation.
func FromFloat(f float64) Decimal {
	return MustNew(strconv.FormatFloat(f, 'f', -1, 64))
}

func (d Decimal) int() *big.Int {
	if d.value == nil {
		return new(big.Int)
	}
	return d.value
}

func (d Decimal) String() string {
	s := d.int().String()
	negative := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	if d.scale > 0 {
		for len(s) <= d.scale {
			s = "0" + s
		}
		pos := len(s) - d.scale
		s = strings.TrimRight(s[:pos]+"."+s[pos:], "0")
		s = strings.TrimSuffix(s, ".")
	}
	if negative && s != "0" {
		return "-" + s
	}
	return s
}

// Float64 returns the nearest float for wire encoding.
func (d Decimal) Float64() float64 {
	f, _ := strconv.ParseFloat(d.String(), 64)
	return f
}

func (d Decimal) Cmp(other Decimal) int {
	a, b := align(d, other)
	return a.int().Cmp(b.int())
}

func (d Decimal) Add(other Decimal) Decimal {
	a, b := align(d, other)
	return Decimal{value: new(big.Int).Add(a.int(), b.int()), scale: a.scale}
}

func (d Decimal) Sub(other Decimal) Decimal {
	a, b := align(d, other)
	return Decimal{value: new(big.Int).Sub(a.int(), b.int()), scale: a.scale}
}

func (d Decimal) Mul(other Decimal) Decimal {
	return Decimal{value: new(big.Int).Mul(d.int(), other.int()), scale: d.scale + other.scale}
}

func (d Decimal) IsZero() bool     { return d.int().Sign() == 0 }
func (d Decimal) IsNegative() bool { return d.int().Sign() < 0 }

func align(a, b Decimal) (Decimal, Decimal) {
	switch {
	case a.scale == b.scale:
		return a, b
	case a.scale > b.scale:
		return a, b.rescale(a.scale)
	default:
		return a.rescale(b.scale), b
	}
}

// rescale only ever widens the scale, which is exact.
func (d Decimal) rescale(scale int) Decimal {
	diff := scale - d.scale
	if diff <= 0 {
		return d
	}
	mult := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(diff)), nil)
	return Decimal{value: new(big.Int).Mul(d.int(), mult), scale: scale}
}
