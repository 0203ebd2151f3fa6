package record

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Kind identifies what a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	default:
		return "null"
	}
}

// Value is an optional scalar: null, text, or an exact decimal number.
type Value struct {
	kind Kind
	str  string
	num  decimal.Decimal
}

// Null returns the absent value.
func Null() Value { return Value{} }

// String wraps text.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number wraps a decimal.
func Number(d decimal.Decimal) Value { return Value{kind: KindNumber, num: d} }

// Kind reports the held kind.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is absent.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Text renders the value as a string; null renders as "".
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num.String()
	default:
		return ""
	}
}

// MaxExponent bounds the decimal exponent accepted as a number. Arithmetic
// on anything larger would have to materialize the digits.
const MaxExponent = 64

// ParseDecimal parses exact decimal text such as "1.5" or "2e3", rejecting
// exponents outside ±MaxExponent.
func ParseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if err := checkExponent(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

func checkExponent(d decimal.Decimal) error {
	if exp := d.Exponent(); exp > MaxExponent || exp < -MaxExponent {
		return fmt.Errorf("exponent %d out of range", exp)
	}
	return nil
}

// Decimal attempts numeric coercion.
func (v Value) Decimal() (decimal.Decimal, error) {
	switch v.kind {
	case KindNumber:
		if err := checkExponent(v.num); err != nil {
			return decimal.Zero, err
		}
		return v.num, nil
	case KindString:
		s := strings.TrimSpace(v.str)
		if s == "" {
			return decimal.Zero, fmt.Errorf("empty text is not numeric")
		}
		d, err := ParseDecimal(s)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%q is not numeric: %w", v.str, err)
		}
		return d, nil
	default:
		return decimal.Zero, fmt.Errorf("value is null")
	}
}

// Equal compares kind and content; numbers compare by numeric value.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num.Equal(o.num)
	default:
		return true
	}
}

// GoString makes test failure output readable.
func (v Value) GoString() string {
	switch v.kind {
	case KindNull:
		return "record.Null()"
	case KindNumber:
		return fmt.Sprintf("record.Number(%s)", v.num.String())
	default:
		return fmt.Sprintf("record.String(%q)", v.str)
	}
}

// IsBlank reports whether v is null or whitespace-only text.
func IsBlank(v Value) bool {
	return strings.TrimSpace(v.Text()) == ""
}
