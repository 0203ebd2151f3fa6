package pipeline

import (
	"fmt"

	"github.com/dvloznov/txingest/internal/record"
)

// eurPlaces is the precision of notional_eur.
const eurPlaces = 1

// ConversionError describes a record whose EUR amount could not be computed.
// It is informational only: the record keeps a null notional_eur.
type ConversionError struct {
	Identifier string
	Field      string
	Err        error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("convert %s (transaction_uti=%q): %v", e.Field, e.Identifier, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// Convert coerces notional and exchange_rate to numbers and sets
// notional_eur = round(notional × exchange_rate, 1), rounding half away from
// zero on exact decimals. A field that does not coerce is left as it was and
// notional_eur becomes null. Convert never fails and is idempotent.
func Convert(records []record.Record) ([]record.Record, []*ConversionError) {
	out := make([]record.Record, len(records))
	var issues []*ConversionError

	for i, r := range records {
		c := r.Clone()

		notional, nerr := c.Get(record.FieldNotional).Decimal()
		if nerr == nil {
			c.Set(record.FieldNotional, record.Number(notional))
		} else {
			issues = append(issues, &ConversionError{Identifier: c.Identifier(), Field: record.FieldNotional, Err: nerr})
		}

		rate, rerr := c.Get(record.FieldExchangeRate).Decimal()
		if rerr == nil {
			c.Set(record.FieldExchangeRate, record.Number(rate))
		} else {
			issues = append(issues, &ConversionError{Identifier: c.Identifier(), Field: record.FieldExchangeRate, Err: rerr})
		}

		if nerr == nil && rerr == nil {
			c.Set(record.FieldNotionalEUR, record.Number(notional.Mul(rate).Round(eurPlaces)))
		} else {
			c.Set(record.FieldNotionalEUR, record.Null())
		}
		out[i] = c
	}

	return out, issues
}
