package record

import (
	"bytes"
	"encoding/json"
)

// Canonical field names of a transaction record.
const (
	FieldTransactionUTI        = "transaction_uti"
	FieldISIN                  = "isin"
	FieldNotional              = "notional"
	FieldNotionalCurrency      = "notional_currency"
	FieldTransactionType       = "transaction_type"
	FieldTransactionDatetime   = "transaction_datetime"
	FieldExchangeRate          = "exchange_rate"
	FieldLegalEntityIdentifier = "legal_entity_identifier"
	FieldNotionalEUR           = "notional_eur"
	FieldSourceFile            = "source_file"
	FieldUploadTime            = "upload_time"

	// SynonymLEI is the short spelling some source files use for legal_entity_identifier.
	SynonymLEI = "lei"
)

// Canonical lists the canonical fields in wire order.
var Canonical = []string{
	FieldTransactionUTI,
	FieldISIN,
	FieldNotional,
	FieldNotionalCurrency,
	FieldTransactionType,
	FieldTransactionDatetime,
	FieldExchangeRate,
	FieldLegalEntityIdentifier,
	FieldNotionalEUR,
	FieldSourceFile,
	FieldUploadTime,
}

// IsCanonical reports whether name is one of the canonical fields.
func IsCanonical(name string) bool {
	for _, f := range Canonical {
		if f == name {
			return true
		}
	}
	return false
}

// Record is an ordered mapping of field name to optional scalar value.
// The zero value is an empty record ready to use.
type Record struct {
	order  []string
	values map[string]Value
}

// New returns an empty record.
func New() Record {
	return Record{values: make(map[string]Value)}
}

// FromPairs builds a record from alternating name/value arguments.
func FromPairs(pairs ...any) Record {
	r := New()
	for i := 0; i+1 < len(pairs); i += 2 {
		name, _ := pairs[i].(string)
		switch v := pairs[i+1].(type) {
		case Value:
			r.Set(name, v)
		case string:
			r.Set(name, String(v))
		case nil:
			r.Set(name, Null())
		}
	}
	return r
}

// Set assigns a value. An existing field keeps its position.
func (r *Record) Set(name string, v Value) {
	if r.values == nil {
		r.values = make(map[string]Value)
	}
	if _, ok := r.values[name]; !ok {
		r.order = append(r.order, name)
	}
	r.values[name] = v
}

// Get returns the field value, or Null when the field is absent.
func (r Record) Get(name string) Value {
	if v, ok := r.values[name]; ok {
		return v
	}
	return Null()
}

// Has reports whether the field is present (possibly with a null value).
func (r Record) Has(name string) bool {
	_, ok := r.values[name]
	return ok
}

// Delete removes a field.
func (r *Record) Delete(name string) {
	if _, ok := r.values[name]; !ok {
		return
	}
	delete(r.values, name)
	for i, f := range r.order {
		if f == name {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
}

// Rename moves the value of from to to, keeping from's position.
// If to already exists it is overwritten.
func (r *Record) Rename(from, to string) {
	v, ok := r.values[from]
	if !ok || from == to {
		return
	}
	r.Delete(to)
	for i, f := range r.order {
		if f == from {
			r.order[i] = to
			break
		}
	}
	delete(r.values, from)
	r.values[to] = v
}

// Fields returns the field names in insertion order.
func (r Record) Fields() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of fields.
func (r Record) Len() int {
	return len(r.order)
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	c := Record{
		order:  make([]string, len(r.order)),
		values: make(map[string]Value, len(r.values)),
	}
	copy(c.order, r.order)
	for k, v := range r.values {
		c.values[k] = v
	}
	return c
}

// Equal reports whether both records hold the same fields, in the same order,
// with equal values.
func (r Record) Equal(o Record) bool {
	if len(r.order) != len(o.order) {
		return false
	}
	for i, f := range r.order {
		if o.order[i] != f {
			return false
		}
		if !r.values[f].Equal(o.values[f]) {
			return false
		}
	}
	return true
}

// Map returns a JSON-ready view of the record. Numbers become json.Number.
func (r Record) Map() map[string]any {
	out := make(map[string]any, len(r.order))
	for _, f := range r.order {
		v := r.values[f]
		switch v.Kind() {
		case KindNull:
			out[f] = nil
		case KindNumber:
			out[f] = json.Number(v.Text())
		default:
			out[f] = v.Text()
		}
	}
	return out
}

// MarshalJSON encodes the record as an object with fields in record order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		v := r.values[f]
		switch v.Kind() {
		case KindNull:
			buf.WriteString("null")
		case KindNumber:
			buf.WriteString(v.Text())
		default:
			text, err := json.Marshal(v.Text())
			if err != nil {
				return nil, err
			}
			buf.Write(text)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Identifier returns the transaction identifier as text ("" when absent).
func (r Record) Identifier() string {
	return r.Get(FieldTransactionUTI).Text()
}
