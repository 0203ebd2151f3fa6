package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/dvloznov/txingest/internal/record"
)

const transactionsKey = "transactions"

type jsonParser struct{}

type member struct {
	key string
	raw json.RawMessage
}

// Parse accepts a top-level array of objects, an object holding such an array
// under "transactions", or a single bare object.
func (jsonParser) Parse(data []byte) ([]record.Record, error) {
	var top json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&top); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, parseErr(FormatJSON, "empty document")
		}
		return nil, &ParseError{Format: FormatJSON, Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, parseErr(FormatJSON, "unexpected data after top-level value")
	}

	switch kindOf(top) {
	case '[':
		return recordsFromArray(top)
	case '{':
		members, err := objectMembers(top)
		if err != nil {
			return nil, &ParseError{Format: FormatJSON, Err: err}
		}
		for _, m := range members {
			if m.key != transactionsKey {
				continue
			}
			if kindOf(m.raw) != '[' {
				return nil, parseErr(FormatJSON, "%q must be an array", transactionsKey)
			}
			return recordsFromArray(m.raw)
		}
		rec := record.New()
		if err := flatten("", members, &rec); err != nil {
			return nil, &ParseError{Format: FormatJSON, Err: err}
		}
		return []record.Record{rec}, nil
	default:
		return nil, parseErr(FormatJSON, "top-level value must be an array or an object")
	}
}

func recordsFromArray(raw json.RawMessage) ([]record.Record, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &ParseError{Format: FormatJSON, Err: err}
	}

	records := make([]record.Record, 0, len(items))
	for i, item := range items {
		if kindOf(item) != '{' {
			return nil, parseErr(FormatJSON, "element %d is not an object", i)
		}
		members, err := objectMembers(item)
		if err != nil {
			return nil, &ParseError{Format: FormatJSON, Err: fmt.Errorf("element %d: %w", i, err)}
		}
		rec := record.New()
		if err := flatten("", members, &rec); err != nil {
			return nil, &ParseError{Format: FormatJSON, Err: fmt.Errorf("element %d: %w", i, err)}
		}
		records = append(records, rec)
	}
	return records, nil
}

// objectMembers lists the members of a JSON object in document order.
func objectMembers(raw json.RawMessage) ([]member, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}

	var members []member
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected object key %v", tok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("value of %q: %w", key, err)
		}
		members = append(members, member{key: key, raw: value})
	}
	return members, nil
}

// flatten writes members into rec, joining nested object keys with dots.
func flatten(prefix string, members []member, rec *record.Record) error {
	for _, m := range members {
		name := m.key
		if prefix != "" {
			name = prefix + "." + m.key
		}

		switch kindOf(m.raw) {
		case '{':
			nested, err := objectMembers(m.raw)
			if err != nil {
				return err
			}
			if err := flatten(name, nested, rec); err != nil {
				return err
			}
		case '[':
			var buf bytes.Buffer
			if err := json.Compact(&buf, m.raw); err != nil {
				return err
			}
			rec.Set(name, record.String(buf.String()))
		case 'n':
			rec.Set(name, record.Null())
		case 't', 'f':
			var b bool
			if err := json.Unmarshal(m.raw, &b); err != nil {
				return err
			}
			if b {
				rec.Set(name, record.String("true"))
			} else {
				rec.Set(name, record.String("false"))
			}
		case '"':
			var s string
			if err := json.Unmarshal(m.raw, &s); err != nil {
				return err
			}
			rec.Set(name, textValue(s))
		default:
			// Numbers beyond the supported exponent stay as text and fail
			// coercion downstream, like the same cell in a CSV file.
			text := string(bytes.TrimSpace(m.raw))
			d, err := record.ParseDecimal(text)
			if err != nil {
				rec.Set(name, record.String(text))
				continue
			}
			rec.Set(name, record.Number(d))
		}
	}
	return nil
}

// kindOf returns the first significant byte of a JSON value.
func kindOf(raw json.RawMessage) byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}
