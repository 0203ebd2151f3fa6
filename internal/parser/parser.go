// Package parser turns submitted transaction files into ordered records.
package parser

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dvloznov/txingest/internal/record"
)

// Format is a supported input file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXML  Format = "xml"
)

// Formats lists the accepted formats.
var Formats = []Format{FormatCSV, FormatJSON, FormatXML}

// Parser converts raw file bytes into records.
type Parser interface {
	Parse(data []byte) ([]record.Record, error)
}

// ParseError reports a file that could not be read in its declared format.
type ParseError struct {
	Format Format
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Format, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// UnsupportedFormatError is returned for file names without an accepted suffix.
type UnsupportedFormatError struct {
	Name string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported file format: %q (allowed: csv, json, xml)", e.Name)
}

// FormatFromName derives the format from the lower-cased file suffix.
func FormatFromName(name string) (Format, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	for _, f := range Formats {
		if string(f) == ext {
			return f, nil
		}
	}
	return "", &UnsupportedFormatError{Name: name}
}

// For returns the parser for a format.
func For(format Format) (Parser, error) {
	switch format {
	case FormatCSV:
		return csvParser{}, nil
	case FormatJSON:
		return jsonParser{}, nil
	case FormatXML:
		return xmlParser{}, nil
	default:
		return nil, &UnsupportedFormatError{Name: string(format)}
	}
}

// Parse dispatches to the parser for format.
func Parse(data []byte, format Format) ([]record.Record, error) {
	p, err := For(format)
	if err != nil {
		return nil, err
	}
	return p.Parse(data)
}

func parseErr(format Format, msg string, args ...any) error {
	return &ParseError{Format: format, Err: fmt.Errorf(msg, args...)}
}

// textValue trims a cell; empty text is null in every format.
func textValue(s string) record.Value {
	s = strings.TrimSpace(s)
	if s == "" {
		return record.Null()
	}
	return record.String(s)
}
