package parser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/dvloznov/txingest/internal/record"
)

var utf8BOM = []byte("\ufeff")

type csvParser struct{}

// Parse reads a header line followed by data rows. Blank lines are skipped,
// empty cells and cells missing from short rows become null.
func (csvParser) Parse(data []byte) ([]record.Record, error) {
	reader := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, parseErr(FormatCSV, "missing header line")
	}
	if err != nil {
		return nil, &ParseError{Format: FormatCSV, Err: err}
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var records []record.Record
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ParseError{Format: FormatCSV, Err: err}
		}
		if len(row) > len(header) {
			line, _ := reader.FieldPos(0)
			return nil, parseErr(FormatCSV, "line %d: %d fields, header has %d", line, len(row), len(header))
		}

		rec := record.New()
		for i, name := range header {
			if i >= len(row) {
				rec.Set(name, record.Null())
				continue
			}
			rec.Set(name, textValue(row[i]))
		}
		records = append(records, rec)
	}

	return records, nil
}
