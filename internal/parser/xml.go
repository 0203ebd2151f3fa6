package parser

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"github.com/dvloznov/txingest/internal/record"
)

const transactionElement = "transaction"

type xmlParser struct{}

type xmlFrame struct {
	name     string
	text     strings.Builder
	sawChild bool
	slot     int // index of the record this element produces, or -1
}

// Parse yields one record per <transaction> element below the document root,
// at any depth. Each child element contributes its leading text.
func (xmlParser) Parse(data []byte) ([]record.Record, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	var (
		records  []record.Record
		stack    []*xmlFrame
		seenRoot bool
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ParseError{Format: FormatXML, Err: err}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if len(stack) == 0 {
				if seenRoot {
					return nil, parseErr(FormatXML, "multiple root elements")
				}
				seenRoot = true
			} else {
				stack[len(stack)-1].sawChild = true
			}

			frame := &xmlFrame{name: t.Name.Local, slot: -1}
			if len(stack) > 0 && t.Name.Local == transactionElement {
				frame.slot = len(records)
				records = append(records, record.New())
			}
			stack = append(stack, frame)

		case xml.CharData:
			if len(stack) == 0 {
				continue
			}
			if top := stack[len(stack)-1]; !top.sawChild {
				top.text.Write(t)
			}

		case xml.EndElement:
			frame := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				continue
			}
			parent := stack[len(stack)-1]
			if parent.slot < 0 {
				continue
			}
			records[parent.slot].Set(frame.name, textValue(frame.text.String()))
		}
	}

	if !seenRoot {
		return nil, parseErr(FormatXML, "empty document")
	}
	if len(stack) > 0 {
		return nil, parseErr(FormatXML, "unclosed element <%s>", stack[len(stack)-1].name)
	}
	return records, nil
}
