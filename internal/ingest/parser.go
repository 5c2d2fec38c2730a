package ingest

import (
	"bytes"

	"posturewatch/internal/normalize"
)

// Parser turns raw payloads into frame fields. JSON is the only wire format.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// ParseLine handles one newline-delimited record. Blank lines yield nil.
func (p *Parser) ParseLine(line string) ([]*normalize.FrameFields, error) {
	return p.Parse([]byte(line))
}

func (p *Parser) Parse(data []byte) ([]*normalize.FrameFields, error) {
	trim := bytes.TrimSpace(data)
	if len(trim) == 0 {
		return nil, nil
	}
	fields, err := ParseJSONBytes(trim)
	if err != nil {
		return nil, err
	}
	if len(fields) == 1 {
		fields[0].Raw = string(trim)
	}
	return fields, nil
}
