package sheet

import (
	"encoding/json"
	"fmt"

	"github.com/dvloznov/finance-sync/internal/schema"
)

// EncodeText renders a row as a JSON array of cell strings. Persistent
// stores keep rows in this form.
func EncodeText(row Row) (string, error) {
	cells := make([]string, len(row))
	for i, v := range row {
		cells[i] = schema.CellString(v)
	}
	raw, err := json.Marshal(cells)
	if err != nil {
		return "", fmt.Errorf("encoding row: %w", err)
	}
	return string(raw), nil
}

// DecodeText parses a row written by EncodeText. Every cell comes back as
// a string.
func DecodeText(raw string) (Row, error) {
	var cells []string
	if err := json.Unmarshal([]byte(raw), &cells); err != nil {
		return nil, fmt.Errorf("decoding row: %w", err)
	}
	row := make(Row, len(cells))
	for i, c := range cells {
		row[i] = c
	}
	return row, nil
}
