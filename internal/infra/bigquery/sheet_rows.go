package bigquery

import (
	"fmt"
	"sort"
	"time"

	"github.com/dvloznov/finance-sync/internal/sheet"
)

// SheetHeaderRow is one row of sheet_headers. Header is a JSON array.
type SheetHeaderRow struct {
	Sheet     string    `bigquery:"sheet"`      // REQUIRED
	Header    string    `bigquery:"header"`     // REQUIRED
	UpdatedTS time.Time `bigquery:"updated_ts"` // REQUIRED
}

// SheetCellsRow is one data row of sheet_rows. Cells holds the output of
// sheet.EncodeText.
type SheetCellsRow struct {
	Sheet    string `bigquery:"sheet"`    // REQUIRED
	Position int64  `bigquery:"position"` // REQUIRED
	Cells    string `bigquery:"cells"`    // REQUIRED
}

// appendParam is the struct element of the @rows array parameter.
type appendParam struct {
	Idx   int64  `bigquery:"idx"`
	Cells string `bigquery:"cells"`
}

// encodeAppend turns rows into the @rows parameter, indexes counting from 0.
func encodeAppend(rows []sheet.Row) ([]appendParam, error) {
	params := make([]appendParam, 0, len(rows))
	for i, row := range rows {
		cells, err := sheet.EncodeText(row)
		if err != nil {
			return nil, err
		}
		params = append(params, appendParam{Idx: int64(i), Cells: cells})
	}
	return params, nil
}

// updateParam is the struct element of the @rows parameter of a batch update.
type updateParam struct {
	Position int64  `bigquery:"position"`
	Cells    string `bigquery:"cells"`
}

// encodeUpdates turns rows keyed by position into the @rows parameter,
// ordered by position.
func encodeUpdates(rows map[int]sheet.Row) ([]updateParam, error) {
	positions := make([]int, 0, len(rows))
	for pos := range rows {
		positions = append(positions, pos)
	}
	sort.Ints(positions)

	params := make([]updateParam, 0, len(rows))
	for _, pos := range positions {
		cells, err := sheet.EncodeText(rows[pos])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", pos, err)
		}
		params = append(params, updateParam{Position: int64(pos), Cells: cells})
	}
	return params, nil
}

// decodeCells converts scanned rows, ordered by position, to padded
// sheet rows.
func decodeCells(records []SheetCellsRow, width int) ([]sheet.Row, error) {
	out := make([]sheet.Row, 0, len(records))
	for _, rec := range records {
		row, err := sheet.DecodeText(rec.Cells)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", rec.Position, err)
		}
		out = append(out, sheet.Pad(row, width))
	}
	return out, nil
}
