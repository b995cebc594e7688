// Package sheet defines the row-oriented transaction store the reconciler
// writes to. Rows are addressed by their zero-based position below the
// header row; positions never change once a row is appended.
package sheet

import (
	"context"
	"fmt"
)

// Row is an ordered tuple of cells aligned 1:1 to the header.
type Row []any

// Store provides an interface for tabular storage without native upsert.
// This interface enables swapping a spreadsheet, SQLite or BigQuery backend.
type Store interface {
	// HeaderRow returns the header, or nil when the store is empty.
	HeaderRow(ctx context.Context) ([]string, error)

	// WriteHeaderRow replaces the header. Callers only ever grow it.
	WriteHeaderRow(ctx context.Context, header []string) error

	// AppendRows appends rows after the last existing row, in order.
	AppendRows(ctx context.Context, rows []Row) error

	// ScanRows returns every data row in position order.
	ScanRows(ctx context.Context) ([]Row, error)

	// UpdateRow overwrites the row at index.
	UpdateRow(ctx context.Context, index int, row Row) error

	// SetCell overwrites a single cell.
	SetCell(ctx context.Context, row, col int, value any) error
}

// RowsUpdater is implemented by stores that can overwrite many rows in
// one round trip. Keys are row positions.
type RowsUpdater interface {
	UpdateRows(ctx context.Context, rows map[int]Row) error
}

// ColumnFormat is a presentation hint for one column.
type ColumnFormat string

const (
	// FormatDate marks date and timestamp columns.
	FormatDate ColumnFormat = "yyyy-mm-dd"

	// FormatCurrency marks money columns.
	FormatCurrency ColumnFormat = "#,##0.00"
)

// Formatter is implemented by stores that can apply column formats.
// Formats never change stored values.
type Formatter interface {
	SetColumnFormat(ctx context.Context, col int, format ColumnFormat) error
}

// ErrRowOutOfRange is returned when a row or column index does not exist.
type ErrRowOutOfRange struct {
	Row, Col int
}

func (e *ErrRowOutOfRange) Error() string {
	if e.Col < 0 {
		return fmt.Sprintf("sheet: row %d out of range", e.Row)
	}
	return fmt.Sprintf("sheet: cell (%d,%d) out of range", e.Row, e.Col)
}

// Pad returns row extended with "" up to width cells.
func Pad(row Row, width int) Row {
	if len(row) >= width {
		return row
	}
	out := make(Row, width)
	copy(out, row)
	for i := len(row); i < width; i++ {
		out[i] = ""
	}
	return out
}
