package sheet

import (
	"context"
	"sync"
)

// Memory is an in-memory implementation of Store and Formatter.
// It is safe for concurrent use and copies rows on the way in and out.
type Memory struct {
	mu      sync.RWMutex
	header  []string
	rows    []Row
	formats map[int]ColumnFormat
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		formats: make(map[int]ColumnFormat),
	}
}

// HeaderRow implements the Store interface.
func (m *Memory) HeaderRow(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.header == nil {
		return nil, nil
	}
	return append([]string(nil), m.header...), nil
}

// WriteHeaderRow implements the Store interface.
func (m *Memory) WriteHeaderRow(ctx context.Context, header []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.header = append([]string(nil), header...)
	return nil
}

// AppendRows implements the Store interface.
func (m *Memory) AppendRows(ctx context.Context, rows []Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range rows {
		m.rows = append(m.rows, append(Row(nil), r...))
	}
	return nil
}

// ScanRows implements the Store interface.
func (m *Memory) ScanRows(ctx context.Context) ([]Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Row, len(m.rows))
	for i, r := range m.rows {
		out[i] = Pad(append(Row(nil), r...), len(m.header))
	}
	return out, nil
}

// UpdateRow implements the Store interface.
func (m *Memory) UpdateRow(ctx context.Context, index int, row Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if index < 0 || index >= len(m.rows) {
		return &ErrRowOutOfRange{Row: index, Col: -1}
	}
	m.rows[index] = append(Row(nil), row...)
	return nil
}

// SetCell implements the Store interface.
func (m *Memory) SetCell(ctx context.Context, row, col int, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if row < 0 || row >= len(m.rows) || col < 0 || col >= len(m.header) {
		return &ErrRowOutOfRange{Row: row, Col: col}
	}
	m.rows[row] = Pad(m.rows[row], len(m.header))
	m.rows[row][col] = value
	return nil
}

// SetColumnFormat implements the Formatter interface.
func (m *Memory) SetColumnFormat(ctx context.Context, col int, format ColumnFormat) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.formats[col] = format
	return nil
}

// Formats returns a copy of the applied column formats.
func (m *Memory) Formats() map[int]ColumnFormat {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[int]ColumnFormat, len(m.formats))
	for k, v := range m.formats {
		out[k] = v
	}
	return out
}

// Len returns the number of data rows.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows)
}

// Ensure Memory implements Store and Formatter interfaces.
var (
	_ Store     = (*Memory)(nil)
	_ Formatter = (*Memory)(nil)
)
