package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dvloznov/finance-sync/internal/sheet"
)

// Sheet is a sheet.Store held in the sheet_* tables under one name.
// Cells are stored as text; ScanRows returns strings.
type Sheet struct {
	db   *sql.DB
	name string
}

// NewSheet returns the sheet called name in d.
func NewSheet(d *DB, name string) *Sheet {
	return &Sheet{db: d.db, name: name}
}

// HeaderRow implements sheet.Store.
func (s *Sheet) HeaderRow(ctx context.Context) ([]string, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT header FROM sheet_headers WHERE sheet = ?`, s.name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Sheet.HeaderRow: %w", err)
	}
	var header []string
	if err := json.Unmarshal([]byte(raw), &header); err != nil {
		return nil, fmt.Errorf("Sheet.HeaderRow: decoding: %w", err)
	}
	return header, nil
}

// WriteHeaderRow implements sheet.Store.
func (s *Sheet) WriteHeaderRow(ctx context.Context, header []string) error {
	raw, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("Sheet.WriteHeaderRow: encoding: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sheet_headers (sheet, header) VALUES (?, ?)
		ON CONFLICT(sheet) DO UPDATE SET header = excluded.header
	`, s.name, string(raw))
	if err != nil {
		return fmt.Errorf("Sheet.WriteHeaderRow: %w", err)
	}
	return nil
}

// AppendRows implements sheet.Store. All rows land in one transaction.
func (s *Sheet) AppendRows(ctx context.Context, rows []sheet.Row) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Sheet.AppendRows: begin: %w", err)
	}
	defer tx.Rollback()

	var next int
	err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position) + 1, 0) FROM sheet_rows WHERE sheet = ?`, s.name).Scan(&next)
	if err != nil {
		return fmt.Errorf("Sheet.AppendRows: next position: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO sheet_rows (sheet, position, cells) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("Sheet.AppendRows: prepare: %w", err)
	}
	defer stmt.Close()

	for i, row := range rows {
		cells, err := sheet.EncodeText(row)
		if err != nil {
			return fmt.Errorf("Sheet.AppendRows: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, s.name, next+i, cells); err != nil {
			return fmt.Errorf("Sheet.AppendRows: inserting row %d: %w", next+i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Sheet.AppendRows: commit: %w", err)
	}
	return nil
}

// ScanRows implements sheet.Store.
func (s *Sheet) ScanRows(ctx context.Context) ([]sheet.Row, error) {
	header, err := s.HeaderRow(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT cells FROM sheet_rows WHERE sheet = ? ORDER BY position`, s.name)
	if err != nil {
		return nil, fmt.Errorf("Sheet.ScanRows: %w", err)
	}
	defer rows.Close()

	var out []sheet.Row
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("Sheet.ScanRows: scanning: %w", err)
		}
		row, err := sheet.DecodeText(raw)
		if err != nil {
			return nil, fmt.Errorf("Sheet.ScanRows: %w", err)
		}
		out = append(out, sheet.Pad(row, len(header)))
	}
	return out, rows.Err()
}

// UpdateRow implements sheet.Store.
func (s *Sheet) UpdateRow(ctx context.Context, index int, row sheet.Row) error {
	cells, err := sheet.EncodeText(row)
	if err != nil {
		return fmt.Errorf("Sheet.UpdateRow: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE sheet_rows SET cells = ? WHERE sheet = ? AND position = ?`, cells, s.name, index)
	if err != nil {
		return fmt.Errorf("Sheet.UpdateRow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &sheet.ErrRowOutOfRange{Row: index, Col: -1}
	}
	return nil
}

// UpdateRows implements sheet.RowsUpdater. Either every row is updated or
// none is.
func (s *Sheet) UpdateRows(ctx context.Context, rows map[int]sheet.Row) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Sheet.UpdateRows: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE sheet_rows SET cells = ? WHERE sheet = ? AND position = ?`)
	if err != nil {
		return fmt.Errorf("Sheet.UpdateRows: prepare: %w", err)
	}
	defer stmt.Close()

	for index, row := range rows {
		cells, err := sheet.EncodeText(row)
		if err != nil {
			return fmt.Errorf("Sheet.UpdateRows: %w", err)
		}
		res, err := stmt.ExecContext(ctx, cells, s.name, index)
		if err != nil {
			return fmt.Errorf("Sheet.UpdateRows: updating row %d: %w", index, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return &sheet.ErrRowOutOfRange{Row: index, Col: -1}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Sheet.UpdateRows: commit: %w", err)
	}
	return nil
}

// SetCell implements sheet.Store.
func (s *Sheet) SetCell(ctx context.Context, row, col int, value any) error {
	header, err := s.HeaderRow(ctx)
	if err != nil {
		return err
	}
	if col < 0 || col >= len(header) {
		return &sheet.ErrRowOutOfRange{Row: row, Col: col}
	}

	var raw string
	err = s.db.QueryRowContext(ctx, `SELECT cells FROM sheet_rows WHERE sheet = ? AND position = ?`, s.name, row).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return &sheet.ErrRowOutOfRange{Row: row, Col: col}
	}
	if err != nil {
		return fmt.Errorf("Sheet.SetCell: %w", err)
	}

	cells, err := sheet.DecodeText(raw)
	if err != nil {
		return fmt.Errorf("Sheet.SetCell: %w", err)
	}
	cells = sheet.Pad(cells, len(header))
	cells[col] = value
	return s.UpdateRow(ctx, row, cells)
}

// SetColumnFormat implements sheet.Formatter.
func (s *Sheet) SetColumnFormat(ctx context.Context, col int, format sheet.ColumnFormat) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sheet_formats (sheet, col, format) VALUES (?, ?, ?)
		ON CONFLICT(sheet, col) DO UPDATE SET format = excluded.format
	`, s.name, col, string(format))
	if err != nil {
		return fmt.Errorf("Sheet.SetColumnFormat: %w", err)
	}
	return nil
}

// Formats returns the column formats applied so far.
func (s *Sheet) Formats(ctx context.Context) (map[int]sheet.ColumnFormat, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT col, format FROM sheet_formats WHERE sheet = ?`, s.name)
	if err != nil {
		return nil, fmt.Errorf("Sheet.Formats: %w", err)
	}
	defer rows.Close()

	out := map[int]sheet.ColumnFormat{}
	for rows.Next() {
		var col int
		var format string
		if err := rows.Scan(&col, &format); err != nil {
			return nil, fmt.Errorf("Sheet.Formats: scanning: %w", err)
		}
		out[col] = sheet.ColumnFormat(format)
	}
	return out, rows.Err()
}

var (
	_ sheet.Store       = (*Sheet)(nil)
	_ sheet.Formatter   = (*Sheet)(nil)
	_ sheet.RowsUpdater = (*Sheet)(nil)
)
