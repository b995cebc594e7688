package bigquery

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/finance-sync/internal/sheet"
)

// ReadHeaderWithClient returns the header of sheetName, or nil when the
// sheet has none yet.
func ReadHeaderWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, sheetName string) ([]string, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT header
		FROM %s
		WHERE sheet = @sheet
		LIMIT 1
	`, ds.Table(sheetHeadersTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "sheet", Value: sheetName},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ReadHeader: running query: %w", err)
	}

	var row struct {
		Header string `bigquery:"header"`
	}
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ReadHeader: reading row: %w", err)
	}

	var header []string
	if err := json.Unmarshal([]byte(row.Header), &header); err != nil {
		return nil, fmt.Errorf("ReadHeader: decoding header: %w", err)
	}
	return header, nil
}

// WriteHeaderWithClient replaces the header of sheetName.
func WriteHeaderWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, sheetName string, header []string) error {
	raw, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("WriteHeader: encoding header: %w", err)
	}

	q := client.Query(fmt.Sprintf(`
		MERGE %s T
		USING (SELECT @sheet AS sheet, @header AS header) S
		ON T.sheet = S.sheet
		WHEN MATCHED THEN
			UPDATE SET header = S.header, updated_ts = CURRENT_TIMESTAMP()
		WHEN NOT MATCHED THEN
			INSERT (sheet, header, updated_ts) VALUES (S.sheet, S.header, CURRENT_TIMESTAMP())
	`, ds.Table(sheetHeadersTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "sheet", Value: sheetName},
		{Name: "header", Value: string(raw)},
	}

	if _, err := runDML(ctx, q); err != nil {
		return fmt.Errorf("WriteHeader: %w", err)
	}
	return nil
}

// AppendRowsWithClient inserts rows after the last existing position in a
// single DML statement. Uses DML rather than the streaming inserter so the
// rows can be updated right away.
func AppendRowsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, sheetName string, rows []sheet.Row) error {
	if len(rows) == 0 {
		return nil
	}
	params, err := encodeAppend(rows)
	if err != nil {
		return fmt.Errorf("AppendRows: %w", err)
	}

	table := ds.Table(sheetRowsTable)
	q := client.Query(fmt.Sprintf(`
		INSERT INTO %s (sheet, position, cells)
		SELECT @sheet, base.next_position + r.idx, r.cells
		FROM UNNEST(@rows) AS r
		CROSS JOIN (
			SELECT COALESCE(MAX(position) + 1, 0) AS next_position
			FROM %s
			WHERE sheet = @sheet
		) AS base
	`, table, table))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "sheet", Value: sheetName},
		{Name: "rows", Value: params},
	}

	if _, err := runDML(ctx, q); err != nil {
		return fmt.Errorf("AppendRows: %w", err)
	}
	return nil
}

// ScanRowsWithClient returns every data row of sheetName ordered by
// position, padded to width.
func ScanRowsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, sheetName string, width int) ([]sheet.Row, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT sheet, position, cells
		FROM %s
		WHERE sheet = @sheet
		ORDER BY position ASC
	`, ds.Table(sheetRowsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "sheet", Value: sheetName},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ScanRows: running query: %w", err)
	}

	var records []SheetCellsRow
	for {
		var row SheetCellsRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ScanRows: iterating results: %w", err)
		}
		records = append(records, row)
	}

	rows, err := decodeCells(records, width)
	if err != nil {
		return nil, fmt.Errorf("ScanRows: %w", err)
	}
	return rows, nil
}

// ReadRowWithClient returns the row at position, or nil when there is none.
func ReadRowWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, sheetName string, position int) (sheet.Row, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT cells
		FROM %s
		WHERE sheet = @sheet AND position = @position
		LIMIT 1
	`, ds.Table(sheetRowsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "sheet", Value: sheetName},
		{Name: "position", Value: int64(position)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ReadRow: running query: %w", err)
	}

	var row struct {
		Cells string `bigquery:"cells"`
	}
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ReadRow: reading row: %w", err)
	}

	cells, err := sheet.DecodeText(row.Cells)
	if err != nil {
		return nil, fmt.Errorf("ReadRow: %w", err)
	}
	return cells, nil
}

// UpdateRowWithClient overwrites the row at position. It returns
// *sheet.ErrRowOutOfRange when no row was updated.
func UpdateRowWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, sheetName string, position int, row sheet.Row) error {
	cells, err := sheet.EncodeText(row)
	if err != nil {
		return fmt.Errorf("UpdateRow: %w", err)
	}

	q := client.Query(fmt.Sprintf(`
		UPDATE %s
		SET cells = @cells
		WHERE sheet = @sheet AND position = @position
	`, ds.Table(sheetRowsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "cells", Value: cells},
		{Name: "sheet", Value: sheetName},
		{Name: "position", Value: int64(position)},
	}

	affected, err := runDML(ctx, q)
	if err != nil {
		return fmt.Errorf("UpdateRow: %w", err)
	}
	if affected == 0 {
		return &sheet.ErrRowOutOfRange{Row: position, Col: -1}
	}
	return nil
}

// UpdateRowsWithClient overwrites every row in rows, keyed by position, in a
// single MERGE. It fails when some position does not exist.
func UpdateRowsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, sheetName string, rows map[int]sheet.Row) error {
	if len(rows) == 0 {
		return nil
	}
	params, err := encodeUpdates(rows)
	if err != nil {
		return fmt.Errorf("UpdateRows: %w", err)
	}

	q := client.Query(fmt.Sprintf(`
		MERGE %s T
		USING UNNEST(@rows) S
		ON T.sheet = @sheet AND T.position = S.position
		WHEN MATCHED THEN
			UPDATE SET cells = S.cells
	`, ds.Table(sheetRowsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "sheet", Value: sheetName},
		{Name: "rows", Value: params},
	}

	affected, err := runDML(ctx, q)
	if err != nil {
		return fmt.Errorf("UpdateRows: %w", err)
	}
	if affected != int64(len(params)) {
		return fmt.Errorf("UpdateRows: %d of %d positions matched", affected, len(params))
	}
	return nil
}

// SetColumnFormatWithClient records the display format of one column.
func SetColumnFormatWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, sheetName string, col int, format sheet.ColumnFormat) error {
	q := client.Query(fmt.Sprintf(`
		MERGE %s T
		USING (SELECT @sheet AS sheet, @col AS col, @format AS format) S
		ON T.sheet = S.sheet AND T.col = S.col
		WHEN MATCHED THEN
			UPDATE SET format = S.format
		WHEN NOT MATCHED THEN
			INSERT (sheet, col, format) VALUES (S.sheet, S.col, S.format)
	`, ds.Table(sheetFormatsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "sheet", Value: sheetName},
		{Name: "col", Value: int64(col)},
		{Name: "format", Value: string(format)},
	}

	if _, err := runDML(ctx, q); err != nil {
		return fmt.Errorf("SetColumnFormat: %w", err)
	}
	return nil
}
