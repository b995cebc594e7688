package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/finance-sync/internal/sheet"
	"github.com/dvloznov/finance-sync/internal/syncer"
)

// BigQuerySheetStore is a sheet.Store over the sheet_* tables. It holds a
// shared client; Close releases it when the store owns it.
type BigQuerySheetStore struct {
	client *bigquery.Client
	ds     Dataset
	name   string
	owned  bool
}

// NewBigQuerySheetStore creates a store for sheet name with its own client.
func NewBigQuerySheetStore(ctx context.Context, ds Dataset, name string) (*BigQuerySheetStore, error) {
	client, err := NewClient(ctx, ds)
	if err != nil {
		return nil, fmt.Errorf("NewBigQuerySheetStore: %w", err)
	}
	return &BigQuerySheetStore{client: client, ds: ds, name: name, owned: true}, nil
}

// NewBigQuerySheetStoreWithClient creates a store that borrows client.
func NewBigQuerySheetStoreWithClient(client *bigquery.Client, ds Dataset, name string) *BigQuerySheetStore {
	return &BigQuerySheetStore{client: client, ds: ds, name: name}
}

// Close closes the BigQuery client connection if the store created it.
func (s *BigQuerySheetStore) Close() error {
	if s.owned && s.client != nil {
		return s.client.Close()
	}
	return nil
}

// HeaderRow delegates to ReadHeaderWithClient.
func (s *BigQuerySheetStore) HeaderRow(ctx context.Context) ([]string, error) {
	return ReadHeaderWithClient(ctx, s.client, s.ds, s.name)
}

// WriteHeaderRow delegates to WriteHeaderWithClient.
func (s *BigQuerySheetStore) WriteHeaderRow(ctx context.Context, header []string) error {
	return WriteHeaderWithClient(ctx, s.client, s.ds, s.name, header)
}

// AppendRows delegates to AppendRowsWithClient.
func (s *BigQuerySheetStore) AppendRows(ctx context.Context, rows []sheet.Row) error {
	return AppendRowsWithClient(ctx, s.client, s.ds, s.name, rows)
}

// ScanRows reads the header for the row width, then all rows.
func (s *BigQuerySheetStore) ScanRows(ctx context.Context) ([]sheet.Row, error) {
	header, err := s.HeaderRow(ctx)
	if err != nil {
		return nil, err
	}
	return ScanRowsWithClient(ctx, s.client, s.ds, s.name, len(header))
}

// UpdateRow delegates to UpdateRowWithClient.
func (s *BigQuerySheetStore) UpdateRow(ctx context.Context, index int, row sheet.Row) error {
	return UpdateRowWithClient(ctx, s.client, s.ds, s.name, index, row)
}

// UpdateRows delegates to UpdateRowsWithClient.
func (s *BigQuerySheetStore) UpdateRows(ctx context.Context, rows map[int]sheet.Row) error {
	return UpdateRowsWithClient(ctx, s.client, s.ds, s.name, rows)
}

// SetCell rewrites the whole row with one cell changed.
func (s *BigQuerySheetStore) SetCell(ctx context.Context, row, col int, value any) error {
	header, err := s.HeaderRow(ctx)
	if err != nil {
		return err
	}
	if col < 0 || col >= len(header) {
		return &sheet.ErrRowOutOfRange{Row: row, Col: col}
	}

	cells, err := ReadRowWithClient(ctx, s.client, s.ds, s.name, row)
	if err != nil {
		return err
	}
	if cells == nil {
		return &sheet.ErrRowOutOfRange{Row: row, Col: col}
	}
	cells = sheet.Pad(cells, len(header))
	cells[col] = value
	return s.UpdateRow(ctx, row, cells)
}

// SetColumnFormat delegates to SetColumnFormatWithClient.
func (s *BigQuerySheetStore) SetColumnFormat(ctx context.Context, col int, format sheet.ColumnFormat) error {
	return SetColumnFormatWithClient(ctx, s.client, s.ds, s.name, col, format)
}

// BigQueryRunRecorder is a syncer.RunRecorder over the sync_runs table.
type BigQueryRunRecorder struct {
	client *bigquery.Client
	ds     Dataset
}

// NewBigQueryRunRecorderWithClient creates a recorder that borrows client.
func NewBigQueryRunRecorderWithClient(client *bigquery.Client, ds Dataset) *BigQueryRunRecorder {
	return &BigQueryRunRecorder{client: client, ds: ds}
}

// StartRun delegates to StartSyncRunWithClient.
func (r *BigQueryRunRecorder) StartRun(ctx context.Context, run syncer.Run) error {
	return StartSyncRunWithClient(ctx, r.client, r.ds, run)
}

// MarkRunSucceeded delegates to MarkSyncRunSucceededWithClient.
func (r *BigQueryRunRecorder) MarkRunSucceeded(ctx context.Context, runID string, summary syncer.RunSummary) error {
	return MarkSyncRunSucceededWithClient(ctx, r.client, r.ds, runID, summary)
}

// MarkRunFailed delegates to MarkSyncRunFailedWithClient.
func (r *BigQueryRunRecorder) MarkRunFailed(ctx context.Context, runID string, err error) {
	MarkSyncRunFailedWithClient(ctx, r.client, r.ds, runID, err)
}

// ListRuns delegates to ListSyncRunsWithClient.
func (r *BigQueryRunRecorder) ListRuns(ctx context.Context, integration, environment, itemID string, limit int) ([]*SyncRunRow, error) {
	return ListSyncRunsWithClient(ctx, r.client, r.ds, integration, environment, itemID, limit)
}

var (
	_ sheet.Store        = (*BigQuerySheetStore)(nil)
	_ sheet.Formatter    = (*BigQuerySheetStore)(nil)
	_ sheet.RowsUpdater  = (*BigQuerySheetStore)(nil)
	_ syncer.RunRecorder = (*BigQueryRunRecorder)(nil)
)
