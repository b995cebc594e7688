// Package bigquery keeps sheets and the sync run audit in a BigQuery dataset.
package bigquery

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/bigquery"
)

const (
	// DefaultDatasetID is used when no dataset is configured.
	DefaultDatasetID = "finsync"

	sheetHeadersTable = "sheet_headers"
	sheetRowsTable    = "sheet_rows"
	sheetFormatsTable = "sheet_formats"
	syncRunsTable     = "sync_runs"
)

// Dataset names the project and dataset holding the tables.
type Dataset struct {
	ProjectID string
	DatasetID string
}

// Validate reports a missing project. An empty dataset falls back to
// DefaultDatasetID.
func (d Dataset) Validate() error {
	if d.ProjectID == "" {
		return errors.New("bigquery: project ID is required")
	}
	return nil
}

func (d Dataset) datasetID() string {
	if d.DatasetID == "" {
		return DefaultDatasetID
	}
	return d.DatasetID
}

// Table returns the backtick-quoted fully qualified name of table.
func (d Dataset) Table(table string) string {
	return "`" + d.ProjectID + "." + d.datasetID() + "." + table + "`"
}

// NewClient creates a client for the dataset's project.
func NewClient(ctx context.Context, d Dataset) (*bigquery.Client, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	client, err := bigquery.NewClient(ctx, d.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("NewClient: creating client: %w", err)
	}
	return client, nil
}

// runDML runs a DML statement to completion and returns the number of
// affected rows when BigQuery reports it.
func runDML(ctx context.Context, q *bigquery.Query) (int64, error) {
	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("running query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("job error: %w", err)
	}

	if status.Statistics != nil {
		if qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
			return qs.NumDMLAffectedRows, nil
		}
	}
	return 0, nil
}
