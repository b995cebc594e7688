package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/finance-sync/internal/logger"
	"github.com/dvloznov/finance-sync/internal/syncer"
)

// StartSyncRunWithClient inserts a sync_runs row with status=RUNNING.
func StartSyncRunWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, run syncer.Run) error {
	q := client.Query(fmt.Sprintf(`
		INSERT INTO %s (
			sync_run_id,
			integration,
			environment,
			item_id,
			account_id,
			cursor_before,
			started_ts,
			status
		)
		VALUES (
			@sync_run_id,
			@integration,
			@environment,
			@item_id,
			@account_id,
			@cursor_before,
			@started_ts,
			@status
		)
	`, ds.Table(syncRunsTable)))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "sync_run_id", Value: run.ID},
		{Name: "integration", Value: run.Integration},
		{Name: "environment", Value: run.Scope.Environment},
		{Name: "item_id", Value: run.Scope.ItemID},
		{Name: "account_id", Value: run.Scope.AccountID},
		{Name: "cursor_before", Value: run.CursorBefore},
		{Name: "started_ts", Value: run.StartedAt},
		{Name: "status", Value: syncer.RunStatusRunning},
	}

	if _, err := runDML(ctx, q); err != nil {
		return fmt.Errorf("StartSyncRun: %w", err)
	}
	return nil
}

// MarkSyncRunFailedWithClient sets status=FAILED, finished_ts and
// error_message. Failures are logged, never returned.
func MarkSyncRunFailedWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, runID string, runErr error) {
	log := logger.FromContext(ctx)

	q := client.Query(fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    finished_ts = @finished_ts,
		    error_message = @error_message
		WHERE sync_run_id = @sync_run_id
	`, ds.Table(syncRunsTable)))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: syncer.RunStatusFailed},
		{Name: "finished_ts", Value: time.Now()},
		{Name: "error_message", Value: truncateError(runErr)},
		{Name: "sync_run_id", Value: runID},
	}

	if _, err := runDML(ctx, q); err != nil {
		log.Error().
			Err(err).
			Str("sync_run_id", runID).
			Msg("MarkSyncRunFailed: updating run")
	}
}

// MarkSyncRunSucceededWithClient sets status=SUCCESS, finished_ts and the
// run counters, and clears error_message.
func MarkSyncRunSucceededWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, runID string, summary syncer.RunSummary) error {
	q := client.Query(fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    finished_ts = @finished_ts,
		    cursor_after = @cursor_after,
		    pages = @pages,
		    added = @added,
		    modified = @modified,
		    removed = @removed,
		    error_message = ""
		WHERE sync_run_id = @sync_run_id
	`, ds.Table(syncRunsTable)))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: syncer.RunStatusSuccess},
		{Name: "finished_ts", Value: time.Now()},
		{Name: "cursor_after", Value: summary.CursorAfter},
		{Name: "pages", Value: int64(summary.Pages)},
		{Name: "added", Value: int64(summary.Added)},
		{Name: "modified", Value: int64(summary.Modified)},
		{Name: "removed", Value: int64(summary.Removed)},
		{Name: "sync_run_id", Value: runID},
	}

	if _, err := runDML(ctx, q); err != nil {
		return fmt.Errorf("MarkSyncRunSucceeded: %w", err)
	}
	return nil
}

// ListSyncRunsWithClient returns the most recent runs for an item, newest
// first.
func ListSyncRunsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, integration, environment, itemID string, limit int) ([]*SyncRunRow, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT *
		FROM %s
		WHERE integration = @integration
		  AND environment = @environment
		  AND item_id = @item_id
		ORDER BY started_ts DESC
		LIMIT @limit
	`, ds.Table(syncRunsTable)))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "integration", Value: integration},
		{Name: "environment", Value: environment},
		{Name: "item_id", Value: itemID},
		{Name: "limit", Value: int64(limit)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListSyncRuns: running query: %w", err)
	}

	var runs []*SyncRunRow
	for {
		var row SyncRunRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListSyncRuns: iterating results: %w", err)
		}
		runs = append(runs, &row)
	}
	return runs, nil
}
