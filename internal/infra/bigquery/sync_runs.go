package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"
)

// SyncRunRow is one row of sync_runs.
type SyncRunRow struct {
	SyncRunID   string `bigquery:"sync_run_id"` // REQUIRED
	Integration string `bigquery:"integration"` // REQUIRED
	Environment string `bigquery:"environment"` // REQUIRED
	ItemID      string `bigquery:"item_id"`     // REQUIRED
	AccountID   string `bigquery:"account_id"`  // REQUIRED, empty for item scope

	CursorBefore string              `bigquery:"cursor_before"` // REQUIRED
	CursorAfter  bigquery.NullString `bigquery:"cursor_after"`  // NULLABLE

	StartedTS  time.Time              `bigquery:"started_ts"`  // REQUIRED
	FinishedTS bigquery.NullTimestamp `bigquery:"finished_ts"` // NULLABLE

	Status       string              `bigquery:"status"`        // REQUIRED
	ErrorMessage bigquery.NullString `bigquery:"error_message"` // NULLABLE

	Pages    bigquery.NullInt64 `bigquery:"pages"`    // NULLABLE
	Added    bigquery.NullInt64 `bigquery:"added"`    // NULLABLE
	Modified bigquery.NullInt64 `bigquery:"modified"` // NULLABLE
	Removed  bigquery.NullInt64 `bigquery:"removed"`  // NULLABLE
}

// maxErrorLen bounds error_message.
const maxErrorLen = 2000

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	return msg
}
