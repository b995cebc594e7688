package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dvloznov/finance-sync/internal/logger"
	"github.com/dvloznov/finance-sync/internal/syncer"
)

// maxErrorLen bounds stored error messages.
const maxErrorLen = 2000

// RunRecorder writes sync run audit rows to the sync_runs table.
type RunRecorder struct {
	db *sql.DB
}

// NewRunRecorder returns the run recorder of d.
func NewRunRecorder(d *DB) *RunRecorder {
	return &RunRecorder{db: d.db}
}

// StartRun implements syncer.RunRecorder.
func (r *RunRecorder) StartRun(ctx context.Context, run syncer.Run) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_runs (
			sync_run_id, integration, environment, item_id, account_id,
			cursor_before, started_ts, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Integration, run.Scope.Environment, run.Scope.ItemID, run.Scope.AccountID,
		run.CursorBefore, run.StartedAt.UTC().Format(time.RFC3339Nano), syncer.RunStatusRunning)
	if err != nil {
		return fmt.Errorf("StartRun: %w", err)
	}
	return nil
}

// MarkRunSucceeded implements syncer.RunRecorder.
func (r *RunRecorder) MarkRunSucceeded(ctx context.Context, runID string, summary syncer.RunSummary) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sync_runs
		SET status = ?, finished_ts = ?, cursor_after = ?,
		    pages = ?, added = ?, modified = ?, removed = ?, error_message = ''
		WHERE sync_run_id = ?
	`, syncer.RunStatusSuccess, time.Now().UTC().Format(time.RFC3339Nano), summary.CursorAfter,
		summary.Pages, summary.Added, summary.Modified, summary.Removed, runID)
	if err != nil {
		return fmt.Errorf("MarkRunSucceeded: %w", err)
	}
	return nil
}

// MarkRunFailed implements syncer.RunRecorder.
func (r *RunRecorder) MarkRunFailed(ctx context.Context, runID string, runErr error) {
	log := logger.FromContext(ctx)

	msg := ""
	if runErr != nil {
		msg = runErr.Error()
		if len(msg) > maxErrorLen {
			msg = msg[:maxErrorLen]
		}
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE sync_runs SET status = ?, finished_ts = ?, error_message = ?
		WHERE sync_run_id = ?
	`, syncer.RunStatusFailed, time.Now().UTC().Format(time.RFC3339Nano), msg, runID)
	if err != nil {
		log.Error().Err(err).Str("sync_run_id", runID).Msg("MarkRunFailed: updating run")
	}
}

// RunStatus returns the status and error message of one run.
func (r *RunRecorder) RunStatus(ctx context.Context, runID string) (string, string, error) {
	var status, msg string
	err := r.db.QueryRowContext(ctx, `SELECT status, error_message FROM sync_runs WHERE sync_run_id = ?`, runID).Scan(&status, &msg)
	if err != nil {
		return "", "", fmt.Errorf("RunStatus: %w", err)
	}
	return status, msg, nil
}

var _ syncer.RunRecorder = (*RunRecorder)(nil)
