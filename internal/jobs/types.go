package jobs

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dvloznov/finance-sync/internal/cursor"
	"github.com/dvloznov/finance-sync/internal/kvstore"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// ErrScopeBusy is recorded on a job that was picked up while another job
// for the same integration and scope was running. The job is re-queued.
var ErrScopeBusy = errors.New("another sync is running for this scope")

// SyncJob runs one sync cycle for an integration and scope.
type SyncJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	Integration string `json:"integration"`
	Environment string `json:"environment"`
	ItemID      string `json:"item_id"`
	AccountID   string `json:"account_id,omitempty"`

	// Status is the current status of the job.
	Status JobStatus `json:"status"`

	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when the job started processing.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the job completed (success or failure).
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	// RetryCount is the number of times this job has been retried.
	RetryCount int `json:"retry_count"`

	// MaxRetries is the maximum number of retries allowed.
	MaxRetries int `json:"max_retries"`

	// Result is set once the job completed.
	Result *SyncResult `json:"result,omitempty"`
}

// SyncResult summarises a completed sync job.
type SyncResult struct {
	RunID       string `json:"run_id"`
	CursorAfter string `json:"cursor_after"`
	Committed   bool   `json:"committed"`
	Pages       int    `json:"pages"`
	Added       int    `json:"added"`
	Modified    int    `json:"modified"`
	Removed     int    `json:"removed"`
}

// Scope returns the cursor scope the job syncs.
func (j *SyncJob) Scope() cursor.Scope {
	return cursor.Scope{Environment: j.Environment, ItemID: j.ItemID, AccountID: j.AccountID}
}

// ScopeKey identifies the integration and scope for mutual exclusion.
func (j *SyncJob) ScopeKey() string {
	return ScopeKey(j.Integration, j.Scope())
}

// ScopeKey builds the exclusion key of scope under integration.
func ScopeKey(integration string, scope cursor.Scope) string {
	return integration + kvstore.Separator + scope.String()
}

// ScopesOverlap reports whether two scope keys guard the same cursors: they
// are equal or one is the item scope of the other.
func ScopesOverlap(a, b string) bool {
	return a == b ||
		strings.HasPrefix(a, b+kvstore.Separator) ||
		strings.HasPrefix(b, a+kvstore.Separator)
}

// ScopeLocker grants a scope to one holder at a time. Cursor and token
// maintenance takes the same lock as the sync jobs of the scope.
type ScopeLocker interface {
	// TryLockScope claims key for holder. It reports false when another
	// holder has an overlapping key.
	TryLockScope(key, holder string) bool

	// UnlockScope releases key.
	UnlockScope(key string)
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	// PublishSync publishes a sync job.
	PublishSync(ctx context.Context, job *SyncJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler is a function that processes a job.
// It should return an error if the job failed and should be retried.
type JobHandler func(ctx context.Context, job *SyncJob) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *SyncJob) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*SyncJob, error)

	// ListJobs retrieves jobs with optional filtering, newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*SyncJob, error)

	// UpdateJobStatus updates the status of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// ErrJobNotFound is returned by JobStore.GetJob for unknown ids.
var ErrJobNotFound = errors.New("job not found")

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	Integration string
	ItemID      string

	// Status filters jobs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
