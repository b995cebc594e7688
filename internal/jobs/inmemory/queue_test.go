package inmemory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-sync/internal/jobs"
)

func noBackoff(int) time.Duration { return 5 * time.Millisecond }

func startQueue(t *testing.T, store *Store, handler jobs.JobHandler, opts ...Option) *Queue {
	t.Helper()
	opts = append([]Option{WithBackoff(noBackoff)}, opts...)
	q := NewQueue(10, store, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, q.Start(ctx, handler))
	t.Cleanup(func() {
		cancel()
		_ = q.Close()
	})
	return q
}

func waitForStatus(t *testing.T, store *Store, jobID string, want jobs.JobStatus) *jobs.SyncJob {
	t.Helper()
	var last *jobs.SyncJob
	require.Eventually(t, func() bool {
		job, err := store.GetJob(context.Background(), jobID)
		if err != nil {
			return false
		}
		last = job
		return job.Status == want
	}, 2*time.Second, 5*time.Millisecond, "job %s never reached %s", jobID, want)
	return last
}

func syncJob(item string) *jobs.SyncJob {
	return &jobs.SyncJob{Integration: "plaid", Environment: "sandbox", ItemID: item}
}

func TestQueue_CompletesJob(t *testing.T) {
	store := NewStore()
	q := startQueue(t, store, func(ctx context.Context, job *jobs.SyncJob) error {
		job.Result = &jobs.SyncResult{RunID: "run-1", Added: 3, Committed: true}
		return nil
	})

	job := syncJob("item-1")
	require.NoError(t, q.PublishSync(context.Background(), job))
	assert.NotEmpty(t, job.JobID)
	assert.Equal(t, defaultMaxRetries, job.MaxRetries)

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	require.NotNil(t, done.Result)
	assert.Equal(t, 3, done.Result.Added)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.CompletedAt)
}

func TestQueue_RetriesThenSucceeds(t *testing.T) {
	store := NewStore()
	var calls atomic.Int32
	q := startQueue(t, store, func(ctx context.Context, job *jobs.SyncJob) error {
		if calls.Add(1) == 1 {
			return errors.New("transport error")
		}
		return nil
	})

	job := syncJob("item-1")
	require.NoError(t, q.PublishSync(context.Background(), job))

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	assert.Equal(t, 1, done.RetryCount)
	assert.Empty(t, done.Error)
	assert.Equal(t, int32(2), calls.Load())
}

func TestQueue_GivesUpAfterMaxRetries(t *testing.T) {
	store := NewStore()
	var calls atomic.Int32
	q := startQueue(t, store, func(ctx context.Context, job *jobs.SyncJob) error {
		calls.Add(1)
		return errors.New("still down")
	})

	job := syncJob("item-1")
	job.MaxRetries = 2
	require.NoError(t, q.PublishSync(context.Background(), job))

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	assert.Equal(t, 2, done.RetryCount)
	assert.Equal(t, "still down", done.Error)
	assert.Equal(t, int32(3), calls.Load())
}

func TestQueue_NonRetryableFailsImmediately(t *testing.T) {
	store := NewStore()
	permanent := errors.New("missing credentials")
	q := startQueue(t, store,
		func(ctx context.Context, job *jobs.SyncJob) error { return permanent },
		WithRetryIf(func(err error) bool { return !errors.Is(err, permanent) }),
	)

	job := syncJob("item-1")
	require.NoError(t, q.PublishSync(context.Background(), job))

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	assert.Equal(t, 0, done.RetryCount)
}

func TestQueue_PanicFailsJob(t *testing.T) {
	store := NewStore()
	q := startQueue(t, store,
		func(ctx context.Context, job *jobs.SyncJob) error { panic("boom") },
		WithRetryIf(func(error) bool { return false }),
	)

	job := syncJob("item-1")
	require.NoError(t, q.PublishSync(context.Background(), job))

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	assert.Contains(t, done.Error, "panicked")
}

func TestQueue_OneJobPerScope(t *testing.T) {
	store := NewStore()

	var mu sync.Mutex
	active := map[string]int{}
	maxActive := 0
	release := make(chan struct{})

	q := startQueue(t, store, func(ctx context.Context, job *jobs.SyncJob) error {
		mu.Lock()
		active[job.ScopeKey()]++
		if active[job.ScopeKey()] > maxActive {
			maxActive = active[job.ScopeKey()]
		}
		mu.Unlock()

		<-release

		mu.Lock()
		active[job.ScopeKey()]--
		mu.Unlock()
		return nil
	}, WithWorkers(3))

	first, second := syncJob("item-1"), syncJob("item-1")
	require.NoError(t, q.PublishSync(context.Background(), first))
	require.NoError(t, q.PublishSync(context.Background(), second))

	// The second job bounces off the busy scope while the first holds it.
	require.Eventually(t, func() bool {
		job, err := store.GetJob(context.Background(), second.JobID)
		return err == nil && job.Error == jobs.ErrScopeBusy.Error()
	}, 2*time.Second, 5*time.Millisecond)

	close(release)

	waitForStatus(t, store, first.JobID, jobs.JobStatusCompleted)
	done := waitForStatus(t, store, second.JobID, jobs.JobStatusCompleted)
	assert.Equal(t, 0, done.RetryCount, "waiting on a busy scope does not spend retries")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, maxActive)
}

func TestQueue_DifferentScopesRunConcurrently(t *testing.T) {
	store := NewStore()
	var running atomic.Int32
	both := make(chan struct{})
	var once sync.Once

	q := startQueue(t, store, func(ctx context.Context, job *jobs.SyncJob) error {
		if running.Add(1) == 2 {
			once.Do(func() { close(both) })
		}
		select {
		case <-both:
			return nil
		case <-time.After(time.Second):
			return errors.New("scopes were serialised")
		}
	}, WithWorkers(2), WithRetryIf(func(error) bool { return false }))

	a, b := syncJob("item-a"), syncJob("item-b")
	require.NoError(t, q.PublishSync(context.Background(), a))
	require.NoError(t, q.PublishSync(context.Background(), b))

	waitForStatus(t, store, a.JobID, jobs.JobStatusCompleted)
	waitForStatus(t, store, b.JobID, jobs.JobStatusCompleted)
}

func TestQueue_TryLockScope(t *testing.T) {
	q := NewQueue(1, nil)
	item := jobs.ScopeKey("plaid", syncJob("item-1").Scope())
	account := jobs.ScopeKey("plaid", (&jobs.SyncJob{Environment: "sandbox", ItemID: "item-1", AccountID: "acc-1"}).Scope())
	other := jobs.ScopeKey("plaid", syncJob("item-10").Scope())

	require.True(t, q.TryLockScope(account, "job-1"))
	assert.True(t, q.TryLockScope(account, "job-1"), "the holder may claim again")
	assert.False(t, q.TryLockScope(item, "reset-1"), "an item scope overlaps its accounts")
	assert.True(t, q.TryLockScope(other, "job-2"))

	q.UnlockScope(account)
	assert.True(t, q.TryLockScope(item, "reset-1"))
	assert.False(t, q.TryLockScope(account, "job-3"))
}

func TestQueue_JobWaitsForLockedScope(t *testing.T) {
	store := NewStore()
	var calls atomic.Int32
	q := startQueue(t, store, func(ctx context.Context, job *jobs.SyncJob) error {
		calls.Add(1)
		return nil
	})

	job := syncJob("item-1")
	key := job.ScopeKey()
	require.True(t, q.TryLockScope(key, "disconnect"))
	require.NoError(t, q.PublishSync(context.Background(), job))

	require.Eventually(t, func() bool {
		got, err := store.GetJob(context.Background(), job.JobID)
		return err == nil && got.Error == jobs.ErrScopeBusy.Error()
	}, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, calls.Load())

	q.UnlockScope(key)
	waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	assert.Equal(t, int32(1), calls.Load())
}

func TestQueue_PublishAfterStop(t *testing.T) {
	q := NewQueue(1, NewStore())
	require.NoError(t, q.Stop(context.Background()))
	require.NoError(t, q.Stop(context.Background()), "stop is idempotent")

	assert.Error(t, q.PublishSync(context.Background(), syncJob("item-1")))
	assert.Error(t, q.Start(context.Background(), func(context.Context, *jobs.SyncJob) error { return nil }))
}

func TestLinearBackoff(t *testing.T) {
	assert.Equal(t, time.Second, LinearBackoff(1))
	assert.Equal(t, 3*time.Second, LinearBackoff(3))
}

func TestQueue_WithMaxRetries(t *testing.T) {
	store := NewStore()
	q := NewQueue(2, store, WithMaxRetries(7))

	job := syncJob("item-1")
	require.NoError(t, q.PublishSync(context.Background(), job))
	assert.Equal(t, 7, job.MaxRetries)

	explicit := syncJob("item-2")
	explicit.MaxRetries = 1
	require.NoError(t, q.PublishSync(context.Background(), explicit))
	assert.Equal(t, 1, explicit.MaxRetries)
}
