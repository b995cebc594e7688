package inmemory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-sync/internal/jobs"
)

func TestStore_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	assert.Error(t, s.SaveJob(ctx, &jobs.SyncJob{}), "job id is required")

	job := &jobs.SyncJob{JobID: "j1", Status: jobs.JobStatusPending, Result: &jobs.SyncResult{Added: 1}}
	require.NoError(t, s.SaveJob(ctx, job))

	job.Status = jobs.JobStatusRunning
	job.Result.Added = 99

	got, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusPending, got.Status, "store keeps its own copy")
	assert.Equal(t, 1, got.Result.Added)

	_, err = s.GetJob(ctx, "missing")
	assert.True(t, errors.Is(err, jobs.ErrJobNotFound))
}

func TestStore_ListJobs(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, j := range []*jobs.SyncJob{
		{JobID: "a", Integration: "plaid", ItemID: "i1", Status: jobs.JobStatusCompleted},
		{JobID: "b", Integration: "plaid", ItemID: "i2", Status: jobs.JobStatusFailed},
		{JobID: "c", Integration: "saltedge", ItemID: "i1", Status: jobs.JobStatusCompleted},
		{JobID: "d", Integration: "plaid", ItemID: "i1", Status: jobs.JobStatusPending},
	} {
		j.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.SaveJob(ctx, j))
	}

	ids := func(list []*jobs.SyncJob) []string {
		out := []string{}
		for _, j := range list {
			out = append(out, j.JobID)
		}
		return out
	}

	all, err := s.ListJobs(ctx, jobs.JobFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "c", "b", "a"}, ids(all), "newest first")

	plaid, _ := s.ListJobs(ctx, jobs.JobFilter{Integration: "plaid", ItemID: "i1"})
	assert.Equal(t, []string{"d", "a"}, ids(plaid))

	completed, _ := s.ListJobs(ctx, jobs.JobFilter{Status: jobs.JobStatusCompleted})
	assert.Equal(t, []string{"c", "a"}, ids(completed))

	page, _ := s.ListJobs(ctx, jobs.JobFilter{Offset: 1, Limit: 2})
	assert.Equal(t, []string{"c", "b"}, ids(page))

	empty, _ := s.ListJobs(ctx, jobs.JobFilter{Offset: 10})
	assert.Empty(t, empty)
}

func TestStore_UpdateJobStatus(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.SaveJob(ctx, &jobs.SyncJob{JobID: "j1", Status: jobs.JobStatusRunning}))

	require.NoError(t, s.UpdateJobStatus(ctx, "j1", jobs.JobStatusFailed, "boom"))
	got, _ := s.GetJob(ctx, "j1")
	assert.Equal(t, jobs.JobStatusFailed, got.Status)
	assert.Equal(t, "boom", got.Error)

	assert.True(t, errors.Is(s.UpdateJobStatus(ctx, "nope", jobs.JobStatusFailed, ""), jobs.ErrJobNotFound))
}
