package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/dvloznov/finance-sync/internal/cursor"
	"github.com/dvloznov/finance-sync/internal/reconcile"
)

// Run status values stored by recorders.
const (
	RunStatusRunning = "RUNNING"
	RunStatusSuccess = "SUCCESS"
	RunStatusFailed  = "FAILED"
)

// Run describes a sync cycle as it starts.
type Run struct {
	ID           string
	Integration  string
	Scope        cursor.Scope
	CursorBefore string
	StartedAt    time.Time
}

// RunSummary describes a successful cycle.
type RunSummary struct {
	CursorAfter string
	Pages       int
	Added       int
	Modified    int
	Removed     int
	Stats       reconcile.Stats
}

// RunRecorder keeps an audit trail of sync cycles. Recording failures are
// logged and never fail a cycle.
type RunRecorder interface {
	StartRun(ctx context.Context, run Run) error
	MarkRunSucceeded(ctx context.Context, runID string, summary RunSummary) error
	MarkRunFailed(ctx context.Context, runID string, runErr error)
}

// RecordedRun is one entry kept by MemoryRecorder.
type RecordedRun struct {
	Run
	Status     string
	FinishedAt time.Time
	Summary    RunSummary
	Error      string
}

// MemoryRecorder is an in-process RunRecorder.
type MemoryRecorder struct {
	mu   sync.RWMutex
	runs map[string]*RecordedRun
	ids  []string
}

// NewMemoryRecorder creates an empty recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{runs: make(map[string]*RecordedRun)}
}

// StartRun implements RunRecorder.
func (m *MemoryRecorder) StartRun(ctx context.Context, run Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.runs[run.ID] = &RecordedRun{Run: run, Status: RunStatusRunning}
	m.ids = append(m.ids, run.ID)
	return nil
}

// MarkRunSucceeded implements RunRecorder.
func (m *MemoryRecorder) MarkRunSucceeded(ctx context.Context, runID string, summary RunSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.runs[runID]; ok {
		r.Status = RunStatusSuccess
		r.Summary = summary
		r.FinishedAt = time.Now()
	}
	return nil
}

// MarkRunFailed implements RunRecorder.
func (m *MemoryRecorder) MarkRunFailed(ctx context.Context, runID string, runErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.runs[runID]; ok {
		r.Status = RunStatusFailed
		r.FinishedAt = time.Now()
		if runErr != nil {
			r.Error = runErr.Error()
		}
	}
}

// Runs returns copies of the recorded runs in start order.
func (m *MemoryRecorder) Runs() []RecordedRun {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]RecordedRun, 0, len(m.ids))
	for _, id := range m.ids {
		out = append(out, *m.runs[id])
	}
	return out
}

var _ RunRecorder = (*MemoryRecorder)(nil)
