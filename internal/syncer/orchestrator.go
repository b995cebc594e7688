// Package syncer runs sync cycles: drain every page from an aggregator,
// reconcile the change set into the store, then commit the new cursor.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/finance-sync/internal/aggregator"
	"github.com/dvloznov/finance-sync/internal/credentials"
	"github.com/dvloznov/finance-sync/internal/cursor"
	"github.com/dvloznov/finance-sync/internal/logger"
	"github.com/dvloznov/finance-sync/internal/reconcile"
	"github.com/dvloznov/finance-sync/internal/syncerr"
)

// Applier reconciles a change set into a store.
type Applier interface {
	Apply(ctx context.Context, changes aggregator.ChangeSet) (reconcile.Stats, error)
}

// Result describes a finished cycle.
type Result struct {
	RunID        string
	Scope        cursor.Scope
	CursorBefore string
	CursorAfter  string
	Committed    bool
	Pages        int
	Added        int
	Modified     int
	Removed      int
	Stats        reconcile.Stats
}

// Orchestrator runs one cycle at a time for the scopes it is given. It
// holds no lock: callers must not run two cycles for the same scope
// concurrently.
type Orchestrator struct {
	integration credentials.Integration
	fetcher     aggregator.Fetcher
	cursors     *cursor.Store
	applier     Applier
	recorder    RunRecorder
	observe     func(State)
	now         func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder stores an audit row per cycle.
func WithRecorder(r RunRecorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithStateObserver is called on every state transition.
func WithStateObserver(fn func(State)) Option {
	return func(o *Orchestrator) { o.observe = fn }
}

// New creates an orchestrator.
func New(integration credentials.Integration, fetcher aggregator.Fetcher, cursors *cursor.Store, applier Applier, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		integration: integration,
		fetcher:     fetcher,
		cursors:     cursors,
		applier:     applier,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) enter(s State) {
	if o.observe != nil {
		o.observe(s)
	}
}

// Run executes one full cycle for scope. The cursor is persisted only
// after the whole change set has been reconciled, so a failed cycle can
// simply be re-run.
func (o *Orchestrator) Run(ctx context.Context, scope cursor.Scope) (*Result, error) {
	if err := scope.Validate(); err != nil {
		return nil, syncerr.Configuration("Run", err.Error(), nil)
	}

	ctx = logger.WithScope(ctx, string(o.integration), scope.Environment, scope.ItemID, scope.AccountID)
	log := logger.FromContext(ctx)

	res := &Result{RunID: uuid.NewString(), Scope: scope}

	since, err := o.cursors.Get(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("Run: reading cursor: %w", err)
	}
	res.CursorBefore = since
	res.CursorAfter = since

	o.startRun(ctx, res)

	o.enter(StateFetching)
	log.Info().Str("run_id", res.RunID).Bool("full_history", since == "").Msg("Starting sync cycle")

	drain, err := o.fetcher.FetchAll(ctx, scope, since)
	if err != nil {
		return nil, o.fail(ctx, res, "fetch", err)
	}
	o.enter(StateDrained)
	res.Pages = drain.Pages
	res.Added = len(drain.Changes.Added)
	res.Modified = len(drain.Changes.Modified)
	res.Removed = len(drain.Changes.Removed)

	o.enter(StateReconciling)
	stats, err := o.applier.Apply(ctx, drain.Changes)
	if err != nil {
		return nil, o.fail(ctx, res, "reconcile", err)
	}
	res.Stats = stats

	o.enter(StateCursorCommit)
	if drain.Cursor != "" && drain.Cursor != since {
		if err := o.cursors.Set(ctx, scope, drain.Cursor); err != nil {
			return nil, o.fail(ctx, res, "commit", err)
		}
		res.CursorAfter = drain.Cursor
		res.Committed = true
	}
	o.enter(StateIdle)

	log.Info().
		Str("run_id", res.RunID).
		Int("pages", res.Pages).
		Int("added", res.Added).
		Int("modified", res.Modified).
		Int("removed", res.Removed).
		Bool("cursor_committed", res.Committed).
		Msg("Sync cycle completed")

	if o.recorder != nil {
		summary := RunSummary{
			CursorAfter: res.CursorAfter,
			Pages:       res.Pages,
			Added:       res.Added,
			Modified:    res.Modified,
			Removed:     res.Removed,
			Stats:       res.Stats,
		}
		if err := o.recorder.MarkRunSucceeded(ctx, res.RunID, summary); err != nil {
			log.Warn().Err(err).Str("run_id", res.RunID).Msg("Failed to record sync run")
		}
	}
	return res, nil
}

func (o *Orchestrator) startRun(ctx context.Context, res *Result) {
	if o.recorder == nil {
		return
	}
	run := Run{
		ID:           res.RunID,
		Integration:  string(o.integration),
		Scope:        res.Scope,
		CursorBefore: res.CursorBefore,
		StartedAt:    o.now(),
	}
	if err := o.recorder.StartRun(ctx, run); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("run_id", res.RunID).Msg("Failed to record sync run start")
	}
}

// fail logs err with whatever context it carries, returns to IDLE and
// records the failure. The cursor is left untouched.
func (o *Orchestrator) fail(ctx context.Context, res *Result, phase string, err error) error {
	o.enter(StateIdle)

	log := logger.FromContext(ctx)
	ev := log.Error().Err(err).Str("run_id", res.RunID).Str("phase", phase)

	var te *syncerr.TransportError
	var ce *syncerr.ConfigurationError
	var de *syncerr.DataShapeError
	switch {
	case errors.As(err, &te):
		ev = ev.Str("kind", "transport").Str("endpoint", te.Endpoint).Int("status_code", te.StatusCode).Str("body", te.Body)
	case errors.As(err, &ce):
		ev = ev.Str("kind", "configuration")
	case errors.As(err, &de):
		ev = ev.Str("kind", "data_shape")
	}
	ev.Msg("Sync cycle failed, cursor left unchanged")

	if o.recorder != nil {
		o.recorder.MarkRunFailed(ctx, res.RunID, err)
	}
	return err
}
