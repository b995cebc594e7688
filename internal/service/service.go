// Package service wires credentials, cursors, the aggregator client and
// the transaction store into the operations exposed by the CLI and the
// HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dvloznov/finance-sync/internal/aggregator"
	"github.com/dvloznov/finance-sync/internal/credentials"
	"github.com/dvloznov/finance-sync/internal/cursor"
	"github.com/dvloznov/finance-sync/internal/jobs"
	"github.com/dvloznov/finance-sync/internal/kvstore"
	"github.com/dvloznov/finance-sync/internal/logger"
	"github.com/dvloznov/finance-sync/internal/reconcile"
	"github.com/dvloznov/finance-sync/internal/sheet"
	"github.com/dvloznov/finance-sync/internal/signer"
	"github.com/dvloznov/finance-sync/internal/syncer"
	"github.com/dvloznov/finance-sync/internal/syncerr"
)

// Deps are the collaborators of a Service.
type Deps struct {
	Integration credentials.Integration
	KV          kvstore.Store
	Store       sheet.Store

	// Recorder is optional.
	Recorder syncer.RunRecorder

	Reconcile reconcile.Options

	// BaseURL overrides the aggregator's default API root.
	BaseURL string

	// HTTPClient is optional; http.DefaultClient is used otherwise.
	HTTPClient aggregator.Doer

	// Closers are closed by Close in reverse order.
	Closers []io.Closer
}

// Service runs sync operations for one integration.
type Service struct {
	integration credentials.Integration
	creds       *credentials.Store
	cursors     *cursor.Store
	reconciler  *reconcile.Reconciler
	recorder    syncer.RunRecorder
	baseURL     string
	httpClient  aggregator.Doer
	closers     []io.Closer
}

// New creates a service from explicit dependencies.
func New(d Deps) *Service {
	return &Service{
		integration: d.Integration,
		creds:       credentials.NewStore(d.KV),
		cursors:     cursor.NewStore(d.KV, CursorPrefix(d.Integration)),
		reconciler:  reconcile.New(d.Store, d.Reconcile),
		recorder:    d.Recorder,
		baseURL:     d.BaseURL,
		httpClient:  d.HTTPClient,
		closers:     d.Closers,
	}
}

// CursorPrefix is the key prefix of the cursors of integration.
func CursorPrefix(integration credentials.Integration) string {
	return credentials.FieldPrefix(integration, "cursor")
}

// Integration returns the integration this service syncs.
func (s *Service) Integration() credentials.Integration {
	return s.integration
}

// Close releases the backends opened for this service.
func (s *Service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Client builds a signed aggregator client for environment.
func (s *Service) Client(ctx context.Context, environment string) (aggregator.Client, error) {
	set, err := s.creds.Resolve(ctx, s.integration, environment)
	if err != nil {
		return nil, err
	}
	sg, err := signer.For(s.integration, set)
	if err != nil {
		return nil, err
	}

	baseURL := s.baseURL
	if baseURL == "" {
		baseURL = aggregator.DefaultBaseURL(s.integration, environment)
	}

	var opts []aggregator.Option
	if s.httpClient != nil {
		opts = append(opts, aggregator.WithHTTPClient(s.httpClient))
	}
	return aggregator.New(s.integration, baseURL, sg, s.creds, opts...)
}

// Sync runs one cycle for scope.
func (s *Service) Sync(ctx context.Context, scope cursor.Scope) (*syncer.Result, error) {
	client, err := s.Client(ctx, scope.Environment)
	if err != nil {
		return nil, fmt.Errorf("Sync: %w", err)
	}

	var opts []syncer.Option
	if s.recorder != nil {
		opts = append(opts, syncer.WithRecorder(s.recorder))
	}
	// Syncs of different items share the reconciler so their writes to the
	// store never interleave.
	orch := syncer.New(s.integration, client, s.cursors, s.reconciler, opts...)
	return orch.Run(ctx, scope)
}

// ResetCursor removes the cursor of scope, or of every account under its
// item when allAccounts is set.
func (s *Service) ResetCursor(ctx context.Context, scope cursor.Scope, allAccounts bool) (int, error) {
	return syncer.ResetCursor(ctx, s.cursors, scope, allAccounts)
}

// Disconnect revokes an item remotely when credentials allow it and always
// removes its token and cursors.
func (s *Service) Disconnect(ctx context.Context, scope cursor.Scope) (*syncer.DisconnectResult, error) {
	var remote aggregator.Disconnector
	client, err := s.Client(ctx, scope.Environment)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("Cannot build aggregator client for disconnect")
	} else {
		remote = client
	}
	return syncer.Disconnect(ctx, s.integration, scope, remote, s.creds, s.cursors)
}

// Purge removes every stored key of the integration in environment.
func (s *Service) Purge(ctx context.Context, environment string) (int, error) {
	if environment == "" {
		return 0, syncerr.Configuration("Purge", "environment is required", nil)
	}
	n, err := s.creds.Purge(ctx, s.integration, environment)
	if err != nil {
		return n, err
	}
	log := logger.FromContext(ctx)
	log.Info().Str("integration", string(s.integration)).Str("environment", environment).Int("keys_removed", n).Msg("Purged environment")
	return n, nil
}

// SetCredentials stores the credential set of environment.
func (s *Service) SetCredentials(ctx context.Context, environment string, set credentials.Set) error {
	if set.PrivateKey != "" {
		if _, err := signer.ParsePrivateKey(set.PrivateKey); err != nil {
			return err
		}
	}
	return s.creds.Save(ctx, s.integration, environment, set)
}

// SetToken stores the access token of one item.
func (s *Service) SetToken(ctx context.Context, environment, itemID, token string) error {
	return s.creds.SetAccessToken(ctx, s.integration, environment, itemID, token)
}

// Items lists the items with a stored token in environment.
func (s *Service) Items(ctx context.Context, environment string) ([]string, error) {
	return s.creds.Items(ctx, s.integration, environment)
}

// SyncJobHandler runs a queued sync job and stores its result on the job.
func (s *Service) SyncJobHandler(ctx context.Context, job *jobs.SyncJob) error {
	if job.Integration != "" && job.Integration != string(s.integration) {
		return syncerr.Configuration("SyncJobHandler",
			fmt.Sprintf("job for %q sent to the %q service", job.Integration, s.integration), nil)
	}

	res, err := s.Sync(ctx, job.Scope())
	if err != nil {
		return err
	}
	job.Result = &jobs.SyncResult{
		RunID:       res.RunID,
		CursorAfter: res.CursorAfter,
		Committed:   res.Committed,
		Pages:       res.Pages,
		Added:       res.Added,
		Modified:    res.Modified,
		Removed:     res.Removed,
	}
	return nil
}

// Retryable reports whether a failed job may succeed on a later attempt.
// Only transport failures qualify.
func Retryable(err error) bool {
	return syncerr.IsTransport(err)
}
