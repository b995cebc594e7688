package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dvloznov/finance-sync/internal/api"
	"github.com/dvloznov/finance-sync/internal/credentials"
	"github.com/dvloznov/finance-sync/internal/jobs"
	"github.com/dvloznov/finance-sync/internal/jobs/inmemory"
	"github.com/dvloznov/finance-sync/internal/logger"
	"github.com/dvloznov/finance-sync/internal/service"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	SyncEvery time.Duration
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP trigger API and the background sync workers",
		Long: `Serve the HTTP API that enqueues sync jobs and reports their status.
Jobs run on a pool of workers; at most one job per item runs at a time and
only transport failures are retried.

With --sync-every, every item with a stored access token is enqueued on
that interval.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().String("api-port", "", "HTTP server port (default 8080)")
	cmd.Flags().String("api-token", "", "bearer token required by the API")
	cmd.Flags().Int("jobs-workers", 0, "number of sync workers (default 2)")
	cmd.Flags().Int("jobs-buffer", 0, "queued jobs before enqueueing blocks (default 100)")
	cmd.Flags().Int("jobs-max-retries", 0, "attempts per job after the first (default 3)")
	cmd.Flags().DurationVar(&opts.SyncEvery, "sync-every", 0, "enqueue a sync of every item on this interval")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg := opts.Config
	log := opts.Log

	svc, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.Jobs.Buffer, jobStore,
		inmemory.WithWorkers(cfg.Jobs.Workers),
		inmemory.WithMaxRetries(cfg.Jobs.MaxRetries),
		inmemory.WithRetryIf(service.Retryable),
	)

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	log.Info().Int("workers", cfg.Jobs.Workers).Msg("Starting sync workers")
	if err := jobQueue.Start(workerCtx, svc.SyncJobHandler); err != nil {
		return err
	}

	if opts.SyncEvery > 0 {
		go schedule(workerCtx, svc, jobQueue, cfg.Environment, opts.SyncEvery)
	}

	server := api.NewServer(cfg.API.Port, api.NewHandler(api.Options{
		Service:   svc,
		Publisher: jobQueue,
		JobStore:  jobStore,
		Token:     cfg.API.Token,
		Log:       log,
	}))

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.API.Port).Bool("auth", cfg.API.Token != "").Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return WrapExitError(ExitFailure, "API server stopped", err)
		}
	}

	log.Info().Msg("Shutting down server...")
	cancelWorkers()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Server exited")
	return nil
}

// itemLister lists the items a schedule should sync.
type itemLister interface {
	Integration() credentials.Integration
	Items(ctx context.Context, environment string) ([]string, error)
}

// schedule enqueues a sync of every item of environment each interval
// until ctx is done.
func schedule(ctx context.Context, items itemLister, publisher jobs.Publisher, environment string, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			enqueueAll(ctx, items, publisher, environment)
		}
	}
}

// enqueueAll publishes one sync job per item and returns how many were
// enqueued.
func enqueueAll(ctx context.Context, items itemLister, publisher jobs.Publisher, environment string) int {
	log := logger.FromContext(ctx)

	ids, err := items.Items(ctx, environment)
	if err != nil {
		log.Error().Err(err).Msg("Scheduled sync: listing items")
		return 0
	}

	n := 0
	for _, id := range ids {
		job := &jobs.SyncJob{
			Integration: string(items.Integration()),
			Environment: environment,
			ItemID:      id,
		}
		if err := publisher.PublishSync(ctx, job); err != nil {
			log.Error().Err(err).Str("item_id", id).Msg("Scheduled sync: enqueue failed")
			continue
		}
		n++
	}
	log.Info().Int("jobs", n).Msg("Scheduled sync enqueued")
	return n
}
