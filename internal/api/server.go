// Package api wires the HTTP trigger endpoints of the sync service.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-sync/internal/api/handlers"
	"github.com/dvloznov/finance-sync/internal/api/middleware"
	"github.com/dvloznov/finance-sync/internal/jobs"
)

// Options configures NewHandler.
type Options struct {
	Service   handlers.SyncService
	Publisher jobs.Publisher
	JobStore  jobs.JobStore
	// Token enables bearer authentication when non-empty.
	Token string
	Log   zerolog.Logger
}

// methodOnly answers 405 for any method other than method.
func methodOnly(method string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		fn(w, r)
	}
}

// NewHandler builds the router with its middleware chain.
func NewHandler(opts Options) http.Handler {
	syncHandler := handlers.NewSyncHandler(opts.Service, opts.Publisher)
	jobsHandler := handlers.NewJobsHandler(opts.JobStore)

	mux := http.NewServeMux()

	// Sync endpoints
	mux.HandleFunc("/api/sync", methodOnly(http.MethodPost, syncHandler.EnqueueSync))
	mux.HandleFunc("/api/cursor/reset", methodOnly(http.MethodPost, syncHandler.ResetCursor))
	mux.HandleFunc("/api/disconnect", methodOnly(http.MethodPost, syncHandler.Disconnect))

	// Jobs endpoints
	mux.HandleFunc("/api/jobs", methodOnly(http.MethodGet, jobsHandler.ListJobs))
	mux.HandleFunc("/api/jobs/", methodOnly(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
		jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
		if jobID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
			return
		}
		jobsHandler.GetJob(w, r, jobID)
	}))

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status":      "healthy",
			"integration": string(opts.Service.Integration()),
			"time":        time.Now().Format(time.RFC3339),
		})
	})

	return middleware.Recovery(opts.Log)(
		middleware.RequestID(
			middleware.Logger(opts.Log)(
				middleware.CORS(
					middleware.Auth(opts.Token)(mux),
				),
			),
		),
	)
}

// NewServer returns an http.Server for handler listening on port.
func NewServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         ":" + port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
