package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/dvloznov/finance-sync/internal/api/middleware"
	"github.com/dvloznov/finance-sync/internal/credentials"
	"github.com/dvloznov/finance-sync/internal/cursor"
	"github.com/dvloznov/finance-sync/internal/jobs"
	"github.com/dvloznov/finance-sync/internal/logger"
	"github.com/dvloznov/finance-sync/internal/syncer"
	"github.com/dvloznov/finance-sync/internal/syncerr"
)

// SyncService is the part of the service the handlers call synchronously.
type SyncService interface {
	Integration() credentials.Integration
	ResetCursor(ctx context.Context, scope cursor.Scope, allAccounts bool) (int, error)
	Disconnect(ctx context.Context, scope cursor.Scope) (*syncer.DisconnectResult, error)
}

// scopeRequest is the JSON body shared by the sync endpoints.
type scopeRequest struct {
	Environment string `json:"environment"`
	ItemID      string `json:"item_id"`
	AccountID   string `json:"account_id,omitempty"`
}

func (s scopeRequest) scope() cursor.Scope {
	return cursor.Scope{Environment: s.Environment, ItemID: s.ItemID, AccountID: s.AccountID}
}

// scoped is a request body that names a cursor scope.
type scoped interface {
	scope() cursor.Scope
}

// decodeScope reads a scope request and writes a 400 when it is unusable.
func decodeScope(w http.ResponseWriter, r *http.Request, dst scoped) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := dst.scope().Validate(); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// statusFor maps an operation error to an HTTP status.
func statusFor(err error) int {
	switch {
	case syncerr.IsConfiguration(err):
		return http.StatusUnprocessableEntity
	case syncerr.IsTransport(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// SyncHandler serves the sync, cursor reset and disconnect endpoints.
// When the publisher is also a jobs.ScopeLocker, cursor resets and
// disconnects hold the scope lock so they never run under a sync job.
type SyncHandler struct {
	svc       SyncService
	publisher jobs.Publisher
	locker    jobs.ScopeLocker
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(svc SyncService, publisher jobs.Publisher) *SyncHandler {
	locker, _ := publisher.(jobs.ScopeLocker)
	return &SyncHandler{
		svc:       svc,
		publisher: publisher,
		locker:    locker,
	}
}

// lockScope claims scope for a maintenance call. It writes a 409 and
// reports false when a sync job holds an overlapping scope.
func (h *SyncHandler) lockScope(w http.ResponseWriter, scope cursor.Scope) (unlock func(), ok bool) {
	if h.locker == nil {
		return func() {}, true
	}
	key := jobs.ScopeKey(string(h.svc.Integration()), scope)
	if !h.locker.TryLockScope(key, "api:"+uuid.New().String()) {
		middleware.WriteError(w, http.StatusConflict, jobs.ErrScopeBusy.Error())
		return nil, false
	}
	return func() { h.locker.UnlockScope(key) }, true
}

// EnqueueSync handles POST /api/sync
func (h *SyncHandler) EnqueueSync(w http.ResponseWriter, r *http.Request) {
	var req scopeRequest
	if !decodeScope(w, r, &req) {
		return
	}

	ctx := r.Context()
	log := logger.FromContext(ctx)

	job := &jobs.SyncJob{
		Integration: string(h.svc.Integration()),
		Environment: req.Environment,
		ItemID:      req.ItemID,
		AccountID:   req.AccountID,
	}

	if err := h.publisher.PublishSync(ctx, job); err != nil {
		log.Error().Err(err).Msg("Failed to enqueue sync job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue sync job")
		return
	}

	log.Info().Str("job_id", job.JobID).Str("item_id", req.ItemID).Msg("Sync job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id":  job.JobID,
		"item_id": req.ItemID,
		"status":  string(job.Status),
	})
}

// ResetCursor handles POST /api/cursor/reset
func (h *SyncHandler) ResetCursor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		scopeRequest
		AllAccounts bool `json:"all_accounts"`
	}
	if !decodeScope(w, r, &req) {
		return
	}

	target := req.scope()
	if req.AllAccounts {
		target.AccountID = ""
	}
	unlock, ok := h.lockScope(w, target)
	if !ok {
		return
	}
	defer unlock()

	ctx := r.Context()
	n, err := h.svc.ResetCursor(ctx, req.scope(), req.AllAccounts)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("item_id", req.ItemID).Msg("Failed to reset cursor")
		middleware.WriteError(w, statusFor(err), "Failed to reset cursor")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"item_id":         req.ItemID,
		"cursors_removed": n,
	})
}

// Disconnect handles POST /api/disconnect
func (h *SyncHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	var req scopeRequest
	if !decodeScope(w, r, &req) {
		return
	}

	// Disconnect drops every cursor of the item.
	itemScope := req.scope()
	itemScope.AccountID = ""
	unlock, ok := h.lockScope(w, itemScope)
	if !ok {
		return
	}
	defer unlock()

	ctx := r.Context()
	res, err := h.svc.Disconnect(ctx, req.scope())
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("item_id", req.ItemID).Msg("Failed to disconnect item")
		middleware.WriteError(w, statusFor(err), "Failed to disconnect item")
		return
	}

	body := map[string]any{
		"item_id":         req.ItemID,
		"cursors_removed": res.CursorsRemoved,
		"remote_revoked":  res.RemoteErr == nil,
	}
	if res.RemoteErr != nil {
		body["remote_error"] = res.RemoteErr.Error()
	}
	middleware.WriteJSON(w, http.StatusOK, body)
}

// JobsHandler handles job status requests.
type JobsHandler struct {
	store jobs.JobStore
}

// NewJobsHandler creates a new JobsHandler.
func NewJobsHandler(store jobs.JobStore) *JobsHandler {
	return &JobsHandler{
		store: store,
	}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()

	job, err := h.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := r.URL.Query()
	filter := jobs.JobFilter{
		Integration: query.Get("integration"),
		ItemID:      query.Get("item_id"),
		Status:      jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}
