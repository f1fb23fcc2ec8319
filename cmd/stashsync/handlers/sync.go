package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kimhsiao/stashsync/internal/crypto"
	apperrors "github.com/kimhsiao/stashsync/internal/errors"
	"github.com/kimhsiao/stashsync/internal/logging"
	"github.com/kimhsiao/stashsync/internal/models"
	syncpkg "github.com/kimhsiao/stashsync/internal/sync"
	"github.com/kimhsiao/stashsync/internal/sync/queue"
	"github.com/kimhsiao/stashsync/internal/sync/scheduler"
)

// Runner triggers sync cycles and reports their state.
type Runner interface {
	RunNow(ctx context.Context, opts syncpkg.Options) []scheduler.Outcome
	RunFamily(ctx context.Context, family models.Family, opts syncpkg.Options) (scheduler.Outcome, error)
	Status() scheduler.Status
	Reload(ctx context.Context) error
}

// SettingsStore persists credentials and auto-sync preferences.
type SettingsStore interface {
	GetSettings(ctx context.Context) (*models.Settings, error)
	SetAPIToken(ctx context.Context, sealed string) error
	SetDatabaseID(ctx context.Context, family models.Family, databaseID string) error
	SetAutoSync(ctx context.Context, enabled bool, intervalMinutes int) error
	ListConflictLogs(ctx context.Context, limit int) ([]*models.ConflictLog, error)
}

// SyncHandler handles sync-related HTTP requests.
type SyncHandler struct {
	runner   Runner
	settings SettingsStore
	queues   []*queue.Queue
	box      *crypto.TokenBox
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(runner Runner, settings SettingsStore, box *crypto.TokenBox, queues ...*queue.Queue) *SyncHandler {
	return &SyncHandler{runner: runner, settings: settings, queues: queues, box: box}
}

// Routes mounts the sync endpoints on r.
func (h *SyncHandler) Routes(r chi.Router) {
	r.Get("/status", h.GetStatus)
	r.Post("/now", h.TriggerSync)
	r.Get("/queue", h.ListQueue)
	r.Post("/queue/retry", h.RetryAll)
	r.Post("/queue/{id}/retry", h.RetryEntry)
	r.Get("/conflicts", h.ListConflicts)
	r.Put("/settings", h.UpdateSettings)
	r.Get("/credentials", h.GetCredentials)
	r.Post("/credentials", h.SetCredentials)
	r.Delete("/credentials", h.DeleteCredentials)
}

// CredentialsResponse reports what is configured without revealing the token.
type CredentialsResponse struct {
	Configured        bool   `json:"configured"`
	HasToken          bool   `json:"has_token"`
	ItemsDatabaseID   string `json:"items_database_id"`
	PromptsDatabaseID string `json:"prompts_database_id"`
}

// SetCredentialsRequest stores the API token and database bindings.
// Empty database IDs leave the current binding unchanged.
type SetCredentialsRequest struct {
	Token             string `json:"token"`
	ItemsDatabaseID   string `json:"items_database_id"`
	PromptsDatabaseID string `json:"prompts_database_id"`
}

// StatusResponse is returned by GET /api/sync/status.
type StatusResponse struct {
	scheduler.Status
	Configured bool                             `json:"configured"`
	Queue      map[models.Family]map[string]int `json:"queue"`
	LastSync   map[models.Family]int64          `json:"last_sync"`
}

// OutcomeResponse is one family's part of a manual run.
type OutcomeResponse struct {
	Family models.Family       `json:"family"`
	Result *syncpkg.Result     `json:"result,omitempty"`
	Error  string              `json:"error,omitempty"`
	Code   apperrors.ErrorCode `json:"code,omitempty"`
}

// SettingsRequest updates the periodic trigger.
type SettingsRequest struct {
	AutoSyncEnabled bool `json:"auto_sync_enabled"`
	IntervalMinutes int  `json:"interval_minutes"`
}

// GetStatus handles GET /api/sync/status
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.GetSettings(r.Context())
	if err != nil {
		respondAppError(w, err)
		return
	}

	resp := StatusResponse{
		Status:     h.runner.Status(),
		Configured: configured(settings),
		Queue:      make(map[models.Family]map[string]int, len(h.queues)),
		LastSync:   make(map[models.Family]int64, len(h.queues)),
	}
	for _, q := range h.queues {
		stats, err := q.Stats(r.Context())
		if err != nil {
			respondAppError(w, err)
			return
		}
		resp.Queue[q.Family()] = stats
		resp.LastSync[q.Family()] = settings.LastSyncAt(q.Family())
	}
	respondJSON(w, http.StatusOK, resp)
}

// TriggerSync handles POST /api/sync/now?family=items&force=true
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	family, ok := familyParam(w, r)
	if !ok {
		return
	}
	opts := syncpkg.Options{Force: r.URL.Query().Get("force") == "true"}

	var outcomes []scheduler.Outcome
	if family == "" {
		outcomes = h.runner.RunNow(r.Context(), opts)
	} else {
		o, err := h.runner.RunFamily(r.Context(), family, opts)
		if err != nil {
			respondAppError(w, err)
			return
		}
		outcomes = []scheduler.Outcome{o}
	}

	resp := NewOutcomeResponses(outcomes)
	rejected := 0
	for _, o := range resp {
		if o.Code == apperrors.ErrSyncInProgress {
			rejected++
		}
	}

	status := http.StatusOK
	if rejected > 0 && rejected == len(resp) {
		status = http.StatusConflict
	}
	respondJSON(w, status, resp)
}

// NewOutcomeResponses converts run outcomes for JSON output.
func NewOutcomeResponses(outcomes []scheduler.Outcome) []OutcomeResponse {
	resp := make([]OutcomeResponse, 0, len(outcomes))
	for _, o := range outcomes {
		or := OutcomeResponse{Family: o.Family, Result: o.Result}
		if o.Err != nil {
			or.Error = o.Err.Error()
			or.Code = apperrors.CodeOf(o.Err)
		}
		resp = append(resp, or)
	}
	return resp
}

// ListQueue handles GET /api/sync/queue?family=items&status=failed
func (h *SyncHandler) ListQueue(w http.ResponseWriter, r *http.Request) {
	family, ok := familyParam(w, r)
	if !ok {
		return
	}
	status := models.QueueStatus(r.URL.Query().Get("status"))

	entries := []*models.SyncQueueEntry{}
	for _, q := range h.queues {
		if family != "" && q.Family() != family {
			continue
		}
		list, err := q.List(r.Context(), status)
		if err != nil {
			respondAppError(w, err)
			return
		}
		entries = append(entries, list...)
	}
	respondJSON(w, http.StatusOK, entries)
}

// RetryEntry handles POST /api/sync/queue/{id}/retry
func (h *SyncHandler) RetryEntry(w http.ResponseWriter, r *http.Request) {
	id := models.UUID(chi.URLParam(r, "id"))
	for _, q := range h.queues {
		entry, err := q.Retry(r.Context(), id)
		if apperrors.Is(err, apperrors.ErrQueueNotFound) {
			continue
		}
		if err != nil {
			respondAppError(w, err)
			return
		}
		logging.Info("Queue entry re-armed", map[string]interface{}{"entry_id": id, "family": q.Family()})
		respondJSON(w, http.StatusOK, entry)
		return
	}
	respondAppError(w, apperrors.New(apperrors.ErrQueueNotFound, "queue entry not found: "+string(id)))
}

// RetryAll handles POST /api/sync/queue/retry
func (h *SyncHandler) RetryAll(w http.ResponseWriter, r *http.Request) {
	total := 0
	for _, q := range h.queues {
		n, err := q.RetryAll(r.Context())
		if err != nil {
			respondAppError(w, err)
			return
		}
		total += n
	}
	respondJSON(w, http.StatusOK, map[string]int{"retried": total})
}

// ListConflicts handles GET /api/sync/conflicts?limit=50
func (h *SyncHandler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	logs, err := h.settings.ListConflictLogs(r.Context(), limit)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, logs)
}

// UpdateSettings handles PUT /api/sync/settings
func (h *SyncHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.settings.SetAutoSync(r.Context(), req.AutoSyncEnabled, req.IntervalMinutes); err != nil {
		respondAppError(w, err)
		return
	}
	if err := h.runner.Reload(r.Context()); err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.runner.Status())
}

// GetCredentials handles GET /api/sync/credentials
func (h *SyncHandler) GetCredentials(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.GetSettings(r.Context())
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, credentials(settings))
}

// SetCredentials handles POST /api/sync/credentials
func (h *SyncHandler) SetCredentials(w http.ResponseWriter, r *http.Request) {
	var req SetCredentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		respondError(w, http.StatusBadRequest, "token is required")
		return
	}

	sealed, err := h.box.Seal(req.Token)
	if err != nil {
		respondAppError(w, apperrors.Wrap(apperrors.ErrCryptoFailed, "seal token", err))
		return
	}
	if err := h.settings.SetAPIToken(r.Context(), sealed); err != nil {
		respondAppError(w, err)
		return
	}
	bindings := map[models.Family]string{
		models.FamilyItems:   strings.TrimSpace(req.ItemsDatabaseID),
		models.FamilyPrompts: strings.TrimSpace(req.PromptsDatabaseID),
	}
	for family, id := range bindings {
		if id == "" {
			continue
		}
		if err := h.settings.SetDatabaseID(r.Context(), family, id); err != nil {
			respondAppError(w, err)
			return
		}
	}

	settings, err := h.settings.GetSettings(r.Context())
	if err != nil {
		respondAppError(w, err)
		return
	}
	logging.Info("Sync credentials updated", nil)
	respondJSON(w, http.StatusOK, credentials(settings))
}

// DeleteCredentials handles DELETE /api/sync/credentials
func (h *SyncHandler) DeleteCredentials(w http.ResponseWriter, r *http.Request) {
	if err := h.settings.SetAPIToken(r.Context(), ""); err != nil {
		respondAppError(w, err)
		return
	}
	logging.Info("Sync credentials removed", nil)
	w.WriteHeader(http.StatusNoContent)
}

func credentials(s *models.Settings) CredentialsResponse {
	return CredentialsResponse{
		Configured:        configured(s),
		HasToken:          s.HasToken(),
		ItemsDatabaseID:   s.ItemsDatabaseID,
		PromptsDatabaseID: s.PromptsDatabaseID,
	}
}

// configured reports whether at least one family can sync.
func configured(s *models.Settings) bool {
	return s.HasToken() && (s.ItemsDatabaseID != "" || s.PromptsDatabaseID != "")
}

func familyParam(w http.ResponseWriter, r *http.Request) (models.Family, bool) {
	v := r.URL.Query().Get("family")
	if v == "" || v == "all" {
		return "", true
	}
	f := models.Family(v)
	if !f.Valid() {
		respondError(w, http.StatusBadRequest, "unknown family: "+v)
		return "", false
	}
	return f, true
}
