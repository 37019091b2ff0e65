package controller

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/unclebandit/campaign-lifecycle/internal/errors"
	"github.com/unclebandit/campaign-lifecycle/internal/service"
)

// UserHeader carries the authenticated requester id, set by the gateway.
const UserHeader = "X-User-ID"

type CampaignController struct {
	CampaignService *service.CampaignService
	Logger          *slog.Logger
}

func (c *CampaignController) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// CreateCampaign stores a draft campaign awaiting approval.
func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	requester, ok := requesterID(r)
	if !ok {
		http.Error(w, "missing or invalid "+UserHeader+" header", http.StatusUnauthorized)
		return
	}
	var body service.DraftRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	// The owner is always the caller.
	body.OwnerID = requester

	campaign, err := c.CampaignService.Draft(r.Context(), body)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, campaign)
}

// GetState returns the lifecycle classification of a campaign.
func (c *CampaignController) GetState(w http.ResponseWriter, r *http.Request) {
	id, requester, ok := c.params(w, r)
	if !ok {
		return
	}
	analysis, err := c.CampaignService.Analyze(r.Context(), id, requester)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

// ResumeCampaign continues publication from the last completed step.
func (c *CampaignController) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	id, requester, ok := c.params(w, r)
	if !ok {
		return
	}
	analysis, err := c.CampaignService.Resume(r.Context(), id, requester)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if analysis.Resumable() {
		status = http.StatusAccepted
	}
	writeJSON(w, status, map[string]any{
		"resumed":  analysis.Resumable(),
		"analysis": analysis,
	})
}

// CloseCampaign recomputes rewards and schedules expiry.
func (c *CampaignController) CloseCampaign(w http.ResponseWriter, r *http.Request) {
	id, requester, ok := c.params(w, r)
	if !ok {
		return
	}
	if err := c.CampaignService.Close(r.Context(), id, requester); err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"campaign_id": id,
		"status":      "closing",
	})
}

func (c *CampaignController) params(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return 0, 0, false
	}
	requester, ok := requesterID(r)
	if !ok {
		http.Error(w, "missing or invalid "+UserHeader+" header", http.StatusUnauthorized)
		return 0, 0, false
	}
	return id, requester, true
}

func requesterID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.Header.Get(UserHeader), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// StatusFor maps a service error to its HTTP status.
func StatusFor(err error) int {
	var (
		validation *appErrors.ValidationError
		authz      *appErrors.AuthorizationError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &authz):
		return http.StatusForbidden
	case appErrors.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, appErrors.ErrCloseRejected), errors.Is(err, appErrors.ErrCollectionCapacity):
		return http.StatusConflict
	case errors.Is(err, appErrors.ErrLockNotAcquired):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (c *CampaignController) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		c.logger().Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
