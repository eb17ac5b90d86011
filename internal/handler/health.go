package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	apperrors "github.com/pulsefit/sync-server-go/internal/errors"
	"github.com/pulsefit/sync-server-go/internal/middleware"
	"github.com/pulsefit/sync-server-go/internal/service"
)

type HealthHandler struct {
	healthService *service.HealthService
}

func NewHealthHandler(healthService *service.HealthService) *HealthHandler {
	return &HealthHandler{healthService: healthService}
}

type summaryRequest struct {
	Date string `json:"date"`
}

// Summary returns the day's normalized health data for the authenticated
// user. An empty or absent date means today.
func (h *HealthHandler) Summary(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeError(w, apperrors.Unauthorized("Not authenticated"))
		return
	}

	var req summaryRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, apperrors.ValidationError("Invalid JSON body"))
			return
		}
	}

	summary, err := h.healthService.Summary(r.Context(), user.ID, req.Date)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// RecentSyncs lists the latest sync attempts for diagnostics.
func (h *HealthHandler) RecentSyncs(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeError(w, apperrors.Unauthorized("Not authenticated"))
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, apperrors.InvalidInput("limit", "expected an integer"))
			return
		}
		limit = parsed
	}

	entries, err := h.healthService.RecentSyncs(r.Context(), user.ID, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"syncs": entries})
}
