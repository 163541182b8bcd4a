package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/chatdesk/internal/identity"
	"github.com/ashureev/chatdesk/internal/insights"
)

// InsightsHandler accepts learning-insight batches.
type InsightsHandler struct {
	svc     *insights.Service
	maxBody int64
}

// NewInsightsHandler creates an insights handler.
func NewInsightsHandler(svc *insights.Service, maxBody int64) *InsightsHandler {
	return &InsightsHandler{svc: svc, maxBody: maxBody}
}

// RegisterRoutes registers the ingestion route behind mw.
func (h *InsightsHandler) RegisterRoutes(r chi.Router, mw ...func(http.Handler) http.Handler) {
	r.With(mw...).Post("/api/insights", h.Ingest)
}

// Ingest validates and stores a batch of signals.
func (h *InsightsHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	body, err := readBody(w, r, h.maxBody)
	if errors.Is(err, errBodyTooLarge) {
		Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	if err != nil {
		Error(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	items, err := insights.DecodeBatch(body)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	JSON(w, http.StatusOK, h.svc.Ingest(r.Context(), userID, items))
}
