package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/chatdesk/internal/identity"
	"github.com/ashureev/chatdesk/internal/prefs"
)

// PreferencesHandler serves the per-user preference blob.
type PreferencesHandler struct {
	svc     *prefs.Service
	maxBody int64
}

// NewPreferencesHandler creates a preferences handler.
func NewPreferencesHandler(svc *prefs.Service, maxBody int64) *PreferencesHandler {
	return &PreferencesHandler{svc: svc, maxBody: maxBody}
}

// RegisterRoutes registers preference routes.
func (h *PreferencesHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/preferences", func(r chi.Router) {
		r.Get("/", h.GetAll)
		r.Get("/pinned-sessions", h.GetPinned)
		r.Put("/pinned-sessions", h.PutPinned)
		r.Get("/session-titles", h.GetTitles)
		r.Patch("/session-titles", h.PatchTitles)
	})
}

// GetAll returns the whole preference object.
func (h *PreferencesHandler) GetAll(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	blob, err := h.svc.Blob(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to load preferences", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load preferences")
		return
	}
	JSON(w, http.StatusOK, blob)
}

// GetPinned returns the normalized pinned sessions.
func (h *PreferencesHandler) GetPinned(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	pinned, err := h.svc.PinnedSessions(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to load pinned sessions", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load pinned sessions")
		return
	}
	JSON(w, http.StatusOK, pinned)
}

// PutPinned replaces the pinned sessions with {keys: [...]}.
func (h *PreferencesHandler) PutPinned(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	body, ok := decodeObject(w, r, h.maxBody)
	if !ok {
		return
	}
	keys, isList := body["keys"].([]any)
	if !isList {
		Error(w, http.StatusBadRequest, "keys must be an array")
		return
	}

	pinned, err := h.svc.SetPinnedSessions(r.Context(), userID, keys)
	if err != nil {
		slog.Error("Failed to save pinned sessions", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to save pinned sessions")
		return
	}
	JSON(w, http.StatusOK, pinned)
}

// GetTitles returns the normalized session titles.
func (h *PreferencesHandler) GetTitles(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	titles, err := h.svc.SessionTitles(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to load session titles", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load session titles")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"titles": titles})
}

// PatchTitles merges {set: {...}, remove: [...]} into the stored titles.
func (h *PreferencesHandler) PatchTitles(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	body, ok := decodeObject(w, r, h.maxBody)
	if !ok {
		return
	}

	set, hasSet := body["set"]
	if hasSet && set != nil {
		if _, isObj := set.(map[string]any); !isObj {
			Error(w, http.StatusBadRequest, "set must be an object")
			return
		}
	}
	remove, hasRemove := body["remove"]
	if hasRemove && remove != nil {
		if _, isList := remove.([]any); !isList {
			Error(w, http.StatusBadRequest, "remove must be an array")
			return
		}
	}

	titles, err := h.svc.UpdateSessionTitles(r.Context(), userID, set, remove)
	if err != nil {
		slog.Error("Failed to save session titles", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to save session titles")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"titles": titles})
}
