// Package api provides HTTP handlers for the chatdesk API.
//
//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/chatdesk/internal/domain"
	"github.com/ashureev/chatdesk/internal/identity"
)

// DefaultMaxBodyBytes caps request bodies when no limit is configured.
const DefaultMaxBodyBytes = 1 << 20

// UserReader loads users for the session endpoints.
type UserReader interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
}

// ClientConfig is what the front-end needs to bootstrap.
type ClientConfig struct {
	AgentID        string `json:"agentId"`
	AuthMode       string `json:"authMode"`
	PushEnabled    bool   `json:"pushEnabled"`
	VAPIDPublicKey string `json:"vapidPublicKey,omitempty"`
}

// Handler serves the session bootstrap endpoints.
type Handler struct {
	users  UserReader
	client ClientConfig
}

// NewHandler creates a new Handler.
func NewHandler(users UserReader, client ClientConfig) *Handler {
	return &Handler{users: users, client: client}
}

// RegisterRoutes registers the bootstrap routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/me", h.GetMe)
	r.Get("/api/config", h.GetConfig)
}

// GetMe returns the caller's identity.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.users.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":    user.UserID,
		"session_id": identity.SessionIDFromContext(r.Context()),
		"anonymous":  user.IsAnonymous(),
		"created_at": user.CreatedAt.UnixMilli(),
	})
}

// GetConfig returns the server configuration for the frontend.
func (h *Handler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.client)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// errBodyTooLarge is returned by readBody when the limit is exceeded.
var errBodyTooLarge = errors.New("request body too large")

// readBody reads at most limit bytes of the request body.
func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, errBodyTooLarge
		}
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// decodeObject reads the body as a JSON object and writes a 400/413 on
// failure. ok is false when a response has already been written.
func decodeObject(w http.ResponseWriter, r *http.Request, limit int64) (obj map[string]any, ok bool) {
	body, err := readBody(w, r, limit)
	if errors.Is(err, errBodyTooLarge) {
		Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		return nil, false
	}
	if err != nil {
		Error(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	if err := json.Unmarshal(body, &obj); err != nil || obj == nil {
		Error(w, http.StatusBadRequest, "body must be a JSON object")
		return nil, false
	}
	return obj, true
}

// decodeInto reads the body into v, writing a 400/413 on failure.
func decodeInto(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	body, err := readBody(w, r, limit)
	if errors.Is(err, errBodyTooLarge) {
		Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	if err != nil {
		Error(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
