package api

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/chatdesk/internal/domain"
	"github.com/ashureev/chatdesk/internal/identity"
	"github.com/ashureev/chatdesk/internal/push"
)

// PushSecretHeader authenticates server-to-server send requests.
const PushSecretHeader = "X-Push-Secret"

// PushHandler serves subscription management and notification sends.
type PushHandler struct {
	svc            *push.Service
	sendSecret     string
	vapidPublicKey string
	maxBody        int64
}

// NewPushHandler creates a push handler. svc is nil when delivery is not
// configured.
func NewPushHandler(svc *push.Service, sendSecret, vapidPublicKey string, maxBody int64) *PushHandler {
	return &PushHandler{svc: svc, sendSecret: sendSecret, vapidPublicKey: vapidPublicKey, maxBody: maxBody}
}

// RegisterRoutes registers the routes that need a user identity.
func (h *PushHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/push/subscriptions", h.Subscribe)
	r.Delete("/api/push/subscriptions", h.Unsubscribe)
}

// RegisterPublicRoutes registers routes outside the identity middleware.
func (h *PushHandler) RegisterPublicRoutes(r chi.Router) {
	r.Post("/api/push/send", h.Send)
	r.Get("/api/push/vapid-public-key", h.VAPIDPublicKey)
}

type subscribeRequest struct {
	SessionKey   string `json:"sessionKey"`
	Subscription struct {
		Endpoint string `json:"endpoint"`
		Keys     struct {
			P256dh string `json:"p256dh"`
			Auth   string `json:"auth"`
		} `json:"keys"`
	} `json:"subscription"`
}

// Subscribe stores the browser's push subscription for a DM session.
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	if h.svc == nil {
		Error(w, http.StatusServiceUnavailable, "push notifications are not configured")
		return
	}
	userID := identity.UserIDFromContext(r.Context())

	var req subscribeRequest
	if !decodeInto(w, r, h.maxBody, &req) {
		return
	}

	sub, err := h.svc.Subscribe(r.Context(), userID, strings.TrimSpace(req.SessionKey), req.Subscription.Endpoint, domain.PushKeys{
		P256dh: req.Subscription.Keys.P256dh,
		Auth:   req.Subscription.Keys.Auth,
	})
	switch {
	case errors.Is(err, push.ErrNoPeer):
		Error(w, http.StatusBadRequest, "session key has no push target")
		return
	case errors.Is(err, push.ErrInvalidSubscription):
		Error(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, push.ErrForbidden):
		slog.Warn("Push subscribe for foreign peer", "user_id", userID)
		Error(w, http.StatusForbidden, "session not owned by caller")
		return
	case err != nil:
		slog.Error("Failed to save push subscription", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to save subscription")
		return
	}

	slog.Info("Push subscription saved", "user_id", userID, "peer_id", sub.PeerID)
	JSON(w, http.StatusCreated, map[string]string{"id": sub.ID, "peerId": sub.PeerID})
}

// Unsubscribe removes one of the caller's subscriptions.
func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	if h.svc == nil {
		Error(w, http.StatusServiceUnavailable, "push notifications are not configured")
		return
	}
	userID := identity.UserIDFromContext(r.Context())

	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if !decodeInto(w, r, h.maxBody, &req) {
		return
	}
	if strings.TrimSpace(req.Endpoint) == "" {
		Error(w, http.StatusBadRequest, "endpoint is required")
		return
	}

	removed, err := h.svc.Unsubscribe(r.Context(), userID, req.Endpoint)
	if err != nil {
		slog.Error("Failed to delete push subscription", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to delete subscription")
		return
	}
	JSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

// Send fans a notification out to the peer behind a session key.
func (h *PushHandler) Send(w http.ResponseWriter, r *http.Request) {
	if h.svc == nil || h.sendSecret == "" {
		Error(w, http.StatusServiceUnavailable, "push sending is not configured")
		return
	}
	got := r.Header.Get(PushSecretHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.sendSecret)) != 1 {
		Error(w, http.StatusUnauthorized, "invalid push secret")
		return
	}

	var n push.Notification
	if !decodeInto(w, r, h.maxBody, &n) {
		return
	}
	n.Title = strings.TrimSpace(n.Title)
	if n.Title == "" {
		Error(w, http.StatusBadRequest, "title is required")
		return
	}

	res, err := h.svc.Send(r.Context(), n)
	if errors.Is(err, push.ErrNoPeer) {
		Error(w, http.StatusBadRequest, "session key has no push target")
		return
	}
	if err != nil {
		slog.Error("Push fan-out failed", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load subscriptions")
		return
	}
	JSON(w, http.StatusOK, res)
}

// VAPIDPublicKey exposes the application server key to the browser.
func (h *PushHandler) VAPIDPublicKey(w http.ResponseWriter, _ *http.Request) {
	if h.vapidPublicKey == "" {
		Error(w, http.StatusServiceUnavailable, "push notifications are not configured")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"publicKey": h.vapidPublicKey})
}
