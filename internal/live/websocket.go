package live

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/ashureev/chatdesk/internal/hints"
	"github.com/ashureev/chatdesk/internal/identity"
)

// ConnObserver is told when connections open and close.
type ConnObserver interface {
	ConnOpened()
	ConnClosed()
}

// Handler upgrades requests to live hint connections.
type Handler struct {
	conns          *ConnManager
	allowedOrigins []string
	isDev          bool
	engineOpts     []hints.Option
	observer       ConnObserver
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithEngineOptions passes opts to every engine the handler creates.
func WithEngineOptions(opts ...hints.Option) HandlerOption {
	return func(h *Handler) { h.engineOpts = append(h.engineOpts, opts...) }
}

// WithConnObserver reports connection lifecycle to o.
func WithConnObserver(o ConnObserver) HandlerOption {
	return func(h *Handler) { h.observer = o }
}

// NewHandler creates a live hint handler.
func NewHandler(conns *ConnManager, allowedOrigins []string, isDev bool, opts ...HandlerOption) *Handler {
	h := &Handler{
		conns:          conns,
		allowedOrigins: allowedOrigins,
		isDev:          isDev,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	slog.Info("Live connection request", "user_id", userID, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}

	engine := hints.NewEngine(h.engineOpts...)
	conn := newConn(ws, userID, sessionID, engine)
	defer func() {
		engine.Close()
		conn.Close("session ended")
	}()

	h.conns.Register(userID, sessionID, conn)
	defer h.conns.Unregister(userID, sessionID, conn)
	if h.observer != nil {
		h.observer.ConnOpened()
		defer h.observer.ConnClosed()
	}

	h.readLoop(r.Context(), conn)
	slog.Info("Live session ended", "user_id", userID, "session_id", sessionID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}

func (h *Handler) readLoop(ctx context.Context, conn *Conn) {
	for {
		_, message, err := conn.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", conn.UserID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "user_id", conn.UserID)
			}
			return
		}
		if err := conn.handle(message); err != nil {
			slog.Debug("Dropping live connection", "user_id", conn.UserID, "error", err)
			return
		}
	}
}
