// Package identity resolves the caller of each request: a verified JWT
// subject when a signing secret is configured, otherwise an anonymous
// per-device cookie.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	AnonCookieName        = "chatdesk_anon_id"
	SessionHeaderName     = "X-Chatdesk-Session-ID"
	DefaultSessionIDValue = "default"
	anonCookieMaxAge      = 30 * 24 * time.Hour
)

type contextKey int

const (
	userIDKey contextKey = iota
	sessionIDKey
)

var (
	anonIDPattern    = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// UserStore records that a user was seen.
type UserStore interface {
	EnsureUser(ctx context.Context, userID string, seenAt time.Time) error
}

// Options configures the middleware.
type Options struct {
	// JWTSecret enables bearer-token auth. Empty means anonymous cookies.
	JWTSecret string
	// IsDev relaxes the Secure flag on the anonymous cookie.
	IsDev bool
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// SessionIDFromContext extracts the tab session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return DefaultSessionIDValue
}

// WithUser returns ctx carrying userID and sessionID. Used by tests and
// the admin CLI.
func WithUser(ctx context.Context, userID, sessionID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, sessionIDKey, sanitizeSessionID(sessionID))
}

func generateAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

func isValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

func sanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !sessionIDPattern.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

func setAnonCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

// getOrCreateAnonID reuses a valid cookie (refreshing its expiry) or
// mints a new one.
func getOrCreateAnonID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
		setAnonCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := generateAnonID()
	if err != nil {
		return "", err
	}
	setAnonCookie(w, id, isDev)
	return id, nil
}

func sessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get("session_id")
	}
	return sanitizeSessionID(sid)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `{"error":%q}`+"\n", message)
}

// Middleware injects the caller's user ID and tab session ID, and makes
// sure the user row exists.
func Middleware(users UserStore, opts Options) func(http.Handler) http.Handler {
	var verifier *Verifier
	if opts.JWTSecret != "" {
		verifier = NewVerifier(opts.JWTSecret)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var userID string
			if verifier != nil {
				token := TokenFromRequest(r)
				if token == "" {
					writeError(w, http.StatusUnauthorized, "missing bearer token")
					return
				}
				sub, err := verifier.Verify(token)
				if err != nil {
					slog.Debug("Rejected bearer token", "error", err, "remote_ip", IPFromRequest(r))
					writeError(w, http.StatusUnauthorized, "invalid token")
					return
				}
				userID = sub
			} else {
				id, err := getOrCreateAnonID(w, r, opts.IsDev)
				if err != nil {
					writeError(w, http.StatusInternalServerError, "failed to establish anonymous identity")
					return
				}
				userID = id
			}

			if err := users.EnsureUser(r.Context(), userID, time.Now()); err != nil {
				slog.Error("Failed to ensure user", "user_id", userID, "error", err)
				writeError(w, http.StatusInternalServerError, "failed to initialize user")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID, sessionIDFromRequest(r))))
		})
	}
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
