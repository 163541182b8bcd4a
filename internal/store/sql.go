package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/chatdesk/internal/domain"
	"github.com/ashureev/chatdesk/internal/shared"
)

// dialect captures the few differences between the SQL backends.
type dialect struct {
	name string
	// numbered placeholders ($1, $2, ...) instead of ?
	numbered bool
	// placeholder expression used when writing the preference blob
	jsonParam string
	// serialize writes on a single mutex (SQLite allows one writer)
	serializeWrites bool
}

// sqlStore implements Repository on database/sql.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	writeMu sync.Mutex
}

// rebind converts ? placeholders to the dialect's form.
func (s *sqlStore) rebind(query string) string {
	if !s.dialect.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// exec runs a write statement, retrying transient write conflicts with
// exponential backoff.
func (s *sqlStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if s.dialect.serializeWrites {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
	}

	const maxRetries = 3
	baseDelay := 50 * time.Millisecond
	query = s.rebind(query)

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !shared.IsRetryableWriteError(err) || i == maxRetries-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<i) // 50ms, 100ms, 200ms
		slog.Debug("Write hit a locked database, retrying", "backend", s.dialect.name, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

// Ping verifies database connectivity.
func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// EnsureUser creates the user row if missing and refreshes last_seen_at.
func (s *sqlStore) EnsureUser(ctx context.Context, userID string, seenAt time.Time) error {
	query := `
	INSERT INTO users (user_id, last_seen_at, created_at)
	VALUES (?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		last_seen_at = excluded.last_seen_at`
	ms := seenAt.UnixMilli()
	if _, err := s.exec(ctx, query, userID, ms, ms); err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by their user ID.
func (s *sqlStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := s.rebind(`SELECT user_id, last_seen_at, created_at FROM users WHERE user_id = ?`)

	var user domain.User
	var lastSeen, createdAt int64
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&user.UserID, &lastSeen, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	user.LastSeenAt = time.UnixMilli(lastSeen)
	user.CreatedAt = time.UnixMilli(createdAt)
	return &user, nil
}

// GetPreferences returns the raw preference blob for a user.
func (s *sqlStore) GetPreferences(ctx context.Context, userID string) (json.RawMessage, error) {
	query := s.rebind(`SELECT preferences FROM user_preferences WHERE user_id = ?`)

	var raw []byte
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan preferences: %w", err)
	}
	return json.RawMessage(raw), nil
}

// UpsertPreferences replaces the preference blob for a user.
func (s *sqlStore) UpsertPreferences(ctx context.Context, userID string, prefs json.RawMessage) error {
	query := `
	INSERT INTO user_preferences (user_id, preferences, updated_at)
	VALUES (?, ` + s.dialect.jsonParam + `, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		preferences = excluded.preferences,
		updated_at = excluded.updated_at`
	if _, err := s.exec(ctx, query, userID, string(prefs), time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("upsert preferences: %w", err)
	}
	return nil
}

// UpsertPushSubscription stores a subscription keyed by its endpoint.
func (s *sqlStore) UpsertPushSubscription(ctx context.Context, sub *domain.PushSubscription) error {
	query := `
	INSERT INTO push_subscriptions (id, endpoint, p256dh, auth, user_id, peer_id, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(endpoint) DO UPDATE SET
		p256dh = excluded.p256dh,
		auth = excluded.auth,
		user_id = excluded.user_id,
		peer_id = excluded.peer_id,
		updated_at = excluded.updated_at`
	_, err := s.exec(ctx, query,
		sub.ID, sub.Endpoint, sub.Keys.P256dh, sub.Keys.Auth,
		sub.UserID, sub.PeerID,
		sub.CreatedAt.UnixMilli(), sub.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert push subscription: %w", err)
	}
	return nil
}

// ListPushSubscriptionsForPeer returns subscriptions routed to peerID.
// Rows recorded before peer-level routing only carry user_id; they match
// when user_id is a prefix of peerID.
func (s *sqlStore) ListPushSubscriptionsForPeer(ctx context.Context, peerID string) ([]domain.PushSubscription, error) {
	query := s.rebind(`
		SELECT id, endpoint, p256dh, auth, user_id, peer_id, created_at, updated_at
		FROM push_subscriptions
		WHERE peer_id = ?
		   OR (user_id <> '' AND substr(?, 1, length(user_id)) = user_id)
		ORDER BY created_at`)

	rows, err := s.db.QueryContext(ctx, query, peerID, peerID)
	if err != nil {
		return nil, fmt.Errorf("query push subscriptions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close push subscription rows", "error", closeErr)
		}
	}()

	var subs []domain.PushSubscription
	for rows.Next() {
		var sub domain.PushSubscription
		var createdAt, updatedAt int64
		if err := rows.Scan(
			&sub.ID, &sub.Endpoint, &sub.Keys.P256dh, &sub.Keys.Auth,
			&sub.UserID, &sub.PeerID, &createdAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan push subscription row: %w", err)
		}
		sub.CreatedAt = time.UnixMilli(createdAt)
		sub.UpdatedAt = time.UnixMilli(updatedAt)
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate push subscriptions: %w", err)
	}
	return subs, nil
}

// DeletePushSubscription removes a subscription by endpoint.
func (s *sqlStore) DeletePushSubscription(ctx context.Context, endpoint string) error {
	if _, err := s.exec(ctx, `DELETE FROM push_subscriptions WHERE endpoint = ?`, endpoint); err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	return nil
}

// DeleteUserPushSubscription removes a subscription owned by userID.
func (s *sqlStore) DeleteUserPushSubscription(ctx context.Context, userID, endpoint string) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM push_subscriptions WHERE endpoint = ? AND user_id = ?`, endpoint, userID)
	if err != nil {
		return 0, fmt.Errorf("delete user push subscription: %w", err)
	}
	return res.RowsAffected()
}

// InsertInsightSignal stores a single learning-insight row.
func (s *sqlStore) InsertInsightSignal(ctx context.Context, sig *domain.InsightSignal) error {
	query := `
	INSERT INTO insight_signals (id, user_id, session_key, kind, value, occurred_at, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.exec(ctx, query,
		sig.ID, sig.UserID, sig.SessionKey, string(sig.Kind), sig.Value,
		sig.OccurredAt.UnixMilli(), sig.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert insight signal: %w", err)
	}
	return nil
}

// PruneInsightSignals deletes signals created before the cutoff.
func (s *sqlStore) PruneInsightSignals(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM insight_signals WHERE created_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune insight signals: %w", err)
	}
	return res.RowsAffected()
}
