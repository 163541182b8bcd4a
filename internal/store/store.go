// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ashureev/chatdesk/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist. Callers
// treat it as an expected empty state.
var ErrNotFound = errors.New("not found")

// Repository defines the interface for persisting chat companion data.
type Repository interface {
	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error

	// EnsureUser creates the user row if missing and refreshes last_seen_at.
	EnsureUser(ctx context.Context, userID string, seenAt time.Time) error

	// GetUser retrieves a user by ID. Returns ErrNotFound when missing.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// GetPreferences returns the raw preference blob. Returns ErrNotFound when missing.
	GetPreferences(ctx context.Context, userID string) (json.RawMessage, error)

	// UpsertPreferences replaces the preference blob.
	UpsertPreferences(ctx context.Context, userID string, prefs json.RawMessage) error

	// UpsertPushSubscription stores a subscription keyed by its endpoint.
	UpsertPushSubscription(ctx context.Context, sub *domain.PushSubscription) error

	// ListPushSubscriptionsForPeer returns subscriptions whose peer_id equals
	// peerID or whose user_id is a prefix of peerID.
	ListPushSubscriptionsForPeer(ctx context.Context, peerID string) ([]domain.PushSubscription, error)

	// DeletePushSubscription removes a subscription by endpoint.
	DeletePushSubscription(ctx context.Context, endpoint string) error

	// DeleteUserPushSubscription removes a subscription owned by userID.
	DeleteUserPushSubscription(ctx context.Context, userID, endpoint string) (int64, error)

	// InsertInsightSignal stores a single learning-insight row.
	InsertInsightSignal(ctx context.Context, sig *domain.InsightSignal) error

	// PruneInsightSignals deletes signals created before the cutoff.
	PruneInsightSignals(ctx context.Context, before time.Time) (int64, error)
}
