package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/chatdesk/internal/domain"
)

// ErrInvalidSubscription is returned for subscriptions missing an https
// endpoint or either key.
var ErrInvalidSubscription = errors.New("invalid push subscription")

// Store is the persistence the push service needs.
type Store interface {
	SubscriptionStore
	UpsertPushSubscription(ctx context.Context, sub *domain.PushSubscription) error
	DeleteUserPushSubscription(ctx context.Context, userID, endpoint string) (int64, error)
}

// Notification is the payload the service worker renders.
type Notification struct {
	Title      string `json:"title"`
	Body       string `json:"body"`
	URL        string `json:"url,omitempty"`
	Tag        string `json:"tag,omitempty"`
	SessionKey string `json:"sessionKey"`
}

// Service ties peer resolution, subscription storage and delivery together.
type Service struct {
	store      Store
	dispatcher *Dispatcher
	agentID    string
	now        func() time.Time
}

// NewService creates a push service for agentID's DM sessions.
func NewService(st Store, dispatcher *Dispatcher, agentID string) *Service {
	return &Service{store: st, dispatcher: dispatcher, agentID: agentID, now: time.Now}
}

// AgentID returns the agent whose DM keys the service accepts.
func (s *Service) AgentID() string {
	return s.agentID
}

// ResolvePeer parses sessionKey for the configured agent.
func (s *Service) ResolvePeer(sessionKey string) (string, error) {
	peer, ok := ParsePeerID(sessionKey, s.agentID)
	if !ok {
		return "", ErrNoPeer
	}
	return peer, nil
}

// Subscribe stores sub for the peer behind sessionKey after checking that
// userID owns it. Re-subscribing an endpoint moves it to the new owner.
func (s *Service) Subscribe(ctx context.Context, userID, sessionKey string, endpoint string, keys domain.PushKeys) (*domain.PushSubscription, error) {
	peer, err := s.ResolvePeer(sessionKey)
	if err != nil {
		return nil, err
	}
	if err := Authorize(userID, peer); err != nil {
		return nil, err
	}
	if err := validateSubscription(endpoint, keys); err != nil {
		return nil, err
	}

	now := s.now()
	sub := &domain.PushSubscription{
		ID:        uuid.NewString(),
		Endpoint:  endpoint,
		Keys:      keys,
		UserID:    userID,
		PeerID:    peer,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.UpsertPushSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("save subscription: %w", err)
	}
	return sub, nil
}

// Unsubscribe removes the caller's subscription for endpoint. It reports
// whether a row was deleted.
func (s *Service) Unsubscribe(ctx context.Context, userID, endpoint string) (bool, error) {
	n, err := s.store.DeleteUserPushSubscription(ctx, userID, endpoint)
	if err != nil {
		return false, fmt.Errorf("delete subscription: %w", err)
	}
	return n > 0, nil
}

// Send fans n out to the peer behind its session key.
func (s *Service) Send(ctx context.Context, n Notification) (Result, error) {
	peer, err := s.ResolvePeer(n.SessionKey)
	if err != nil {
		return Result{}, err
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return Result{}, fmt.Errorf("encode notification: %w", err)
	}
	return s.dispatcher.Fanout(ctx, peer, payload)
}

func validateSubscription(endpoint string, keys domain.PushKeys) error {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("%w: endpoint must be an https URL", ErrInvalidSubscription)
	}
	if strings.TrimSpace(keys.P256dh) == "" || strings.TrimSpace(keys.Auth) == "" {
		return fmt.Errorf("%w: missing keys", ErrInvalidSubscription)
	}
	return nil
}
