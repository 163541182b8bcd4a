package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/ashureev/chatdesk/internal/domain"
)

// Delivery outcomes reported to an Observer.
const (
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
	OutcomePruned    = "pruned"
)

// SubscriptionStore is the persistence the dispatcher needs.
type SubscriptionStore interface {
	ListPushSubscriptionsForPeer(ctx context.Context, peerID string) ([]domain.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, endpoint string) error
}

// Observer receives one call per delivery attempt.
type Observer interface {
	PushOutcome(outcome string)
}

// Result counts the outcome of a fan-out.
type Result struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

// Dispatcher delivers a payload to every subscription of a peer.
type Dispatcher struct {
	store       SubscriptionStore
	sender      Sender
	observer    Observer
	concurrency int
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithConcurrency bounds the number of in-flight deliveries.
func WithConcurrency(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// WithObserver reports delivery outcomes to o.
func WithObserver(o Observer) DispatcherOption {
	return func(d *Dispatcher) { d.observer = o }
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(st SubscriptionStore, sender Sender, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{store: st, sender: sender, concurrency: 8}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Fanout sends payload to every subscription routed to peerID. Individual
// delivery failures are counted, never returned; subscriptions the push
// service reports as gone are deleted. Only a failure to list
// subscriptions is an error.
func (d *Dispatcher) Fanout(ctx context.Context, peerID string, payload []byte) (Result, error) {
	subs, err := d.store.ListPushSubscriptionsForPeer(ctx, peerID)
	if err != nil {
		return Result{}, fmt.Errorf("list subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return Result{}, nil
	}

	var delivered, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	for _, sub := range subs {
		g.Go(func() error {
			if err := d.sender.Send(gctx, sub, payload); err != nil {
				failed.Add(1)
				d.handleFailure(gctx, peerID, sub, err)
				return nil
			}
			delivered.Add(1)
			d.observe(OutcomeDelivered)
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Delivered: int(delivered.Load()), Failed: int(failed.Load())}
	slog.Info("Push fan-out finished", "peer_id", peerID, "delivered", res.Delivered, "failed", res.Failed)
	return res, nil
}

func (d *Dispatcher) handleFailure(ctx context.Context, peerID string, sub domain.PushSubscription, err error) {
	var de *DeliveryError
	if errors.As(err, &de) && de.Gone() {
		d.observe(OutcomePruned)
		if delErr := d.store.DeletePushSubscription(ctx, sub.Endpoint); delErr != nil {
			slog.Warn("Failed to delete expired push subscription", "peer_id", peerID, "subscription_id", sub.ID, "error", delErr)
			return
		}
		slog.Info("Deleted expired push subscription", "peer_id", peerID, "subscription_id", sub.ID, "status", de.StatusCode)
		return
	}
	d.observe(OutcomeFailed)
	slog.Warn("Push delivery failed", "peer_id", peerID, "subscription_id", sub.ID, "error", err)
}

func (d *Dispatcher) observe(outcome string) {
	if d.observer != nil {
		d.observer.PushOutcome(outcome)
	}
}
