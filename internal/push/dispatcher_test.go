package push

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ashureev/chatdesk/internal/domain"
)

type fakeStore struct {
	mu      sync.Mutex
	subs    map[string]domain.PushSubscription
	listErr error
	deleted []string
}

func newFakeStore(subs ...domain.PushSubscription) *fakeStore {
	f := &fakeStore{subs: map[string]domain.PushSubscription{}}
	for _, s := range subs {
		f.subs[s.Endpoint] = s
	}
	return f
}

func (f *fakeStore) ListPushSubscriptionsForPeer(_ context.Context, peerID string) ([]domain.PushSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []domain.PushSubscription
	for _, s := range f.subs {
		if s.PeerID == peerID || (s.UserID != "" && strings.HasPrefix(peerID, s.UserID)) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) DeletePushSubscription(_ context.Context, endpoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, endpoint)
	f.deleted = append(f.deleted, endpoint)
	return nil
}

func (f *fakeStore) UpsertPushSubscription(_ context.Context, sub *domain.PushSubscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[sub.Endpoint] = *sub
	return nil
}

func (f *fakeStore) DeleteUserPushSubscription(_ context.Context, userID, endpoint string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subs[endpoint]
	if !ok || s.UserID != userID {
		return 0, nil
	}
	delete(f.subs, endpoint)
	return 1, nil
}

func (f *fakeStore) has(endpoint string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.subs[endpoint]
	return ok
}

// fakeSender answers per endpoint with a scripted error.
type fakeSender struct {
	mu       sync.Mutex
	errs     map[string]error
	payloads [][]byte
}

func (f *fakeSender) Send(_ context.Context, sub domain.PushSubscription, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	return f.errs[sub.Endpoint]
}

type countingObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func (o *countingObserver) PushOutcome(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = map[string]int{}
	}
	o.counts[outcome]++
}

func sub(endpoint, userID, peerID string) domain.PushSubscription {
	return domain.PushSubscription{
		ID:       "id-" + endpoint,
		Endpoint: endpoint,
		Keys:     domain.PushKeys{P256dh: "p", Auth: "a"},
		UserID:   userID,
		PeerID:   peerID,
	}
}

func TestFanoutGoneSubscriptionIsDeleted(t *testing.T) {
	st := newFakeStore(
		sub("https://push.example/1", "abc", "abc:def"),
		sub("https://push.example/2", "abc", "abc:def"),
		sub("https://push.example/3", "abc", "abc:def"),
	)
	sender := &fakeSender{errs: map[string]error{
		"https://push.example/2": &DeliveryError{StatusCode: 410},
	}}
	obs := &countingObserver{}
	d := NewDispatcher(st, sender, WithConcurrency(2), WithObserver(obs))

	got, err := d.Fanout(context.Background(), "abc:def", []byte(`{}`))
	if err != nil {
		t.Fatalf("Fanout failed: %v", err)
	}
	if diff := cmp.Diff(Result{Delivered: 2, Failed: 1}, got); diff != "" {
		t.Fatalf("Fanout result mismatch (-want +got):\n%s", diff)
	}
	if st.has("https://push.example/2") {
		t.Fatal("expected gone subscription to be deleted")
	}
	if !st.has("https://push.example/1") || !st.has("https://push.example/3") {
		t.Fatal("expected healthy subscriptions to remain")
	}
	if diff := cmp.Diff(map[string]int{OutcomeDelivered: 2, OutcomePruned: 1}, obs.counts); diff != "" {
		t.Fatalf("observer mismatch (-want +got):\n%s", diff)
	}
}

func TestFanoutTransientFailureKeepsSubscription(t *testing.T) {
	st := newFakeStore(
		sub("https://push.example/1", "abc", "abc"),
		sub("https://push.example/2", "abc", "abc"),
	)
	sender := &fakeSender{errs: map[string]error{
		"https://push.example/1": &DeliveryError{StatusCode: 500},
		"https://push.example/2": errors.New("connection reset"),
	}}
	d := NewDispatcher(st, sender)

	got, err := d.Fanout(context.Background(), "abc", []byte(`{}`))
	if err != nil {
		t.Fatalf("Fanout failed: %v", err)
	}
	if got != (Result{Delivered: 0, Failed: 2}) {
		t.Fatalf("unexpected result %+v", got)
	}
	if len(st.deleted) != 0 {
		t.Fatalf("expected no deletions, got %v", st.deleted)
	}
}

func TestFanoutNotFoundIsAlsoGone(t *testing.T) {
	st := newFakeStore(sub("https://push.example/1", "abc", "abc"))
	sender := &fakeSender{errs: map[string]error{
		"https://push.example/1": &DeliveryError{StatusCode: 404},
	}}
	d := NewDispatcher(st, sender)

	if _, err := d.Fanout(context.Background(), "abc", nil); err != nil {
		t.Fatalf("Fanout failed: %v", err)
	}
	if st.has("https://push.example/1") {
		t.Fatal("expected 404 subscription to be deleted")
	}
}

func TestFanoutPrefixFallback(t *testing.T) {
	st := newFakeStore(
		sub("https://push.example/legacy", "abc", ""),
		sub("https://push.example/other", "zzz", "zzz"),
	)
	sender := &fakeSender{}
	d := NewDispatcher(st, sender)

	got, err := d.Fanout(context.Background(), "abc:tab", nil)
	if err != nil {
		t.Fatalf("Fanout failed: %v", err)
	}
	if got != (Result{Delivered: 1}) {
		t.Fatalf("unexpected result %+v", got)
	}
}

func TestFanoutListError(t *testing.T) {
	st := newFakeStore()
	st.listErr = errors.New("db down")
	d := NewDispatcher(st, &fakeSender{})

	if _, err := d.Fanout(context.Background(), "abc", nil); err == nil {
		t.Fatal("expected list error to surface")
	}
}

func TestServiceSubscribe(t *testing.T) {
	st := newFakeStore()
	svc := NewService(st, NewDispatcher(st, &fakeSender{}), "main")
	ctx := context.Background()
	keys := domain.PushKeys{P256dh: "p", Auth: "a"}

	created, err := svc.Subscribe(ctx, "abc", "agent:main:webchat:dm:abc:tab1", "https://push.example/1", keys)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if created.PeerID != "abc:tab1" || created.UserID != "abc" || created.ID == "" {
		t.Fatalf("unexpected subscription %+v", created)
	}

	if _, err := svc.Subscribe(ctx, "xyz", "agent:main:webchat:dm:abc", "https://push.example/2", keys); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.Subscribe(ctx, "abc", "agent:other:webchat:dm:abc", "https://push.example/2", keys); !errors.Is(err, ErrNoPeer) {
		t.Fatalf("expected ErrNoPeer, got %v", err)
	}
	if _, err := svc.Subscribe(ctx, "abc", "agent:main:webchat:dm:abc", "http://push.example/2", keys); !errors.Is(err, ErrInvalidSubscription) {
		t.Fatalf("expected ErrInvalidSubscription for http endpoint, got %v", err)
	}
	if _, err := svc.Subscribe(ctx, "abc", "agent:main:webchat:dm:abc", "https://push.example/2", domain.PushKeys{}); !errors.Is(err, ErrInvalidSubscription) {
		t.Fatalf("expected ErrInvalidSubscription for missing keys, got %v", err)
	}
}

func TestServiceUnsubscribeOnlyOwnRows(t *testing.T) {
	st := newFakeStore(sub("https://push.example/1", "abc", "abc"))
	svc := NewService(st, NewDispatcher(st, &fakeSender{}), "main")
	ctx := context.Background()

	removed, err := svc.Unsubscribe(ctx, "xyz", "https://push.example/1")
	if err != nil || removed {
		t.Fatalf("expected foreign unsubscribe to be a no-op, got removed=%v err=%v", removed, err)
	}
	removed, err = svc.Unsubscribe(ctx, "abc", "https://push.example/1")
	if err != nil || !removed {
		t.Fatalf("expected owner unsubscribe to remove row, got removed=%v err=%v", removed, err)
	}
}

func TestServiceSendEncodesNotification(t *testing.T) {
	st := newFakeStore(sub("https://push.example/1", "abc", "abc"))
	sender := &fakeSender{}
	svc := NewService(st, NewDispatcher(st, sender), "main")

	n := Notification{Title: "Render done", Body: "Your export finished", SessionKey: "agent:main:webchat:dm:abc"}
	got, err := svc.Send(context.Background(), n)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got.Delivered != 1 {
		t.Fatalf("expected 1 delivery, got %+v", got)
	}

	var decoded Notification
	if err := json.Unmarshal(sender.payloads[0], &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if diff := cmp.Diff(n, decoded); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}

	if _, err := svc.Send(context.Background(), Notification{SessionKey: "opaque"}); !errors.Is(err, ErrNoPeer) {
		t.Fatalf("expected ErrNoPeer, got %v", err)
	}
}

func TestDeliveryErrorGone(t *testing.T) {
	for code, want := range map[int]bool{404: true, 410: true, 400: false, 429: false, 500: false} {
		if got := (&DeliveryError{StatusCode: code}).Gone(); got != want {
			t.Errorf("Gone() for %d = %v, want %v", code, got, want)
		}
	}
}
