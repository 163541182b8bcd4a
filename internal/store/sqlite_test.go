package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/ashureev/chatdesk/internal/domain"
	"github.com/google/go-cmp/cmp"
)

func newTestSQLite(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

// newTestRepos returns the SQLite store and, when TEST_POSTGRES_DSN is set,
// a Postgres store so the same assertions run against both dialects.
func newTestRepos(t *testing.T) map[string]Repository {
	t.Helper()
	repos := map[string]Repository{"sqlite": newTestSQLite(t)}
	if dsn := os.Getenv("TEST_POSTGRES_DSN"); dsn != "" {
		pg, err := NewPostgres(dsn)
		if err != nil {
			t.Fatalf("NewPostgres failed: %v", err)
		}
		t.Cleanup(func() { _ = pg.Close() })
		repos["postgres"] = pg
	}
	return repos
}

func TestEnsureUserAndGetUser(t *testing.T) {
	for name, repo := range newTestRepos(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			userID := "user-" + name + "-" + time.Now().Format("150405.000000")

			if _, err := repo.GetUser(ctx, userID); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}

			first := time.UnixMilli(1_700_000_000_000)
			if err := repo.EnsureUser(ctx, userID, first); err != nil {
				t.Fatalf("EnsureUser failed: %v", err)
			}
			later := first.Add(time.Hour)
			if err := repo.EnsureUser(ctx, userID, later); err != nil {
				t.Fatalf("EnsureUser (second) failed: %v", err)
			}

			user, err := repo.GetUser(ctx, userID)
			if err != nil {
				t.Fatalf("GetUser failed: %v", err)
			}
			if !user.CreatedAt.Equal(first) {
				t.Errorf("CreatedAt = %v, want %v", user.CreatedAt, first)
			}
			if !user.LastSeenAt.Equal(later) {
				t.Errorf("LastSeenAt = %v, want %v", user.LastSeenAt, later)
			}
		})
	}
}

func TestPreferencesRoundTrip(t *testing.T) {
	for name, repo := range newTestRepos(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			userID := "prefs-" + name + "-" + time.Now().Format("150405.000000")

			if _, err := repo.GetPreferences(ctx, userID); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound for missing row, got %v", err)
			}

			if err := repo.UpsertPreferences(ctx, userID, json.RawMessage(`{"theme":"dark"}`)); err != nil {
				t.Fatalf("UpsertPreferences failed: %v", err)
			}
			if err := repo.UpsertPreferences(ctx, userID, json.RawMessage(`{"theme":"light","x":1}`)); err != nil {
				t.Fatalf("UpsertPreferences (replace) failed: %v", err)
			}

			raw, err := repo.GetPreferences(ctx, userID)
			if err != nil {
				t.Fatalf("GetPreferences failed: %v", err)
			}
			var got map[string]any
			if err := json.Unmarshal(raw, &got); err != nil {
				t.Fatalf("stored preferences are not JSON: %v", err)
			}
			want := map[string]any{"theme": "light", "x": float64(1)}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("preferences mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPushSubscriptionRouting(t *testing.T) {
	repo := newTestSQLite(t)
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)

	subs := []domain.PushSubscription{
		{ID: "1", Endpoint: "https://push.example/exact", UserID: "alice", PeerID: "alice:phone"},
		{ID: "2", Endpoint: "https://push.example/legacy", UserID: "alice", PeerID: ""},
		{ID: "3", Endpoint: "https://push.example/other", UserID: "bob", PeerID: "bob"},
		{ID: "4", Endpoint: "https://push.example/sibling", UserID: "alice", PeerID: "alice:laptop"},
	}
	for i := range subs {
		subs[i].Keys = domain.PushKeys{P256dh: "p", Auth: "a"}
		subs[i].CreatedAt = now.Add(time.Duration(i) * time.Second)
		subs[i].UpdatedAt = subs[i].CreatedAt
		if err := repo.UpsertPushSubscription(ctx, &subs[i]); err != nil {
			t.Fatalf("UpsertPushSubscription failed: %v", err)
		}
	}

	got, err := repo.ListPushSubscriptionsForPeer(ctx, "alice:phone")
	if err != nil {
		t.Fatalf("ListPushSubscriptionsForPeer failed: %v", err)
	}
	var endpoints []string
	for _, s := range got {
		endpoints = append(endpoints, s.Endpoint)
	}
	sort.Strings(endpoints)
	// user_id "alice" is a prefix of the peer, so every alice row matches.
	want := []string{
		"https://push.example/exact",
		"https://push.example/legacy",
		"https://push.example/sibling",
	}
	if diff := cmp.Diff(want, endpoints); diff != "" {
		t.Fatalf("routing mismatch (-want +got):\n%s", diff)
	}

	if err := repo.DeletePushSubscription(ctx, "https://push.example/legacy"); err != nil {
		t.Fatalf("DeletePushSubscription failed: %v", err)
	}
	n, err := repo.DeleteUserPushSubscription(ctx, "bob", "https://push.example/exact")
	if err != nil {
		t.Fatalf("DeleteUserPushSubscription failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected foreign delete to affect 0 rows, got %d", n)
	}

	got, err = repo.ListPushSubscriptionsForPeer(ctx, "alice:phone")
	if err != nil {
		t.Fatalf("ListPushSubscriptionsForPeer failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 subscriptions after delete, got %d", len(got))
	}
}

func TestUpsertPushSubscriptionReassignsEndpoint(t *testing.T) {
	repo := newTestSQLite(t)
	ctx := context.Background()
	now := time.Now()

	sub := &domain.PushSubscription{
		ID: "1", Endpoint: "https://push.example/e", Keys: domain.PushKeys{P256dh: "p1", Auth: "a1"},
		UserID: "alice", PeerID: "alice", CreatedAt: now, UpdatedAt: now,
	}
	if err := repo.UpsertPushSubscription(ctx, sub); err != nil {
		t.Fatalf("UpsertPushSubscription failed: %v", err)
	}
	sub2 := *sub
	sub2.ID = "2"
	sub2.Keys = domain.PushKeys{P256dh: "p2", Auth: "a2"}
	sub2.UserID, sub2.PeerID = "carol", "carol:tab"
	if err := repo.UpsertPushSubscription(ctx, &sub2); err != nil {
		t.Fatalf("UpsertPushSubscription (reassign) failed: %v", err)
	}

	got, err := repo.ListPushSubscriptionsForPeer(ctx, "carol:tab")
	if err != nil {
		t.Fatalf("ListPushSubscriptionsForPeer failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "1" || got[0].Keys.P256dh != "p2" {
		t.Fatalf("expected endpoint row to be updated in place, got %+v", got)
	}
	if alice, _ := repo.ListPushSubscriptionsForPeer(ctx, "alice"); len(alice) != 0 {
		t.Fatalf("expected alice to lose the endpoint, got %+v", alice)
	}
}

func TestInsightSignalsPrune(t *testing.T) {
	repo := newTestSQLite(t)
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	for i, created := range []time.Time{base, base.Add(time.Hour), base.Add(48 * time.Hour)} {
		sig := &domain.InsightSignal{
			ID:         "sig-" + string(rune('a'+i)),
			UserID:     "alice",
			SessionKey: "s1",
			Kind:       domain.InsightKindHint,
			Value:      "user-frustrated",
			OccurredAt: created,
			CreatedAt:  created,
		}
		if err := repo.InsertInsightSignal(ctx, sig); err != nil {
			t.Fatalf("InsertInsightSignal failed: %v", err)
		}
	}

	n, err := repo.PruneInsightSignals(ctx, base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("PruneInsightSignals failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 pruned rows, got %d", n)
	}
}

func TestRebindNumbersPlaceholders(t *testing.T) {
	s := &sqlStore{dialect: dialect{numbered: true}}
	got := s.rebind(`INSERT INTO t (a, b) VALUES (?, ?::jsonb)`)
	want := `INSERT INTO t (a, b) VALUES ($1, $2::jsonb)`
	if got != want {
		t.Fatalf("rebind = %q, want %q", got, want)
	}
}

func TestIsPostgresDSN(t *testing.T) {
	if !IsPostgresDSN("postgres://u:p@localhost/db") || !IsPostgresDSN("postgresql://localhost/db") {
		t.Fatal("expected postgres URLs to be detected")
	}
	if IsPostgresDSN("./data/chatdesk.db") {
		t.Fatal("expected file path to be treated as sqlite")
	}
}
