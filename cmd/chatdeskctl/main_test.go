package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/chatdesk/internal/domain"
	"github.com/ashureev/chatdesk/internal/store"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func seedDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chatdesk.db")
	repo, err := store.NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	if err := repo.EnsureUser(ctx, "alice", time.Now()); err != nil {
		t.Fatalf("EnsureUser failed: %v", err)
	}
	blob := `{"webchat.pinnedSessions":{"keys":["a"," a ","b",7],"updatedAtMs":5},` +
		`"webchat.sessionTitles":{"a":"First chat","b":{"title":"Mine","source":"user"}}}`
	if err := repo.UpsertPreferences(ctx, "alice", json.RawMessage(blob)); err != nil {
		t.Fatalf("UpsertPreferences failed: %v", err)
	}

	old := time.Now().Add(-60 * 24 * time.Hour)
	for i, createdAt := range []time.Time{old, old, time.Now()} {
		sig := &domain.InsightSignal{
			ID:         "sig-" + string(rune('a'+i)),
			UserID:     "alice",
			SessionKey: "a",
			Kind:       domain.InsightKindTopic,
			Value:      "premiere",
			OccurredAt: createdAt,
			CreatedAt:  createdAt,
		}
		if err := repo.InsertInsightSignal(ctx, sig); err != nil {
			t.Fatalf("InsertInsightSignal failed: %v", err)
		}
	}
	return path
}

func TestVersionCmd(t *testing.T) {
	out, err := runCmd(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(out, "chatdeskctl dev") {
		t.Errorf("expected output to contain 'chatdeskctl dev', got: %s", out)
	}
}

func TestPeerCmd(t *testing.T) {
	out, err := runCmd(t, "peer", "agent:main:webchat:dm:alice:tab:1", "--agent-id", "main")
	if err != nil {
		t.Fatalf("peer command failed: %v", err)
	}
	if strings.TrimSpace(out) != "alice:tab:1" {
		t.Errorf("peer = %q, want alice:tab:1", strings.TrimSpace(out))
	}

	if _, err := runCmd(t, "peer", "agent:main:main", "--agent-id", "main"); err == nil {
		t.Error("expected error for a non-DM session key")
	}

	cmd := newRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"peer", "garbage"})
	if code := execute(cmd); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
}

func TestPrefsShowCmd(t *testing.T) {
	path := seedDB(t)

	out, err := runCmd(t, "prefs", "show", "alice", "--database", path)
	if err != nil {
		t.Fatalf("prefs show failed: %v", err)
	}

	var got struct {
		PinnedSessions struct {
			Keys []string `json:"keys"`
		} `json:"pinnedSessions"`
		SessionTitles map[string]struct {
			Title  string `json:"title"`
			Source string `json:"source"`
		} `json:"sessionTitles"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if strings.Join(got.PinnedSessions.Keys, ",") != "a,b" {
		t.Errorf("pinned keys = %v, want [a b]", got.PinnedSessions.Keys)
	}
	if got.SessionTitles["a"].Source != "auto" || got.SessionTitles["b"].Source != "user" {
		t.Errorf("unexpected titles %+v", got.SessionTitles)
	}
}

func TestInsightsPruneCmd(t *testing.T) {
	path := seedDB(t)

	out, err := runCmd(t, "insights", "prune", "--database", path, "--older-than", "720h")
	if err != nil {
		t.Fatalf("insights prune failed: %v", err)
	}
	if !strings.Contains(out, "Pruned 2 insight signals") {
		t.Errorf("unexpected output: %s", out)
	}

	if _, err := runCmd(t, "insights", "prune", "--database", path, "--older-than", "0s"); err == nil {
		t.Error("expected error for non-positive --older-than")
	}
}
