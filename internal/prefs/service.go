package prefs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/ashureev/chatdesk/internal/store"
)

// Namespaced sub-keys inside the preference blob.
const (
	PinnedSessionsKey = "webchat.pinnedSessions"
	SessionTitlesKey  = "webchat.sessionTitles"
)

// Store is the persistence the service needs.
type Store interface {
	GetPreferences(ctx context.Context, userID string) (json.RawMessage, error)
	UpsertPreferences(ctx context.Context, userID string, prefs json.RawMessage) error
}

const lockStripes = 64

// Service reads and merges preference blobs.
type Service struct {
	store Store
	now   func() time.Time
	locks [lockStripes]sync.Mutex
}

// NewService creates a preference service backed by st.
func NewService(st Store) *Service {
	return &Service{store: st, now: time.Now}
}

func (s *Service) lockFor(userID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &s.locks[h.Sum32()%lockStripes]
}

// Blob returns the user's full preference object. A missing row is an
// empty object, not an error.
func (s *Service) Blob(ctx context.Context, userID string) (map[string]json.RawMessage, error) {
	raw, err := s.store.GetPreferences(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}
	blob := map[string]json.RawMessage{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return blob, nil
	}
	if err := json.Unmarshal(raw, &blob); err != nil || blob == nil {
		slog.Warn("Stored preferences are not a JSON object, treating as empty", "user_id", userID, "error", err)
		return map[string]json.RawMessage{}, nil
	}
	return blob, nil
}

func decodeAny(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

// PinnedSessions returns the normalized pinned-session list.
func (s *Service) PinnedSessions(ctx context.Context, userID string) (StoredPinnedSessions, error) {
	blob, err := s.Blob(ctx, userID)
	if err != nil {
		return StoredPinnedSessions{}, err
	}
	return normalizePinnedValue(decodeAny(blob[PinnedSessionsKey])), nil
}

// SessionTitles returns the normalized session-title map.
func (s *Service) SessionTitles(ctx context.Context, userID string) (map[string]StoredSessionTitle, error) {
	blob, err := s.Blob(ctx, userID)
	if err != nil {
		return nil, err
	}
	return NormalizeTitleMap(decodeAny(blob[SessionTitlesKey])), nil
}

// SetPinnedSessions replaces the pinned-session sub-key wholesale with the
// normalized form of keys.
func (s *Service) SetPinnedSessions(ctx context.Context, userID string, keys any) (StoredPinnedSessions, error) {
	mu := s.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	blob, err := s.Blob(ctx, userID)
	if err != nil {
		return StoredPinnedSessions{}, err
	}
	pinned := StoredPinnedSessions{
		Keys:        NormalizePinnedKeys(keys),
		UpdatedAtMs: s.now().UnixMilli(),
	}
	if err := s.save(ctx, userID, blob, PinnedSessionsKey, pinned); err != nil {
		return StoredPinnedSessions{}, err
	}
	return pinned, nil
}

// UpdateSessionTitles merges set into the stored titles key by key, then
// deletes every key listed in remove. Removals win over same-batch sets.
// Undated entries in set are stamped with the current time before the
// merged map is capped.
func (s *Service) UpdateSessionTitles(ctx context.Context, userID string, set, remove any) (map[string]StoredSessionTitle, error) {
	mu := s.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	blob, err := s.Blob(ctx, userID)
	if err != nil {
		return nil, err
	}
	titles := NormalizeTitleMap(decodeAny(blob[SessionTitlesKey]))
	now := s.now().UnixMilli()
	for key, title := range normalizeTitleEntries(set) {
		if title.UpdatedAtMs == 0 {
			title.UpdatedAtMs = now
		}
		titles[key] = title
	}
	for _, key := range NormalizeKeyList(remove, math.MaxInt) {
		delete(titles, key)
	}
	capTitles(titles, MaxSessionTitles)

	if err := s.save(ctx, userID, blob, SessionTitlesKey, titles); err != nil {
		return nil, err
	}
	return titles, nil
}

func (s *Service) save(ctx context.Context, userID string, blob map[string]json.RawMessage, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	blob[key] = encoded
	raw, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	if err := s.store.UpsertPreferences(ctx, userID, raw); err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}
