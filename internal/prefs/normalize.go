// Package prefs validates and merges the chat UI's per-user preferences.
//
// Payloads arrive as decoded JSON (any). Normalizers never fail: malformed
// entries are dropped and the remainder is kept.
package prefs

import (
	"encoding/json"
	"math"
	"sort"
	"strings"
	"unicode/utf8"
)

// Limits applied by the normalizers.
const (
	MaxSessionKeyLen  = 512
	MaxPinnedSessions = 50
	MaxTitleLen       = 160
	MaxSessionTitles  = 500
)

// TitleSource records who produced a session title.
type TitleSource string

const (
	SourceAuto   TitleSource = "auto"
	SourceUser   TitleSource = "user"
	SourceRemote TitleSource = "remote"
)

// StoredPinnedSessions is the persisted pinned-session list.
type StoredPinnedSessions struct {
	Keys        []string `json:"keys"`
	UpdatedAtMs int64    `json:"updatedAtMs"`
}

// StoredSessionTitle is the persisted title of one session.
type StoredSessionTitle struct {
	Title       string      `json:"title"`
	Source      TitleSource `json:"source"`
	UpdatedAtMs int64       `json:"updatedAtMs"`
}

// NormalizeSessionKey accepts non-empty trimmed strings of at most
// MaxSessionKeyLen characters.
func NormalizeSessionKey(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	if s == "" || utf8.RuneCountInString(s) > MaxSessionKeyLen {
		return "", false
	}
	return s, true
}

// NormalizePinnedKeys keeps the valid, distinct session keys of a sequence
// in first-seen order, capped at MaxPinnedSessions.
func NormalizePinnedKeys(v any) []string {
	return normalizeKeyList(v, MaxPinnedSessions)
}

// NormalizeKeyList is NormalizePinnedKeys with a caller-chosen cap.
func NormalizeKeyList(v any, limit int) []string {
	return normalizeKeyList(v, limit)
}

func normalizeKeyList(v any, limit int) []string {
	items, ok := v.([]any)
	if !ok {
		if strs, isStrings := v.([]string); isStrings {
			items = make([]any, len(strs))
			for i, s := range strs {
				items[i] = s
			}
		}
	}
	keys := make([]string, 0, min(len(items), limit))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if len(keys) >= limit {
			break
		}
		key, ok := NormalizeSessionKey(item)
		if !ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys
}

// NormalizeStoredTitle accepts a bare string (an auto title) or an object
// with a non-empty title, an optional source and an optional updatedAtMs.
func NormalizeStoredTitle(v any) (StoredSessionTitle, bool) {
	switch t := v.(type) {
	case string:
		title, ok := normalizeTitleText(t)
		if !ok {
			return StoredSessionTitle{}, false
		}
		return StoredSessionTitle{Title: title, Source: SourceAuto}, true
	case map[string]any:
		raw, _ := t["title"].(string)
		title, ok := normalizeTitleText(raw)
		if !ok {
			return StoredSessionTitle{}, false
		}
		out := StoredSessionTitle{Title: title, Source: SourceAuto}
		switch src, _ := t["source"].(string); TitleSource(src) {
		case SourceUser, SourceRemote:
			out.Source = TitleSource(src)
		}
		out.UpdatedAtMs = numberToMs(t["updatedAtMs"])
		return out, true
	default:
		return StoredSessionTitle{}, false
	}
}

func normalizeTitleText(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if utf8.RuneCountInString(s) > MaxTitleLen {
		s = string([]rune(s)[:MaxTitleLen])
	}
	return s, true
}

func numberToMs(v any) int64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int64:
		return n
	case int:
		return int64(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		parsed, err := n.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0
	}
	return int64(f)
}

// NormalizeTitleMap validates every entry of a plain object. Invalid keys
// or values are skipped individually. At most MaxSessionTitles entries are
// kept, preferring the most recently updated.
func NormalizeTitleMap(v any) map[string]StoredSessionTitle {
	out := normalizeTitleEntries(v)
	capTitles(out, MaxSessionTitles)
	return out
}

// normalizeTitleEntries is NormalizeTitleMap without the size cap.
func normalizeTitleEntries(v any) map[string]StoredSessionTitle {
	obj, ok := v.(map[string]any)
	if !ok {
		return map[string]StoredSessionTitle{}
	}
	out := make(map[string]StoredSessionTitle, len(obj))
	for rawKey, rawVal := range obj {
		key, ok := NormalizeSessionKey(rawKey)
		if !ok {
			continue
		}
		title, ok := NormalizeStoredTitle(rawVal)
		if !ok {
			continue
		}
		out[key] = title
	}
	return out
}

// capTitles evicts the oldest entries until at most limit remain. Ties are
// broken by key so eviction is deterministic.
func capTitles(titles map[string]StoredSessionTitle, limit int) {
	if len(titles) <= limit {
		return
	}
	keys := make([]string, 0, len(titles))
	for k := range titles {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := titles[keys[i]], titles[keys[j]]
		if a.UpdatedAtMs != b.UpdatedAtMs {
			return a.UpdatedAtMs < b.UpdatedAtMs
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys[:len(keys)-limit] {
		delete(titles, k)
	}
}

// normalizePinnedValue reads a stored pinned-sessions value.
func normalizePinnedValue(v any) StoredPinnedSessions {
	out := StoredPinnedSessions{Keys: []string{}}
	obj, ok := v.(map[string]any)
	if !ok {
		return out
	}
	out.Keys = NormalizePinnedKeys(obj["keys"])
	out.UpdatedAtMs = numberToMs(obj["updatedAtMs"])
	return out
}
