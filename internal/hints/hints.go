// Package hints derives behavioral tags from a live conversation.
//
// The engine looks at the timing and content of the most recent messages
// and produces a small set of hints (frustration, fast follow-up, long
// question, topics of interest). Emission is debounced and rate limited
// so the UI is not flooded while the user types in bursts.
package hints

import (
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Fixed hint vocabulary.
const (
	UserFrustrated     = "user-frustrated"
	NeedsClarification = "needs-clarification"
	DetailedQuestion   = "detailed-question"

	// TopicPrefix prefixes dynamically generated topic hints, e.g. "topic:render".
	TopicPrefix = "topic:"
)

// Heuristic thresholds.
const (
	FrustrationWindow    = 60 * time.Second
	FrustrationThreshold = 3
	ClarificationWindow  = 30 * time.Second
	DetailedQuestionLen  = 200

	DebounceDelay = 2 * time.Second
	EmitCooldown  = 10 * time.Second

	// maxWindowEntries bounds the timestamp window even if the clock misbehaves.
	maxWindowEntries = 32
)

// Reserved markers for messages that are not live user interaction.
const (
	HistoryIDPrefix   = "history-"
	ProfileSyncMarker = "[profile-sync]"
)

// Topic is one entry of the keyword table.
type Topic struct {
	Name     string
	Keywords []string
}

// Topics is the fixed keyword table, in emission order.
var Topics = []Topic{
	{Name: "after-effects", Keywords: []string{"after effects", "after-effects", "aftereffects", "ae"}},
	{Name: "premiere", Keywords: []string{"premiere", "ppro"}},
	{Name: "render", Keywords: []string{"render", "export", "encode", "media encoder"}},
	{Name: "expressions", Keywords: []string{"expression", "wiggle", "valueatime"}},
	{Name: "workflow", Keywords: []string{"workflow", "pipeline", "shortcut", "template"}},
	{Name: "subtitles", Keywords: []string{"subtitle", "caption", "srt", "transcript"}},
}

type topicMatcher struct {
	name      string
	wholeWord []*regexp.Regexp
	substr    []string
}

var matchers = compileTopics(Topics)

func compileTopics(topics []Topic) []topicMatcher {
	out := make([]topicMatcher, 0, len(topics))
	for _, t := range topics {
		m := topicMatcher{name: t.Name}
		for _, kw := range t.Keywords {
			kw = strings.ToLower(kw)
			if isShortKeyword(kw) {
				m.wholeWord = append(m.wholeWord, regexp.MustCompile(`\b`+regexp.QuoteMeta(kw)+`\b`))
				continue
			}
			m.substr = append(m.substr, kw)
		}
		out = append(out, m)
	}
	return out
}

// isShortKeyword reports whether kw is at most three alphanumeric characters.
func isShortKeyword(kw string) bool {
	if kw == "" || utf8.RuneCountInString(kw) > 3 {
		return false
	}
	for _, r := range kw {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func (m topicMatcher) matches(lower string) bool {
	for _, s := range m.substr {
		if strings.Contains(lower, s) {
			return true
		}
	}
	for _, re := range m.wholeWord {
		if re.MatchString(lower) {
			return true
		}
	}
	return false
}

// MatchTopics returns the names of all topics mentioned in content,
// in keyword table order.
func MatchTopics(content string) []string {
	lower := strings.ToLower(content)
	var names []string
	for _, m := range matchers {
		if m.matches(lower) {
			names = append(names, m.name)
		}
	}
	return names
}

// State is the per-conversation input to ComputeHints.
type State struct {
	UserTimes       []time.Time
	LastAssistantAt time.Time
	LastUserAt      time.Time
	LastUserContent string
}

// ComputeHints derives the hint set for s at time now. It is a pure function.
// The result lists the fixed flags first, then topics in table order.
func ComputeHints(s State, now time.Time) []string {
	hints := make([]string, 0, 4)

	recent := 0
	for _, t := range s.UserTimes {
		if age := now.Sub(t); age >= 0 && age <= FrustrationWindow {
			recent++
		}
	}
	if recent >= FrustrationThreshold {
		hints = append(hints, UserFrustrated)
	}

	if !s.LastUserAt.IsZero() && !s.LastAssistantAt.IsZero() {
		gap := s.LastUserAt.Sub(s.LastAssistantAt)
		if gap > 0 && gap < ClarificationWindow {
			hints = append(hints, NeedsClarification)
		}
	}

	if utf8.RuneCountInString(s.LastUserContent) > DetailedQuestionLen {
		hints = append(hints, DetailedQuestion)
	}

	for _, name := range MatchTopics(s.LastUserContent) {
		hints = append(hints, TopicPrefix+name)
	}
	return hints
}

// IsHint reports whether tag belongs to the hint vocabulary.
func IsHint(tag string) bool {
	switch tag {
	case UserFrustrated, NeedsClarification, DetailedQuestion:
		return true
	}
	name, ok := strings.CutPrefix(tag, TopicPrefix)
	if !ok {
		return false
	}
	for _, t := range Topics {
		if t.Name == name {
			return true
		}
	}
	return false
}

// sameSet compares two hint lists ignoring order.
func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, h := range a {
		seen[h]++
	}
	for _, h := range b {
		if seen[h] == 0 {
			return false
		}
		seen[h]--
	}
	return true
}

// pruneWindow drops timestamps older than the frustration window.
func pruneWindow(times []time.Time, now time.Time) []time.Time {
	kept := times[:0]
	for _, t := range times {
		if now.Sub(t) <= FrustrationWindow {
			kept = append(kept, t)
		}
	}
	if len(kept) > maxWindowEntries {
		kept = kept[len(kept)-maxWindowEntries:]
	}
	return kept
}
