package hints

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/chatdesk/internal/domain"
)

// Func receives the new hint set whenever it changes.
type Func func(hints []string)

// Timer is the subset of *time.Timer the engine needs.
type Timer interface {
	Stop() bool
}

// Clock abstracts time so the debounce logic can be driven in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Observer is notified about emission outcomes. It is used for metrics.
type Observer interface {
	HintsEmitted(hints []string)
	HintsDropped()
}

type phase int

// MaxSeenIDs bounds how many processed message IDs a conversation keeps.
const MaxSeenIDs = 1024

const (
	phaseIdle phase = iota
	phasePending
)

// Engine tracks one active conversation and emits hint changes.
//
// A changed hint set moves the engine from idle to pending and arms a
// debounce timer; another changed set while pending re-arms it. When the
// timer fires the set is emitted unless the previous emission happened
// less than EmitCooldown ago, in which case it is dropped and the engine
// returns to idle.
type Engine struct {
	mu       sync.Mutex
	clock    Clock
	observer Observer

	sessionKey  string
	state       State
	seen        map[string]struct{}
	seenOrder   []string
	lastEmitted []string
	lastEmitAt  time.Time

	phase    phase
	pending  []string
	timer    Timer
	gen      uint64
	onChange Func
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the wall clock.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithObserver registers an emission observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// NewEngine creates an idle engine with no active session.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{clock: systemClock{}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SessionKey returns the active conversation identifier.
func (e *Engine) SessionKey() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionKey
}

// Reset switches the engine to sessionKey. When the key differs from the
// active one all state and any pending emission are discarded. It reports
// whether a reset happened.
func (e *Engine) Reset(sessionKey string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if sessionKey == e.sessionKey {
		return false
	}
	e.clearLocked()
	e.sessionKey = sessionKey
	return true
}

// Close discards all state. Pending timers become no-ops.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clearLocked()
	e.sessionKey = ""
}

func (e *Engine) clearLocked() {
	e.stopTimerLocked()
	e.state = State{}
	e.seen = nil
	e.seenOrder = nil
	e.lastEmitted = nil
	e.lastEmitAt = time.Time{}
	e.onChange = nil
}

func (e *Engine) stopTimerLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	// Bumping the generation invalidates a callback that already started.
	e.gen++
	e.phase = phaseIdle
	e.pending = nil
}

// Current returns the last emitted hint set.
func (e *Engine) Current() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.lastEmitted)
}

// Process handles the arrival of a new message. messages is the full
// ordered conversation; only the last entry is considered, and only if
// its ID has not been processed in this conversation before.
func (e *Engine) Process(messages []domain.Message, onChange Func) {
	if len(messages) == 0 {
		return
	}
	last := messages[len(messages)-1]

	e.mu.Lock()
	defer e.mu.Unlock()

	if strings.HasPrefix(last.ID, HistoryIDPrefix) {
		return
	}
	if !e.markSeenLocked(last.ID) {
		return
	}

	now := e.clock.Now()
	switch last.Role {
	case domain.RoleAssistant:
		e.state.LastAssistantAt = now
	case domain.RoleUser:
		content := strings.TrimSpace(last.Content)
		if content == "" || strings.HasPrefix(content, ProfileSyncMarker) {
			return
		}
		e.state.UserTimes = pruneWindow(append(e.state.UserTimes, now), now)
		e.state.LastUserAt = now
		e.state.LastUserContent = last.Content
	default:
		return
	}

	if onChange != nil {
		e.onChange = onChange
	}

	next := ComputeHints(e.state, now)
	if sameSet(next, e.lastEmitted) {
		if e.phase == phasePending {
			e.stopTimerLocked()
		}
		return
	}
	e.scheduleLocked(next)
}

// markSeenLocked records id and reports whether it was new. Empty IDs are
// never recorded. The oldest IDs are forgotten past MaxSeenIDs.
func (e *Engine) markSeenLocked(id string) bool {
	if id == "" {
		return true
	}
	if _, ok := e.seen[id]; ok {
		return false
	}
	if e.seen == nil {
		e.seen = make(map[string]struct{})
	}
	e.seen[id] = struct{}{}
	e.seenOrder = append(e.seenOrder, id)
	if len(e.seenOrder) > MaxSeenIDs {
		delete(e.seen, e.seenOrder[0])
		e.seenOrder = e.seenOrder[1:]
	}
	return true
}

func (e *Engine) scheduleLocked(next []string) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.gen++
	gen := e.gen
	e.pending = next
	e.phase = phasePending
	e.timer = e.clock.AfterFunc(DebounceDelay, func() { e.fire(gen) })
}

func (e *Engine) fire(gen uint64) {
	e.mu.Lock()
	if gen != e.gen || e.phase != phasePending {
		e.mu.Unlock()
		return
	}
	e.phase = phaseIdle
	e.timer = nil
	next := e.pending
	e.pending = nil

	now := e.clock.Now()
	if !e.lastEmitAt.IsZero() && now.Sub(e.lastEmitAt) < EmitCooldown {
		e.mu.Unlock()
		if e.observer != nil {
			e.observer.HintsDropped()
		}
		return
	}
	e.lastEmitted = next
	e.lastEmitAt = now
	cb := e.onChange
	e.mu.Unlock()

	if e.observer != nil {
		e.observer.HintsEmitted(next)
	}
	if cb != nil {
		cb(slices.Clone(next))
	}
}
