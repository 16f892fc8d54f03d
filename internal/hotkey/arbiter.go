package hotkey

import (
	"fmt"
	"slices"
	"sort"
	"time"
)

const (
	DefaultSettleWindow    = 60 * time.Millisecond
	DefaultReleaseDebounce = 80 * time.Millisecond
)

// KeyState is one sample of the keyboard: which modifiers and watched keys are down.
type KeyState struct {
	Mods Modifier
	Keys []VKey
	At   time.Time
}

// Down reports whether the non-modifier key vk is held in s.
func (s KeyState) Down(vk VKey) bool {
	return slices.Contains(s.Keys, vk)
}

// EventKind tags a hotkey transition.
type EventKind int

const (
	Pressed EventKind = iota + 1
	Released
)

func (k EventKind) String() string {
	switch k {
	case Pressed:
		return "pressed"
	case Released:
		return "released"
	}
	return "unknown"
}

// Event is a press or release transition of one definition.
type Event struct {
	Kind EventKind
	ID   string
	At   time.Time
}

// ArbiterOptions tunes timing. Zero values pick the defaults.
type ArbiterOptions struct {
	SettleWindow    time.Duration
	ReleaseDebounce time.Duration
}

type defState struct {
	def       Definition
	supersets []*defState

	matched      bool // condition held on the latest sample
	pressed      bool
	suppressed   bool
	matchSince   time.Time
	releaseSince time.Time
}

// Arbiter turns a stream of KeyState samples into press/release events.
// It is not safe for concurrent use; the poller goroutine owns it.
type Arbiter struct {
	opts   ArbiterOptions
	states []*defState
}

// NewArbiter registers defs. Definitions that require a strict superset of
// another definition's keys take priority over it.
func NewArbiter(opts ArbiterOptions, defs ...Definition) (*Arbiter, error) {
	if opts.SettleWindow <= 0 {
		opts.SettleWindow = DefaultSettleWindow
	}
	if opts.ReleaseDebounce <= 0 {
		opts.ReleaseDebounce = DefaultReleaseDebounce
	}
	seen := make(map[string]bool)
	states := make([]*defState, 0, len(defs))
	for _, d := range defs {
		if d.ID == "" {
			return nil, fmt.Errorf("hotkey definition without id")
		}
		if seen[d.ID] {
			return nil, fmt.Errorf("duplicate hotkey id %q", d.ID)
		}
		if d.Size() == 0 {
			return nil, fmt.Errorf("hotkey %q has no keys", d.ID)
		}
		seen[d.ID] = true
		states = append(states, &defState{def: d})
	}
	for _, st := range states {
		for _, o := range states {
			if o != st && o.def.Covers(st.def) {
				st.supersets = append(st.supersets, o)
			}
		}
	}
	// Supersets are evaluated before the definitions they cover.
	sort.SliceStable(states, func(i, j int) bool {
		a, b := states[i].def, states[j].def
		if a.Size() != b.Size() {
			return a.Size() > b.Size()
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.ID < b.ID
	})
	return &Arbiter{opts: opts, states: states}, nil
}

// Definitions returns the registered definitions in evaluation order.
func (a *Arbiter) Definitions() []Definition {
	out := make([]Definition, len(a.states))
	for i, st := range a.states {
		out[i] = st.def
	}
	return out
}

// Update consumes one sample and returns the transitions it caused, in order.
func (a *Arbiter) Update(s KeyState) []Event {
	var events []Event
	now := s.At
	for _, st := range a.states {
		st.matched = st.def.matches(s)

		if st.pressed {
			if st.matched {
				st.releaseSince = time.Time{}
				continue
			}
			if st.releaseSince.IsZero() {
				st.releaseSince = now
			}
			if now.Sub(st.releaseSince) >= a.opts.ReleaseDebounce {
				events = append(events, Event{Kind: Released, ID: st.def.ID, At: st.releaseSince})
				st.pressed = false
				st.releaseSince = time.Time{}
			}
			continue
		}

		if !st.matched {
			st.matchSince = time.Time{}
			st.suppressed = false
			continue
		}
		if st.suppressed {
			continue
		}
		if st.supersetEngaged() {
			st.suppressed = true
			st.matchSince = time.Time{}
			continue
		}
		if st.matchSince.IsZero() {
			st.matchSince = now
		}
		if len(st.supersets) > 0 && now.Sub(st.matchSince) < a.opts.SettleWindow {
			continue
		}
		events = append(events, Event{Kind: Pressed, ID: st.def.ID, At: now})
		st.pressed = true
		st.matchSince = time.Time{}
	}
	return events
}

func (st *defState) supersetEngaged() bool {
	for _, sup := range st.supersets {
		if sup.matched || sup.pressed {
			return true
		}
	}
	return false
}
