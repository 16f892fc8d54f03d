// Package notify fans dictation progress out to the user: desktop
// notifications, the log and the local UI hub.
package notify

import (
	"time"

	"github.com/rs/zerolog"
)

type Kind string

const (
	KindState   Kind = "state"
	KindLevel   Kind = "level"
	KindResult  Kind = "result"
	KindError   Kind = "error"
	KindWarning Kind = "warning"
	KindQuery   Kind = "query"
)

// Event is one update about a dictation session. Fields not relevant to Kind
// are left zero.
type Event struct {
	Kind      Kind      `json:"kind"`
	Session   uint64    `json:"session,omitempty"`
	State     string    `json:"state,omitempty"`
	Level     float64   `json:"level,omitempty"`
	Text      string    `json:"text,omitempty"`
	Strategy  string    `json:"strategy,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Message   string    `json:"message,omitempty"`
	At        time.Time `json:"at"`
}

// Notifier must not block; slow consumers drop or queue internally.
type Notifier interface {
	Notify(Event)
}

type Func func(Event)

func (f Func) Notify(e Event) { f(e) }

type Multi []Notifier

func (m Multi) Notify(e Event) {
	for _, n := range m {
		if n != nil {
			n.Notify(e)
		}
	}
}

// Log writes events to a zerolog logger. Level events are only visible at trace.
type Log struct {
	log zerolog.Logger
}

func NewLog(log zerolog.Logger) Log { return Log{log: log} }

func (l Log) Notify(e Event) {
	var ev *zerolog.Event
	switch e.Kind {
	case KindLevel:
		ev = l.log.Trace()
	case KindError:
		ev = l.log.Error().Str("error_kind", e.ErrorKind)
	case KindWarning:
		ev = l.log.Warn()
	default:
		ev = l.log.Info()
	}
	ev = ev.Uint64("session", e.Session)
	switch e.Kind {
	case KindState:
		ev.Str("state", e.State).Msg("state")
	case KindLevel:
		ev.Float64("level", e.Level).Msg("level")
	case KindResult:
		ev.Str("strategy", e.Strategy).Int("chars", len([]rune(e.Text))).Msg("text delivered")
	case KindQuery:
		ev.Str("query", e.Text).Msg("query routed")
	default:
		ev.Msg(e.Message)
	}
}
