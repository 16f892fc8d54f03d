package notify

import (
	"github.com/gen2brain/beeep"
	"github.com/rs/zerolog"
)

// Desktop shows system notifications. Status covers recording and result
// popups; Failures covers errors and warnings.
type Desktop struct {
	Title    string
	Status   bool
	Failures bool

	show func(title, message string) error
	log  zerolog.Logger
}

func NewDesktop(status, failures bool, log zerolog.Logger) *Desktop {
	return &Desktop{
		Title:    "Dictate",
		Status:   status,
		Failures: failures,
		show:     func(title, message string) error { return beeep.Notify(title, message, "") },
		log:      log,
	}
}

func (d *Desktop) Notify(e Event) {
	msg, ok := d.message(e)
	if !ok {
		return
	}
	if err := d.show(d.Title, msg); err != nil {
		d.log.Debug().Err(err).Msg("desktop notification failed")
	}
}

func (d *Desktop) message(e Event) (string, bool) {
	switch e.Kind {
	case KindState:
		if d.Status && e.State == "recording" {
			return "Recording started", true
		}
	case KindResult:
		if !d.Status {
			return "", false
		}
		if e.Strategy == "typing" {
			return "Typed (clipboard busy)", true
		}
		return "Paste success", true
	case KindError, KindWarning:
		if d.Failures && e.Message != "" {
			return e.Message, true
		}
	}
	return "", false
}
