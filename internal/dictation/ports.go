package dictation

import (
	"context"

	"dictate/internal/asr"
	"dictate/internal/config"
	"dictate/internal/focus"
	"dictate/internal/history"
	"dictate/internal/inject"
	"dictate/internal/record"
)

// Recording is one in-progress capture. *record.Session satisfies it.
type Recording interface {
	// Done closes when capture ends, on Stop or on its own.
	Done() <-chan struct{}
	Err() error
	Stop() (record.Buffer, error)
}

type Recorder interface {
	Start(ctx context.Context, deviceID string) (Recording, error)
}

type captureRecorder struct{ c *record.Capture }

// FromCapture adapts a record.Capture to Recorder.
func FromCapture(c *record.Capture) Recorder { return captureRecorder{c} }

func (r captureRecorder) Start(ctx context.Context, deviceID string) (Recording, error) {
	s, err := r.c.Start(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return s, nil
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio record.Buffer, language string) (asr.Result, error)
}

type Polisher interface {
	Polish(ctx context.Context, text string, notes bool) (string, error)
}

// Commander carries out spoken commands against the focused application.
type Commander interface {
	Transform(ctx context.Context, selection, instruction string) (string, error)
	Generate(ctx context.Context, instruction string) (string, error)
}

// QueryRouter forwards a spoken query when nothing editable has focus.
type QueryRouter interface {
	Route(ctx context.Context, query string) error
}

type FocusProbe interface {
	Inspect(ctx context.Context) (focus.State, error)
}

type Injector interface {
	Inject(ctx context.Context, req inject.Request) inject.Result
}

type History interface {
	Record(ctx context.Context, e history.Entry) error
}

// SettingsSource supplies the snapshot read at the start of each session.
type SettingsSource interface {
	Config() config.Config
}
