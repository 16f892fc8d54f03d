package notify

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/rs/zerolog"
)

func TestMultiFansOut(t *testing.T) {
	var a, b []Kind
	m := Multi{
		Func(func(e Event) { a = append(a, e.Kind) }),
		nil,
		Func(func(e Event) { b = append(b, e.Kind) }),
	}
	m.Notify(Event{Kind: KindState})
	m.Notify(Event{Kind: KindResult})
	want := []Kind{KindState, KindResult}
	if !reflect.DeepEqual(a, want) || !reflect.DeepEqual(b, want) {
		t.Fatalf("a=%v b=%v", a, b)
	}
}

func TestDesktopGating(t *testing.T) {
	cases := []struct {
		name             string
		status, failures bool
		ev               Event
		want             string
	}{
		{"recording", true, false, Event{Kind: KindState, State: "recording"}, "Recording started"},
		{"processing silent", true, true, Event{Kind: KindState, State: "processing"}, ""},
		{"status off", false, true, Event{Kind: KindState, State: "recording"}, ""},
		{"paste", true, false, Event{Kind: KindResult, Strategy: "clipboard"}, "Paste success"},
		{"typed", true, false, Event{Kind: KindResult, Strategy: "typing"}, "Typed (clipboard busy)"},
		{"error shown", false, true, Event{Kind: KindError, Message: "Transcription failed"}, "Transcription failed"},
		{"error hidden", true, false, Event{Kind: KindError, Message: "Transcription failed"}, ""},
		{"level never", true, true, Event{Kind: KindLevel, Level: 0.5}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got string
			d := NewDesktop(tc.status, tc.failures, zerolog.Nop())
			d.show = func(_, msg string) error { got = msg; return nil }
			d.Notify(tc.ev)
			if got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestDesktopShowErrorIgnored(t *testing.T) {
	d := NewDesktop(true, true, zerolog.Nop())
	d.show = func(string, string) error { return errors.New("no dbus") }
	d.Notify(Event{Kind: KindError, Message: "x"})
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	l := NewLog(zerolog.New(&buf).Level(zerolog.InfoLevel))
	l.Notify(Event{Kind: KindLevel, Session: 1, Level: 0.3})
	if buf.Len() != 0 {
		t.Fatalf("level events should stay below info: %s", buf.String())
	}
	l.Notify(Event{Kind: KindError, Session: 2, ErrorKind: "clipboard", Message: "Could not insert text"})
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if rec["level"] != "error" || rec["error_kind"] != "clipboard" || rec["message"] != "Could not insert text" {
		t.Fatalf("unexpected log record: %v", rec)
	}
	if rec["session"].(float64) != 2 {
		t.Fatalf("session missing: %v", rec)
	}
}
