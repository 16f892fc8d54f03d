package hotkey

import (
	"testing"
	"time"
)

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func at(ms int) time.Time { return epoch.Add(time.Duration(ms) * time.Millisecond) }

type span struct {
	from, to int
	mods     Modifier
	keys     []VKey
}

// feed drives the arbiter with 15 ms samples covering each span in turn.
func feed(a *Arbiter, spans ...span) []Event {
	var out []Event
	for _, sp := range spans {
		for ms := sp.from; ms <= sp.to; ms += 15 {
			out = append(out, a.Update(KeyState{Mods: sp.mods, Keys: sp.keys, At: at(ms)})...)
		}
	}
	return out
}

func dictationAndCommand(t *testing.T) *Arbiter {
	t.Helper()
	dict, err := ParseDefinition("dictation", "ctrl+win")
	if err != nil {
		t.Fatal(err)
	}
	cmd, err := ParseDefinition("command", "ctrl+win+alt")
	if err != nil {
		t.Fatal(err)
	}
	a, err := NewArbiter(ArbiterOptions{}, dict, cmd)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func expectEvents(t *testing.T, got []Event, want ...Event) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i].Kind != want[i].Kind || got[i].ID != want[i].ID || !got[i].At.Equal(want[i].At) {
			t.Fatalf("event %d: got %v %s @%v, want %v %s @%v", i,
				got[i].Kind, got[i].ID, got[i].At.Sub(epoch), want[i].Kind, want[i].ID, want[i].At.Sub(epoch))
		}
	}
}

func TestSubsetFiresAfterSettleWindow(t *testing.T) {
	a := dictationAndCommand(t)
	evs := feed(a, span{0, 150, ModCtrl | ModWin, nil})
	expectEvents(t, evs, Event{Kind: Pressed, ID: "dictation", At: at(60)})
}

func TestSupersetPreemptsSubsetDuringSettle(t *testing.T) {
	a := dictationAndCommand(t)
	evs := feed(a,
		span{0, 30, ModCtrl | ModWin, nil},
		span{45, 300, ModCtrl | ModWin | ModAlt, nil},
		span{315, 450, 0, nil},
	)
	expectEvents(t, evs,
		Event{Kind: Pressed, ID: "command", At: at(45)},
		Event{Kind: Released, ID: "command", At: at(315)},
	)
}

func TestSupersetFiresImmediately(t *testing.T) {
	a := dictationAndCommand(t)
	evs := feed(a, span{0, 0, ModCtrl | ModWin | ModAlt, nil})
	expectEvents(t, evs, Event{Kind: Pressed, ID: "command", At: at(0)})
}

func TestSubsetStaysSuppressedUntilItsKeysClear(t *testing.T) {
	a := dictationAndCommand(t)
	evs := feed(a,
		span{0, 150, ModCtrl | ModWin | ModAlt, nil},
		span{165, 400, ModCtrl | ModWin, nil},
		span{415, 500, 0, nil},
	)
	expectEvents(t, evs,
		Event{Kind: Pressed, ID: "command", At: at(0)},
		Event{Kind: Released, ID: "command", At: at(165)},
	)

	// A fresh press after everything was released works again.
	evs = feed(a, span{515, 600, ModCtrl | ModWin, nil})
	expectEvents(t, evs, Event{Kind: Pressed, ID: "dictation", At: at(575)})
}

func TestShortTapBelowSettleWindowIsIgnored(t *testing.T) {
	a := dictationAndCommand(t)
	evs := feed(a,
		span{0, 30, ModCtrl | ModWin, nil},
		span{45, 300, 0, nil},
	)
	expectEvents(t, evs)
}

func TestReleaseDebounceToleratesSingleTickGap(t *testing.T) {
	d, _ := ParseDefinition("dictation", "ctrl+win")
	a, err := NewArbiter(ArbiterOptions{}, d)
	if err != nil {
		t.Fatal(err)
	}
	evs := feed(a,
		span{0, 90, ModCtrl | ModWin, nil},
		span{105, 105, ModCtrl, nil},
		span{120, 300, ModCtrl | ModWin, nil},
	)
	expectEvents(t, evs, Event{Kind: Pressed, ID: "dictation", At: at(0)})
}

func TestReleaseEmittedAfterDebounce(t *testing.T) {
	d, _ := ParseDefinition("dictation", "ctrl+win")
	a, err := NewArbiter(ArbiterOptions{}, d)
	if err != nil {
		t.Fatal(err)
	}
	var evs []Event
	evs = append(evs, feed(a, span{0, 90, ModCtrl | ModWin, nil})...)
	evs = append(evs, feed(a, span{105, 180, 0, nil})...)
	if len(evs) != 1 {
		t.Fatalf("release must wait for the debounce window, got %+v", evs)
	}
	evs = append(evs, feed(a, span{195, 300, 0, nil})...)
	expectEvents(t, evs,
		Event{Kind: Pressed, ID: "dictation", At: at(0)},
		Event{Kind: Released, ID: "dictation", At: at(105)},
	)
}

func TestRepressAfterReleaseFiresAgain(t *testing.T) {
	d, _ := ParseDefinition("dictation", "ctrl+win")
	a, _ := NewArbiter(ArbiterOptions{}, d)
	evs := feed(a,
		span{0, 30, ModCtrl | ModWin, nil},
		span{45, 300, 0, nil},
		span{315, 330, ModCtrl | ModWin, nil},
	)
	expectEvents(t, evs,
		Event{Kind: Pressed, ID: "dictation", At: at(0)},
		Event{Kind: Released, ID: "dictation", At: at(45)},
		Event{Kind: Pressed, ID: "dictation", At: at(315)},
	)
}

func TestNonModifierKeyMustBeHeld(t *testing.T) {
	d, _ := ParseDefinition("start", "alt+q")
	a, _ := NewArbiter(ArbiterOptions{}, d)
	evs := feed(a,
		span{0, 60, ModAlt, nil},
		span{75, 90, ModAlt, []VKey{'Q'}},
	)
	expectEvents(t, evs, Event{Kind: Pressed, ID: "start", At: at(75)})
}

func TestNewArbiterValidates(t *testing.T) {
	d := Definition{ID: "a", Mods: ModCtrl}
	if _, err := NewArbiter(ArbiterOptions{}, d, d); err == nil {
		t.Fatalf("expected duplicate id error")
	}
	if _, err := NewArbiter(ArbiterOptions{}, Definition{ID: "empty"}); err == nil {
		t.Fatalf("expected error for definition without keys")
	}
	if _, err := NewArbiter(ArbiterOptions{}, Definition{Mods: ModCtrl}); err == nil {
		t.Fatalf("expected error for definition without id")
	}
}

func TestDefinitionsOrderedSupersetFirst(t *testing.T) {
	a := dictationAndCommand(t)
	defs := a.Definitions()
	if defs[0].ID != "command" || defs[1].ID != "dictation" {
		t.Fatalf("unexpected evaluation order: %+v", defs)
	}
}
