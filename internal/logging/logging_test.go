package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestJSONOutputCarriesComponent(t *testing.T) {
	var buf bytes.Buffer
	root := New(Options{Level: "info", Format: "json", Output: &buf})
	l := Component(root, "hotkey", false)
	l.Info().Msg("pressed")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("output is not json: %v (%q)", err, buf.String())
	}
	if line[FieldComponent] != "hotkey" || line["message"] != "pressed" {
		t.Fatalf("unexpected line %v", line)
	}
}

func TestComponentDebugToggle(t *testing.T) {
	var buf bytes.Buffer
	root := New(Options{Level: "info", Format: "json", Output: &buf})

	hidden := Component(root, "record", false)
	hidden.Debug().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug line leaked at info level: %q", buf.String())
	}
	shown := Component(root, "record", true)
	shown.Debug().Msg("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("debug toggle did not lower level: %q", buf.String())
	}
}

func TestBadLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Level: "chatty", Format: "json", Output: &buf})
	l.Debug().Msg("x")
	l.Info().Msg("y")
	if strings.Contains(buf.String(), `"x"`) || !strings.Contains(buf.String(), `"y"`) {
		t.Fatalf("unexpected output %q", buf.String())
	}
}
