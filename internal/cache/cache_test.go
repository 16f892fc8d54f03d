package cache

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestTempPath(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, false, zerolog.Nop())
	a, b := c.TempPath("wav"), c.TempPath(".wav")
	if a == b {
		t.Fatalf("temp paths must be unique")
	}
	for _, p := range []string{a, b} {
		if filepath.Dir(p) != dir || !strings.HasPrefix(filepath.Base(p), TempPrefix) || filepath.Ext(p) != ".wav" {
			t.Fatalf("unexpected temp path %s", p)
		}
	}
}

func TestFinishRemovesWithoutKeep(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, true, zerolog.Nop())
	c.keep = false
	p := c.TempPath("wav")
	touch(t, p)
	c.Finish([]string{p, ""}, []byte(`{"text":"hi"}`), true)
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected empty dir, found %d entries", len(entries))
	}
}

func TestFinishKeepsFilesAndResponse(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, true, zerolog.Nop())
	c.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	wav, ogg := c.TempPath("wav"), c.TempPath("ogg")
	touch(t, wav)
	touch(t, ogg)
	c.Finish([]string{wav, ogg}, []byte(`{"text":"hi"}`), true)

	entries, _ := os.ReadDir(dir)
	exts := map[string]bool{}
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "audio-2026-01-02-03.04.05-") {
			t.Fatalf("unexpected cached name %s", e.Name())
		}
		exts[filepath.Ext(e.Name())] = true
	}
	if len(entries) != 3 || !exts[".wav"] || !exts[".ogg"] || !exts[".json"] {
		t.Fatalf("expected wav, ogg and json, got %v", entries)
	}
}

func TestKeepNeedsDir(t *testing.T) {
	if New("", true, zerolog.Nop()).keep {
		t.Fatalf("keep without a cache dir must be disabled")
	}
}

func TestCleanupStale(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, false, zerolog.Nop())
	touch(t, filepath.Join(dir, TempPrefix+"abc.wav"))
	touch(t, filepath.Join(dir, TempPrefix+"def.ogg"))
	touch(t, filepath.Join(dir, "audio-keep.wav"))
	if n := c.CleanupStale(); n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}
	if _, err := os.Stat(filepath.Join(dir, "audio-keep.wav")); err != nil {
		t.Fatalf("non-temp file removed")
	}
}
