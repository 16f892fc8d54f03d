package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// reloadDelay coalesces the burst of events editors produce on save.
const reloadDelay = 150 * time.Millisecond

// Store hands out immutable config snapshots. Watch reloads the live toggles
// (language, polish, notes mode, mention trigger, input device) when the file
// changes; everything else keeps the value it had at start.
type Store struct {
	path     string
	override func(*Config)
	log      zerolog.Logger

	cur atomic.Pointer[Config]

	mu   sync.Mutex
	subs []func(Config)
}

// NewStore wraps an already loaded and validated cfg. override is re-applied
// after every reload so command-line flags keep precedence; it may be nil.
func NewStore(path string, cfg Config, override func(*Config), log zerolog.Logger) *Store {
	s := &Store{path: path, override: override, log: log}
	c := cfg
	s.cur.Store(&c)
	return s
}

// Config returns the current snapshot.
func (s *Store) Config() Config { return *s.cur.Load() }

// OnChange registers fn to be called with each new snapshot after a reload.
func (s *Store) OnChange(fn func(Config)) {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
}

// Reload re-reads the file and swaps in the live toggles. Invalid files are
// rejected and the previous snapshot stays in place.
func (s *Store) Reload() error {
	next, err := Load(s.path)
	if err != nil {
		return err
	}
	if s.override != nil {
		s.override(&next)
	}
	if err := Validate(&next); err != nil {
		return fmt.Errorf("reloaded config invalid: %w", err)
	}
	prev := s.Config()
	merged := prev
	merged.Language = next.Language
	merged.Polish = next.Polish
	merged.NotesMode = next.NotesMode
	merged.MentionTrigger = next.MentionTrigger
	merged.InputDevice = next.InputDevice
	if merged == prev {
		return nil
	}
	s.cur.Store(&merged)
	s.log.Info().
		Str("language", merged.Language).
		Bool("polish", merged.Polish).
		Bool("notes_mode", merged.NotesMode).
		Str("mention_trigger", merged.MentionTrigger).
		Str("input_device", merged.InputDevice).
		Msg("settings reloaded")

	s.mu.Lock()
	subs := append([]func(Config){}, s.subs...)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(merged)
	}
	return nil
}

// Watch reloads on file changes until ctx is done. It watches the parent
// directory so atomic rename-on-save editors are picked up.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}
	abs, err := filepath.Abs(s.path)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				timer.Reset(reloadDelay)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warn().Err(err).Msg("config watcher error")
		case <-timer.C:
			if err := s.Reload(); err != nil {
				s.log.Warn().Err(err).Msg("settings reload rejected")
			}
		}
	}
}
