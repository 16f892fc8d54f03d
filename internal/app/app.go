// Package app wires configuration to the running daemon and to file mode.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"dictate/internal/asr"
	"dictate/internal/audio/ffmpeg"
	"dictate/internal/cache"
	"dictate/internal/clipboard"
	"dictate/internal/config"
	"dictate/internal/dictation"
	"dictate/internal/focus"
	"dictate/internal/history"
	"dictate/internal/hotkey"
	"dictate/internal/inject"
	"dictate/internal/keyboard"
	"dictate/internal/logging"
	"dictate/internal/notify"
	"dictate/internal/polish"
	"dictate/internal/record"
	"dictate/internal/uiserver"
)

const (
	DictationHotkey = "dictation"
	CommandHotkey   = "command"
)

var (
	// ErrConvert marks file-mode failures before anything was uploaded.
	ErrConvert = errors.New("convert input")
	// ErrTranscribe marks file-mode failures from the transcription provider.
	ErrTranscribe = errors.New("transcribe")
)

type closer func()

// services are the pieces shared by dictation and file mode.
type services struct {
	cache       *cache.Cache
	httpClient  *http.Client
	transcriber asr.Transcriber
	closers     []closer
}

func (s *services) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func newServices(cfg config.Config, log zerolog.Logger) (*services, error) {
	s := &services{}
	s.cache = cache.New(cfg.CacheDir, cfg.KeepCache, logging.Component(log, "cache", cfg.UPLOAD_DEBUG))
	if n := s.cache.CleanupStale(); n > 0 {
		log.Info().Int("removed", n).Str("dir", s.cache.Dir()).Msg("removed stale temp files")
	}
	s.httpClient = asr.NewHTTPClient(cfg)
	if tr, ok := s.httpClient.Transport.(interface{ CloseIdleConnections() }); ok {
		s.closers = append(s.closers, tr.CloseIdleConnections)
	}
	t, err := asr.DefaultRegistry().Create(cfg.Transcriber, cfg, asr.Deps{
		HTTPClient: s.httpClient,
		Cache:      s.cache,
		Log:        logging.Component(log, "upload", cfg.UPLOAD_DEBUG),
	})
	if err != nil {
		s.close()
		return nil, err
	}
	if c, ok := t.(io.Closer); ok {
		s.closers = append(s.closers, func() {
			if err := c.Close(); err != nil {
				log.Debug().Err(err).Msg("close transcriber")
			}
		})
	}
	s.transcriber = t
	return s, nil
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// RunDictationMode runs push-to-talk until ctx is cancelled.
func RunDictationMode(ctx context.Context, store *config.Store, log zerolog.Logger) error {
	cfg := store.Config()

	svc, err := newServices(cfg, log)
	if err != nil {
		return err
	}
	defer svc.close()

	polishClient := &http.Client{Transport: svc.httpClient.Transport, Timeout: time.Duration(cfg.PolishTimeout) * time.Second}
	llm, err := polish.DefaultRegistry().Build(cfg, polishClient, logging.Component(log, "polish", cfg.UPLOAD_DEBUG))
	if err != nil {
		return fmt.Errorf("polisher: %w", err)
	}

	kb, err := keyboard.New(logging.Component(log, "keyboard", cfg.HOTKEY_DEBUG))
	if err != nil {
		return err
	}
	acceptKey, err := keyboard.ParseKey(cfg.AcceptKey)
	if err != nil {
		return err
	}
	cb := clipboard.System()
	injector := inject.New(cb, kb, inject.Options{
		MaxAttempts:    cfg.ClipboardAttempts,
		InitialBackoff: ms(cfg.ClipboardBackoffMS),
		MaxBackoff:     ms(cfg.ClipboardMaxBackoffMS),
		DefendWindow:   ms(cfg.DefendMS),
		AcceptKey:      acceptKey,
		Trigger:        cfg.MentionTrigger,
	}, logging.Component(log, "inject", cfg.HOTKEY_DEBUG))

	var hist *history.Store
	if cfg.HistoryPath != "" {
		hist, err = history.Open(cfg.HistoryPath)
		if err != nil {
			return err
		}
		defer hist.Close()
	}

	notifiers := notify.Multi{
		notify.NewLog(logging.Component(log, "dictation", false)),
		notify.NewDesktop(cfg.Notification, cfg.RequestFailedNotification, log),
	}
	var hub *uiserver.Hub
	if cfg.UIAddr != "" {
		var recent uiserver.RecentFunc
		if hist != nil {
			recent = hist.Recent
		}
		hub = uiserver.New(recent, logging.Component(log, "ui", false))
		notifiers = append(notifiers, hub)
	}

	var orch *dictation.Orchestrator
	capture := record.New(record.NewPortAudio(logging.Component(log, "record", cfg.RECORD_DEBUG)), record.Options{
		FrameDuration: ms(cfg.FrameMS),
		MaxDuration:   time.Duration(cfg.MaxDuration) * time.Second,
		OnLevel:       func(l float64) { orch.Level(l) },
	}, logging.Component(log, "record", cfg.RECORD_DEBUG))

	deps := dictation.Deps{
		Recorder:    dictation.FromCapture(capture),
		Transcriber: svc.transcriber,
		Focus:       focus.New(cb, kb, focus.Options{}, log),
		Injector:    injector,
		Notifier:    notifiers,
		Settings:    store,
	}
	if llm != nil {
		deps.Polisher = llm
		deps.Commander = llm
	}
	if hub != nil {
		deps.Router = hub
	}
	if hist != nil {
		deps.History = hist
	}

	defs, err := hotkeyDefinitions(cfg)
	if err != nil {
		return err
	}
	opts := dictation.Options{DictationID: DictationHotkey}
	if len(defs) > 1 {
		opts.CommandID = CommandHotkey
	}
	orch, err = dictation.New(deps, opts, logging.Component(log, "dictation", false))
	if err != nil {
		return err
	}

	hlog := logging.Component(log, "hotkey", cfg.HOTKEY_DEBUG)
	arb, err := hotkey.NewArbiter(hotkey.ArbiterOptions{
		SettleWindow:    ms(cfg.SettleMS),
		ReleaseDebounce: ms(cfg.ReleaseMS),
	}, defs...)
	if err != nil {
		return err
	}
	poller := hotkey.NewPoller(hotkey.NewSystemSource(), hotkey.PollerOptions{
		Interval: ms(cfg.PollIntervalMS),
		Keys:     hotkey.WatchedKeys(arb.Definitions()),
	}, hlog)
	bridge := hotkey.Attach(poller, arb)
	defer bridge.Close()
	if err := poller.Start(ctx); err != nil {
		return err
	}
	defer poller.Stop()

	errCh := make(chan error, 2)
	if hub != nil {
		go func() {
			if err := hub.Serve(ctx, cfg.UIAddr); err != nil {
				errCh <- fmt.Errorf("ui hub: %w", err)
			}
		}()
	}
	go func() {
		if err := store.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Msg("config watch stopped")
		}
	}()

	for _, d := range arb.Definitions() {
		hlog.Info().Str("id", d.ID).Str("keys", d.String()).Msg("hotkey registered")
	}
	log.Info().Str("transcriber", svc.transcriber.Name()).Str("polisher", cfg.Polisher).Msg("ready, hold the dictation hotkey to talk")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case err := <-errCh:
			log.Error().Err(err).Msg("shutting down")
			cancel()
		case <-runCtx.Done():
		}
	}()
	err = orch.Run(runCtx, bridge.Events())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func hotkeyDefinitions(cfg config.Config) ([]hotkey.Definition, error) {
	dict, err := hotkey.ParseDefinition(DictationHotkey, cfg.DictationKey)
	if err != nil {
		return nil, fmt.Errorf("dictation hotkey: %w", err)
	}
	defs := []hotkey.Definition{dict}
	if strings.TrimSpace(cfg.CommandKey) != "" {
		cmd, err := hotkey.ParseDefinition(CommandHotkey, cfg.CommandKey)
		if err != nil {
			return nil, fmt.Errorf("command hotkey: %w", err)
		}
		cmd.Priority = 1
		defs = append(defs, cmd)
	}
	return defs, nil
}

// RunFileMode transcribes an existing audio file and writes the text next to
// it, or to outputPath when given.
func RunFileMode(ctx context.Context, cfg config.Config, inputPath, outputPath string, log zerolog.Logger) error {
	if _, err := os.Stat(inputPath); err != nil {
		return fmt.Errorf("%w: file '%s' stat failed: %w", ErrConvert, inputPath, err)
	}
	svc, err := newServices(cfg, log)
	if err != nil {
		return err
	}
	defer svc.close()

	buf, err := decode(ctx, svc.cache, inputPath, logging.Component(log, "ffmpeg", cfg.FFMPEG_DEBUG))
	if err != nil {
		return err
	}
	res, err := svc.transcriber.Transcribe(ctx, buf, cfg.Language)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTranscribe, err)
	}

	outPath := outputPath
	if outPath == "" {
		base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
		outPath = filepath.Join(filepath.Dir(inputPath), base+".txt")
	}
	if err := os.WriteFile(outPath, []byte(res.Text), 0o644); err != nil {
		return err
	}
	log.Info().Str("output", outPath).Int("chars", len(res.Text)).Dur("audio", buf.Duration()).Msg("transcript written")
	return nil
}

// decode turns any input ffmpeg understands into a mono 16 kHz buffer. Plain
// WAV files are read directly when ffmpeg is missing.
func decode(ctx context.Context, c *cache.Cache, inputPath string, log zerolog.Logger) (record.Buffer, error) {
	tmp := c.TempPath("wav")
	defer os.Remove(tmp)
	err := ffmpeg.Convert(ctx, ffmpeg.PCM16, inputPath, tmp, log)
	if errors.Is(err, ffmpeg.ErrNotFound) && strings.EqualFold(filepath.Ext(inputPath), ".wav") {
		log.Warn().Msg("ffmpeg not found, reading wav directly")
		tmp = inputPath
		err = nil
	}
	if err != nil {
		return record.Buffer{}, fmt.Errorf("%w: %w", ErrConvert, err)
	}
	buf, err := record.LoadWAV(tmp)
	if err != nil {
		return record.Buffer{}, fmt.Errorf("%w: %w", ErrConvert, err)
	}
	return buf, nil
}

// ListDevices prints input device names, one per line.
func ListDevices(w io.Writer) error {
	devices, err := record.InputDevices()
	if err != nil {
		return err
	}
	for _, d := range devices {
		mark := ""
		if d.Default {
			mark = " (default)"
		}
		fmt.Fprintf(w, "%d\t%s%s\n", d.Index, d.Name, mark)
	}
	return nil
}
