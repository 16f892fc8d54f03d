package asr

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dictate/internal/cache"
	"dictate/internal/config"
	"dictate/internal/record"
)

// SidecarProviderName selects the local faster-whisper server.
const SidecarProviderName = "sidecar"

// ErrSidecarExited is returned when the child process is gone.
var ErrSidecarExited = errors.New("transcription sidecar exited")

// SidecarOptions configures a Sidecar.
type SidecarOptions struct {
	Command     []string
	Env         []string
	Model       string
	Device      string
	ComputeType string
	// StartTimeout bounds process start plus model load.
	StartTimeout time.Duration
}

type sidecarRequest struct {
	Command     string `json:"command"`
	AudioPath   string `json:"audio_path,omitempty"`
	Language    string `json:"language,omitempty"`
	ModelSize   string `json:"model_size,omitempty"`
	Device      string `json:"device,omitempty"`
	ComputeType string `json:"compute_type,omitempty"`
}

type sidecarResponse struct {
	Ready    bool    `json:"ready"`
	Version  string  `json:"version"`
	Success  bool    `json:"success"`
	Error    string  `json:"error"`
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
	Language string  `json:"language"`
	Pong     bool    `json:"pong"`
	Model    string  `json:"model"`
}

// Sidecar runs a local transcription server as a child process and talks to
// it with one JSON object per line on stdin/stdout. Requests are serialized.
// The process starts on first use and is restarted after a cancelled request,
// since its reply would otherwise be read by the next caller.
type Sidecar struct {
	opts  SidecarOptions
	cache *cache.Cache
	log   zerolog.Logger

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines chan []byte
	quit  chan struct{}
	exit  chan struct{}
}

// NewSidecar creates a Sidecar. The process is not started until needed.
func NewSidecar(opts SidecarOptions, c *cache.Cache, log zerolog.Logger) (*Sidecar, error) {
	if len(opts.Command) == 0 {
		return nil, fmt.Errorf("%w: SIDECAR_COMMAND is empty", ErrNotConfigured)
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = 2 * time.Minute
	}
	if c == nil {
		c = cache.New("", false, log)
	}
	return &Sidecar{opts: opts, cache: c, log: log}, nil
}

// NewSidecarFromConfig is the registry factory for the sidecar provider.
func NewSidecarFromConfig(cfg config.Config, deps Deps) (Transcriber, error) {
	return NewSidecar(SidecarOptions{
		Command:     strings.Fields(cfg.SidecarCommand),
		Model:       cfg.SidecarModel,
		Device:      cfg.SidecarDevice,
		ComputeType: cfg.SidecarComputeType,
	}, deps.Cache, deps.Log)
}

// Name implements Transcriber.
func (s *Sidecar) Name() string { return SidecarProviderName }

// Transcribe implements Transcriber.
func (s *Sidecar) Transcribe(ctx context.Context, audio record.Buffer, language string) (Result, error) {
	start := time.Now()
	wavPath := s.cache.TempPath("wav")
	if err := audio.SaveWAV(wavPath); err != nil {
		return Result{}, err
	}
	resp, raw, err := s.call(ctx, sidecarRequest{Command: "transcribe", AudioPath: wavPath, Language: language})
	s.cache.Finish([]string{wavPath}, raw, err == nil)
	if err != nil {
		return Result{Provider: SidecarProviderName}, err
	}
	s.log.Debug().Float64("server_seconds", resp.Duration).Str("language", resp.Language).Msg("sidecar transcription done")
	return Result{Text: strings.TrimSpace(resp.Text), Raw: raw, Provider: SidecarProviderName, Elapsed: time.Since(start)}, nil
}

// Ping checks the server is alive, starting it if necessary.
func (s *Sidecar) Ping(ctx context.Context) error {
	_, _, err := s.call(ctx, sidecarRequest{Command: "ping"})
	return err
}

// Close asks the server to quit and kills it if it does not.
func (s *Sidecar) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil {
		return nil
	}
	line, _ := json.Marshal(sidecarRequest{Command: "quit"})
	_, _ = s.stdin.Write(append(line, '\n'))
	_ = s.stdin.Close()
	close(s.quit)
	select {
	case <-s.exit:
	case <-time.After(2 * time.Second):
		_ = s.cmd.Process.Kill()
		<-s.exit
	}
	s.cmd = nil
	return nil
}

func (s *Sidecar) call(ctx context.Context, req sidecarRequest) (sidecarResponse, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureStarted(ctx); err != nil {
		return sidecarResponse{}, nil, err
	}
	resp, raw, err := s.roundTrip(ctx, req)
	if err != nil {
		return resp, raw, err
	}
	if !resp.Success {
		return resp, raw, &ProviderError{Provider: SidecarProviderName, Body: resp.Error}
	}
	return resp, raw, nil
}

// roundTrip sends one request and waits for its reply. On cancellation the
// process is killed so no stale reply is left in the pipe.
func (s *Sidecar) roundTrip(ctx context.Context, req sidecarRequest) (sidecarResponse, []byte, error) {
	line, err := json.Marshal(req)
	if err != nil {
		return sidecarResponse{}, nil, err
	}
	if _, err := s.stdin.Write(append(line, '\n')); err != nil {
		s.killLocked()
		return sidecarResponse{}, nil, fmt.Errorf("%w: %v", ErrSidecarExited, err)
	}
	return s.readLocked(ctx)
}

func (s *Sidecar) readLocked(ctx context.Context) (sidecarResponse, []byte, error) {
	select {
	case raw, ok := <-s.lines:
		if !ok {
			s.killLocked()
			return sidecarResponse{}, nil, ErrSidecarExited
		}
		var resp sidecarResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return sidecarResponse{}, raw, &ProviderError{Provider: SidecarProviderName, Body: formatResponse(raw), Err: err}
		}
		return resp, raw, nil
	case <-ctx.Done():
		s.killLocked()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return sidecarResponse{}, nil, fmt.Errorf("%w: sidecar did not answer", ErrTimeout)
		}
		return sidecarResponse{}, nil, ctx.Err()
	}
}

func (s *Sidecar) ensureStarted(ctx context.Context) error {
	if s.cmd != nil {
		select {
		case <-s.exit:
			s.cmd = nil
		default:
			return nil
		}
	}

	cmd := exec.Command(s.opts.Command[0], s.opts.Command[1:]...)
	if len(s.opts.Env) > 0 {
		cmd.Env = append(cmd.Environ(), s.opts.Env...)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start sidecar %q: %w", s.opts.Command[0], err)
	}
	s.log.Info().Strs("command", s.opts.Command).Int("pid", cmd.Process.Pid).Msg("sidecar started")

	lines := make(chan []byte, 4)
	quit := make(chan struct{})
	exit := make(chan struct{})
	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		defer close(lines)
		sc := bufio.NewScanner(stdout)
		sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for sc.Scan() {
			select {
			case lines <- append([]byte(nil), sc.Bytes()...):
			case <-quit:
				_, _ = io.Copy(io.Discard, stdout)
				return
			}
		}
	}()
	go func() {
		defer readers.Done()
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			s.log.Debug().Str("stderr", sc.Text()).Msg("sidecar")
		}
	}()
	go func() {
		// pipes must be drained before Wait closes them
		readers.Wait()
		err := cmd.Wait()
		s.log.Debug().Err(err).Msg("sidecar exited")
		close(exit)
	}()
	s.cmd, s.stdin, s.lines, s.quit, s.exit = cmd, stdin, lines, quit, exit

	startCtx, cancel := context.WithTimeout(ctx, s.opts.StartTimeout)
	defer cancel()
	hello, _, err := s.readLocked(startCtx)
	if err != nil {
		return fmt.Errorf("waiting for sidecar: %w", err)
	}
	if !hello.Ready {
		s.killLocked()
		return &ProviderError{Provider: SidecarProviderName, Body: hello.Error, Err: ErrSidecarExited}
	}
	load, _, err := s.roundTrip(startCtx, sidecarRequest{
		Command:     "load",
		ModelSize:   s.opts.Model,
		Device:      s.opts.Device,
		ComputeType: s.opts.ComputeType,
	})
	if err != nil {
		return fmt.Errorf("loading sidecar model: %w", err)
	}
	if !load.Success {
		s.killLocked()
		return &ProviderError{Provider: SidecarProviderName, Body: "model load failed: " + load.Error}
	}
	s.log.Info().Str("model", s.opts.Model).Str("version", hello.Version).Msg("sidecar model loaded")
	return nil
}

func (s *Sidecar) killLocked() {
	if s.cmd == nil {
		return
	}
	close(s.quit)
	_ = s.cmd.Process.Kill()
	_ = s.stdin.Close()
	<-s.exit
	s.cmd = nil
}
