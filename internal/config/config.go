package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every key when reading overrides from the environment,
// e.g. DICTATE_LANGUAGE=de.
const EnvPrefix = "DICTATE"

// Config holds configurable parameters.
type Config struct {
	// transcription
	Transcriber         string  `json:"TRANSCRIBER" mapstructure:"TRANSCRIBER"`
	APIEndpoint         string  `json:"API_ENDPOINT" mapstructure:"API_ENDPOINT"`
	Token               string  `json:"TOKEN" mapstructure:"TOKEN"`
	Model               string  `json:"MODEL" mapstructure:"MODEL"`
	Language            string  `json:"LANGUAGE" mapstructure:"LANGUAGE"`
	Prompt              string  `json:"PROMPT" mapstructure:"PROMPT"`
	TEXTPath            string  `json:"TEXT_PATH" mapstructure:"TEXT_PATH"`
	ExtraConfig         string  `json:"ExtraConfig" mapstructure:"ExtraConfig"`
	Channels            int     `json:"CHANNELS" mapstructure:"CHANNELS"`
	SAMPLING_RATE       int     `json:"SAMPLING_RATE" mapstructure:"SAMPLING_RATE"`
	SAMPLING_RATE_DEPTH int     `json:"SAMPLING_RATE_DEPTH" mapstructure:"SAMPLING_RATE_DEPTH"`
	BIT_RATE            int     `json:"BIT_RATE" mapstructure:"BIT_RATE"`
	CODECS              string  `json:"CODECS" mapstructure:"CODECS"`
	CONTAINER           string  `json:"CONTAINER" mapstructure:"CONTAINER"`
	RequestTimeout      int     `json:"REQUEST_TIMEOUT" mapstructure:"REQUEST_TIMEOUT"`
	MaxRetry            int     `json:"MAX_RETRY" mapstructure:"MAX_RETRY"`
	RetryBaseDelay      float64 `json:"RETRY_BASE_DELAY" mapstructure:"RETRY_BASE_DELAY"`
	EnableHTTP2         bool    `json:"ENABLE_HTTP2" mapstructure:"ENABLE_HTTP2"`
	VerifySSL           bool    `json:"VERIFY_SSL" mapstructure:"VERIFY_SSL"`
	UseFFmpeg           bool    `json:"USE_FFMPEG" mapstructure:"USE_FFMPEG"`

	SidecarCommand     string `json:"SIDECAR_COMMAND" mapstructure:"SIDECAR_COMMAND"`
	SidecarModel       string `json:"SIDECAR_MODEL" mapstructure:"SIDECAR_MODEL"`
	SidecarDevice      string `json:"SIDECAR_DEVICE" mapstructure:"SIDECAR_DEVICE"`
	SidecarComputeType string `json:"SIDECAR_COMPUTE_TYPE" mapstructure:"SIDECAR_COMPUTE_TYPE"`

	OpenAIAPIKey          string `json:"OPENAI_API_KEY" mapstructure:"OPENAI_API_KEY"`
	OpenAIBaseURL         string `json:"OPENAI_BASE_URL" mapstructure:"OPENAI_BASE_URL"`
	OpenAITranscribeModel string `json:"OPENAI_TRANSCRIBE_MODEL" mapstructure:"OPENAI_TRANSCRIBE_MODEL"`

	// polish and command mode
	Polisher        string `json:"POLISHER" mapstructure:"POLISHER"`
	Polish          bool   `json:"POLISH" mapstructure:"POLISH"`
	NotesMode       bool   `json:"NOTES_MODE" mapstructure:"NOTES_MODE"`
	PolishModel     string `json:"POLISH_MODEL" mapstructure:"POLISH_MODEL"`
	PolishTimeout   int    `json:"POLISH_TIMEOUT" mapstructure:"POLISH_TIMEOUT"`
	AnthropicAPIKey string `json:"ANTHROPIC_API_KEY" mapstructure:"ANTHROPIC_API_KEY"`

	// capture
	InputDevice string `json:"INPUT_DEVICE" mapstructure:"INPUT_DEVICE"`
	FrameMS     int    `json:"FRAME_MS" mapstructure:"FRAME_MS"`
	MaxDuration int    `json:"MAX_DURATION" mapstructure:"MAX_DURATION"`

	// hotkeys
	DictationKey   string `json:"DICTATION_KEY" mapstructure:"DICTATION_KEY"`
	CommandKey     string `json:"COMMAND_KEY" mapstructure:"COMMAND_KEY"`
	PollIntervalMS int    `json:"POLL_INTERVAL_MS" mapstructure:"POLL_INTERVAL_MS"`
	SettleMS       int    `json:"SETTLE_MS" mapstructure:"SETTLE_MS"`
	ReleaseMS      int    `json:"RELEASE_MS" mapstructure:"RELEASE_MS"`

	// injection
	ClipboardAttempts     int    `json:"CLIPBOARD_ATTEMPTS" mapstructure:"CLIPBOARD_ATTEMPTS"`
	ClipboardBackoffMS    int    `json:"CLIPBOARD_BACKOFF_MS" mapstructure:"CLIPBOARD_BACKOFF_MS"`
	ClipboardMaxBackoffMS int    `json:"CLIPBOARD_MAX_BACKOFF_MS" mapstructure:"CLIPBOARD_MAX_BACKOFF_MS"`
	DefendMS              int    `json:"DEFEND_MS" mapstructure:"DEFEND_MS"`
	MentionTrigger        string `json:"MENTION_TRIGGER" mapstructure:"MENTION_TRIGGER"`
	AcceptKey             string `json:"ACCEPT_KEY" mapstructure:"ACCEPT_KEY"`

	// surfaces
	UIAddr                    string `json:"UI_ADDR" mapstructure:"UI_ADDR"`
	Notification              bool   `json:"NOTIFICATION" mapstructure:"NOTIFICATION"`
	RequestFailedNotification bool   `json:"REQUEST_FAILED_NOTIFICATION" mapstructure:"REQUEST_FAILED_NOTIFICATION"`
	HistoryPath               string `json:"HISTORY_PATH" mapstructure:"HISTORY_PATH"`
	CacheDir                  string `json:"CACHE_DIR" mapstructure:"CACHE_DIR"`
	KeepCache                 bool   `json:"KEEP_CACHE" mapstructure:"KEEP_CACHE"`

	LogLevel     string `json:"LOG_LEVEL" mapstructure:"LOG_LEVEL"`
	LogFormat    string `json:"LOG_FORMAT" mapstructure:"LOG_FORMAT"`
	FFMPEG_DEBUG bool   `json:"FFMPEG_DEBUG" mapstructure:"FFMPEG_DEBUG"`
	RECORD_DEBUG bool   `json:"RECORD_DEBUG" mapstructure:"RECORD_DEBUG"`
	HOTKEY_DEBUG bool   `json:"HOTKEY_DEBUG" mapstructure:"HOTKEY_DEBUG"`
	UPLOAD_DEBUG bool   `json:"UPLOAD_DEBUG" mapstructure:"UPLOAD_DEBUG"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Transcriber:         "http",
		TEXTPath:            "text",
		Channels:            1,
		SAMPLING_RATE:       16000,
		SAMPLING_RATE_DEPTH: 16,
		BIT_RATE:            128,
		CODECS:              "opus",
		CONTAINER:           "ogg",
		RequestTimeout:      30,
		MaxRetry:            3,
		RetryBaseDelay:      0.5,
		EnableHTTP2:         true,
		VerifySSL:           true,
		UseFFmpeg:           false,

		SidecarModel:       "base",
		SidecarDevice:      "cpu",
		SidecarComputeType: "int8",

		OpenAITranscribeModel: "whisper-1",

		Polisher:      "none",
		PolishModel:   "gpt-4o-mini",
		PolishTimeout: 20,

		FrameMS:     20,
		MaxDuration: 300,

		DictationKey:   "ctrl+win",
		CommandKey:     "ctrl+win+alt",
		PollIntervalMS: 15,
		SettleMS:       60,
		ReleaseMS:      80,

		ClipboardAttempts:     9,
		ClipboardBackoffMS:    10,
		ClipboardMaxBackoffMS: 400,
		DefendMS:              100,
		MentionTrigger:        "@",
		AcceptKey:             "tab",

		LogLevel:     "info",
		LogFormat:    "console",
		HOTKEY_DEBUG: false,
	}
}

// Load reads path (JSON or YAML, by extension) over the defaults and then applies
// DICTATE_* environment overrides. An empty path yields defaults plus environment.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	v := viper.New()
	setDefaults(v, cfg)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can see it.
func setDefaults(v *viper.Viper, cfg Config) {
	rv := reflect.ValueOf(cfg)
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		key := rt.Field(i).Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		v.SetDefault(key, rv.Field(i).Interface())
	}
}

// SaveDefault writes a default config JSON to the provided path.
func SaveDefault(path string) error {
	cfg := DefaultConfig()
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}

var allowedCodecs = map[string]bool{
	"opus": true, "libopus": true, "wavpack": true, "aac": true, "ac3": true,
	"eac3": true, "mp3": true, "mp2": true, "flac": true, "alac": true,
	"pcm": true, "vorbis": true, "libvorbis": true, "pcm_s16le": true,
	"pcm_s16be": true, "pcm_s24le": true, "pcm_s32le": true, "pcm_f32le": true,
}

var allowedContainers = map[string]bool{
	"wav": true, "ogg": true, "oga": true, "mp3": true, "flac": true,
	"aac": true, "m4a": true, "mp4": true, "opus": true, "webm": true,
}

var transcribers = map[string]bool{"http": true, "openai": true, "sidecar": true}

var acceptKeys = map[string]bool{"tab": true, "enter": true, "return": true, "esc": true, "escape": true}

var polishers = map[string]bool{"none": true, "openai": true, "anthropic": true}

// Validate verifies config fields and returns an error if any value is invalid.
func Validate(cfg *Config) error {
	if !transcribers[strings.ToLower(cfg.Transcriber)] {
		return fmt.Errorf("invalid TRANSCRIBER: %s (allowed: http, openai, sidecar)", cfg.Transcriber)
	}
	if !polishers[strings.ToLower(cfg.Polisher)] {
		return fmt.Errorf("invalid POLISHER: %s (allowed: none, openai, anthropic)", cfg.Polisher)
	}
	if cfg.Channels < 1 || cfg.Channels > 8 {
		return fmt.Errorf("invalid Channels: %d (allowed 1..8)", cfg.Channels)
	}
	if cfg.SAMPLING_RATE <= 0 {
		return fmt.Errorf("invalid SAMPLING_RATE: %d (must be > 0)", cfg.SAMPLING_RATE)
	}
	allowedDepth := map[int]bool{8: true, 16: true, 24: true, 32: true}
	if !allowedDepth[cfg.SAMPLING_RATE_DEPTH] {
		return fmt.Errorf("invalid SAMPLING_RATE_DEPTH: %d (allowed: 8,16,24,32)", cfg.SAMPLING_RATE_DEPTH)
	}
	if cfg.BIT_RATE <= 0 {
		return fmt.Errorf("invalid BIT_RATE: %d (must be > 0)", cfg.BIT_RATE)
	}
	if !allowedCodecs[strings.ToLower(cfg.CODECS)] {
		return fmt.Errorf("invalid CODECS: %s", cfg.CODECS)
	}
	if !allowedContainers[strings.ToLower(cfg.CONTAINER)] {
		return fmt.Errorf("invalid CONTAINER: %s", cfg.CONTAINER)
	}
	if cfg.MaxRetry < 0 {
		return fmt.Errorf("invalid MAX_RETRY: %d (must be >= 0)", cfg.MaxRetry)
	}
	if cfg.FrameMS < 5 || cfg.FrameMS > 200 {
		return fmt.Errorf("invalid FRAME_MS: %d (allowed 5..200)", cfg.FrameMS)
	}
	if cfg.MaxDuration <= 0 {
		return fmt.Errorf("invalid MAX_DURATION: %d (must be > 0 seconds)", cfg.MaxDuration)
	}
	if cfg.DictationKey == "" {
		return fmt.Errorf("DICTATION_KEY must not be empty")
	}
	if cfg.CommandKey != "" && strings.EqualFold(cfg.CommandKey, cfg.DictationKey) {
		return fmt.Errorf("COMMAND_KEY and DICTATION_KEY must differ (both %q)", cfg.DictationKey)
	}
	if cfg.PollIntervalMS < 5 {
		return fmt.Errorf("invalid POLL_INTERVAL_MS: %d (must be >= 5)", cfg.PollIntervalMS)
	}
	if cfg.SettleMS < 0 || cfg.ReleaseMS < 0 {
		return fmt.Errorf("SETTLE_MS and RELEASE_MS must be >= 0")
	}
	if cfg.ClipboardAttempts < 1 {
		return fmt.Errorf("invalid CLIPBOARD_ATTEMPTS: %d (must be >= 1)", cfg.ClipboardAttempts)
	}
	if cfg.ClipboardBackoffMS <= 0 || cfg.ClipboardMaxBackoffMS < cfg.ClipboardBackoffMS {
		return fmt.Errorf("invalid clipboard backoff: initial %dms, max %dms", cfg.ClipboardBackoffMS, cfg.ClipboardMaxBackoffMS)
	}
	if cfg.DefendMS < 0 {
		return fmt.Errorf("invalid DEFEND_MS: %d", cfg.DefendMS)
	}
	if len([]rune(cfg.MentionTrigger)) > 1 {
		return fmt.Errorf("invalid MENTION_TRIGGER: %q (single character or empty)", cfg.MentionTrigger)
	}
	if !acceptKeys[strings.ToLower(cfg.AcceptKey)] {
		return fmt.Errorf("invalid ACCEPT_KEY: %s (allowed: tab, enter, esc)", cfg.AcceptKey)
	}
	if cfg.UIAddr != "" {
		host, _, err := net.SplitHostPort(cfg.UIAddr)
		if err != nil {
			return fmt.Errorf("invalid UI_ADDR: %s: %w", cfg.UIAddr, err)
		}
		if !IsLoopbackHost(host) {
			return fmt.Errorf("invalid UI_ADDR: %s (must listen on localhost, 127.0.0.1 or [::1])", cfg.UIAddr)
		}
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel)); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %s", cfg.LogLevel)
	}
	switch strings.ToLower(cfg.LogFormat) {
	case "console", "json":
	default:
		return fmt.Errorf("invalid LOG_FORMAT: %s (allowed: console, json)", cfg.LogFormat)
	}
	return nil
}

// IsLoopbackHost reports whether host names this machine only. An empty host
// (all interfaces) is not loopback.
func IsLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}

// InitCacheDir validates/creates the configured cache directory.
// It mutates cfg.CacheDir to an absolute path or clears it on failure.
func InitCacheDir(cfg *Config, log zerolog.Logger) {
	if cfg.CacheDir == "" {
		return
	}
	abs, err := filepath.Abs(cfg.CacheDir)
	if err != nil {
		log.Warn().Err(err).Str("dir", cfg.CacheDir).Msg("cache-dir path invalid, falling back to cwd")
		cfg.CacheDir = ""
		return
	}
	info, err := os.Stat(abs)
	if err == nil {
		if !info.IsDir() {
			log.Warn().Str("dir", abs).Msg("cache-dir exists but is not a directory, falling back to cwd")
			cfg.CacheDir = ""
			return
		}
		cfg.CacheDir = abs
		log.Info().Str("dir", abs).Msg("using existing cache-dir")
		return
	}
	if os.IsNotExist(err) {
		if err := os.MkdirAll(abs, 0755); err != nil {
			log.Warn().Err(err).Str("dir", abs).Msg("cannot create cache-dir, falling back to cwd")
			cfg.CacheDir = ""
			return
		}
		cfg.CacheDir = abs
		log.Info().Str("dir", abs).Msg("created cache-dir")
		return
	}
	log.Warn().Err(err).Str("dir", abs).Msg("cannot access cache-dir, falling back to cwd")
	cfg.CacheDir = ""
}

// TempDir returns the directory to use for temporary files.
func TempDir(cfg *Config) string {
	if cfg.CacheDir != "" {
		return cfg.CacheDir
	}
	cwd, _ := os.Getwd()
	return cwd
}

// ContainerExt maps container names to file extensions (lowercase).
func ContainerExt(container string) string {
	c := strings.ToLower(container)
	switch c {
	case "":
		return "ogg"
	default:
		return c
	}
}
