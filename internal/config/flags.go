package config

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
)

// Overrides collects flags the user explicitly set. Flags that were not given
// on the command line never touch the loaded config.
type Overrides struct {
	set     map[string]func(*Config)
	order   []string
	Output  string
	File    string
	Devices bool
}

type setterFlag struct {
	name  string
	value string
	o     *Overrides
	parse func(string) (func(*Config), error)
}

func (f *setterFlag) String() string {
	if f == nil {
		return ""
	}
	return f.value
}

func (f *setterFlag) Set(v string) error {
	apply, err := f.parse(v)
	if err != nil {
		return err
	}
	f.value = v
	if _, seen := f.o.set[f.name]; !seen {
		f.o.order = append(f.o.order, f.name)
	}
	f.o.set[f.name] = apply
	return nil
}

func parseBoolExt(v string) (bool, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	switch v {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean: %s", v)
}

func (o *Overrides) str(fs *flag.FlagSet, name, usage string, field func(*Config) *string) {
	fs.Var(&setterFlag{name: name, o: o, parse: func(v string) (func(*Config), error) {
		return func(c *Config) { *field(c) = v }, nil
	}}, name, usage)
}

func (o *Overrides) num(fs *flag.FlagSet, name, usage string, field func(*Config) *int) {
	fs.Var(&setterFlag{name: name, o: o, parse: func(v string) (func(*Config), error) {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, err
		}
		return func(c *Config) { *field(c) = n }, nil
	}}, name, usage)
}

func (o *Overrides) float(fs *flag.FlagSet, name, usage string, field func(*Config) *float64) {
	fs.Var(&setterFlag{name: name, o: o, parse: func(v string) (func(*Config), error) {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, err
		}
		return func(c *Config) { *field(c) = n }, nil
	}}, name, usage)
}

func (o *Overrides) boolean(fs *flag.FlagSet, name, usage string, field func(*Config) *bool) {
	fs.Var(&setterFlag{name: name, o: o, parse: func(v string) (func(*Config), error) {
		b, err := parseBoolExt(v)
		if err != nil {
			return nil, err
		}
		return func(c *Config) { *field(c) = b }, nil
	}}, name, usage)
}

// BindFlags registers all config flags on fs.
func BindFlags(fs *flag.FlagSet) *Overrides {
	o := &Overrides{set: make(map[string]func(*Config))}

	o.str(fs, "transcriber", "transcription provider (http, openai, sidecar)", func(c *Config) *string { return &c.Transcriber })
	o.str(fs, "api-endpoint", "API endpoint URL", func(c *Config) *string { return &c.APIEndpoint })
	o.str(fs, "token", "Authorization token", func(c *Config) *string { return &c.Token })
	o.str(fs, "model", "model", func(c *Config) *string { return &c.Model })
	o.str(fs, "language", "language", func(c *Config) *string { return &c.Language })
	o.str(fs, "prompt", "prompt", func(c *Config) *string { return &c.Prompt })
	o.str(fs, "text-path", "JSON path to extract text", func(c *Config) *string { return &c.TEXTPath })
	o.str(fs, "extra-config", "extra JSON config to merge into request payload", func(c *Config) *string { return &c.ExtraConfig })
	o.str(fs, "sidecar-command", "command line of the local transcription server", func(c *Config) *string { return &c.SidecarCommand })

	o.str(fs, "codecs", "audio codec for upload (e.g. OPUS, AAC, MP3, FLAC)", func(c *Config) *string { return &c.CODECS })
	o.str(fs, "container", "audio container for upload (e.g. OGG, MP3, FLAC, M4A)", func(c *Config) *string { return &c.CONTAINER })
	o.num(fs, "channels", "channels (int)", func(c *Config) *int { return &c.Channels })
	o.num(fs, "sampling-rate", "upload sampling rate (Hz)", func(c *Config) *int { return &c.SAMPLING_RATE })
	o.num(fs, "sampling-rate-depth", "sampling depth (bits)", func(c *Config) *int { return &c.SAMPLING_RATE_DEPTH })
	o.num(fs, "bit-rate", "bit rate (kbps)", func(c *Config) *int { return &c.BIT_RATE })
	o.boolean(fs, "use-ffmpeg", "transcode before upload (true/false)", func(c *Config) *bool { return &c.UseFFmpeg })

	o.num(fs, "request-timeout", "request timeout seconds", func(c *Config) *int { return &c.RequestTimeout })
	o.num(fs, "max-retry", "max retry attempts", func(c *Config) *int { return &c.MaxRetry })
	o.float(fs, "retry-base-delay", "retry base delay seconds (float)", func(c *Config) *float64 { return &c.RetryBaseDelay })
	o.boolean(fs, "enable-http2", "enable HTTP/2 (true/false)", func(c *Config) *bool { return &c.EnableHTTP2 })
	o.boolean(fs, "verify-ssl", "verify TLS certificates (true/false)", func(c *Config) *bool { return &c.VerifySSL })

	o.str(fs, "polisher", "polish provider (none, openai, anthropic)", func(c *Config) *string { return &c.Polisher })
	o.boolean(fs, "polish", "polish dictated text (true/false)", func(c *Config) *bool { return &c.Polish })
	o.boolean(fs, "notes-mode", "format polished text as notes (true/false)", func(c *Config) *bool { return &c.NotesMode })
	o.str(fs, "polish-model", "model used for polish and command mode", func(c *Config) *string { return &c.PolishModel })

	o.str(fs, "input-device", "input device name or index", func(c *Config) *string { return &c.InputDevice })
	o.num(fs, "max-duration", "max recording length in seconds", func(c *Config) *int { return &c.MaxDuration })
	o.str(fs, "dictation-key", "push-to-talk hotkey", func(c *Config) *string { return &c.DictationKey })
	o.str(fs, "command-key", "command mode hotkey (empty disables)", func(c *Config) *string { return &c.CommandKey })
	o.str(fs, "accept-key", "key that accepts a mention suggestion (tab, enter, esc)", func(c *Config) *string { return &c.AcceptKey })
	o.str(fs, "mention-trigger", "mention trigger character (empty disables)", func(c *Config) *string { return &c.MentionTrigger })

	o.str(fs, "ui-addr", "listen address of the local UI hub (empty disables)", func(c *Config) *string { return &c.UIAddr })
	o.str(fs, "history", "sqlite history path (empty disables)", func(c *Config) *string { return &c.HistoryPath })
	o.str(fs, "cache-dir", "cache directory", func(c *Config) *string { return &c.CacheDir })
	o.boolean(fs, "keep-cache", "keep cache files (true/false)", func(c *Config) *bool { return &c.KeepCache })
	o.boolean(fs, "notification", "enable notifications (true/false)", func(c *Config) *bool { return &c.Notification })

	o.str(fs, "log-level", "log level (debug, info, warn, error)", func(c *Config) *string { return &c.LogLevel })
	o.str(fs, "log-format", "log format (console, json)", func(c *Config) *string { return &c.LogFormat })
	o.boolean(fs, "ffmpeg-debug", "enable ffmpeg debug output (true/false)", func(c *Config) *bool { return &c.FFMPEG_DEBUG })
	o.boolean(fs, "record-debug", "enable record debug output (true/false)", func(c *Config) *bool { return &c.RECORD_DEBUG })
	o.boolean(fs, "hotkey-debug", "enable hotkey debug output (true/false)", func(c *Config) *bool { return &c.HOTKEY_DEBUG })
	o.boolean(fs, "upload-debug", "enable upload debug output (true/false)", func(c *Config) *bool { return &c.UPLOAD_DEBUG })

	fs.StringVar(&o.File, "file", "", "transcribe an existing audio file and exit")
	fs.StringVar(&o.Output, "output", "", "output txt path for -file mode")
	fs.BoolVar(&o.Devices, "list-devices", false, "print input devices and exit")
	return o
}

// Apply writes every explicitly set flag into cfg, in command-line order.
func (o *Overrides) Apply(cfg *Config) {
	for _, name := range o.order {
		o.set[name](cfg)
	}
}

// AnySet reports whether any config flag was explicitly set by the user.
func (o *Overrides) AnySet() bool { return len(o.order) > 0 }

// Set lists the names of explicitly set config flags.
func (o *Overrides) Set() []string {
	out := make([]string, len(o.order))
	copy(out, o.order)
	return out
}
