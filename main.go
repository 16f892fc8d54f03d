package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"dictate/internal/app"
	"dictate/internal/config"
	"dictate/internal/logging"
)

const defaultConfigPath = "config.json"

func usage() {
	programName := filepath.Base(os.Args[0])
	fmt.Fprintf(os.Stderr, `用法: %s [选项]

按住热键说话，松开后将识别结果插入到当前光标位置。

[配置文件]
  -config <string>
        配置文件（JSON 或 YAML），默认读取 ./config.json（不存在且未指定任何参数时生成默认文件并退出）
        环境变量 DICTATE_<KEY> 可覆盖文件中的同名字段，命令行参数优先级最高。
  -file <string>
        直接转录已有音频文件，结果写入同目录下的 .txt 文件后退出。
  -output <string>
        -file 模式下的输出路径（可选）。
  -list-devices
        列出可用的录音设备后退出。

[热键]
  -dictation-key <string>
        按住说话的热键，默认: "ctrl+win"
  -command-key <string>
        命令模式热键（选中文本改写 / 光标处生成），默认: "ctrl+win+alt"，留空则禁用。
  -mention-trigger <string>
        提及触发字符，默认: "@"，留空则禁用。

其余参数与配置文件字段一一对应，完整列表如下:

`, programName)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	configPath := flag.String("config", "", "path to config file (JSON or YAML)")
	overrides := config.BindFlags(flag.CommandLine)
	flag.Parse()

	path := *configPath
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			path = defaultConfigPath
		} else if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "[main] failed to stat %s: %v\n", defaultConfigPath, err)
			os.Exit(1)
		} else if !overrides.AnySet() && overrides.File == "" && !overrides.Devices {
			if err := config.SaveDefault(defaultConfigPath); err != nil {
				fmt.Fprintf(os.Stderr, "[main] failed to write default config: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("[main] default config created at %s. Please edit it and re-run.\n", defaultConfigPath)
			return
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[main] failed to load config: %v\n", err)
		os.Exit(1)
	}
	overrides.Apply(&cfg)
	if err := config.Validate(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "[main] invalid config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	config.InitCacheDir(&cfg, log)

	if overrides.Devices {
		if err := app.ListDevices(os.Stdout); err != nil {
			log.Error().Err(err).Msg("list devices")
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if overrides.File != "" {
		err := app.RunFileMode(ctx, cfg, overrides.File, overrides.Output, log)
		stop()
		switch {
		case err == nil:
		case errors.Is(err, app.ErrConvert):
			log.Error().Err(err).Str("file", overrides.File).Msg("convert failed")
			os.Exit(2)
		default:
			log.Error().Err(err).Str("file", overrides.File).Msg("transcription failed")
			os.Exit(3)
		}
		return
	}

	store := config.NewStore(path, cfg, overrides.Apply, log)
	log.Info().
		Str("config", path).
		Str("dictation_key", cfg.DictationKey).
		Str("command_key", cfg.CommandKey).
		Str("transcriber", cfg.Transcriber).
		Str("polisher", cfg.Polisher).
		Msg("dictation ready")
	if err := app.RunDictationMode(ctx, store, log); err != nil {
		log.Error().Err(err).Msg("dictation stopped")
		stop()
		os.Exit(1)
	}
}
