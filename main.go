package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/PixPMusic/stem-capture/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const usage = `usage: stem-capture [-config path] [-debug] <command> [flags]

commands:
  ports     list MIDI ports and JACK capture ports
  capture   record a jam, then capture one stem per active track
  replay    capture more stems from an earlier session folder
`

func main() {
	configPath := flag.String("config", "", "config file (default: user config dir)")
	debug := flag.Bool("debug", false, "verbose logging")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		cfg.Debug = true
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	a := &app{cfg: cfg, logger: logger}
	switch args[0] {
	case "ports":
		err = a.ports()
	case "capture":
		err = a.capture(ctx, args[1:])
	case "replay":
		err = a.replay(ctx, args[1:])
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		logger.Error("Command failed", zap.String("command", args[0]), zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFrom(path)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	// First run leaves a file to edit
	if _, statErr := os.Stat(cfg.Path()); os.IsNotExist(statErr) {
		if err := cfg.Save(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to save config: %v\n", err)
		}
	}
	return cfg, nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}
