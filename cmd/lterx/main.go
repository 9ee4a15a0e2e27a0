package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/roman-kulish/lte-receiver/cmd/lterx/app"
)

func main() {
	var logLevel slog.LevelVar
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: &logLevel}))

	var (
		configPath string
		freq       float64
		gain       float64
		rbs        int
	)
	flag.StringVar(&configPath, "c", "", "Path to the configuration file")
	flag.Float64Var(&freq, "f", 0, "Downlink frequency override (Hz)")
	flag.Float64Var(&gain, "g", -1, "RF receive gain override (dB)")
	flag.IntVar(&rbs, "b", -1, "LTE resource blocks override (0 = auto)")
	flag.Parse()

	if configPath == "" {
		logger.Error("no configuration file provided")
		os.Exit(1)
	}

	config, err := app.LoadConfig(configPath)
	if err != nil {
		logger.Error(fmt.Sprintf("failed to load configuration file: %s", err.Error()), slog.String("path", configPath))
		os.Exit(1)
	}

	if freq > 0 {
		config.Device.Frequency = freq
	}
	if gain >= 0 {
		config.Device.Gain = gain
	}
	if rbs >= 0 {
		config.Device.ResourceBlocks = rbs
	}

	if config.Settings.LogLevel != "" {
		var level slog.Level
		if err = level.UnmarshalText([]byte(config.Settings.LogLevel)); err != nil {
			logger.Error(fmt.Sprintf("invalid log level: %s", err.Error()))
			os.Exit(1)
		}
		logLevel.Set(level)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err = app.Run(ctx, config, logger); err != nil {
		logger.Error(err.Error())

		cancel()
		os.Exit(1)
	}
}
