package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/roman-kulish/lte-receiver/cmd/specgram/app"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	var config app.Config
	flag.StringVar(&config.Input, "i", "", "Captured IQ file (interleaved int16 pairs)")
	flag.StringVar(&config.Output, "o", "specgram.png", "Output PNG path")
	flag.IntVar(&config.ResourceBlocks, "b", 6, "Resource blocks of the capture (sets the sample rate)")
	flag.IntVar(&config.FFTSize, "n", 1024, "FFT size")
	flag.StringVar(&config.Theme, "t", app.ThermalTheme, "Color theme (thermal, grayscale)")
	flag.StringVar(&config.FontPath, "font", "", "TTF font for axis annotation (optional)")
	flag.Parse()

	if err := app.Run(&config, logger); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}
