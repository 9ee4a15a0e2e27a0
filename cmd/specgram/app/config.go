package app

import (
	"fmt"

	"github.com/roman-kulish/lte-receiver/internal/device"
)

const (
	ThermalTheme   = "thermal"
	GrayscaleTheme = "grayscale"
)

// Config drives one spectrogram render.
type Config struct {
	Input  string // captured IQ file, interleaved little-endian int16 pairs
	Output string // PNG path

	ResourceBlocks int // selects the capture sample rate
	FFTSize        int
	Theme          string
	FontPath       string // TTF for axis annotation, optional
}

func (c *Config) Validate() error {
	if c.Input == "" {
		return fmt.Errorf("config: input capture path required")
	}
	if c.Output == "" {
		return fmt.Errorf("config: output image path required")
	}
	if c.FFTSize <= 0 || c.FFTSize&(c.FFTSize-1) != 0 {
		return fmt.Errorf("config: FFT size must be a power of two: %d", c.FFTSize)
	}
	switch c.Theme {
	case "", ThermalTheme, GrayscaleTheme:
	default:
		return fmt.Errorf("config: invalid theme %q", c.Theme)
	}
	if _, err := device.SampleRate(c.ResourceBlocks); err != nil {
		return err
	}
	return nil
}

// Rate returns the capture sample rate.
func (c *Config) Rate() float64 {
	rate, _ := device.SampleRate(c.ResourceBlocks)
	return rate
}
