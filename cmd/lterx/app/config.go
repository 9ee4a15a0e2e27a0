package app

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/lte-receiver/internal/device"
	"github.com/roman-kulish/lte-receiver/internal/lte"
)

// Config represents the main application configuration
type Config struct {
	Settings    Settings          `yaml:"settings"`
	Device      DeviceConfig      `yaml:"device"`
	Decoder     DecoderConfig     `yaml:"decoder"`
	Storage     StorageConfig     `yaml:"storage"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel string `yaml:"logLevel"`
}

// DeviceConfig selects and tunes the front-end. Leaving ResourceBlocks at
// zero probes the cell bandwidth from its broadcast channel before the
// receive chain starts.
type DeviceConfig struct {
	Name           string          `yaml:"name"`
	Args           string          `yaml:"args"`
	File           string          `yaml:"file"`
	Clock          device.ClockRef `yaml:"clock"`
	Frequency      float64         `yaml:"frequency"`
	Gain           float64         `yaml:"gain"`
	Channels       int             `yaml:"channels"`
	ResourceBlocks int             `yaml:"resourceBlocks"`
}

// DecoderConfig sizes the shared-channel decode pool.
type DecoderConfig struct {
	Threads int `yaml:"threads"`
}

// StorageConfig represents storage settings
type StorageConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DataDirectory string `yaml:"dataDirectory"`
	MaxBatchSize  int    `yaml:"maxBatchSize"`
}

// DiagnosticsConfig toggles the UDP spectrogram publisher.
type DiagnosticsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoadConfig reads and validates the configuration file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}

	var config Config
	if err = yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err = config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	if c.Device.Frequency <= 0 && c.Device.File == "" {
		return fmt.Errorf("config: downlink frequency must be positive: %f", c.Device.Frequency)
	}
	if c.Device.Channels == 0 {
		c.Device.Channels = 1
	}
	if c.Device.Channels < 1 || c.Device.Channels > 2 {
		return fmt.Errorf("config: invalid number of channels %d", c.Device.Channels)
	}
	if c.Device.ResourceBlocks != 0 && !lte.ValidRB(c.Device.ResourceBlocks) {
		return fmt.Errorf("config: invalid resource blocks %d, must be one of %v",
			c.Device.ResourceBlocks, lte.RBList)
	}
	if c.Device.File != "" && c.Device.ResourceBlocks == 0 {
		return fmt.Errorf("config: file input requires an explicit resource block count")
	}
	if c.Decoder.Threads == 0 {
		c.Decoder.Threads = 1
	}
	if c.Decoder.Threads < 0 {
		return fmt.Errorf("config: invalid decoder threads %d", c.Decoder.Threads)
	}
	if c.Storage.MaxBatchSize == 0 {
		c.Storage.MaxBatchSize = 100
	}
	return nil
}
