package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roman-kulish/lte-receiver/internal/device"
	"github.com/roman-kulish/lte-receiver/internal/diag"
	"github.com/roman-kulish/lte-receiver/internal/lte"
	"github.com/roman-kulish/lte-receiver/internal/rx"
	"github.com/roman-kulish/lte-receiver/internal/storage"
)

const storageDir = "data"

// Run wires the receive pipeline from the configuration and drives it
// until the context is cancelled or the device stream fails fatally.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	if lte.NewPHY == nil || lte.NewDecoder == nil {
		return fmt.Errorf("receiver built without PHY kernels")
	}

	phy, err := lte.NewPHY(config.Device.Channels)
	if err != nil {
		return fmt.Errorf("initializing PHY: %w", err)
	}
	decoder, err := lte.NewDecoder(config.Device.Channels)
	if err != nil {
		return fmt.Errorf("initializing decoder: %w", err)
	}

	var sink *diag.Sink
	if config.Diagnostics.Enabled {
		if sink, err = diag.New(); err != nil {
			return fmt.Errorf("creating diagnostic sink: %w", err)
		}
		defer sink.Close()
	}

	var store *storage.Store
	var sessionID int64
	if config.Storage.Enabled {
		if store, err = createStorage(&config.Storage); err != nil {
			return fmt.Errorf("creating storage: %w", err)
		}
		defer store.Close()

		deviceType := "uhd"
		if config.Device.File != "" {
			deviceType = "file"
		}
		if sessionID, err = store.CreateSession(deviceType, config.Device.Name, config.Device); err != nil {
			return fmt.Errorf("creating session: %w", err)
		}
	}

	pipeline, err := rx.NewPipeline(rx.PipelineConfig{
		Channels:  config.Device.Channels,
		RBs:       config.Device.ResourceBlocks,
		Threads:   config.Decoder.Threads,
		Freq:      config.Device.Frequency,
		Gain:      config.Device.Gain,
		PHY:       phy,
		Decoder:   decoder,
		Factory:   deviceFactory(config, logger),
		Sink:      sink,
		Store:     store,
		SessionID: sessionID,
		MaxBatch:  config.Storage.MaxBatchSize,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}

	return pipeline.Run(ctx)
}

// deviceFactory builds front-ends on demand; the synchronizer calls it
// again whenever the cell bandwidth forces a device reopen.
func deviceFactory(config *Config, logger *slog.Logger) rx.DeviceFactory {
	return func(rbs int) (device.Device, error) {
		if config.Device.File != "" {
			if rbs != config.Device.ResourceBlocks {
				return nil, fmt.Errorf("file device cannot be reopened at %d RB", rbs)
			}
			return device.NewFile(config.Device.File, config.Device.Channels, rbs,
				device.WithFileLogger(logger))
		}

		return device.NewUHD(config.Device.Args, config.Device.Channels, rbs,
			config.Device.Clock, device.WithUHDLogger(logger))
	}
}

func createStorage(config *StorageConfig) (*storage.Store, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current working directory: %w", err)
	}

	dbPath := filepath.Join(wd, storageDir)
	if config.DataDirectory != "" {
		dbPath = filepath.Join(wd, config.DataDirectory)
	}

	stat, err := os.Stat(dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("storage directory '%s' does not exist: %w", dbPath, err)
		}
		return nil, err
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("invalid storage directory '%s'", dbPath)
	}

	dbPath = filepath.Join(dbPath, fmt.Sprintf("lte_session_%s.sqlite", time.Now().UTC().Format("20060102_150405")))
	return storage.New(dbPath)
}
