// Package device provides access to the SDR front-end: the consumed vendor
// SDK surface, the hardware-backed and file-backed devices, and the
// clock/sample-rate tables that map LTE bandwidth onto device rates.
package device

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/lte-receiver/internal/iq"
)

var (
	// ErrNoSDK is returned when hardware support is requested but no vendor
	// SDK binding has been registered.
	ErrNoSDK = errors.New("device: no SDK binding registered")

	// ErrNonMonotonicTS indicates the device stream went backwards in time.
	// Continuation would produce undefined output, so the pipeline stops.
	ErrNonMonotonicTS = errors.New("device: non-monotonic timestamp")

	// ErrInsufficientSamples is returned by Pull when the requested range is
	// not yet buffered.
	ErrInsufficientSamples = errors.New("device: insufficient samples in buffer")
)

// Device is the front-end consumed by the I/O interface. Samples are pulled
// by absolute timestamp out of an internal ring fed by Reload.
type Device interface {
	Start() error
	Stop()
	Reset()

	SetFreq(freq float64)
	SetGain(gain float64) float64
	ShiftFreq(offset float64)
	ResetFreq()

	// TimeLow and TimeHigh bound the buffered timestamp window.
	TimeLow() int64
	TimeHigh() int64

	// Reload blocks on the device stream until at least one packet has been
	// ingested into the ring.
	Reload() error

	// Pull copies len(bufs[i]) samples starting at ts into each channel
	// buffer.
	Pull(bufs [][]iq.Int16, ts int64) (int, error)

	// StartTimestamp returns the device tick count observed at stream start.
	StartTimestamp() int64

	// Ratio returns the P/Q rational ratio converting the device rate to
	// the LTE canonical rate for the configured bandwidth.
	Ratio() (p, q int)
}

// ClockRef selects the device reference clock source.
type ClockRef int

const (
	RefInternal ClockRef = iota
	RefExternal
	RefGPS
)

func (r ClockRef) String() string {
	switch r {
	case RefExternal:
		return "external"
	case RefGPS:
		return "gps"
	default:
		return "internal"
	}
}

// UnmarshalYAML accepts internal, external, gps and gpsdo.
func (r *ClockRef) UnmarshalYAML(value *yaml.Node) error {
	switch strings.ToLower(value.Value) {
	case "", "internal":
		*r = RefInternal
	case "external":
		*r = RefExternal
	case "gps", "gpsdo":
		*r = RefGPS
	default:
		return fmt.Errorf("device: invalid clock reference %q", value.Value)
	}
	return nil
}

// HWType identifies the hardware family, detected from the device
// description string.
type HWType int

const (
	HWUnknown HWType = iota
	HWB200
	HWB210
	HWX300
	HWN300
)

// DetectHWType matches the description against known family substrings.
func DetectHWType(descr string) HWType {
	switch {
	case strings.Contains(descr, "B200"):
		return HWB200
	case strings.Contains(descr, "B210"):
		return HWB210
	case strings.Contains(descr, "X300"), strings.Contains(descr, "X310"):
		return HWX300
	case strings.Contains(descr, "N300"), strings.Contains(descr, "N310"):
		return HWN300
	}
	return HWUnknown
}

// Fixed master clock rates for the families that need one. B-series devices
// use an adaptive rate derived from the sample rate instead.
const (
	masterClockX300 = 184.32e6
	masterClockN300 = 122.88e6

	// b2xxClockCeiling bounds the adaptive B-series master clock per
	// channel.
	b2xxClockCeiling = 61.44e6
)

// SampleRate returns the canonical radix-3 device rate for rbs.
func SampleRate(rbs int) (float64, error) {
	switch rbs {
	case 6:
		return 1.92e6, nil
	case 15:
		return 3.84e6, nil
	case 25:
		return 5.76e6, nil
	case 50:
		return 11.52e6, nil
	case 75:
		return 15.36e6, nil
	case 100:
		return 23.04e6, nil
	}
	return 0, fmt.Errorf("device: invalid resource blocks %d", rbs)
}

// Radix2Rate returns the N-series device rate for rbs. The 122.88 MHz
// master clock cannot divide down to the radix-3 rates, so three of the
// bandwidths run the device above the LTE rate and resample by 3/4.
func Radix2Rate(rbs int) (float64, error) {
	switch rbs {
	case 6:
		return 1.92e6, nil
	case 15:
		return 3.84e6, nil
	case 25:
		return 7.68e6, nil
	case 50:
		return 15.36e6, nil
	case 75:
		return 15.36e6, nil
	case 100:
		return 30.72e6, nil
	}
	return 0, fmt.Errorf("device: invalid resource blocks %d", rbs)
}

// RateRatio returns the LTE/device rational rate ratio for rbs on the given
// hardware family.
func RateRatio(hw HWType, rbs int) (p, q int) {
	if hw != HWN300 {
		return 1, 1
	}
	switch rbs {
	case 25, 50, 100:
		return 3, 4
	}
	return 1, 1
}
