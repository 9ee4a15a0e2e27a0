package device

import (
	"time"

	"github.com/roman-kulish/lte-receiver/internal/iq"
)

// SDK is the vendor driver surface the receiver consumes. It is implemented
// by an external binding; this module only drives it. All tune calls use
// the manual-DDC policy: the RF front-end stays on rf while dsp moves the
// digital down-converter.
type SDK interface {
	SetClockSource(source string) error

	SetMasterClockRate(rate float64) error
	SetRxRate(rate float64) error
	RxRate() float64

	// SetRxFreq tunes with the default policy and returns the actual RF
	// frequency the front-end settled on.
	SetRxFreq(target float64, channel int) (actual float64, err error)

	// SetRxFreqManual tunes the DDC to dsp while pinning the RF front-end
	// to rf.
	SetRxFreqManual(dsp, rf float64, channel int) (actual float64, err error)
	RxFreq() float64

	SetRxGain(gain float64, channel int) error
	RxGain() float64

	// OpenStream configures an sc16 receive stream over the given channel
	// count and returns the maximum samples per packet.
	OpenStream(channels int) (spp int, err error)
	StartStream() error
	StopStream() error

	// Recv blocks up to timeout for one packet, filling one buffer per
	// channel. It returns the sample count and the packet timestamp in
	// device ticks.
	Recv(bufs [][]iq.Int16, spp int, timeout time.Duration) (n int, ticks int64, err error)

	// TimeNowTicks returns the free-running device clock converted to ticks
	// at the given sample rate.
	TimeNowTicks(rate float64) int64
}

// Finder locates and opens a device by its address string, returning the
// SDK handle and a human-readable device description used for family
// detection.
type Finder func(args string) (SDK, string, error)

// Find is the registered SDK entry point. Builds without a vendor binding
// leave the default in place, restricting the receiver to file input.
var Find Finder = func(args string) (SDK, string, error) {
	return nil, "", ErrNoSDK
}
