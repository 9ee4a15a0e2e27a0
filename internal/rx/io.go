package rx

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/roman-kulish/lte-receiver/internal/device"
	"github.com/roman-kulish/lte-receiver/internal/iq"
	"github.com/roman-kulish/lte-receiver/internal/lte"
)

// devStartOffset delays the first read this many subframes past the device
// start time so the stream has settled.
const devStartOffset = 20

// fineInvalid marks the fine correction as unusable; the read pointer
// drifts back one sample per subframe until PSS acquisition succeeds.
const fineInvalid = 9999

// fineLimits are the per-bandwidth decision thresholds converting a
// fractional-sample fine estimate into a one-sample pointer nudge.
var fineLimits = map[int]struct{ lim0, lim1 int }{
	6:   {22, 16},
	15:  {22, 14},
	25:  {26, 13},
	50:  {29, 9},
	75:  {30, 9},
	100: {32, 6},
}

// IO pulls one subframe per call out of the device ring at the LTE rate,
// applying coarse and fine timing corrections to the read position. One
// logical frame number maps to one subframe of samples; the device-domain
// length differs from the LTE-domain length by the device's rational rate
// ratio.
type IO struct {
	chans int
	dev   device.Device

	rbs          int
	frameSize    int // LTE-domain samples per subframe
	devFrameSize int // device-domain samples per subframe
	frameMod     int
	p, q         int

	ts0             int64
	prevFrameNum    int
	pssTimingAdjust int
	lim0, lim1      int

	freq, gain float64

	logger *slog.Logger
}

// WithIOLogger sets the logger for the I/O interface.
func WithIOLogger(logger *slog.Logger) func(*IO) {
	return func(o *IO) {
		o.logger = logger.With(slog.String("component", "io"))
	}
}

// NewIO creates an I/O interface for the given channel count.
func NewIO(chans int, options ...func(*IO)) *IO {
	o := &IO{
		chans:    chans,
		frameMod: lte.NumSubframes,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, option := range options {
		option(o)
	}
	return o
}

// Open binds the interface to a device configured for rbs and derives the
// timing parameters for that bandwidth.
func (o *IO) Open(dev device.Device, rbs int) error {
	frameSize, err := lte.SubframeLen(rbs)
	if err != nil {
		return err
	}
	decim, err := lte.Decim(rbs)
	if err != nil {
		return err
	}
	limits, ok := fineLimits[rbs]
	if !ok {
		return fmt.Errorf("rx: invalid resource blocks %d", rbs)
	}

	if lte.UseFFT1536(rbs) {
		o.pssTimingAdjust = 32 * 3 / 4 / decim
	} else {
		o.pssTimingAdjust = 32 / decim
	}

	o.dev = dev
	o.rbs = rbs
	o.frameSize = frameSize
	o.p, o.q = dev.Ratio()
	o.devFrameSize = frameSize * o.q / o.p
	o.lim0, o.lim1 = limits.lim0, limits.lim1
	o.prevFrameNum = 0
	o.ts0 = dev.StartTimestamp() + int64(o.devFrameSize*devStartOffset)

	o.logger.Info("initial timestamp", slog.Int64("ts", o.ts0))
	return nil
}

// RBs returns the currently configured bandwidth.
func (o *IO) RBs() int { return o.rbs }

// FrameSize returns the LTE-domain samples per subframe.
func (o *IO) FrameSize() int { return o.frameSize }

// DevFrameSize returns the device-domain samples per subframe.
func (o *IO) DevFrameSize() int { return o.devFrameSize }

func (o *IO) Start() error { return o.dev.Start() }

func (o *IO) Stop() {
	if o.dev != nil {
		o.dev.Stop()
	}
}

// fineTimingOffset converts the fractional fine estimate into a whole
// sample adjustment near the subframe boundary.
func (o *IO) fineTimingOffset(coarse, fine int) int {
	if coarse == 0 {
		if fine < o.lim0 {
			return -1
		}
		return 0
	}
	if fine > o.lim1 {
		return 1
	}
	return 0
}

// compTimingOffset folds the coarse and fine corrections from the last
// synchronization pass into a read-pointer shift for the next subframe.
func (o *IO) compTimingOffset(coarse, fine int, tracking bool) int {
	if fine == fineInvalid {
		return -1
	}

	switch {
	case fine != 0 && (coarse == 0 || coarse == 1):
		return o.fineTimingOffset(coarse, fine+32)

	case coarse >= -5 && coarse <= 5:
		if !tracking {
			return coarse / 2
		}
		return coarse * o.pssTimingAdjust

	case coarse != 0:
		return (coarse - lte.PSSTarget) * o.pssTimingAdjust
	}

	return 0
}

// GetBuffer advances one subframe and fills one device-domain buffer per
// channel, reloading from the device until the requested range is covered.
// It returns the applied timing shift in LTE samples.
func (o *IO) GetBuffer(bufs [][]iq.Int16, frameNum, coarse, fine int, tracking bool) (int, error) {
	shift := o.compTimingOffset(coarse, fine, tracking)
	o.ts0 += int64(shift * o.q / o.p)

	frameNum = frameNum % o.frameMod
	if frameNum <= o.prevFrameNum {
		o.ts0 += int64(o.frameMod * o.devFrameSize)
	}

	ts := o.ts0 + int64(frameNum*o.devFrameSize)

	for ts+int64(o.devFrameSize) > o.dev.TimeHigh() {
		if err := o.dev.Reload(); err != nil {
			return 0, err
		}
	}

	if _, err := o.dev.Pull(bufs, ts); err != nil {
		return 0, fmt.Errorf("rx: subframe I/O error: %w", err)
	}

	o.prevFrameNum = frameNum
	return shift, nil
}

func (o *IO) SetFreq(freq float64) {
	o.freq = freq
	o.dev.SetFreq(freq)
}

func (o *IO) SetGain(gain float64) {
	o.gain = o.dev.SetGain(gain)
}

func (o *IO) Freq() float64 { return o.freq }

func (o *IO) Gain() float64 { return o.gain }

func (o *IO) ShiftFreq(offset float64) { o.dev.ShiftFreq(offset) }

func (o *IO) ResetFreq() { o.dev.ResetFreq() }
