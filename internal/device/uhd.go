package device

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/lte-receiver/internal/iq"
)

const uhdBufferLen = 1 << 20

// WithUHDLogger sets the logger for a hardware device.
func WithUHDLogger(logger *slog.Logger) func(*UHD) {
	return func(d *UHD) {
		d.logger = logger.With(slog.String("device", "uhd"))
	}
}

// UHD drives a hardware front-end through the vendor SDK. It owns the
// per-channel timestamped rings, the clocking and rate policy for the
// detected hardware family, and the timestamp discipline over packetised
// reads.
type UHD struct {
	sdk   SDK
	hw    HWType
	chans int

	rbs  int
	rate float64
	p, q int

	spp     int
	startTs int64
	prevTs  int64
	resync  bool

	baseFreq   float64
	offsetFreq float64

	bufs []*iq.TSBuffer[iq.Int16]
	pkt  [][]iq.Int16

	logger *slog.Logger
}

// NewUHD opens a hardware device through the registered SDK binding and
// prepares a continuous receive stream for the given bandwidth.
func NewUHD(args string, chans, rbs int, ref ClockRef, options ...func(*UHD)) (*UHD, error) {
	sdk, descr, err := Find(args)
	if err != nil {
		return nil, fmt.Errorf("opening device %q: %w", args, err)
	}

	d := &UHD{
		sdk:    sdk,
		hw:     DetectHWType(descr),
		chans:  chans,
		rbs:    rbs,
		resync: true,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, option := range options {
		option(d)
	}

	if d.hw == HWUnknown {
		d.logger.Warn("unsupported or unknown device", slog.String("descr", descr))
	}

	if ref != RefInternal {
		if err = sdk.SetClockSource(ref.String()); err != nil {
			return nil, fmt.Errorf("setting clock source %s: %w", ref, err)
		}
	}

	if err = d.initRates(rbs); err != nil {
		return nil, err
	}
	if err = d.initRx(); err != nil {
		return nil, err
	}

	return d, nil
}

// initRates applies the master-clock policy for the hardware family and
// sets the stream sample rate.
func (d *UHD) initRates(rbs int) error {
	var (
		rate float64
		err  error
	)
	if d.hw == HWN300 {
		rate, err = Radix2Rate(rbs)
	} else {
		rate, err = SampleRate(rbs)
	}
	if err != nil {
		return err
	}

	switch d.hw {
	case HWX300:
		err = d.sdk.SetMasterClockRate(masterClockX300)
	case HWN300:
		err = d.sdk.SetMasterClockRate(masterClockN300)
	default:
		// B-series: run the clock at the highest power-of-two multiple of
		// the sample rate that fits the per-channel ceiling.
		mcr := 32 * rate
		for mcr > b2xxClockCeiling/float64(d.chans) {
			mcr /= 2.0
		}
		err = d.sdk.SetMasterClockRate(mcr)
	}
	if err != nil {
		return fmt.Errorf("setting master clock: %w", err)
	}

	if err = d.sdk.SetRxRate(rate); err != nil {
		return fmt.Errorf("setting sample rate: %w", err)
	}

	d.rate = d.sdk.RxRate()
	d.p, d.q = RateRatio(d.hw, rbs)
	d.logger.Info("sample rate configured",
		slog.String("rate", fmt.Sprintf("%sHz", humanSI(d.rate))),
		slog.Int("rbs", rbs))
	return nil
}

func (d *UHD) initRx() error {
	spp, err := d.sdk.OpenStream(d.chans)
	if err != nil {
		return fmt.Errorf("opening stream: %w", err)
	}
	d.spp = spp
	d.logger.Info("receive stream open", slog.Int("spp", spp),
		slog.String("buffer", humanize.IBytes(uint64(uhdBufferLen*4*d.chans))))

	d.bufs = make([]*iq.TSBuffer[iq.Int16], d.chans)
	d.pkt = make([][]iq.Int16, d.chans)
	for i := range d.bufs {
		d.bufs[i] = iq.NewTSBuffer[iq.Int16](uhdBufferLen)
		d.pkt[i] = make([]iq.Int16, spp)
	}

	d.startTs = d.sdk.TimeNowTicks(d.rate)
	return nil
}

func (d *UHD) Start() error {
	if err := d.sdk.StartStream(); err != nil {
		return fmt.Errorf("starting stream: %w", err)
	}
	d.prevTs = 0
	d.resync = true
	return nil
}

func (d *UHD) Stop() {
	if err := d.sdk.StopStream(); err != nil {
		d.logger.Warn("stopping stream", slog.String("error", err.Error()))
		return
	}

	// Drain whatever the driver still holds so a later start begins clean.
	for {
		n, _, err := d.sdk.Recv(d.pkt, d.spp, 100*time.Millisecond)
		if n <= 0 || err != nil {
			return
		}
	}
}

func (d *UHD) Reset() {
	d.Stop()
	d.prevTs = 0
	d.resync = true
}

func (d *UHD) StartTimestamp() int64 { return d.startTs }

func (d *UHD) Ratio() (p, q int) { return d.p, d.q }

func (d *UHD) TimeLow() int64 { return d.bufs[0].First() }

func (d *UHD) TimeHigh() int64 { return d.bufs[0].Last() }

// Reload pulls packets from the stream until one full packet has been
// ingested. Timestamp faults are handled per the stream discipline: a
// one-sample slip at the packet boundary is corrected in place, other
// discontinuities are logged and the window re-synced, and time running
// backwards is fatal.
func (d *UHD) Reload() error {
	total := 0
	for {
		n, ticks, err := d.sdk.Recv(d.pkt, d.spp, time.Second)
		if err != nil {
			return fmt.Errorf("stream recv: %w", err)
		}
		if n == 0 {
			d.logger.Warn("receive timed out")
			d.prevTs = 0
			d.resync = true
			continue
		}
		if n < d.spp {
			d.logger.Warn("short packet", slog.Int("samples", n))
			d.prevTs = 0
			d.resync = true
			continue
		}

		ts := ticks
		if d.prevTs != 0 {
			delta := ts - d.prevTs
			switch {
			case ts < d.prevTs:
				return fmt.Errorf("%w: ts %d after %d", ErrNonMonotonicTS, ts, d.prevTs)

			case delta == int64(d.spp)-1:
				// Known off-by-one at the vendor packet boundary.
				d.logger.Warn("timestamp slip corrected", slog.Int64("ts", ts))
				ts++

			case delta != int64(d.spp):
				d.logger.Warn("timestamp jump",
					slog.Int64("ts", ts),
					slog.Int64("expected", d.prevTs+int64(d.spp)))
				d.resync = true
			}
		}

		if d.resync {
			for _, b := range d.bufs {
				b.SetStart(ts)
			}
			d.resync = false
		}

		for i, b := range d.bufs {
			switch status := b.Write(d.pkt[i][:n], ts); status {
			case iq.WriteOK:
			case iq.WriteOverflow:
				d.logger.Warn("internal buffer overflow")
			default:
				return fmt.Errorf("buffer write %s at ts %d", status, ts)
			}
		}

		d.prevTs = ts
		total += n
		if total >= d.spp {
			return nil
		}
	}
}

func (d *UHD) Pull(bufs [][]iq.Int16, ts int64) (int, error) {
	if len(bufs) != d.chans {
		return 0, fmt.Errorf("invalid channel count %d", len(bufs))
	}
	if d.bufs[0].Avail(ts) < int64(len(bufs[0])) {
		return 0, ErrInsufficientSamples
	}

	for i, b := range bufs {
		if err := d.bufs[i].Read(b, ts); err != nil {
			return 0, fmt.Errorf("subframe read: %w", err)
		}
	}
	return len(bufs[0]), nil
}

func (d *UHD) SetFreq(freq float64) {
	var actual float64
	var err error
	for i := 0; i < d.chans; i++ {
		if actual, err = d.sdk.SetRxFreq(freq, i); err != nil {
			d.logger.Error("frequency setting failed", slog.String("error", err.Error()))
			return
		}
	}
	d.baseFreq = actual

	// Pin the RF front-end and leave fine tuning to the DDC.
	for i := 0; i < d.chans; i++ {
		if _, err = d.sdk.SetRxFreqManual(freq, d.baseFreq, i); err != nil {
			d.logger.Error("frequency setting failed", slog.String("error", err.Error()))
			return
		}
	}
	d.offsetFreq = d.baseFreq
	d.logger.Info("frequency set", slog.String("freq", fmt.Sprintf("%sHz", humanSI(freq))))
}

func (d *UHD) ShiftFreq(offset float64) {
	for i := 0; i < d.chans; i++ {
		if _, err := d.sdk.SetRxFreqManual(d.offsetFreq+offset, d.baseFreq, i); err != nil {
			d.logger.Error("frequency setting failed", slog.String("error", err.Error()))
			return
		}
	}
	d.offsetFreq = d.sdk.RxFreq()
	d.logger.Info("adjusting DDC",
		slog.Float64("offsetHz", offset),
		slog.Float64("ddcOffsetHz", d.baseFreq-d.offsetFreq))
}

func (d *UHD) ResetFreq() {
	for i := 0; i < d.chans; i++ {
		if _, err := d.sdk.SetRxFreqManual(d.baseFreq, d.baseFreq, i); err != nil {
			d.logger.Error("frequency setting failed", slog.String("error", err.Error()))
			return
		}
	}
	d.offsetFreq = d.baseFreq
	d.logger.Info("resetting RF frequency",
		slog.String("freq", fmt.Sprintf("%sHz", humanSI(d.baseFreq))))
}

func (d *UHD) SetGain(gain float64) float64 {
	for i := 0; i < d.chans; i++ {
		if err := d.sdk.SetRxGain(gain, i); err != nil {
			d.logger.Error("gain setting failed", slog.String("error", err.Error()))
			return 0
		}
	}
	d.logger.Info("gain set", slog.Float64("gainDB", gain))
	return d.sdk.RxGain()
}

func humanSI(v float64) string {
	f, suffix := humanize.ComputeSI(v)
	return fmt.Sprintf("%.2f %s", f, suffix)
}
