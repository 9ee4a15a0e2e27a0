package device

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"

	"github.com/roman-kulish/lte-receiver/internal/iq"
)

const fileSPP = 1024

// WithFileLogger sets the logger for a file device.
func WithFileLogger(logger *slog.Logger) func(*File) {
	return func(d *File) {
		d.logger = logger.With(slog.String("device", "file"))
	}
}

// File replays a captured stream of interleaved little-endian 16-bit IQ
// pairs with synthetic contiguous timestamps. Tune requests are emulated by
// rotating the replayed samples, so the closed-loop frequency correction
// can be exercised offline. End of file terminates the pipeline.
type File struct {
	f  *os.File
	br *bufio.Reader

	rate       float64
	offsetFreq float64
	prevTs     int64

	buf *iq.TSBuffer[iq.Int16]
	pkt []byte

	logger *slog.Logger
}

// NewFile opens the capture at path for single-channel replay at the
// canonical rate for rbs.
func NewFile(path string, chans, rbs int, options ...func(*File)) (*File, error) {
	if chans != 1 {
		return nil, fmt.Errorf("file device supports a single channel, got %d", chans)
	}

	rate, err := SampleRate(rbs)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening capture: %w", err)
	}

	d := &File{
		f:      f,
		br:     bufio.NewReaderSize(f, fileSPP*4),
		rate:   rate,
		buf:    iq.NewTSBuffer[iq.Int16](iq.DefaultBufferLen),
		pkt:    make([]byte, fileSPP*4),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, option := range options {
		option(d)
	}

	d.buf.SetStart(0)
	d.logger.Info("capture open", slog.String("path", path), slog.Int("spp", fileSPP))
	return d, nil
}

func (d *File) Start() error { return nil }

func (d *File) Stop() {}

func (d *File) Reset() {
	d.prevTs = 0
}

func (d *File) Close() error { return d.f.Close() }

func (d *File) StartTimestamp() int64 { return 0 }

func (d *File) Ratio() (p, q int) { return 1, 1 }

func (d *File) TimeLow() int64 { return d.buf.First() }

func (d *File) TimeHigh() int64 { return d.buf.Last() }

func (d *File) Reload() error {
	if _, err := io.ReadFull(d.br, d.pkt); err != nil {
		return fmt.Errorf("end of capture: %w", err)
	}

	samples := make([]iq.Int16, fileSPP)
	for i := range samples {
		samples[i] = iq.Int16{
			I: int16(binary.LittleEndian.Uint16(d.pkt[4*i:])),
			Q: int16(binary.LittleEndian.Uint16(d.pkt[4*i+2:])),
		}
	}

	if status := d.buf.Write(samples, d.prevTs); status != iq.WriteOK {
		if status == iq.WriteOverflow {
			d.logger.Warn("internal buffer overflow")
			return nil
		}
		return fmt.Errorf("buffer write %s at ts %d", status, d.prevTs)
	}

	d.prevTs += fileSPP
	return nil
}

func (d *File) Pull(bufs [][]iq.Int16, ts int64) (int, error) {
	if len(bufs) != 1 {
		return 0, fmt.Errorf("invalid channel count %d", len(bufs))
	}
	if d.buf.Avail(ts) < int64(len(bufs[0])) {
		return 0, ErrInsufficientSamples
	}

	if err := d.buf.Read(bufs[0], ts); err != nil {
		return 0, fmt.Errorf("subframe read: %w", err)
	}

	if d.offsetFreq != 0 {
		d.applyOffset(bufs[0], ts)
	}
	return len(bufs[0]), nil
}

// applyOffset emulates the hardware DDC by rotating the replayed samples.
// The phase runs on the absolute timestamp so consecutive subframes stay
// continuous.
func (d *File) applyOffset(buf []iq.Int16, ts int64) {
	step := 2 * math.Pi * d.offsetFreq / d.rate
	for n := range buf {
		phase := step * float64(ts+int64(n))
		sin, cos := math.Sincos(phase)

		i := float64(buf[n].I)
		q := float64(buf[n].Q)
		buf[n].I = int16(math.Round(i*cos - q*sin))
		buf[n].Q = int16(math.Round(i*sin + q*cos))
	}
}

func (d *File) SetFreq(freq float64) {
	d.logger.Info("no RF frequency setting in file mode")
	d.offsetFreq = 0.0
}

func (d *File) SetGain(gain float64) float64 { return 0.0 }

func (d *File) ShiftFreq(offset float64) {
	d.logger.Info("adjusting frequency offset",
		slog.Float64("fromHz", d.offsetFreq),
		slog.Float64("toHz", d.offsetFreq+offset))
	d.offsetFreq += offset
}

func (d *File) ResetFreq() {
	d.logger.Info("resetting offset frequency")
	d.offsetFreq = 0.0
}
