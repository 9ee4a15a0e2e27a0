package rx

import (
	"fmt"

	"github.com/roman-kulish/lte-receiver/internal/iq"
	"github.com/roman-kulish/lte-receiver/internal/lte"
	"github.com/roman-kulish/lte-receiver/internal/resample"
)

// defaultTaps is the per-partition filter length of the converter's
// resamplers and the head room used for residual subframe alignment.
const defaultTaps = 32

// Converter turns raw device-domain subframes into the float vectors each
// decode path needs: the full-rate PDSCH vector, a PSS vector decimated to
// 0.96 Msps and a PBCH vector decimated to 1.92 Msps. Conversions run lazily at
// most once per subframe; resampler state carries across subframes so the
// decimated streams stay continuous.
type Converter struct {
	chans int
	taps  int
	rbs   int
	p, q  int

	raw      [][]iq.Int16
	devFloat [][]complex64
	prev     [][]complex64
	pdsch    [][]complex64
	pbch     [][]complex64
	pss      [][]complex64

	rateRes []*resample.Resampler
	pssRes  []*resample.Resampler
	pbchRes []*resample.Resampler

	donePDSCH bool
	donePBCH  bool
	donePSS   bool
}

// NewConverter creates a converter for the given channel count.
func NewConverter(chans int) *Converter {
	return &Converter{chans: chans, taps: defaultTaps}
}

// Init sizes the buffers and rebuilds the resampler bank for a bandwidth
// and device rate ratio. Reinitialization is skipped when nothing changed.
func (c *Converter) Init(rbs, p, q int) error {
	if rbs == c.rbs && p == c.p && q == c.q {
		return nil
	}

	pdschLen, err := lte.SubframeLen(rbs)
	if err != nil {
		return err
	}
	pbchLen, _ := lte.SubframeLen(6)
	pssLen := pbchLen / 2
	devLen := pdschLen * q / p

	decim, err := lte.Decim(rbs)
	if err != nil {
		return err
	}
	pssQ := 32 / decim
	if lte.UseFFT1536(rbs) {
		pssQ = 32 * 3 / 4 / decim
	}
	pbchQ := pssQ / 2
	if pbchQ < 1 {
		pbchQ = 1
	}

	alloc := func(n int) [][]complex64 {
		bufs := make([][]complex64, c.chans)
		for i := range bufs {
			bufs[i] = make([]complex64, n)
		}
		return bufs
	}

	c.raw = make([][]iq.Int16, c.chans)
	for i := range c.raw {
		c.raw[i] = make([]iq.Int16, devLen)
	}
	c.prev = alloc(pdschLen)
	c.pdsch = alloc(pdschLen)
	c.pbch = alloc(pbchLen)
	c.pss = alloc(pssLen)

	c.rateRes = nil
	if p != q {
		c.devFloat = alloc(devLen)
		c.rateRes = make([]*resample.Resampler, c.chans)
	}
	c.pssRes = make([]*resample.Resampler, c.chans)
	c.pbchRes = make([]*resample.Resampler, c.chans)
	for i := 0; i < c.chans; i++ {
		if p != q {
			if c.rateRes[i], err = resample.New(p, q, c.taps); err != nil {
				return err
			}
		}
		if c.pssRes[i], err = resample.New(1, pssQ, c.taps); err != nil {
			return err
		}
		if c.pbchRes[i], err = resample.New(1, pbchQ, c.taps); err != nil {
			return err
		}
	}

	c.rbs = rbs
	c.p, c.q = p, q
	c.donePDSCH, c.donePBCH, c.donePSS = false, false, false
	return nil
}

// Raw exposes the device-domain buffers the I/O interface fills.
func (c *Converter) Raw() [][]iq.Int16 { return c.raw }

// Channels returns the channel count.
func (c *Converter) Channels() int { return c.chans }

// PDSCHLen returns the LTE-domain subframe length, zero before Init.
func (c *Converter) PDSCHLen() int {
	if len(c.pdsch) == 0 {
		return 0
	}
	return len(c.pdsch[0])
}

func (c *Converter) convertPDSCH() error {
	if c.donePDSCH {
		return nil
	}

	for i := range c.pdsch {
		if c.rateRes == nil {
			iq.ToComplex(c.pdsch[i], c.raw[i])
			continue
		}
		iq.ToComplex(c.devFloat[i], c.raw[i])
		if err := c.rateRes[i].Rotate(c.devFloat[i], c.pdsch[i]); err != nil {
			return fmt.Errorf("rx: rate conversion: %w", err)
		}
	}

	c.donePDSCH = true
	return nil
}

// PDSCH returns the full-rate float subframe, converting on first use.
func (c *Converter) PDSCH() ([][]complex64, error) {
	if err := c.convertPDSCH(); err != nil {
		return nil, err
	}
	return c.pdsch, nil
}

// PSS returns the 960-sample search-domain subframe used by PSS and SSS
// correlation.
func (c *Converter) PSS() ([][]complex64, error) {
	if c.donePSS {
		return c.pss, nil
	}
	if err := c.convertPDSCH(); err != nil {
		return nil, err
	}

	for i := range c.pdsch {
		if err := c.pssRes[i].Rotate(c.pdsch[i], c.pss[i]); err != nil {
			return nil, fmt.Errorf("rx: PSS decimation: %w", err)
		}
	}
	c.donePSS = true
	return c.pss, nil
}

// PBCH returns the RB6-domain subframe used for broadcast-channel decoding.
func (c *Converter) PBCH() ([][]complex64, error) {
	if c.donePBCH {
		return c.pbch, nil
	}
	if err := c.convertPDSCH(); err != nil {
		return nil, err
	}

	for i := range c.pdsch {
		if err := c.pbchRes[i].Rotate(c.pdsch[i], c.pbch[i]); err != nil {
			return nil, fmt.Errorf("rx: PBCH decimation: %w", err)
		}
	}
	c.donePBCH = true
	return c.pbch, nil
}

// DelayPDSCH writes the subframe into dst shifted by offset samples,
// splicing the tail of the previous subframe in front so the output stays
// aligned to the subframe boundary. The offset is clamped to the available
// head room.
func (c *Converter) DelayPDSCH(dst [][]complex64, offset int) error {
	if len(dst) != c.chans {
		return fmt.Errorf("rx: invalid channel count %d", len(dst))
	}
	if err := c.convertPDSCH(); err != nil {
		return err
	}

	pdschLen := c.PDSCHLen()
	min, max := -c.taps/2, pdschLen-c.taps/2
	if offset < min {
		offset = min
	} else if offset > max {
		offset = max
	}

	head := c.taps/2 + offset
	for i := range dst {
		n := copy(dst[i], c.prev[i][pdschLen-head:])
		copy(dst[i][n:], c.pdsch[i])
	}
	return nil
}

// Update slides the current subframe into the decimators' history so the
// search-domain streams stay continuous even when no conversion ran.
func (c *Converter) Update() {
	// Init sizes every buffer to the resampler contract, so conversion
	// cannot fail here.
	if err := c.convertPDSCH(); err != nil {
		return
	}
	for i := range c.pdsch {
		c.pssRes[i].Update(c.pdsch[i])
		c.pbchRes[i].Update(c.pdsch[i])
	}
}

// Reset clears the lazy-conversion flags and swaps the double-buffered
// subframe so the previous tail stays available for DelayPDSCH.
func (c *Converter) Reset() {
	c.donePDSCH, c.donePBCH, c.donePSS = false, false, false
	c.prev, c.pdsch = c.pdsch, c.prev
}
