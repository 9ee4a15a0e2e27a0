// Package resample implements a polyphase rational resampler for complex
// baseband streams. The prototype filter is a Blackman-Harris windowed sinc
// decomposed into P partitions, so a P/Q rate change needs no intermediate
// up-sampling.
package resample

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/window"
)

type path struct {
	offset    int
	partition int
}

// Resampler converts an input stream at rate fs to fs * P / Q. It carries
// filterLen - 1 samples of input history between calls, so a long stream may
// be processed in chunks of any multiple of Q input samples with
// bit-identical output.
type Resampler struct {
	p, q      int
	filterLen int

	partitions [][]float32
	paths      []path
	history    []complex64
	scratch    []complex64
}

// New creates a resampler with the given rational ratio and per-partition
// filter length. P and Q must be positive; P/Q of 1/1 is allowed and acts as
// a plain filter.
func New(p, q, filterLen int) (*Resampler, error) {
	if p <= 0 || q <= 0 || filterLen <= 0 {
		return nil, fmt.Errorf("resample: invalid parameters P=%d Q=%d filterLen=%d", p, q, filterLen)
	}

	r := &Resampler{
		p:         p,
		q:         q,
		filterLen: filterLen,
		history:   make([]complex64, filterLen-1),
	}
	r.initFilter()
	r.initPaths()
	return r, nil
}

// P returns the interpolation factor.
func (r *Resampler) P() int { return r.p }

// Q returns the decimation factor.
func (r *Resampler) Q() int { return r.q }

// initFilter builds the windowed-sinc prototype and splits it into P
// partitions with coefficients reversed for convolution. DC gain is unity
// divided across the partitions.
func (r *Resampler) initFilter() {
	cutoff := r.p
	if r.q > r.p {
		cutoff = r.q
	}

	proto := make([]float64, r.p*r.filterLen)
	midpt := float64(len(proto)) / 2.0
	for i := range proto {
		proto[i] = sinc((float64(i) - midpt) / float64(cutoff))
	}
	window.BlackmanHarris(proto)

	var sum float64
	for _, v := range proto {
		sum += v
	}
	scale := float64(r.p) / sum

	r.partitions = make([][]float32, r.p)
	for n := range r.partitions {
		part := make([]float32, r.filterLen)
		for j := 0; j < r.filterLen; j++ {
			part[r.filterLen-1-j] = float32(proto[j*r.p+n] * scale)
		}
		r.partitions[n] = part
	}
}

// initPaths precomputes partition and input-offset pairs for one full
// period of P outputs; Rotate iterates them cyclically.
func (r *Resampler) initPaths() {
	r.paths = make([]path, r.p)
	for i := range r.paths {
		r.paths[i] = path{offset: (r.q * i) / r.p, partition: (r.q * i) % r.p}
	}
}

// Rotate consumes in and produces out, which must satisfy
// len(out)*Q == len(in)*P. Output sample k is the inner product of
// partition k*Q mod P with the input at offset floor(k*Q/P), taken over the
// history-extended input.
func (r *Resampler) Rotate(in, out []complex64) error {
	if len(out)*r.q != len(in)*r.p {
		return fmt.Errorf("resample: length mismatch %d out * %d != %d in * %d",
			len(out), r.q, len(in), r.p)
	}

	need := len(in) + r.filterLen - 1
	if cap(r.scratch) < need {
		r.scratch = make([]complex64, need)
	}
	ext := r.scratch[:need]
	copy(ext, r.history)
	copy(ext[len(r.history):], in)

	for k := range out {
		pt := r.paths[k%r.p]
		off := (k/r.p)*r.q + pt.offset
		taps := r.partitions[pt.partition]

		var acc complex64
		for j, tap := range taps {
			acc += ext[off+j] * complex(tap, 0)
		}
		out[k] = acc
	}

	copy(r.history, ext[need-len(r.history):])
	return nil
}

// Update slides the trailing input samples into history without producing
// output. Used to keep the filter state continuous over subframes that are
// not converted, and to prime the filter after a coarse timing jump.
func (r *Resampler) Update(in []complex64) {
	if len(in) >= len(r.history) {
		copy(r.history, in[len(in)-len(r.history):])
		return
	}

	n := copy(r.history, r.history[len(in):])
	copy(r.history[n:], in)
}

// Reset clears the input history.
func (r *Resampler) Reset() {
	for i := range r.history {
		r.history[i] = 0
	}
}

func sinc(x float64) float64 {
	if x == 0.0 {
		return 1.0
	}
	return math.Sin(math.Pi*x) / (math.Pi * x)
}
