package resample

import (
	"math"
	"testing"
)

func chirp(n int) []complex64 {
	out := make([]complex64, n)
	for i := range out {
		phase := 2 * math.Pi * float64(i) * float64(i) / float64(4*n)
		out[i] = complex(float32(math.Cos(phase)), float32(math.Sin(phase)))
	}
	return out
}

func TestResampler_StreamEquivalence(t *testing.T) {
	const (
		p         = 3
		q         = 4
		filterLen = 32
		inLen     = 4000
		chunks    = 10
	)

	in := chirp(inLen)

	whole, err := New(p, q, filterLen)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ref := make([]complex64, inLen*p/q)
	if err := whole.Rotate(in, ref); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}

	chunked, err := New(p, q, filterLen)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	got := make([]complex64, 0, len(ref))
	inChunk := inLen / chunks
	outChunk := inChunk * p / q
	for c := 0; c < chunks; c++ {
		out := make([]complex64, outChunk)
		if err := chunked.Rotate(in[c*inChunk:(c+1)*inChunk], out); err != nil {
			t.Fatalf("chunk %d Rotate failed: %v", c, err)
		}
		got = append(got, out...)
	}

	if len(got) != len(ref) {
		t.Fatalf("chunked output length %d, want %d", len(got), len(ref))
	}
	for i := range ref {
		if got[i] != ref[i] {
			t.Fatalf("output %d differs: chunked %v, whole %v", i, got[i], ref[i])
		}
	}
}

func TestResampler_LengthContract(t *testing.T) {
	r, err := New(3, 4, 32)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	in := make([]complex64, 102) // not a multiple of Q
	out := make([]complex64, 75)
	if err := r.Rotate(in, out); err == nil {
		t.Error("Rotate accepted mismatched lengths")
	}
}

func TestResampler_UnityGain(t *testing.T) {
	r, err := New(1, 2, 32)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// A long DC input must come through a decimate-by-two at unit gain once
	// the filter has filled.
	in := make([]complex64, 512)
	for i := range in {
		in[i] = 1
	}
	out := make([]complex64, 256)
	if err := r.Rotate(in, out); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}

	tail := out[len(out)/2:]
	for i, v := range tail {
		if math.Abs(float64(real(v))-1.0) > 1e-3 || math.Abs(float64(imag(v))) > 1e-3 {
			t.Fatalf("steady-state sample %d = %v, want 1+0i", i, v)
		}
	}
}

func TestResampler_UpdatePrimesHistory(t *testing.T) {
	const filterLen = 16

	in := chirp(400)

	// Rotating the first half then the second must equal priming with the
	// first half via Update and rotating only the second.
	full, _ := New(1, 1, filterLen)
	skip := make([]complex64, 200)
	second := make([]complex64, 200)
	if err := full.Rotate(in[:200], skip); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if err := full.Rotate(in[200:], second); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}

	primed, _ := New(1, 1, filterLen)
	primed.Update(in[:200])
	got := make([]complex64, 200)
	if err := primed.Rotate(in[200:], got); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}

	for i := range got {
		if got[i] != second[i] {
			t.Fatalf("sample %d differs after Update priming: %v vs %v", i, got[i], second[i])
		}
	}
}
