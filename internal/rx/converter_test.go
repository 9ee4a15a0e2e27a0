package rx

import (
	"testing"

	"github.com/roman-kulish/lte-receiver/internal/iq"
)

func fillConst(bufs [][]iq.Int16, value int16) {
	for i := range bufs {
		for j := range bufs[i] {
			bufs[i][j] = iq.Int16{I: value}
		}
	}
}

func TestConverter_SearchDomainLengths(t *testing.T) {
	cases := []struct {
		rbs int
	}{
		{6}, {15}, {25}, {50}, {75}, {100},
	}

	for _, tc := range cases {
		c := NewConverter(1)
		if err := c.Init(tc.rbs, 1, 1); err != nil {
			t.Fatalf("Init(%d) failed: %v", tc.rbs, err)
		}

		pss, err := c.PSS()
		if err != nil {
			t.Fatalf("PSS(%d) failed: %v", tc.rbs, err)
		}
		if len(pss[0]) != 960 {
			t.Errorf("rbs %d: PSS length = %d, want 960", tc.rbs, len(pss[0]))
		}

		pbch, err := c.PBCH()
		if err != nil {
			t.Fatalf("PBCH(%d) failed: %v", tc.rbs, err)
		}
		if len(pbch[0]) != 1920 {
			t.Errorf("rbs %d: PBCH length = %d, want 1920", tc.rbs, len(pbch[0]))
		}
	}
}

func TestConverter_DelayPDSCHSplicesPreviousTail(t *testing.T) {
	c := NewConverter(1)
	if err := c.Init(6, 1, 1); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	// First subframe: constant 1s. Convert, then rotate it into the
	// previous slot.
	fillConst(c.Raw(), 128)
	if _, err := c.PDSCH(); err != nil {
		t.Fatalf("PDSCH failed: %v", err)
	}
	c.Reset()

	// Second subframe: constant 2s.
	fillConst(c.Raw(), 256)

	dst := [][]complex64{make([]complex64, c.PDSCHLen())}
	const offset = 4
	if err := c.DelayPDSCH(dst, offset); err != nil {
		t.Fatalf("DelayPDSCH failed: %v", err)
	}

	// The first taps/2 + offset samples come from the previous subframe's
	// tail, the rest from the current one.
	head := defaultTaps/2 + offset
	for i := 0; i < head; i++ {
		if real(dst[0][i]) != 1.0 {
			t.Fatalf("sample %d = %v, want previous-subframe value 1", i, dst[0][i])
		}
	}
	for i := head; i < head+100; i++ {
		if real(dst[0][i]) != 2.0 {
			t.Fatalf("sample %d = %v, want current-subframe value 2", i, dst[0][i])
		}
	}
}

func TestConverter_RateConversionLengths(t *testing.T) {
	// N-series path: device runs at 7.68 Msps for a 5.76 Msps cell.
	c := NewConverter(1)
	if err := c.Init(25, 3, 4); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	if got := len(c.Raw()[0]); got != 7680 {
		t.Errorf("device-domain length = %d, want 7680", got)
	}
	if got := c.PDSCHLen(); got != 5760 {
		t.Errorf("LTE-domain length = %d, want 5760", got)
	}

	if _, err := c.PDSCH(); err != nil {
		t.Fatalf("PDSCH failed: %v", err)
	}
}
