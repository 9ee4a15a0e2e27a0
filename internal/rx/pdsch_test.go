package rx

import (
	"testing"

	"github.com/roman-kulish/lte-receiver/internal/lte"
)

// trackingSync returns a synchronizer already locked to a cell and sitting
// in the tracking state.
func trackingSync(t *testing.T) (*Synchronizer, *fakeDevice) {
	t.Helper()

	phy := &fakePHY{
		nid1:  14,
		nid2:  0,
		mib:   lte.MIB{RBs: 6, PhichNg: 1, TxAntennas: 2},
		mibOK: true,
	}
	s, dev := newTestSync(t, 6, phy)

	s.state = StatePDSCHSync
	s.cellID = 42
	s.mib = phy.mib
	s.mibValid = true
	return s, dev
}

func TestSynchronizer_FrequencyFeedback(t *testing.T) {
	s, dev := trackingSync(t)

	for i := 0; i < 8; i++ {
		fb := NewFrameBuffer(1)
		fb.FreqOffset = 100.0
		s.inbound.Write(fb)
	}

	// One tick per subframe, recycling emitted buffers the way the decode
	// stages do. The offset estimate rides along unchanged.
	tickOnce := func(counter int) {
		step(t, s, counter, 1)
		if fb := s.outbound.Read(); fb != nil {
			s.inbound.Write(fb)
		}
	}

	for i := 0; i < 199; i++ {
		tickOnce(i)
	}
	if len(dev.shiftCalls) != 0 {
		t.Fatalf("tune issued after 199 frames: %v", dev.shiftCalls)
	}

	tickOnce(199)
	if len(dev.shiftCalls) != 1 {
		t.Fatalf("tune calls after 200 frames = %d, want 1", len(dev.shiftCalls))
	}
	if got := dev.shiftCalls[0]; got != 100.0 {
		t.Errorf("tune offset = %f Hz, want 100", got)
	}
}

func TestSynchronizer_DroppedFrameAdvances(t *testing.T) {
	s, _ := trackingSync(t)

	// Inbound queue stays empty: every tick logs a dropped frame but the
	// counters keep running.
	step(t, s, 0, 23)
	if s.time.Frame != 2 || s.time.Subframe != 3 {
		t.Errorf("lte time = (%d, %d), want (2, 3)", s.time.Frame, s.time.Subframe)
	}
	if s.outbound.Len() != 0 {
		t.Errorf("outbound queue length = %d, want 0", s.outbound.Len())
	}
}

func TestSynchronizer_CRCClearsMissCounters(t *testing.T) {
	s, _ := trackingSync(t)
	s.pssMisses = 5
	s.sssMisses = 3

	fb := NewFrameBuffer(1)
	fb.CRCValid = true
	s.inbound.Write(fb)

	step(t, s, 0, 1)
	if s.pssMisses != 0 || s.sssMisses != 0 {
		t.Errorf("miss counters = %d/%d after valid CRC, want 0/0", s.pssMisses, s.sssMisses)
	}

	out := s.outbound.Read()
	if out == nil {
		t.Fatal("no frame emitted")
	}
	if out.CRCValid {
		t.Error("CRC flag not consumed on recycle")
	}
}

func TestTimeCounterWrap(t *testing.T) {
	tm := lte.Time{Frame: 1023, Subframe: 8}

	for i := 0; i < 3; i++ {
		tm.Tick()
	}
	if tm.Frame != 0 || tm.Subframe != 1 {
		t.Errorf("time after wrap = (%d, %d), want (0, 1)", tm.Frame, tm.Subframe)
	}
}

func TestDecoderStage_Feedback(t *testing.T) {
	in := NewBufferQueue(4)
	out := NewBufferQueue(4)

	d := NewDecoderStage(decodeFunc(func() (float64, bool) { return -42.5, true }), in, out)

	fb := NewFrameBuffer(1)
	fb.Channels[0] = make([]complex64, 16)
	d.decode(fb)

	if fb.FreqOffset != -42.5 {
		t.Errorf("freqOffset = %f, want -42.5", fb.FreqOffset)
	}
	if !fb.CRCValid {
		t.Error("crcValid not set")
	}
}

// decodeFunc adapts a closure to the lte.Decoder boundary.
type decodeFunc func() (float64, bool)

func (f decodeFunc) Decode(_ [][]complex64, _, _, _, _, _, _ int) (float64, bool) {
	return f()
}
