package rx

import (
	"testing"

	"github.com/roman-kulish/lte-receiver/internal/device"
	"github.com/roman-kulish/lte-receiver/internal/iq"
	"github.com/roman-kulish/lte-receiver/internal/lte"
)

// fakeDevice serves an endless stream of zero samples and records tune
// requests.
type fakeDevice struct {
	shiftCalls []float64
	resetCalls int
}

func (d *fakeDevice) Start() error            { return nil }
func (d *fakeDevice) Stop()                   {}
func (d *fakeDevice) Reset()                  {}
func (d *fakeDevice) SetFreq(float64)         {}
func (d *fakeDevice) SetGain(float64) float64 { return 0 }
func (d *fakeDevice) ResetFreq()              { d.resetCalls++ }
func (d *fakeDevice) TimeLow() int64          { return 0 }
func (d *fakeDevice) TimeHigh() int64         { return 1 << 62 }
func (d *fakeDevice) Reload() error           { return nil }
func (d *fakeDevice) StartTimestamp() int64   { return 0 }
func (d *fakeDevice) Ratio() (int, int)       { return 1, 1 }

func (d *fakeDevice) ShiftFreq(offset float64) {
	d.shiftCalls = append(d.shiftCalls, offset)
}

func (d *fakeDevice) Pull(bufs [][]iq.Int16, ts int64) (int, error) {
	for i := range bufs {
		for j := range bufs[i] {
			bufs[i][j] = iq.Int16{}
		}
	}
	return len(bufs[0]), nil
}

// fakePHY scripts a clean cell at the given identity.
type fakePHY struct {
	nid1, nid2 int
	mib        lte.MIB
	mibOK      bool
}

func (p *fakePHY) lock() lte.SyncInfo {
	return lte.SyncInfo{
		Coarse:  lte.PSSTarget,
		Fine:    32,
		Mag:     2000,
		NID1:    p.nid1,
		NID2:    p.nid2,
		NIDCell: lte.CellID(p.nid1, p.nid2),
	}
}

func (p *fakePHY) PSSSearch([][]complex64) lte.SyncInfo          { return p.lock() }
func (p *fakePHY) PSSDetect([][]complex64) int                   { return p.nid2 }
func (p *fakePHY) PSSSync([][]complex64, int) lte.SyncInfo       { return p.lock() }
func (p *fakePHY) PSSFineSync([][]complex64, int) lte.SyncInfo   { return p.lock() }
func (p *fakePHY) PSSDetectQuick([][]complex64, int) int         { return p.nid2 }
func (p *fakePHY) GenRefMap(_, _, _, _, _ int) lte.RefMap        { return struct{}{} }

func (p *fakePHY) SSSDetect([][]complex64, int) (lte.SyncInfo, int) {
	return p.lock(), lte.SSSFound
}

func (p *fakePHY) DecodeMIB([][]complex64, int, [][]lte.RefMap) (lte.MIB, bool) {
	return p.mib, p.mibOK
}

func newTestSync(t *testing.T, rbs int, phy lte.PHY) (*Synchronizer, *fakeDevice) {
	t.Helper()

	dev := &fakeDevice{}
	factory := func(int) (device.Device, error) { return dev, nil }

	inbound := NewBufferQueue(NumRecvSubframes)
	outbound := NewBufferQueue(NumRecvSubframes)
	s := NewSynchronizer(1, phy, factory, inbound, outbound)
	if err := s.Open(rbs); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return s, dev
}

// step runs the body of the synchronizer loop for n subframe ticks.
func step(t *testing.T, s *Synchronizer, from, n int) int {
	t.Helper()

	counter := from
	for i := 0; i < n; i++ {
		shift, err := s.io.GetBuffer(s.conv.Raw(), counter, s.coarse, s.fine,
			s.state == StatePDSCHSync)
		if err != nil {
			t.Fatalf("GetBuffer failed at tick %d: %v", counter, err)
		}
		s.coarse, s.fine = 0, 0

		if err = s.drivePDSCH(shift); err != nil {
			t.Fatalf("drive failed at tick %d: %v", counter, err)
		}
		s.conv.Reset()

		if s.resetFlag.Load() {
			s.resetState(true)
		}
		counter++
	}
	return counter
}

func TestSynchronizer_HappyPath(t *testing.T) {
	phy := &fakePHY{
		nid1:  14, // cell identity 3*14 + 0 = 42
		nid2:  0,
		mib:   lte.MIB{RBs: 25, PhichNg: 1, TxAntennas: 2},
		mibOK: true,
	}
	s, _ := newTestSync(t, 25, phy)

	for i := 0; i < NumRecvSubframes; i++ {
		s.inbound.Write(NewFrameBuffer(1))
	}

	// PSS lock happens on the first tick; each later stage runs on
	// subframe-0 ticks only, so four frames suffice to reach tracking.
	tick := step(t, s, 0, 1)
	if s.state != StatePSSSync2 {
		t.Fatalf("state after PSS search = %s, want PSS-Sync1", s.state)
	}

	tick = step(t, s, tick, 40)
	if s.state != StatePDSCHSync {
		t.Fatalf("state after acquisition = %s, want PDSCH-Sync", s.state)
	}
	if s.CellID() != 42 {
		t.Errorf("cell ID = %d, want 42", s.CellID())
	}

	step(t, s, tick, 12)
	if s.outbound.Len() == 0 {
		t.Fatal("no frames emitted in tracking state")
	}

	fb := s.outbound.Read()
	if fb.CellID != 42 {
		t.Errorf("frame cellId = %d, want 42", fb.CellID)
	}
	if fb.RBs != 25 {
		t.Errorf("frame rbs = %d, want 25", fb.RBs)
	}
	if len(fb.Channels[0]) != 5760 {
		t.Errorf("subframe length = %d, want 5760", len(fb.Channels[0]))
	}
}

func TestSynchronizer_MIBBandwidthMismatchReopens(t *testing.T) {
	phy := &fakePHY{
		nid1:  14,
		nid2:  0,
		mib:   lte.MIB{RBs: 50, PhichNg: 1, TxAntennas: 2},
		mibOK: true,
	}
	s, _ := newTestSync(t, 25, phy)

	// Acquisition reaches the MIB decode on the 31st tick; the announced 50
	// RB bandwidth forces a reopen and a return to PSS acquisition.
	step(t, s, 0, 31)
	if s.state != StatePSSSync {
		t.Fatalf("state after bandwidth mismatch = %s, want PSS-Sync0", s.state)
	}
	if got := s.io.RBs(); got != 50 {
		t.Errorf("device bandwidth = %d RB, want 50", got)
	}
}

func TestSynchronizer_ResetReturnsToPSS(t *testing.T) {
	phy := &fakePHY{nid1: 14, nid2: 0, mibOK: false}
	s, dev := newTestSync(t, 6, phy)

	s.state = StatePDSCHSync
	s.pssMisses = 42
	s.sssMisses = 7
	s.Reset()

	step(t, s, 0, 1)
	if s.state != StatePSSSync {
		t.Errorf("state after reset = %s, want PSS-Sync0", s.state)
	}
	if s.pssMisses != 0 || s.sssMisses != 0 {
		t.Errorf("miss counters = %d/%d, want 0/0", s.pssMisses, s.sssMisses)
	}
	if dev.resetCalls == 0 {
		t.Error("reset did not undo accumulated DDC shifts")
	}
}
