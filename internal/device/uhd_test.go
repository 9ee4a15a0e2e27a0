package device

import (
	"errors"
	"testing"
	"time"

	"github.com/roman-kulish/lte-receiver/internal/iq"
)

// packet is one scripted Recv result.
type packet struct {
	n     int
	ticks int64
}

// fakeSDK scripts the stream while recording tune calls.
type fakeSDK struct {
	spp     int
	rate    float64
	packets []packet
	next    int

	rxFreq     float64
	manualDSPs []float64
}

func (s *fakeSDK) SetClockSource(string) error       { return nil }
func (s *fakeSDK) SetMasterClockRate(float64) error  { return nil }
func (s *fakeSDK) SetRxRate(rate float64) error      { s.rate = rate; return nil }
func (s *fakeSDK) RxRate() float64                   { return s.rate }
func (s *fakeSDK) RxFreq() float64                   { return s.rxFreq }
func (s *fakeSDK) SetRxGain(float64, int) error      { return nil }
func (s *fakeSDK) RxGain() float64                   { return 0 }
func (s *fakeSDK) StartStream() error                { return nil }
func (s *fakeSDK) StopStream() error                 { return nil }
func (s *fakeSDK) TimeNowTicks(float64) int64        { return 0 }
func (s *fakeSDK) OpenStream(int) (int, error)       { return s.spp, nil }

func (s *fakeSDK) SetRxFreq(target float64, _ int) (float64, error) {
	s.rxFreq = target
	return target, nil
}

func (s *fakeSDK) SetRxFreqManual(dsp, _ float64, _ int) (float64, error) {
	s.manualDSPs = append(s.manualDSPs, dsp)
	s.rxFreq = dsp
	return dsp, nil
}

func (s *fakeSDK) Recv(bufs [][]iq.Int16, spp int, _ time.Duration) (int, int64, error) {
	if s.next >= len(s.packets) {
		return 0, 0, errors.New("script exhausted")
	}
	p := s.packets[s.next]
	s.next++
	for i := 0; i < p.n && i < len(bufs[0]); i++ {
		bufs[0][i] = iq.Int16{I: int16(p.ticks + int64(i))}
	}
	return p.n, p.ticks, nil
}

func newTestUHD(t *testing.T, sdk *fakeSDK) *UHD {
	t.Helper()

	restore := Find
	Find = func(string) (SDK, string, error) { return sdk, "B210 test", nil }
	t.Cleanup(func() { Find = restore })

	d, err := NewUHD("", 1, 6, RefInternal)
	if err != nil {
		t.Fatalf("NewUHD failed: %v", err)
	}
	return d
}

func TestUHD_SlipCorrection(t *testing.T) {
	sdk := &fakeSDK{
		spp: 1000,
		packets: []packet{
			{n: 1000, ticks: 10000},
			{n: 1000, ticks: 10999}, // one short of the expected 11000
			{n: 1000, ticks: 12000}, // contiguous with the corrected stamp
		},
	}

	d := newTestUHD(t, sdk)
	for i := 0; i < 3; i++ {
		if err := d.Reload(); err != nil {
			t.Fatalf("Reload %d failed: %v", i, err)
		}
	}

	// After the slip the window must be contiguous: start 10000, three
	// packets deep.
	if low, high := d.TimeLow(), d.TimeHigh(); low != 10000 || high != 13000 {
		t.Errorf("window [%d, %d), want [10000, 13000)", low, high)
	}
}

func TestUHD_NonMonotonicFatal(t *testing.T) {
	sdk := &fakeSDK{
		spp: 1000,
		packets: []packet{
			{n: 1000, ticks: 10000},
			{n: 1000, ticks: 9000},
		},
	}

	d := newTestUHD(t, sdk)
	if err := d.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if err := d.Reload(); !errors.Is(err, ErrNonMonotonicTS) {
		t.Errorf("Reload error = %v, want ErrNonMonotonicTS", err)
	}
}

func TestUHD_JumpResyncsWindow(t *testing.T) {
	sdk := &fakeSDK{
		spp: 1000,
		packets: []packet{
			{n: 1000, ticks: 10000},
			{n: 1000, ticks: 15000}, // forward jump: gap, window restarts
		},
	}

	d := newTestUHD(t, sdk)
	for i := 0; i < 2; i++ {
		if err := d.Reload(); err != nil {
			t.Fatalf("Reload %d failed: %v", i, err)
		}
	}

	if low, high := d.TimeLow(), d.TimeHigh(); low != 15000 || high != 16000 {
		t.Errorf("window [%d, %d), want [15000, 16000)", low, high)
	}
}

func TestUHD_ShiftFreqUsesManualDDC(t *testing.T) {
	sdk := &fakeSDK{spp: 1000, packets: nil}

	d := newTestUHD(t, sdk)
	d.SetFreq(1e9)
	sdk.manualDSPs = nil

	d.ShiftFreq(100)
	if len(sdk.manualDSPs) != 1 {
		t.Fatalf("manual tunes = %d, want 1", len(sdk.manualDSPs))
	}
	if got := sdk.manualDSPs[0]; got != 1e9+100 {
		t.Errorf("DDC target = %f, want %f", got, 1e9+100)
	}
}
