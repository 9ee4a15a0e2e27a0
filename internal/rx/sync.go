package rx

import (
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/roman-kulish/lte-receiver/internal/device"
	"github.com/roman-kulish/lte-receiver/internal/iq"
	"github.com/roman-kulish/lte-receiver/internal/lte"
)

// State is the receiver state-machine tag. The drive loop dispatches one
// handler per subframe tick based on it.
type State int

const (
	StatePSSSync State = iota
	StatePSSSync2
	StateSSSSync
	StatePBCHSync
	StatePBCH
	StatePDSCHSync
	StatePDSCH
)

func (s State) String() string {
	switch s {
	case StatePSSSync:
		return "PSS-Sync0"
	case StatePSSSync2:
		return "PSS-Sync1"
	case StateSSSSync:
		return "SSS-Sync"
	case StatePBCHSync:
		return "PBCH-Sync"
	case StatePBCH:
		return "PBCH-Decode"
	case StatePDSCHSync:
		return "PDSCH-Sync"
	case StatePDSCH:
		return "PDSCH-Decode"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// pssMagThreshold gates the initial wide PSS search.
const pssMagThreshold = 900

// pssWindow bounds how far a tracked PSS peak may wander from the expected
// position before it counts as a miss.
const pssWindow = 4

// Miss limits driving full resynchronization per state.
const (
	sssMissLimit      = 4
	pbchSyncMissLimit = 20
	pbchMissLimit     = 10
	pdschMissLimit    = 100
)

// DeviceFactory opens a front-end configured for the given bandwidth. The
// synchronizer calls it again when the decoded MIB announces a different
// bandwidth than the device is running at.
type DeviceFactory func(rbs int) (device.Device, error)

// Synchronizer owns cell acquisition and tracking. It drives one state
// machine step per subframe: the four-phase PSS search refines coarse then
// fine timing, SSS fixes the cell identity and frame timing, the broadcast
// channel announces the bandwidth, and the tracking states keep the timing
// lock while emitting subframes downstream.
type Synchronizer struct {
	io      *IO
	conv    *Converter
	phy     lte.PHY
	factory DeviceFactory
	chans   int

	state  State
	time   lte.Time
	sync   lte.SyncInfo
	coarse int
	fine   int

	nid2      int
	cellID    int
	pssMisses int
	sssMisses int

	mib      lte.MIB
	mibValid bool

	refMaps [][]lte.RefMap

	stop      atomic.Bool
	resetFlag atomic.Bool

	inbound  *BufferQueue
	outbound *BufferQueue

	freqOffsets *iq.RingAverage

	logger *slog.Logger
}

// WithSyncLogger sets the logger for the synchronizer.
func WithSyncLogger(logger *slog.Logger) func(*Synchronizer) {
	return func(s *Synchronizer) {
		s.logger = logger.With(slog.String("component", "sync"))
		s.io = NewIO(s.chans, WithIOLogger(logger))
	}
}

// WithFreqWindow overrides the frequency-offset smoothing window size.
func WithFreqWindow(size int) func(*Synchronizer) {
	return func(s *Synchronizer) {
		s.freqOffsets = iq.NewRingAverage(size)
	}
}

// NewSynchronizer creates a synchronizer over the given PHY primitives and
// device factory. The inbound queue recycles frame buffers from the decode
// stages; the outbound queue carries emitted subframes to them.
func NewSynchronizer(chans int, phy lte.PHY, factory DeviceFactory, inbound, outbound *BufferQueue, options ...func(*Synchronizer)) *Synchronizer {
	s := &Synchronizer{
		chans:       chans,
		phy:         phy,
		factory:     factory,
		conv:        NewConverter(chans),
		cellID:      -1,
		inbound:     inbound,
		outbound:    outbound,
		freqOffsets: iq.NewRingAverage(200),
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	s.io = NewIO(chans)

	for _, option := range options {
		option(s)
	}
	return s
}

// Open configures the device and resets the machine for a cold start.
func (s *Synchronizer) Open(rbs int) error {
	dev, err := s.factory(rbs)
	if err != nil {
		return err
	}
	if err = s.io.Open(dev, rbs); err != nil {
		return err
	}

	p, q := dev.Ratio()
	if err = s.conv.Init(rbs, p, q); err != nil {
		return err
	}

	s.state = StatePSSSync
	s.time = lte.Time{}
	s.coarse, s.fine = 0, 0
	s.cellID = -1
	s.pssMisses, s.sssMisses = 0, 0
	s.mibValid = false
	s.resetFlag.Store(false)
	return nil
}

// Reopen tears the device down and brings it back at a new bandwidth,
// restoring frequency and gain.
func (s *Synchronizer) Reopen(rbs int) error {
	freq, gain := s.io.Freq(), s.io.Gain()

	s.io.Stop()
	if err := s.Open(rbs); err != nil {
		return err
	}

	s.SetFreq(freq)
	s.SetGain(gain)
	return s.io.Start()
}

// SetFreq tunes the RF centre frequency.
func (s *Synchronizer) SetFreq(freq float64) { s.io.SetFreq(freq) }

// SetGain sets the RF receive gain.
func (s *Synchronizer) SetGain(gain float64) { s.io.SetGain(gain) }

// Reset requests an asynchronous return to PSS acquisition; it takes
// effect at the end of the current drive iteration.
func (s *Synchronizer) Reset() { s.resetFlag.Store(true) }

// Stop terminates the drive loop after the current iteration.
func (s *Synchronizer) Stop() { s.stop.Store(true) }

// State returns the current machine state.
func (s *Synchronizer) State() State { return s.state }

// CellID returns the acquired cell identity, -1 before acquisition.
func (s *Synchronizer) CellID() int { return s.cellID }

// Time predicates: which subframes each signal can appear in.

func timePSS(t *lte.Time) bool { return t.Subframe == 0 || t.Subframe == 5 }

func timeSSS(t *lte.Time) bool { return timePSS(t) }

func timePBCH(t *lte.Time) bool { return t.Subframe == 0 }

func timePDSCH(t *lte.Time) bool { return true }

func (s *Synchronizer) logPSS() {
	s.logger.Info("PSS detected",
		slog.Float64("magnitude", s.sync.Mag),
		slog.Int("timingOffset", s.sync.Coarse))
}

func (s *Synchronizer) logSSS(offset float64) {
	s.logger.Info("SSS decoded", slog.Float64("freqOffsetHz", offset))
}

func (s *Synchronizer) logTime() {
	s.logger.Debug("lte time",
		slog.Int("frame", s.time.Frame),
		slog.Int("subframe", s.time.Subframe))
}

func (s *Synchronizer) changeState(newState State) {
	s.logger.Info("state change",
		slog.String("from", s.state.String()),
		slog.String("to", newState.String()))
	s.state = newState
}

// resetState performs a full return to PSS acquisition: miss counters
// zeroed, pending reset consumed, optionally undoing accumulated DDC
// shifts.
func (s *Synchronizer) resetState(resetFreq bool) {
	s.pssMisses = 0
	s.sssMisses = 0
	s.mibValid = false
	s.resetFlag.Store(false)

	if resetFreq {
		s.io.ResetFreq()
	}
	s.changeState(StatePSSSync)
}

func (s *Synchronizer) setCellID(cellID int) {
	s.logger.Info("setting cellular ID", slog.Int("cellId", cellID))
	s.cellID = cellID
	s.generateReferences()
}

// generateReferences precomputes the cell-specific reference maps used by
// broadcast-channel demodulation: per slot (0 and 1), antenna ports 0 and 1
// at symbols 0 and 4.
func (s *Synchronizer) generateReferences() {
	s.refMaps = make([][]lte.RefMap, 2)
	for slot := range s.refMaps {
		s.refMaps[slot] = []lte.RefMap{
			s.phy.GenRefMap(s.cellID, 0, slot, 0, 6),
			s.phy.GenRefMap(s.cellID, 1, slot, 0, 6),
			s.phy.GenRefMap(s.cellID, 0, slot, 4, 6),
			s.phy.GenRefMap(s.cellID, 1, slot, 4, 6),
		}
	}
}

// syncPSS1 is the wide search: correlate over the full buffered interval
// and accept any peak above the magnitude threshold.
func (s *Synchronizer) syncPSS1() (bool, error) {
	bufs, err := s.conv.PSS()
	if err != nil {
		return false, err
	}

	info := s.phy.PSSSearch(bufs)
	if info.Mag <= pssMagThreshold {
		return false, nil
	}

	if info.Coarse < lte.PSSTarget {
		info.Coarse += lte.N0SlotLen * lte.NumSubframes
	}
	s.sync = info
	s.coarse = info.Coarse
	s.nid2 = info.NID2
	s.time.Subframe = 0
	return true, nil
}

// syncPSS2 confirms the candidate with both detectors; either one may fail
// once, both failing rejects the peak.
func (s *Synchronizer) syncPSS2() (bool, error) {
	bufs, err := s.conv.PSS()
	if err != nil {
		return false, err
	}

	confidence := 2
	if s.phy.PSSDetect(bufs) != s.nid2 {
		confidence--
		s.logger.Debug("PSS frequency domain detection failed")
	}

	info := s.phy.PSSSync(bufs, s.nid2)
	if info.Coarse > lte.PSSTarget-pssWindow && info.Coarse < lte.PSSTarget+pssWindow {
		s.sync = info
		s.coarse = info.Coarse - lte.PSSTarget
		s.logPSS()
	} else {
		confidence--
		s.logger.Debug("PSS time domain detection failed")
	}

	return confidence > 0, nil
}

// syncPSS3 re-verifies timing before broadcast-channel decoding. A sector
// mismatch inside the timing window is a strong sign of a false lock and
// adds ten misses on top of the ordinary one.
func (s *Synchronizer) syncPSS3() (bool, error) {
	bufs, err := s.conv.PSS()
	if err != nil {
		return false, err
	}

	info := s.phy.PSSSync(bufs, s.nid2)
	s.sync = info
	s.logPSS()

	found := false
	if info.Coarse > lte.PSSTarget-pssWindow && info.Coarse < lte.PSSTarget+pssWindow {
		if s.phy.PSSDetect(bufs) == s.nid2 {
			found = true
		} else {
			s.pssMisses += 10
		}
	}

	if !found {
		s.logger.Debug("PSS detection failed")
		s.pssMisses++
		return false, nil
	}

	s.coarse = info.Coarse - lte.PSSTarget
	return true, nil
}

// syncPSS4 is the tracking refinement: fractional-sample timing against
// the known sector with a reduced confirmation detector.
func (s *Synchronizer) syncPSS4() (bool, error) {
	bufs, err := s.conv.PSS()
	if err != nil {
		return false, err
	}

	info := s.phy.PSSFineSync(bufs, s.nid2)
	if info.Coarse <= lte.PSSTarget-pssWindow || info.Coarse >= lte.PSSTarget+pssWindow {
		s.pssMisses++
		return false, nil
	}

	s.sync = info
	s.coarse = info.Coarse - lte.PSSTarget
	s.fine = info.Fine - 32

	if s.phy.PSSDetectQuick(bufs, s.nid2) < 0 {
		s.pssMisses++
		return false, nil
	}
	return true, nil
}

// syncSSS keeps PSS timing current while searching for a consistent
// secondary sequence.
func (s *Synchronizer) syncSSS() (int, error) {
	bufs, err := s.conv.PSS()
	if err != nil {
		return lte.SSSNotFound, err
	}

	info := s.phy.PSSSync(bufs, s.nid2)
	if info.Coarse > lte.PSSTarget-pssWindow && info.Coarse < lte.PSSTarget+pssWindow {
		s.coarse = info.Coarse - lte.PSSTarget
	} else {
		s.pssMisses++
	}

	if s.phy.PSSDetect(bufs) != s.nid2 {
		s.logger.Debug("PSS frequency domain detection failed")
		s.pssMisses++
	}

	sss, rc := s.phy.SSSDetect(bufs, s.nid2)
	switch {
	case rc > 0:
		s.sync = sss
		return lte.SSSFound, nil
	case rc == 0:
		return lte.SSSSearching, nil
	}

	s.logger.Debug("no matching SSS sequence found")
	s.sssMisses++
	return lte.SSSNotFound, nil
}

// decodePBCH attempts a MIB decode over the RB6-domain subframe.
func (s *Synchronizer) decodePBCH(mib *lte.MIB) (bool, error) {
	bufs, err := s.conv.PBCH()
	if err != nil {
		return false, err
	}

	m, ok := s.phy.DecodeMIB(bufs, s.cellID, s.refMaps)
	if !ok {
		s.logger.Debug("MIB decoding failed")
		return false, nil
	}

	s.time.Frame = m.Frame
	*mib = m
	return true, nil
}

// drive runs the acquisition tiers common to every mode: the first two PSS
// phases, SSS, and the timing re-check ahead of broadcast decoding.
func (s *Synchronizer) drive(t *lte.Time) error {
	switch s.state {
	case StatePSSSync:
		found, err := s.syncPSS1()
		if err != nil {
			return err
		}
		if found {
			s.logTime()
			s.logPSS()
			s.changeState(StatePSSSync2)
		} else {
			s.fine = fineInvalid
		}

	case StatePSSSync2:
		if t.Subframe == 0 {
			s.logTime()
			found, err := s.syncPSS2()
			if err != nil {
				return err
			}
			if found {
				s.changeState(StateSSSSync)
			} else {
				s.changeState(StatePSSSync)
			}
		}

	case StateSSSSync:
		if t.Subframe == 0 {
			rc, err := s.syncSSS()
			if err != nil {
				return err
			}
			switch {
			case rc == lte.SSSFound:
				s.io.ShiftFreq(s.sync.FreqOffset)
				s.logSSS(s.sync.FreqOffset)
				t.Subframe = s.sync.Dn

				if s.cellID != s.sync.NIDCell {
					s.setCellID(s.sync.NIDCell)
				}

				s.logTime()
				s.changeState(StatePBCHSync)

			case s.pssMisses >= sssMissLimit:
				s.resetState(true)
			}
		}

	case StatePBCHSync:
		if t.Subframe == 0 {
			found, err := s.syncPSS3()
			if err != nil {
				return err
			}
			if found {
				s.logTime()
				s.changeState(StatePBCH)
			} else if s.pssMisses > pbchSyncMissLimit {
				s.resetState(true)
			}
		}
	}

	return nil
}
