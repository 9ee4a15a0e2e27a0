package rx

import (
	"context"
	"log/slog"

	"github.com/roman-kulish/lte-receiver/internal/lte"
)

// handleFreqOffset feeds one decoded-frame frequency estimate into the
// smoothing window; once the window fills, the average is fed back to the
// device DDC and the window restarted.
func (s *Synchronizer) handleFreqOffset(offset float64) {
	s.freqOffsets.Push(offset)
	if !s.freqOffsets.Full() {
		return
	}

	average := s.freqOffsets.Average()
	s.logger.Info("reference frequency offset", slog.Float64("offsetHz", average))
	s.io.ShiftFreq(average)
	s.freqOffsets.Reset()
}

// drivePDSCH runs one subframe tick of the full receive chain: advance the
// frame counter, run the acquisition tiers, then the broadcast-decode and
// tracking tiers. adjust is the timing shift the I/O interface applied
// ahead of this subframe, absorbed as a residual sample delay on emission.
func (s *Synchronizer) drivePDSCH(adjust int) error {
	t := &s.time
	t.Tick()

	if err := s.drive(t); err != nil {
		return err
	}

	switch s.state {
	case StatePBCH:
		if !timePBCH(t) {
			break
		}

		var mib lte.MIB
		ok, err := s.decodePBCH(&mib)
		if err != nil {
			return err
		}
		switch {
		case ok:
			s.mib = mib
			s.mibValid = true
			s.logTime()

			if mib.RBs != s.io.RBs() {
				// The cell runs a different bandwidth than the device:
				// reopen at the announced rate and reacquire from scratch.
				if err := s.Reopen(mib.RBs); err != nil {
					return err
				}
				s.changeState(StatePSSSync)
			} else {
				s.changeState(StatePDSCHSync)
			}
			s.pssMisses = 0

		default:
			s.pssMisses++
			if s.pssMisses > pbchMissLimit {
				s.resetState(true)
			} else {
				s.changeState(StatePBCHSync)
			}
		}

	case StatePDSCHSync, StatePDSCH:
		if s.state == StatePDSCHSync && t.Subframe == 5 {
			// SSS already matches; only timing and frequency are checked
			// here.
			found, err := s.syncPSS4()
			if err != nil {
				return err
			}
			if !found && s.pssMisses > pdschMissLimit {
				s.resetState(true)
				break
			}
		}

		if timePDSCH(t) {
			if err := s.emitSubframe(adjust); err != nil {
				return err
			}
		}
	}

	s.conv.Update()
	return nil
}

// emitSubframe recycles a frame buffer from the decode stages, folds its
// feedback in, attaches the current cell metadata and samples, and hands it
// downstream.
func (s *Synchronizer) emitSubframe(adjust int) error {
	fb := s.inbound.Read()
	if fb == nil {
		s.logger.Error("dropped frame")
		return nil
	}

	s.handleFreqOffset(fb.FreqOffset)

	if fb.CRCValid {
		s.pssMisses = 0
		s.sssMisses = 0
		fb.CRCValid = false
	}

	fb.RBs = s.mib.RBs
	fb.CellID = s.cellID
	fb.PhichNg = s.mib.PhichNg
	fb.TxAntennas = s.mib.TxAntennas
	fb.Subframe = s.time.Subframe
	fb.Frame = s.time.Frame

	fb.Resize(s.conv.PDSCHLen())
	if err := s.conv.DelayPDSCH(fb.Channels, adjust); err != nil {
		return err
	}

	if !s.outbound.Write(fb) {
		// Decoders are behind; recycle the buffer rather than leak it from
		// the pool.
		s.logger.Warn("outbound queue full, dropped frame")
		s.inbound.Write(fb)
	}
	return nil
}

// RunPDSCH is the main synchronizer loop: one I/O pull and one drive step
// per subframe until stopped or the device fails fatally.
func (s *Synchronizer) RunPDSCH(ctx context.Context) error {
	s.stop.Store(false)
	if err := s.io.Start(); err != nil {
		return err
	}
	defer s.io.Stop()

	for counter := 0; ; counter++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		shift, err := s.io.GetBuffer(s.conv.Raw(), counter, s.coarse, s.fine,
			s.state == StatePDSCHSync)
		if err != nil {
			return err
		}
		s.coarse, s.fine = 0, 0

		if err = s.drivePDSCH(shift); err != nil {
			return err
		}
		s.conv.Reset()

		if s.resetFlag.Load() {
			s.resetState(true)
		}
		if s.stop.Load() {
			return nil
		}
	}
}
