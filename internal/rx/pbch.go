package rx

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roman-kulish/lte-receiver/internal/lte"
)

// drivePBCH runs one subframe tick of the bandwidth-probe chain: acquire
// the cell far enough to decode one MIB and remember the announced
// resource-block count.
func (s *Synchronizer) drivePBCH() error {
	t := &s.time
	t.Tick()

	if err := s.drive(t); err != nil {
		return err
	}

	if s.state == StatePBCH {
		if timePBCH(t) {
			var mib lte.MIB
			ok, err := s.decodePBCH(&mib)
			if err != nil {
				return err
			}
			if ok {
				s.pssMisses = 0
				s.sssMisses = 0
				s.mib = mib
				s.mibValid = true
				s.logger.Info("RF frequency",
					slog.Float64("freqMHz", s.io.Freq()/1e6))
			} else {
				s.pssMisses++
				if s.pssMisses > pbchSyncMissLimit {
					s.resetFlag.Store(true)
				}
			}
		}
		s.changeState(StatePBCHSync)
	}

	s.conv.Update()
	return nil
}

// RunPBCH probes the cell bandwidth: the loop drives acquisition until one
// MIB decodes and returns the announced resource-block count. Used when
// the receiver is started without a configured bandwidth.
func (s *Synchronizer) RunPBCH(ctx context.Context) (int, error) {
	s.stop.Store(false)
	if err := s.io.Start(); err != nil {
		return 0, err
	}
	defer s.io.Stop()

	for counter := 0; ; counter++ {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}

		_, err := s.io.GetBuffer(s.conv.Raw(), counter, s.coarse, s.fine, false)
		if err != nil {
			return 0, err
		}
		s.coarse, s.fine = 0, 0

		if !s.mibValid {
			if err = s.drivePBCH(); err != nil {
				return 0, err
			}
		}
		s.conv.Reset()

		if s.resetFlag.Load() {
			// Keep any accumulated DDC shift; the probe restarts timing
			// only.
			s.resetState(false)
		}
		if s.mibValid {
			if !lte.ValidRB(s.mib.RBs) {
				return 0, fmt.Errorf("rx: MIB announced invalid resource blocks %d", s.mib.RBs)
			}
			return s.mib.RBs, nil
		}
		if s.stop.Load() {
			return 0, fmt.Errorf("rx: bandwidth probe stopped")
		}
	}
}
