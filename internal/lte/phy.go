package lte

// RefMap is an opaque cell-specific reference-signal map produced by the
// PHY kernels and handed back to them during demodulation.
type RefMap interface{}

// SSS detection results distinguish an exhausted search from a miss.
const (
	SSSNotFound  = -1
	SSSSearching = 0
	SSSFound     = 1
)

// PHY is the boundary to the synchronization and broadcast-channel
// primitives. All sample slices hold one subframe per channel: 960 samples
// at 0.96 Msps for PSS/SSS, or 1920 samples at the 1.92 Msps RB6 rate for
// PBCH.
type PHY interface {
	// PSSSearch runs the wide correlation over a full buffered interval and
	// reports the strongest peak.
	PSSSearch(bufs [][]complex64) SyncInfo

	// PSSDetect runs the frequency-domain sector detector, returning N_ID_2
	// or a negative value when no sector matches.
	PSSDetect(bufs [][]complex64) int

	// PSSSync runs the narrow time-domain correlation against a known
	// sector.
	PSSSync(bufs [][]complex64, nid2 int) SyncInfo

	// PSSFineSync refines timing to fractional-sample resolution.
	PSSFineSync(bufs [][]complex64, nid2 int) SyncInfo

	// PSSDetectQuick is the reduced confirmation detector used while
	// tracking; it returns a negative value when the lock is gone.
	PSSDetectQuick(bufs [][]complex64, nid2 int) int

	// SSSDetect searches the secondary signal. The second return is one of
	// SSSFound, SSSSearching, SSSNotFound.
	SSSDetect(bufs [][]complex64, nid2 int) (SyncInfo, int)

	// GenRefMap builds a reference map for one antenna/slot/symbol position.
	GenRefMap(cellID, antenna, slot, symbol, rbs int) RefMap

	// DecodeMIB attempts a broadcast-channel decode over the RB6-domain
	// subframe samples using the precomputed reference maps.
	DecodeMIB(bufs [][]complex64, cellID int, maps [][]RefMap) (MIB, bool)
}

// Decoder is the boundary to the shared-channel decode dispatch. It owns
// control-region and PDSCH demodulation for fully synchronized subframes
// and reports the residual frequency offset measured during equalization.
type Decoder interface {
	Decode(bufs [][]complex64, cellID, rbs, ng, txAntennas, frame, subframe int) (freqOffset float64, crcValid bool)
}

// Kernel entry points registered by an external PHY binding. Builds without
// one cannot run the receiver, capture replay included; the synchronizer
// tests script these boundaries with fakes.
var (
	NewPHY     func(chans int) (PHY, error)
	NewDecoder func(chans int) (Decoder, error)
)
