// Package rx implements the receive-side core: the I/O interface pulling
// subframes out of the device ring, the rate converter, the synchronizer
// state machine, and the decode pipeline glue.
package rx

// FrameBuffer carries one subframe of samples for every receive channel
// plus the metadata attached as it moves down the pipeline. Buffers are
// owned by exactly one stage at a time and handed off through queues; they
// are recycled, never copied.
type FrameBuffer struct {
	CellID     int
	RBs        int
	PhichNg    int
	TxAntennas int

	Frame    int
	Subframe int

	FreqOffset float64
	CRCValid   bool

	Channels [][]complex64
}

// NewFrameBuffer creates an empty buffer for the given channel count.
func NewFrameBuffer(chans int) *FrameBuffer {
	return &FrameBuffer{Channels: make([][]complex64, chans)}
}

// Resize adjusts every channel to n samples, reallocating only on growth.
func (fb *FrameBuffer) Resize(n int) *FrameBuffer {
	for i := range fb.Channels {
		if cap(fb.Channels[i]) < n {
			fb.Channels[i] = make([]complex64, n)
		} else {
			fb.Channels[i] = fb.Channels[i][:n]
		}
	}
	return fb
}
