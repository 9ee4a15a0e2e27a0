package rx

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/roman-kulish/lte-receiver/internal/diag"
	"github.com/roman-kulish/lte-receiver/internal/lte"
	"github.com/roman-kulish/lte-receiver/internal/storage"
)

// DecoderStage consumes synchronized subframes from its inbound queue,
// dispatches them to the shared-channel decoder, and recycles the buffers
// back to the synchronizer carrying the measured frequency offset and CRC
// outcome. It optionally publishes IQ snapshots to the diagnostic sink and
// batches decoded-frame metadata into the store.
type DecoderStage struct {
	phy lte.Decoder
	in  *BufferQueue
	out *BufferQueue

	sink      *diag.Sink
	store     *storage.Store
	sessionID int64
	batch     []storage.FrameRecord
	maxBatch  int

	logger *slog.Logger
}

// WithDecoderLogger sets the logger for a decode stage.
func WithDecoderLogger(logger *slog.Logger) func(*DecoderStage) {
	return func(d *DecoderStage) {
		d.logger = logger.With(slog.String("component", "pdsch"))
	}
}

// WithDiagnostics publishes each decoded subframe's IQ to sink.
func WithDiagnostics(sink *diag.Sink) func(*DecoderStage) {
	return func(d *DecoderStage) {
		d.sink = sink
	}
}

// WithStore batches decoded-frame metadata into store under sessionID.
func WithStore(store *storage.Store, sessionID int64, maxBatch int) func(*DecoderStage) {
	return func(d *DecoderStage) {
		d.store = store
		d.sessionID = sessionID
		d.maxBatch = maxBatch
	}
}

// NewDecoderStage creates a decode stage between the given queues.
func NewDecoderStage(phy lte.Decoder, in, out *BufferQueue, options ...func(*DecoderStage)) *DecoderStage {
	d := &DecoderStage{
		phy:      phy,
		in:       in,
		out:      out,
		maxBatch: 100,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, option := range options {
		option(d)
	}
	return d
}

// Run drains the inbound queue until the context is cancelled.
func (d *DecoderStage) Run(ctx context.Context) error {
	defer d.flush()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		fb := d.in.Read()
		if fb == nil {
			time.Sleep(time.Millisecond)
			continue
		}

		d.decode(fb)

		if !d.out.Write(fb) {
			d.logger.Warn("recycle queue full, dropped buffer")
		}
	}
}

func (d *DecoderStage) decode(fb *FrameBuffer) {
	offset, crcValid := d.phy.Decode(fb.Channels,
		fb.CellID, fb.RBs, fb.PhichNg, fb.TxAntennas, fb.Frame, fb.Subframe)
	fb.FreqOffset = offset
	fb.CRCValid = crcValid

	if d.sink != nil {
		for i, ch := range fb.Channels {
			d.sink.Spectro(ch, i)
		}
	}

	if d.store != nil {
		d.batch = append(d.batch, storage.FrameRecord{
			SessionID:  d.sessionID,
			Timestamp:  time.Now().UTC(),
			Frame:      fb.Frame,
			Subframe:   fb.Subframe,
			CellID:     fb.CellID,
			RBs:        fb.RBs,
			FreqOffset: fb.FreqOffset,
			CRCValid:   fb.CRCValid,
		})
		if len(d.batch) >= d.maxBatch {
			d.flush()
		}
	}
}

func (d *DecoderStage) flush() {
	if d.store == nil || len(d.batch) == 0 {
		return
	}

	if err := d.store.BatchInsertFrames(d.batch); err != nil {
		d.logger.Error("storing frames", slog.String("error", err.Error()))
	}
	d.batch = d.batch[:0]
}
