package rx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/roman-kulish/lte-receiver/internal/diag"
	"github.com/roman-kulish/lte-receiver/internal/lte"
	"github.com/roman-kulish/lte-receiver/internal/storage"
)

// NumRecvSubframes is the depth of the subframe pool circulating between
// the synchronizer and the decode stages.
const NumRecvSubframes = 128

// PipelineConfig wires a pipeline together.
type PipelineConfig struct {
	Channels int
	RBs      int // 0 probes the cell bandwidth via PBCH before starting
	Threads  int
	Freq     float64
	Gain     float64

	PHY     lte.PHY
	Decoder lte.Decoder
	Factory DeviceFactory

	Sink      *diag.Sink
	Store     *storage.Store
	SessionID int64
	MaxBatch  int

	Logger *slog.Logger
}

// Pipeline is the top-level owner of the receive chain: the synchronizer,
// the decode stages, and the queues joining them. Stages receive their
// reader and writer handles at construction; nothing points back from a
// queue to a stage.
type Pipeline struct {
	sync     *Synchronizer
	decoders []*DecoderStage

	pdschQueue  *BufferQueue
	returnQueue *BufferQueue

	chans int
	rbs   int
	freq  float64
	gain  float64

	logger *slog.Logger
}

// NewPipeline builds the stages and queues from the configuration.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Channels < 1 {
		return nil, fmt.Errorf("rx: invalid channel count %d", cfg.Channels)
	}
	if cfg.RBs != 0 && !lte.ValidRB(cfg.RBs) {
		return nil, fmt.Errorf("rx: invalid resource blocks %d", cfg.RBs)
	}
	if cfg.Threads < 1 {
		cfg.Threads = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	p := &Pipeline{
		pdschQueue:  NewBufferQueue(NumRecvSubframes),
		returnQueue: NewBufferQueue(NumRecvSubframes),
		chans:       cfg.Channels,
		rbs:         cfg.RBs,
		freq:        cfg.Freq,
		gain:        cfg.Gain,
		logger:      cfg.Logger,
	}

	p.sync = NewSynchronizer(cfg.Channels, cfg.PHY, cfg.Factory,
		p.returnQueue, p.pdschQueue, WithSyncLogger(cfg.Logger))

	for i := 0; i < cfg.Threads; i++ {
		options := []func(*DecoderStage){WithDecoderLogger(cfg.Logger)}
		if cfg.Sink != nil {
			options = append(options, WithDiagnostics(cfg.Sink))
		}
		if cfg.Store != nil {
			options = append(options, WithStore(cfg.Store, cfg.SessionID, cfg.MaxBatch))
		}
		p.decoders = append(p.decoders,
			NewDecoderStage(cfg.Decoder, p.pdschQueue, p.returnQueue, options...))
	}

	return p, nil
}

// Run brings the device up, probes the bandwidth if none was configured,
// primes the buffer pool, and supervises the stage goroutines until the
// context is cancelled or a stage fails fatally.
func (p *Pipeline) Run(ctx context.Context) error {
	rbs := p.rbs
	if rbs == 0 {
		// Search at minimum bandwidth; every cell's PBCH fits in it.
		if err := p.sync.Open(6); err != nil {
			return err
		}
		p.sync.SetFreq(p.freq)
		p.sync.SetGain(p.gain)

		detected, err := p.sync.RunPBCH(ctx)
		if err != nil {
			return fmt.Errorf("probing bandwidth: %w", err)
		}
		p.logger.Info("bandwidth detected", slog.Int("rbs", detected))
		rbs = detected
	}

	if err := p.sync.Open(rbs); err != nil {
		return err
	}
	p.sync.SetFreq(p.freq)
	p.sync.SetGain(p.gain)

	for i := 0; i < NumRecvSubframes; i++ {
		p.returnQueue.Write(NewFrameBuffer(p.chans))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.sync.RunPDSCH(ctx) })
	for _, d := range p.decoders {
		d := d
		g.Go(func() error { return d.Run(ctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Stop requests loop termination outside of context cancellation.
func (p *Pipeline) Stop() { p.sync.Stop() }
