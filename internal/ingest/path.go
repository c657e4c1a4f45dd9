package ingest

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"framesync/internal/config"
	"framesync/internal/ffmpeg"
	"framesync/internal/frameslot"
)

// Path is the ingest path: a UDP source feeding a jitter queue feeding an
// ffmpeg decode/scale chain, depositing normalized frames into a shared
// frame slot. It is the ingest goroutine in the supervisor's group.
type Path struct {
	cfg    config.IngestConfig
	render config.RenderConfig
	ffmpeg config.FFmpegConfig
	logger *slog.Logger

	slot  *frameslot.Slot
	queue *JitterQueue

	// klvTee, when set, receives a copy of every raw UDP datagram before
	// it's queued for decode. This is the TS tee feeding the independent
	// KLV demux branch.
	klvTee io.Writer

	// hwAccel is the hardware accelerator to request of the decode chain,
	// resolved and demotion-checked by the caller before Run. The zero
	// value requests software decode.
	hwAccel ffmpeg.HWAccelType

	framesIn  atomic.Uint64
	decodeMon atomic.Pointer[ffmpeg.ProcessMonitor]
}

// NewPath constructs an ingest Path bound to slot, from which the render
// loop reads. ffmpegBinary is the resolved ffmpeg executable path;
// resolution is left to internal/util.FindBinary at the call site.
func NewPath(cfg config.IngestConfig, renderCfg config.RenderConfig, ffmpegBinary string, slot *frameslot.Slot, logger *slog.Logger) *Path {
	if logger == nil {
		logger = slog.Default()
	}
	return &Path{
		cfg:    cfg,
		render: renderCfg,
		logger: logger,
		slot:   slot,
		queue:  NewJitterQueue(cfg.JitterBuffer.Duration(), cfg.MaxQueue.Duration()),
		ffmpeg: config.FFmpegConfig{BinaryPath: ffmpegBinary},
	}
}

// SetKLVTee registers w as the destination for a copy of every raw
// ingest datagram, feeding the independent KLV demux branch. Must be
// called before Run.
func (p *Path) SetKLVTee(w io.Writer) {
	p.klvTee = w
}

// SetHWAccel registers the hardware accelerator the decode chain should
// request. Demotion to software decode is the caller's responsibility,
// applied before this is called. Must be called before Run.
func (p *Path) SetHWAccel(t ffmpeg.HWAccelType) {
	p.hwAccel = t
}

// FramesIn returns the running count of frames deposited into the frame
// slot, for the supervisor's periodic stats line.
func (p *Path) FramesIn() uint64 {
	return p.framesIn.Load()
}

// DecodeStats returns the running decode subprocess's resource usage, or
// a zero value while no decode subprocess is up (e.g. mid-rebuild).
func (p *Path) DecodeStats() ffmpeg.ProcessStats {
	mon := p.decodeMon.Load()
	if mon == nil {
		return ffmpeg.ProcessStats{}
	}
	return mon.Stats()
}

// QueueDepth returns the jitter queue's current chunk count, useful for
// diagnosing jitter-policy tuning.
func (p *Path) QueueDepth() int {
	return p.queue.Len()
}

// Run drives the UDP source and decode chain concurrently until ctx is
// canceled or either fails structurally. A transient UDP read error ends
// the path the same as a decode-chain exhaustion: both are reported
// upward for the supervisor to decide whether the session as a whole
// should terminate.
func (p *Path) Run(ctx context.Context) error {
	src, err := ListenUDP(p.cfg.InputPort, int(p.cfg.UDPBuffer.Bytes()))
	if err != nil {
		return err
	}
	defer src.Close()

	decodeCfg := DecodeConfig{
		FFmpegBinary: p.ffmpeg.BinaryPath,
		Width:        p.render.Width,
		Height:       p.render.Height,
		HWAccel:      p.hwAccel,
		Retry:        ffmpeg.DefaultRetryConfig(),
		Logger:       p.logger,
	}

	// The raw datagram tee fans out to the KLV demux branch (when
	// enabled) and to the track watcher, which only observes layout.
	watcher := newTrackWatcher(p.logger)
	tee := io.Writer(watcher)
	if p.klvTee != nil {
		tee = io.MultiWriter(watcher, p.klvTee)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		watcher.Run(gctx)
		return nil
	})
	g.Go(func() error { return src.Run(gctx, p.queue, tee) })
	g.Go(func() error { return runDecodeLoop(gctx, decodeCfg, p.queue, p.slot, &p.framesIn, &p.decodeMon) })

	return g.Wait()
}
