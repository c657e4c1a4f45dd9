// Package supervisor implements the session supervisor: the state
// machine, the line-delimited JSON stdio command loop, and the goroutine
// group (ingest, KLV demux, render, signaling/stats) that makes up one
// framesyncd session.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"framesync/internal/codec"
	"framesync/internal/config"
	"framesync/internal/ffmpeg"
	"framesync/internal/frameslot"
	"framesync/internal/ingest"
	"framesync/internal/klv"
	"framesync/internal/observability"
	"framesync/internal/output"
	"framesync/internal/render"
)

// stats is the point-in-time counter snapshot the periodic stats record
// and the command handler both read.
type stats struct {
	FramesIn       uint64
	FramesOut      uint64
	FramesRepeated uint64

	DecodeCPUPercent    float64
	EncodeCPUPercent    float64
	EncodeBandwidthKbps float64
}

// Supervisor owns one session's INIT->READY->RUNNING->STOPPING->TERMINATED
// lifecycle: it constructs the ingest path, KLV demux, render loop and
// output session once, starts them on "start", and tears them down in
// reverse order on "stop", a terminating signal, or a fatal bus error.
type Supervisor struct {
	cfg    *config.Config
	logger *slog.Logger

	machine *Machine
	signal  *signalingChannel

	slot       *frameslot.Slot
	ingestPath *ingest.Path
	klvDemux   *klv.Demux
	renderLoop *render.Loop
	session    *output.Session
	ffmpegPath string
}

// New constructs a Supervisor for one session. ffmpegBinary is the
// resolved ffmpeg executable path; resolution is left to the caller
// (internal/util.FindBinary).
func New(cfg *config.Config, ffmpegBinary string, stdin io.Reader, stdout io.Writer, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	slot := frameslot.New()
	slot.SetStaleAfter(cfg.Ingest.StaleAfter.Duration())
	return &Supervisor{
		cfg:        cfg,
		logger:     logger,
		machine:    NewMachine(),
		signal:     newSignalingChannel(stdin, stdout, logger),
		slot:       slot,
		ffmpegPath: ffmpegBinary,
	}
}

// Run drives the full session lifecycle until the stdio command stream
// closes, a terminating signal arrives, or ctx is canceled. It returns
// nil on a clean STOPPING->TERMINATED shutdown.
func (sv *Supervisor) Run(ctx context.Context) error {
	sessionID := ulid.Make().String()
	ctx = observability.ContextWithSessionID(ctx, sessionID)
	logger := observability.WithComponent(sv.logger, "supervisor")

	hwAccel := sv.resolveHWAccel(ctx, logger)

	session, err := output.NewSession(output.SinkConfig{
		Output:       sv.cfg.Output,
		Render:       sv.cfg.Render,
		FFmpegBinary: sv.ffmpegPath,
		HWAccel:      sv.encodeHWAccel(hwAccel),
		Logger:       logger,
	})
	if err != nil {
		_ = sv.signal.Emit(errorRecord(err))
		return err
	}
	sv.session = session
	defer func() { _ = sv.session.Close() }()

	sv.ingestPath = ingest.NewPath(sv.cfg.Ingest, sv.cfg.Render, sv.ffmpegPath, sv.slot, logger)
	sv.ingestPath.SetHWAccel(hwAccel)

	var klvReader *io.PipeReader
	if sv.cfg.KLV.Enabled {
		pids := make([]uint16, len(sv.cfg.KLV.PIDs))
		for i, p := range sv.cfg.KLV.PIDs {
			pids[i] = uint16(p)
		}
		sv.klvDemux = klv.NewDemux(klv.WithPIDs(pids), klv.WithLogger(logger),
			klv.WithMaxSlotBytes(sv.cfg.KLV.MaxSlotBytes))

		var klvWriter *io.PipeWriter
		klvReader, klvWriter = io.Pipe()
		sv.ingestPath.SetKLVTee(klvWriter)
	}

	fallback := frameslot.FallbackFrame(sv.cfg.Render.Width, sv.cfg.Render.Height)
	sv.renderLoop = render.NewLoop(sv.slot, fallback, sv.cfg.Render.FPS, sv.session.Sink.Push,
		render.WithLogger(logger), render.WithStatsInterval(sv.cfg.Render.StatsInterval.Duration()))

	if err := sv.machine.Transition(StateReady); err != nil {
		return err
	}
	if err := sv.signal.Emit(readyRecord()); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	started := false
	runDone := make(chan error, 1)

	stopOnce := func(reason string) {
		if !started {
			return
		}
		if sv.machine.Current() != StateRunning {
			return
		}
		logger.Info("supervisor: stopping", "reason", reason)
		_ = sv.machine.Transition(StateStopping)
		cancelRun()
	}

	var klvDone <-chan struct{}
	if sv.klvDemux != nil && klvReader != nil {
		done := make(chan struct{})
		klvDone = done
		go func() {
			defer close(done)
			if err := sv.klvDemux.Run(runCtx, klvReader); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("supervisor: klv demux ended", "error", err)
			}
		}()
		go sv.drainKLVEvents(logger)
	}

	go func() { _ = sv.signal.Tail(ctx) }()

	var statsTicker *time.Ticker
	var statsCh <-chan time.Time
	if d := sv.cfg.Render.StatsInterval.Duration(); d > 0 {
		statsTicker = time.NewTicker(d)
		statsCh = statsTicker.C
		defer statsTicker.Stop()
	}

	forceWindow := sv.cfg.Supervise.ForceShutdownWindow.Duration()
	var lastSignalAt time.Time

	for {
		select {
		case <-ctx.Done():
			stopOnce("context canceled")
			return sv.drainAndTerminate(runDone, started, klvDone)

		case sig := <-sigCh:
			now := time.Now()
			if !lastSignalAt.IsZero() && now.Sub(lastSignalAt) < forceWindow && sv.machine.Current() == StateStopping {
				logger.Warn("supervisor: second signal within force-shutdown window, terminating", "signal", sig.String())
				_ = sv.machine.Transition(StateTerminated)
				return nil
			}
			lastSignalAt = now
			logger.Info("supervisor: received signal", "signal", sig.String())
			stopOnce("signal " + sig.String())

		case cmd, ok := <-sv.signal.Commands():
			if !ok {
				stopOnce("stdin closed")
				return sv.drainAndTerminate(runDone, started, klvDone)
			}
			switch cmd.Type {
			case "start":
				if sv.machine.Current() == StateReady {
					if err := sv.machine.Transition(StateRunning); err != nil {
						_ = sv.signal.Emit(errorRecord(err))
						continue
					}
					started = true
					go func() { runDone <- sv.runPipelines(runCtx) }()
				}
			case "stop":
				stopOnce("stop command")
			case "offer", "answer", "ice":
				_ = sv.signal.Emit(Record{
					Type:          cmd.Type,
					SDP:           cmd.SDP,
					Candidate:     cmd.Candidate,
					SDPMLineIndex: cmd.SDPMLineIndex,
					SDPMid:        cmd.SDPMid,
				})
			}

		case err := <-runDone:
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("supervisor: fatal bus error", "error", err)
				_ = sv.signal.Emit(errorRecord(err))
				stopOnce("fatal bus error")
			}
			return sv.drainAndTerminate(runDone, false, klvDone)

		case <-statsCh:
			s := sv.stats()
			fmt.Fprintf(os.Stderr, "Stats: in=%d out=%d repeated=%d\n", s.FramesIn, s.FramesOut, s.FramesRepeated)
			_ = sv.signal.Emit(statsRecord(s))
		}
	}
}

// runPipelines starts T1 (ingest) and T3 (render) concurrently, returning
// the first structural error either reports. T2 (KLV) runs independently
// and isn't part of this group: its failure never tears down video.
func (sv *Supervisor) runPipelines(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sv.ingestPath.Run(gctx) })
	g.Go(func() error { return sv.renderLoop.Run(gctx) })
	return g.Wait()
}

// drainAndTerminate waits up to the configured drain timeout for the
// pipeline group (if started) to finish, then transitions to TERMINATED
// unconditionally: teardown is forced if pipelines don't reach
// quiescence in time.
func (sv *Supervisor) drainAndTerminate(runDone chan error, started bool, klvDone <-chan struct{}) error {
	if started {
		select {
		case <-runDone:
		case <-time.After(sv.cfg.Supervise.DrainTimeout.Duration()):
			sv.logger.Warn("supervisor: drain timeout exceeded, forcing teardown")
		}
	}
	if klvDone != nil {
		select {
		case <-klvDone:
		case <-time.After(sv.cfg.Supervise.DrainTimeout.Duration()):
		}
	}

	if sv.machine.Current() == StateRunning {
		_ = sv.machine.Transition(StateStopping)
	}
	if sv.machine.Current() == StateStopping {
		_ = sv.machine.Transition(StateTerminated)
	}
	_ = sv.signal.Emit(eosRecord())
	return nil
}

// stats gathers the current counters from the ingest path and render
// loop for a periodic stats record.
func (sv *Supervisor) stats() stats {
	s := stats{}
	if sv.ingestPath != nil {
		s.FramesIn = sv.ingestPath.FramesIn()
		s.DecodeCPUPercent = sv.ingestPath.DecodeStats().CPUPercent
	}
	if sv.renderLoop != nil {
		rs := sv.renderLoop.Stats()
		s.FramesOut = rs.FramesOut
		s.FramesRepeated = rs.FramesRepeated
	}
	if sv.session != nil {
		es := sv.session.EncodeStats()
		s.EncodeCPUPercent = es.CPUPercent
		s.EncodeBandwidthKbps = es.WriteRateKbps
	}
	return s
}

// resolveHWAccel probes the configured ffmpeg binary once per session
// for its best available hardware accelerator. A detection failure, no
// available backend, or a configured demotion all resolve to software
// decode; hardware acceleration is a best-effort upgrade, never
// required for the session to start.
func (sv *Supervisor) resolveHWAccel(ctx context.Context, logger *slog.Logger) ffmpeg.HWAccelType {
	accels, err := ffmpeg.NewHWAccelDetector(sv.ffmpegPath).Detect(ctx)
	if err != nil {
		logger.Debug("supervisor: hwaccel detection failed, using software decode", "error", err)
		return ffmpeg.HWAccelNone
	}
	rec := ffmpeg.GetRecommendedHWAccel(accels)
	if rec == nil {
		return ffmpeg.HWAccelNone
	}
	for _, d := range sv.cfg.Ingest.HWAccelDemote {
		if strings.EqualFold(d, string(rec.Type)) {
			logger.Info("supervisor: hwaccel demoted by config", "type", rec.Type)
			return ffmpeg.HWAccelNone
		}
	}
	logger.Info("supervisor: hwaccel selected", "type", rec.Type, "device", rec.DeviceName)
	return rec.Type
}

// encodeHWAccel derives the encode-side hardware accelerator from the
// decode-side detection. Unlike decode, the output codec is known
// statically at startup, so demotion here is checked against the
// configured output codec name rather than the accelerator type; the
// decode path's source codec isn't knowable until ffmpeg's own demuxer
// discovers it.
func (sv *Supervisor) encodeHWAccel(detected ffmpeg.HWAccelType) codec.HWAccel {
	for _, d := range sv.cfg.Ingest.HWAccelDemote {
		if strings.EqualFold(d, sv.cfg.Output.Codec) {
			return codec.HWAccelNone
		}
	}
	return detected.AsCodecHWAccel()
}

// drainKLVEvents consumes the KLV demux's event channel for the life of
// the session. The stdio protocol has no record type for forwarding KLV
// units, so this accounts for them in the log only; a subscriber would
// read Events() directly instead of this loop existing at all.
func (sv *Supervisor) drainKLVEvents(logger *slog.Logger) {
	for ev := range sv.klvDemux.Events() {
		logger.Debug("supervisor: klv event", "pid", ev.PID, "bytes", len(ev.Data))
	}
}
