// Package render drives the output side of the pipeline: a clock-scheduled
// loop that emits exactly one frame per tick at a fixed framerate, entirely
// decoupled from how often (or whether) the ingest path is actually
// producing new frames.
package render

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"framesync/internal/frameslot"
)

// ErrFlowStopped is returned by a PushFunc to signal a non-recoverable flow
// stop (the output pipeline reached flushing or EOS). The loop exits
// cleanly on this; it never terminates the process itself.
var ErrFlowStopped = errors.New("render: output flow stopped")

// Sample is one frame ready to push downstream, stamped with its
// presentation/decode timestamps and duration.
type Sample struct {
	Frame    frameslot.Frame
	PTS      int64
	DTS      int64
	Duration time.Duration
}

// PushFunc delivers a stamped sample to the output pipeline's source
// element. A transient error is logged and the loop continues; returning
// ErrFlowStopped (or an error wrapping it) ends the loop.
type PushFunc func(ctx context.Context, s Sample) error

// Stats is a point-in-time snapshot of the loop's counters, read
// periodically for a stats line; never gated by the loop's own tick cycle.
type Stats struct {
	FramesOut      uint64
	FramesRepeated uint64
}

// Loop implements the monotonic, absolute-deadline tick scheduler described
// in the per-tick algorithm: it never sleeps for a delta, so ticks never
// accumulate drift no matter how long the loop runs.
type Loop struct {
	slot     *frameslot.Slot
	fallback frameslot.Frame
	push     PushFunc
	logger   *slog.Logger

	frameDuration time.Duration
	statsInterval time.Duration

	framesOut      atomic.Uint64
	framesRepeated atomic.Uint64

	now   func() time.Time
	sleep func(context.Context, time.Duration) error

	// noSignalLatched tracks whether "no signal" has already been logged
	// for the current stale run, so it logs once per transition rather
	// than once per tick.
	noSignalLatched bool
}

// Option configures a Loop at construction time.
type Option func(*Loop)

// WithLogger attaches a logger for no-signal transitions and transient push
// errors.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

// WithStatsInterval sets how often Stats should be logged by the caller's
// own timer; the loop itself doesn't schedule logging, it only exposes
// Stats() and FramesIn-adjacent counters for the caller to read on a timer
// at this cadence. Zero disables any implied cadence (caller's choice).
func WithStatsInterval(d time.Duration) Option {
	return func(l *Loop) { l.statsInterval = d }
}

// NewLoop constructs a Loop that reads frames from slot at fps, falling back
// to fallback when the slot has nothing fresh to offer.
func NewLoop(slot *frameslot.Slot, fallback frameslot.Frame, fps int, push PushFunc, opts ...Option) *Loop {
	l := &Loop{
		slot:          slot,
		fallback:      fallback,
		push:          push,
		logger:        slog.Default(),
		frameDuration: time.Second / time.Duration(fps),
		now:           time.Now,
		sleep:         sleepUntilContext,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Stats returns the current frame counters.
func (l *Loop) Stats() Stats {
	return Stats{
		FramesOut:      l.framesOut.Load(),
		FramesRepeated: l.framesRepeated.Load(),
	}
}

// Run executes the tick loop until ctx is canceled or PushFunc signals a
// non-recoverable flow stop. It computes base_time once at startup and
// every subsequent tick target as base_time + n*frame_duration, so ticks
// never drift even if a single push call runs long.
func (l *Loop) Run(ctx context.Context) error {
	baseTime := l.now()
	var lastPushedSeq uint64

	for n := int64(0); ; n++ {
		target := baseTime.Add(time.Duration(n) * l.frameDuration)
		if err := l.sleep(ctx, target.Sub(l.now())); err != nil {
			return err
		}

		snap := l.slot.Snapshot()

		var out frameslot.Frame
		var isRepeat bool
		if snap.HasFrame {
			out = snap.Frame
			isRepeat = snap.IngestSeq == lastPushedSeq
		} else {
			out = l.fallback
			isRepeat = true
		}
		lastPushedSeq = snap.IngestSeq

		l.updateNoSignalLatch(snap.Stale || !snap.HasFrame)

		pts := n * l.frameDuration.Nanoseconds()
		sample := Sample{
			Frame:    out,
			PTS:      pts,
			DTS:      pts,
			Duration: l.frameDuration,
		}

		if err := l.push(ctx, sample); err != nil {
			if errors.Is(err, ErrFlowStopped) {
				return nil
			}
			l.logger.Warn("render: transient push error, continuing", "error", err)
			continue
		}

		l.framesOut.Add(1)
		if isRepeat {
			l.framesRepeated.Add(1)
		}
	}
}

// updateNoSignalLatch logs a single "no signal" message on the first stale
// tick of a run and resets the latch on the first tick that recovers, so a
// long stale period produces one log line rather than one per tick.
func (l *Loop) updateNoSignalLatch(stale bool) {
	if stale && !l.noSignalLatched {
		l.logger.Warn("render: no signal, repeating fallback frame")
		l.noSignalLatched = true
	} else if !stale && l.noSignalLatched {
		l.noSignalLatched = false
	}
}

// sleepUntilContext blocks until d has elapsed or ctx is done, whichever
// comes first. A non-positive d returns immediately (the tick deadline has
// already passed, e.g. because a prior push ran long).
func sleepUntilContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
