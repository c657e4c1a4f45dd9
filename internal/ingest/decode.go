package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync/atomic"
	"time"

	"framesync/internal/ffmpeg"
	"framesync/internal/frameslot"
)

// frameSize returns the byte length of one planar YUV 4:2:0 frame at the
// given geometry: a full-resolution luma plane plus two quarter-resolution
// chroma planes.
func frameSize(width, height int) int {
	chromaW, chromaH := (width+1)/2, (height+1)/2
	return width*height + 2*chromaW*chromaH
}

// DecodeConfig parameterizes the decode+scale chain.
type DecodeConfig struct {
	FFmpegBinary string
	Width        int
	Height       int
	HWAccel      ffmpeg.HWAccelType
	Retry        ffmpeg.RetryConfig
	Logger       *slog.Logger
}

// decoder owns one running ffmpeg decode subprocess: MPEG-TS bytes in via
// stdin, planar YUV 4:2:0 frames at the configured geometry out via
// stdout. Automatic codec discovery over {H.264, H.265, MPEG-2, VP8, VP9}
// is delegated entirely to ffmpeg's own demuxer/decoder selection; this
// type only owns the subprocess's lifecycle.
type decoder struct {
	cfg DecodeConfig

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	monitor *ffmpeg.ProcessMonitor
	tail    *ffmpeg.StderrTail
}

// start spawns a fresh ffmpeg decode subprocess. The CommandBuilder from
// internal/ffmpeg constructs the argument list; the subprocess itself is
// driven directly via os/exec because this chain needs bidirectional pipes
// (stdin for the TS byte stream, stdout for raw frames) set up before
// Start, which the higher-level ffmpeg.Command type does not expose.
func (d *decoder) start(ctx context.Context) error {
	b := ffmpeg.NewCommandBuilder(d.cfg.FFmpegBinary).
		LogLevel("error").
		HideBanner().
		HWAccel(string(d.cfg.HWAccel)).
		InputArgs("-f", "mpegts").
		Input("pipe:0").
		VideoFilter(fmt.Sprintf("scale=%d:%d", d.cfg.Width, d.cfg.Height)).
		RawVideoArgs("yuv420p").
		Output("pipe:1").
		Build()

	cmd := exec.CommandContext(ctx, b.Binary, b.Args...)
	tail := ffmpeg.NewStderrTail(20)
	cmd.Stderr = tail

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("opening decode stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("opening decode stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting decode subprocess: %w", err)
	}

	d.cmd, d.stdin, d.stdout, d.tail = cmd, stdin, stdout, tail
	d.monitor = ffmpeg.NewProcessMonitor(cmd.Process.Pid)
	d.monitor.Start()
	return nil
}

// stats returns the decode subprocess's current resource usage, or a
// zero value before the first subprocess has started.
func (d *decoder) stats() ffmpeg.ProcessStats {
	if d.monitor == nil {
		return ffmpeg.ProcessStats{}
	}
	return d.monitor.Stats()
}

// stop terminates the current decode subprocess, if any.
func (d *decoder) stop() {
	if d.monitor != nil {
		d.monitor.Stop()
	}
	if d.stdin != nil {
		_ = d.stdin.Close()
	}
	if d.cmd != nil && d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
		_ = d.cmd.Wait()
	}
	d.cmd, d.stdin, d.stdout, d.monitor = nil, nil, nil, nil
}

// lastStderr returns the subprocess's retained stderr lines for failure
// logs, or "" before the first start.
func (d *decoder) lastStderr() string {
	if d.tail == nil {
		return ""
	}
	return d.tail.String()
}

// runDecodeLoop feeds TS bytes popped from q into the decode subprocess and
// reads fixed-size decoded frames back, writing each into slot. On
// subprocess failure it rebuilds the decode chain in place rather than
// exiting the process, with the retry/backoff policy from internal/ffmpeg.
// The frame slot keeps its last good frame throughout, so the render loop
// transparently repeats it during the rebuild. A mid-stream codec or
// resolution change surfaces the same way: ffmpeg exits, the chain is
// rebuilt, and the new subprocess rediscovers the stream.
func runDecodeLoop(ctx context.Context, cfg DecodeConfig, q *JitterQueue, slot *frameslot.Slot, framesIn *atomic.Uint64, monitorOut *atomic.Pointer[ffmpeg.ProcessMonitor]) error {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retry := cfg.Retry
	delay := retry.InitialDelay

	for attempt := 1; ; attempt++ {
		d := &decoder{cfg: cfg}
		if err := d.start(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("ingest: decode subprocess failed to start", "attempt", attempt, "error", err)
			if attempt >= retry.MaxAttempts {
				return fmt.Errorf("ingest-structural: decode chain exhausted retries: %w", err)
			}
			if !sleepOrDone(ctx, delay) {
				return nil
			}
			delay = backoff(delay, retry)
			continue
		}
		if monitorOut != nil {
			monitorOut.Store(d.monitor)
		}

		startedAt := time.Now()
		err := pumpDecoder(ctx, d, q, slot, cfg.Width, cfg.Height, framesIn)
		d.stop()
		if monitorOut != nil {
			monitorOut.Store(nil)
		}

		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			// Clean EOF on the subprocess itself is unexpected for a live
			// feed; treat it the same as a failure and rebuild.
			err = errors.New("decode subprocess ended unexpectedly")
		}

		logger.Warn("ingest: decode chain ended, rebuilding",
			"error", err, "ran_for", time.Since(startedAt), "ffmpeg_stderr", d.lastStderr())
		if time.Since(startedAt) >= retry.MinRunTime {
			attempt = 1
			delay = retry.InitialDelay
		}
		if attempt >= retry.MaxAttempts && time.Since(startedAt) < retry.MinRunTime {
			return fmt.Errorf("ingest-structural: decode chain failing repeatedly: %w", err)
		}
		if !sleepOrDone(ctx, delay) {
			return nil
		}
		delay = backoff(delay, retry)
	}
}

// pumpDecoder runs the two concurrent halves of one decode subprocess's
// lifetime — feeding its stdin from the jitter queue, reading fixed-size
// frames off its stdout — until either side ends.
func pumpDecoder(ctx context.Context, d *decoder, q *JitterQueue, slot *frameslot.Slot, width, height int, framesIn *atomic.Uint64) error {
	feedDone := make(chan error, 1)
	go func() { feedDone <- feedStdin(ctx, d.stdin, q) }()

	readErr := readFrames(ctx, ffmpeg.NewCountingReader(d.stdout, d.monitor), slot, width, height, framesIn)

	_ = d.stdin.Close()
	<-feedDone

	return readErr
}

// feedStdin drains the jitter queue into w until ctx is done or the pipe
// breaks. A queue with nothing ready to pop yet (below min-hold, or simply
// empty) is polled at a short interval rather than busy-spun.
func feedStdin(ctx context.Context, w io.WriteCloser, q *JitterQueue) error {
	const pollInterval = 5 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		data, ok := q.Pop()
		if !ok {
			if !sleepOrDone(ctx, pollInterval) {
				return nil
			}
			continue
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
	}
}

// readFrames reads fixed-size raw frames from r and writes each into slot
// until r is exhausted or ctx ends.
func readFrames(ctx context.Context, r io.Reader, slot *frameslot.Slot, width, height int, framesIn *atomic.Uint64) error {
	frameBytes := frameSize(width, height)
	br := bufio.NewReaderSize(r, frameBytes)
	buf := make([]byte, frameBytes)

	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := io.ReadFull(br, buf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("reading decoded frame: %w", err)
		}

		caps := frameslot.Caps{Width: width, Height: height, Format: "yuv420p"}
		slot.Replace(buf, caps)
		framesIn.Add(1)
	}
}

// sleepOrDone waits for d, returning false if ctx ends first.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// backoff applies the exponential backoff policy, capped at MaxDelay.
func backoff(d time.Duration, cfg ffmpeg.RetryConfig) time.Duration {
	next := time.Duration(float64(d) * cfg.BackoffFactor)
	if next > cfg.MaxDelay {
		return cfg.MaxDelay
	}
	return next
}
