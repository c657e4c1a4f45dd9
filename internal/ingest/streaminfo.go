package ingest

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
)

// trackWatcher observes the program layout of the ingest TS on a side
// branch: it feeds a mediacommon reader from a bounded queue of raw
// datagrams and logs the elementary-stream tracks it discovers. When the
// layout changes mid-stream (a source hot-swap), the reader errors out
// against the new PAT/PMT; the watcher then re-initializes and logs the
// new layout. It never feeds the decode path, and a full queue drops
// rather than ever blocking the UDP reader.
type trackWatcher struct {
	logger *slog.Logger
	in     chan []byte
}

func newTrackWatcher(logger *slog.Logger) *trackWatcher {
	return &trackWatcher{
		logger: logger,
		in:     make(chan []byte, 256),
	}
}

// Write queues a datagram for observation. Callers hand over a read-only
// reference; the watcher never mutates it.
func (w *trackWatcher) Write(p []byte) (int, error) {
	select {
	case w.in <- p:
	default:
		// Behind on observation only; the decode path is unaffected.
	}
	return len(p), nil
}

// Run observes the stream until ctx ends, re-initializing after every
// reader failure so a mid-stream layout change is picked up from the
// next PAT/PMT.
func (w *trackWatcher) Run(ctx context.Context) {
	for ctx.Err() == nil {
		pr, pw := io.Pipe()

		pumpDone := make(chan struct{})
		go func() {
			defer close(pumpDone)
			for {
				select {
				case <-ctx.Done():
					_ = pw.Close()
					return
				case data := <-w.in:
					if _, err := pw.Write(data); err != nil {
						return
					}
				}
			}
		}()

		err := w.observe(pr)
		_ = pr.CloseWithError(io.ErrClosedPipe)
		<-pumpDone

		if ctx.Err() != nil {
			return
		}
		w.logger.Debug("ingest: stream layout observation restarting", "error", err)
		if !sleepOrDone(ctx, time.Second) {
			return
		}
	}
}

// observe initializes one mediacommon reader against the current stream,
// logs the discovered tracks, and reads until the stream breaks.
func (w *trackWatcher) observe(r io.Reader) error {
	reader := &mpegts.Reader{R: r}
	if err := reader.Initialize(); err != nil {
		return err
	}

	for _, track := range reader.Tracks() {
		w.logger.Info("ingest: discovered elementary stream",
			"pid", track.PID, "codec", trackCodecName(track))
	}

	reader.OnDecodeError(func(err error) {
		w.logger.Debug("ingest: ts decode error", "error", err)
	})

	for {
		if err := reader.Read(); err != nil {
			return err
		}
	}
}

// trackCodecName names a discovered track's codec for the layout log.
func trackCodecName(track *mpegts.Track) string {
	switch track.Codec.(type) {
	case *mpegts.CodecH264:
		return "h264"
	case *mpegts.CodecH265:
		return "h265"
	case *mpegts.CodecMPEG1Video:
		return "mpeg1video"
	case *mpegts.CodecMPEG4Video:
		return "mpeg4"
	case *mpegts.CodecMPEG4Audio:
		return "aac"
	case *mpegts.CodecAC3:
		return "ac3"
	case *mpegts.CodecMPEG1Audio:
		return "mp3"
	case *mpegts.CodecOpus:
		return "opus"
	case *mpegts.CodecKLV:
		return "klv"
	default:
		return "unknown"
	}
}
