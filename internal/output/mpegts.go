package output

import (
	"context"
	"fmt"
	"net"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"framesync/internal/ffmpeg"
	"framesync/internal/render"
)

// mpegtsVideoPID is the elementary PID for the single-program,
// video-only mux.
const mpegtsVideoPID = 0x0100

// mpegtsSink muxes the rendered (and, for non-raw codecs, encoded) video
// stream into MPEG-TS and writes it to a UDP destination. Video-only:
// this pipeline has no audio essence.
type mpegtsSink struct {
	conn  *net.UDPConn
	muxer *mpegts.Writer
	track *mpegts.Track

	enc           *encoder
	encStarted    bool
	ticksPerFrame int64
	unitTicks     int64
}

// mpegtsClockRate is the fixed 90kHz clock mediacommon's mpegts writer
// expects for PTS/DTS.
const mpegtsClockRate = 90000

func nsTo90k(ns int64) int64 {
	return ns * mpegtsClockRate / 1e9
}

func newMPEGTSSink(cfg SinkConfig) (*mpegtsSink, error) {
	switch cfg.Output.Codec {
	case "vp8", "vp9":
		return nil, fmt.Errorf("mpegts container has no standard stream type for codec %q", cfg.Output.Codec)
	}

	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", cfg.Output.Host, cfg.Output.Port))
	if err != nil {
		return nil, fmt.Errorf("resolving mpegts destination: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dialing mpegts destination: %w", err)
	}

	track := &mpegts.Track{PID: mpegtsVideoPID, Codec: mpegtsCodecFor(cfg.Output.Codec)}
	muxer := &mpegts.Writer{W: conn, Tracks: []*mpegts.Track{track}}
	if err := muxer.Initialize(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("initializing mpegts writer: %w", err)
	}

	s := &mpegtsSink{conn: conn, muxer: muxer, track: track, ticksPerFrame: mpegtsClockRate / int64(cfg.Render.FPS)}

	if cfg.Output.Codec != "raw" {
		s.enc = newEncoder(EncodeConfig{
			FFmpegBinary: cfg.FFmpegBinary,
			Width:        cfg.Render.Width,
			Height:       cfg.Render.Height,
			FPS:          cfg.Render.FPS,
			Codec:        cfg.Output.Codec,
			BitrateKbps:  cfg.Output.Bitrate,
			Keyframe:     cfg.Output.Keyframe,
			HWAccel:      cfg.HWAccel,
			Logger:       cfg.Logger,
		})
	}

	return s, nil
}

// mpegtsCodecFor maps a configured codec to the mediacommon mpegts.Codec
// it mixes into the PMT. VP8/VP9/raw have no standardized MPEG-TS stream
// type and fall back to H.264 framing so the container at least carries
// valid PAT/PMT tables.
func mpegtsCodecFor(codecName string) mpegts.Codec {
	switch codecName {
	case "h265":
		return &mpegts.CodecH265{}
	default:
		return &mpegts.CodecH264{}
	}
}

func (s *mpegtsSink) Push(ctx context.Context, sample render.Sample) error {
	if s.enc == nil {
		// codec=raw has no NAL structure; mediacommon's H.264 writer is
		// reused as a container-only passthrough for the uncompressed
		// payload, matching this sink's fallback PMT tagging.
		return s.muxer.WriteH264(s.track, nsTo90k(sample.PTS), nsTo90k(sample.DTS), [][]byte{sample.Frame.Data})
	}

	if !s.encStarted {
		if err := s.enc.start(ctx); err != nil {
			return fmt.Errorf("starting mpegts encode chain: %w", err)
		}
		s.encStarted = true
		go func() {
			_ = s.enc.units(func(u unit) {
				_ = s.writeUnit(u)
			})
		}()
	}

	return s.enc.write(sample.Frame.Data)
}

// writeUnit stamps each encoded unit with a synthetic 90kHz timestamp
// derived from its arrival order rather than the render tick it
// originated from: the encode chain runs asynchronously from the push
// loop, so by the time a unit surfaces there is no reliable 1:1 mapping
// back to a specific render.Sample's PTS, and at a fixed input framerate
// with no encoder-side reordering this produces the same cadence anyway.
func (s *mpegtsSink) writeUnit(u unit) error {
	pts := s.unitTicks * s.ticksPerFrame
	s.unitTicks++

	switch s.track.Codec.(type) {
	case *mpegts.CodecH265:
		return s.muxer.WriteH265(s.track, pts, pts, u.nalus)
	default:
		return s.muxer.WriteH264(s.track, pts, pts, u.nalus)
	}
}

func (s *mpegtsSink) Close() error {
	if s.enc != nil {
		s.enc.stop()
	}
	return s.conn.Close()
}

// Stats returns the encode chain's resource usage, or a zero value for
// codec=raw where no encode subprocess runs.
func (s *mpegtsSink) Stats() ffmpeg.ProcessStats {
	if s.enc == nil {
		return ffmpeg.ProcessStats{}
	}
	return s.enc.Stats()
}
