package output

import (
	"fmt"
	"log/slog"

	"framesync/internal/codec"
	"framesync/internal/config"
	"framesync/internal/ffmpeg"
)

// SinkConfig collects everything a concrete sink constructor needs:
// the output-session parameters plus the render geometry/rate and
// ffmpeg binary location it must match when it spawns an encode chain.
type SinkConfig struct {
	Output config.OutputConfig
	Render config.RenderConfig

	FFmpegBinary string
	HWAccel      codec.HWAccel
	Logger       *slog.Logger
}

// NewSink builds the concrete Sink for cfg.Output.Container. Every
// combination of codec and container that config.Config.Validate
// accepts must construct successfully here; a container that cannot
// carry a given codec (mpegts with vp8/vp9) rejects it at this point
// rather than at the first Push.
func NewSink(cfg SinkConfig) (Sink, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	switch cfg.Output.Container {
	case "rtp":
		return newRTPSink(cfg)
	case "mpegts":
		return newMPEGTSSink(cfg)
	case "shm":
		return newShmSink(cfg)
	case "raw":
		return newRawSink(cfg)
	case "file":
		return newFileSink(cfg)
	default:
		return nil, fmt.Errorf("unknown output container %q", cfg.Output.Container)
	}
}

// Session is the running output side of one framesyncd instance: a
// single sink, fixed for the process lifetime. The (codec, container,
// bitrate, keyframe interval, endpoint) tuple is chosen at startup and
// never mutated; changing any of it means a new session.
type Session struct {
	Sink Sink

	Codec     string
	Container string
}

// NewSession constructs the output session's sink from cfg.
func NewSession(cfg SinkConfig) (*Session, error) {
	sink, err := NewSink(cfg)
	if err != nil {
		return nil, fmt.Errorf("constructing output sink: %w", err)
	}
	return &Session{Sink: sink, Codec: cfg.Output.Codec, Container: cfg.Output.Container}, nil
}

// Close releases the session's sink.
func (s *Session) Close() error {
	if s.Sink == nil {
		return nil
	}
	return s.Sink.Close()
}

// processStatsSink is implemented by every sink backed by an ffmpeg
// encode subprocess (every sink but shmSink, which never spawns one).
type processStatsSink interface {
	Stats() ffmpeg.ProcessStats
}

// EncodeStats returns the running encode subprocess's resource usage,
// or a zero value for sinks with no encode subprocess (codec=raw's shm
// container, or any sink before its first Push lazily starts one).
func (s *Session) EncodeStats() ffmpeg.ProcessStats {
	if ps, ok := s.Sink.(processStatsSink); ok {
		return ps.Stats()
	}
	return ffmpeg.ProcessStats{}
}
