package output

import (
	"context"
	"fmt"
	"net"

	"framesync/internal/ffmpeg"
	"framesync/internal/render"
)

// rawSink writes the bare elementary stream (no RTP/MPEG-TS framing) to
// a UDP destination, one datagram per pushed frame or encoded unit.
type rawSink struct {
	conn *net.UDPConn
	enc  *encoder

	encStarted bool
}

func newRawSink(cfg SinkConfig) (*rawSink, error) {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", cfg.Output.Host, cfg.Output.Port))
	if err != nil {
		return nil, fmt.Errorf("resolving raw destination: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dialing raw destination: %w", err)
	}

	s := &rawSink{conn: conn}

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

func (s *rawSink) Push(ctx context.Context, sample render.Sample) error {
	if s.enc == nil {
		_, err := s.conn.Write(sample.Frame.Data)
		return err
	}

	if !s.encStarted {
		if err := s.enc.start(ctx); err != nil {
			return fmt.Errorf("starting raw encode chain: %w", err)
		}
		s.encStarted = true
		out := s.enc.Wrap(s.conn)
		go func() {
			_ = s.enc.units(func(u unit) {
				_, _ = out.Write(u.data)
			})
		}()
	}

	return s.enc.write(sample.Frame.Data)
}

func (s *rawSink) Close() error {
	if s.enc != nil {
		s.enc.stop()
	}
	return s.conn.Close()
}

// Stats returns the encode chain's resource usage, or a zero value for
// codec=raw where no encode subprocess runs.
func (s *rawSink) Stats() ffmpeg.ProcessStats {
	if s.enc == nil {
		return ffmpeg.ProcessStats{}
	}
	return s.enc.Stats()
}
