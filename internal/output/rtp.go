package output

import (
	"context"
	"fmt"
	"net"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"

	"framesync/internal/ffmpeg"
	"framesync/internal/render"
)

// defaultRTPPayloadType is the dynamic payload type used for every
// codec this sink carries. Payload-type negotiation happens downstream
// in the WebRTC gateway, so the same dynamic PT is reused for all
// codecs in the absence of a negotiated SDP.
const defaultRTPPayloadType = 96

// rtpClockRate is the RTP clock rate used for every codec this sink
// carries. 90kHz is the conventional video clock rate shared by the
// H.264/H.265/VP8/VP9 RTP payload specs.
const rtpClockRate = 90000

// rtpSSRC is fixed rather than randomized per session: this sink
// targets a single known downstream consumer (the WebRTC egress
// gateway), not a multi-source conference mix where SSRC collision
// matters.
const rtpSSRC = 0xC0FFEE

// rtpSink packages each pushed sample into RTP packets over UDP. For
// codec=raw the rendered frame is packetized directly; for an encoded
// codec, frames are fed through an encoder and its output units are
// packetized as they arrive on a background goroutine.
type rtpSink struct {
	conn           *net.UDPConn
	packetizer     rtp.Packetizer
	samplesPerTick uint32

	enc        *encoder
	encStarted bool
	encDone    chan error
}

func newRTPSink(cfg SinkConfig) (*rtpSink, error) {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", cfg.Output.Host, cfg.Output.Port))
	if err != nil {
		return nil, fmt.Errorf("resolving rtp destination: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dialing rtp destination: %w", err)
	}

	payloader, err := rtpPayloaderFor(cfg.Output.Codec)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	const mtu = 1200
	packetizer := rtp.NewPacketizer(mtu, defaultRTPPayloadType, rtpSSRC, payloader, rtp.NewRandomSequencer(), rtpClockRate)

	s := &rtpSink{
		conn:           conn,
		packetizer:     packetizer,
		samplesPerTick: uint32(rtpClockRate / cfg.Render.FPS),
	}

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
		s.encDone = make(chan error, 1)
	}

	return s, nil
}

// rtpPayloaderFor returns the pion/rtp payloader for the configured
// codec. H.265 has no payloader in pion/rtp/codecs as of this module's
// dependency version, so it's payloaded with a minimal fragmentation
// payloader implemented locally (rtpH265Payloader); raw elementary data
// gets a similar fixed-size fragmenter.
func rtpPayloaderFor(codecName string) (rtp.Payloader, error) {
	switch codecName {
	case "h264":
		return &codecs.H264Payloader{}, nil
	case "vp8":
		return &codecs.VP8Payloader{}, nil
	case "vp9":
		return &codecs.VP9Payloader{}, nil
	case "h265":
		return &rtpH265Payloader{}, nil
	case "raw":
		return &rtpRawPayloader{}, nil
	default:
		return nil, fmt.Errorf("no rtp payloader for codec %q", codecName)
	}
}

// Push sends the sample. For codec=raw this packetizes the frame
// directly; otherwise it lazily starts the encode chain and feeds this
// frame into it, with encoded units packetized asynchronously as they
// come out the other side.
func (s *rtpSink) Push(ctx context.Context, sample render.Sample) error {
	if s.enc == nil {
		return s.send(sample.Frame.Data, s.samplesPerTick)
	}

	if !s.encStarted {
		if err := s.enc.start(ctx); err != nil {
			return fmt.Errorf("starting rtp encode chain: %w", err)
		}
		s.encStarted = true
		go func() {
			s.encDone <- s.enc.units(func(u unit) {
				_ = s.send(u.data, s.samplesPerTick)
			})
		}()
	}

	return s.enc.write(sample.Frame.Data)
}

func (s *rtpSink) send(data []byte, samples uint32) error {
	packets := s.packetizer.Packetize(data, samples)
	for _, pkt := range packets {
		buf, err := pkt.Marshal()
		if err != nil {
			return fmt.Errorf("marshaling rtp packet: %w", err)
		}
		if _, err := s.conn.Write(buf); err != nil {
			return fmt.Errorf("writing rtp packet: %w", err)
		}
	}
	return nil
}

func (s *rtpSink) Close() error {
	if s.enc != nil {
		s.enc.stop()
	}
	return s.conn.Close()
}

// Stats returns the encode chain's resource usage, or a zero value for
// codec=raw where no encode subprocess runs.
func (s *rtpSink) Stats() ffmpeg.ProcessStats {
	if s.enc == nil {
		return ffmpeg.ProcessStats{}
	}
	return s.enc.Stats()
}
