package output

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"framesync/internal/codec"
	"framesync/internal/ffmpeg"
)

// EncodeConfig parameterizes the output encode chain: low-latency
// realtime tuning with configurable bitrate and keyframe distance.
type EncodeConfig struct {
	FFmpegBinary string
	Width        int
	Height       int
	FPS          int
	Codec        string // h264, h265, vp8, vp9
	BitrateKbps  int
	Keyframe     int
	HWAccel      codec.HWAccel
	Logger       *slog.Logger
}

// encoder owns one running ffmpeg encode subprocess: raw YUV 4:2:0 frames
// in via stdin, a self-delimiting bitstream out via stdout (Annex B for
// H.264/H.265, IVF for VP8/VP9, so downstream packaging never has to
// guess frame boundaries from an undelimited byte stream).
type encoder struct {
	cfg     EncodeConfig
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	monitor *ffmpeg.ProcessMonitor
	tail    *ffmpeg.StderrTail

	mu      sync.Mutex
	started bool
}

func newEncoder(cfg EncodeConfig) *encoder {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &encoder{cfg: cfg}
}

// start spawns the ffmpeg encode subprocess. Like internal/ingest's
// decoder, the CommandBuilder only constructs the argument list; the
// subprocess is driven directly via os/exec for the bidirectional pipes.
func (e *encoder) start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	encoderName := codec.GetVideoEncoder(codec.Video(e.cfg.Codec), e.cfg.HWAccel)
	if encoderName == "" {
		return fmt.Errorf("no encoder available for codec %q", e.cfg.Codec)
	}

	b := ffmpeg.NewCommandBuilder(e.cfg.FFmpegBinary).
		LogLevel("error").
		HideBanner().
		InputArgs(
			"-f", "rawvideo",
			"-pix_fmt", "yuv420p",
			"-s", fmt.Sprintf("%dx%d", e.cfg.Width, e.cfg.Height),
			"-r", fmt.Sprintf("%d", e.cfg.FPS),
		).
		Input("pipe:0").
		VideoCodec(encoderName).
		VideoBitrate(fmt.Sprintf("%dk", e.cfg.BitrateKbps)).
		OutputArgs("-g", fmt.Sprintf("%d", e.cfg.Keyframe)).
		OutputArgs(realtimeArgs(encoderName)...).
		OutputArgs("-f", codec.BitstreamFormat(codec.Video(e.cfg.Codec)).String()).
		Output("pipe:1").
		Build()

	cmd := exec.CommandContext(ctx, b.Binary, b.Args...)
	tail := ffmpeg.NewStderrTail(20)
	cmd.Stderr = tail

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("opening encode stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("opening encode stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting encode subprocess: %w", err)
	}

	e.cmd, e.stdin, e.stdout, e.tail, e.started = cmd, stdin, stdout, tail, true
	e.monitor = ffmpeg.NewProcessMonitor(cmd.Process.Pid)
	e.monitor.Start()
	return nil
}

func (e *encoder) stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return
	}
	if e.monitor != nil {
		e.monitor.Stop()
	}
	if e.stdin != nil {
		_ = e.stdin.Close()
	}
	if e.cmd != nil && e.cmd.Process != nil {
		_ = e.cmd.Process.Kill()
		_ = e.cmd.Wait()
	}
	e.started = false
}

// Stats returns the encode subprocess's current resource usage, or a
// zero value before the chain has started.
func (e *encoder) Stats() ffmpeg.ProcessStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.monitor == nil {
		return ffmpeg.ProcessStats{}
	}
	return e.monitor.Stats()
}

// Wrap instruments w to report its write volume to this encoder's
// process monitor, for sinks that forward encoded output straight to a
// destination connection or file rather than reading it back through
// this package.
func (e *encoder) Wrap(w io.Writer) io.Writer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ffmpeg.NewCountingWriter(w, e.monitor)
}

// write feeds one raw frame to the encoder's stdin. A broken pipe is
// reported with the subprocess's last stderr lines, the proximate cause.
func (e *encoder) write(data []byte) error {
	_, err := e.stdin.Write(data)
	if err != nil {
		if tail := e.lastStderr(); tail != "" {
			return fmt.Errorf("writing frame to encoder: %w (ffmpeg: %s)", err, tail)
		}
		return fmt.Errorf("writing frame to encoder: %w", err)
	}
	return nil
}

// lastStderr returns the encode subprocess's retained stderr lines, or
// "" before the chain has started.
func (e *encoder) lastStderr() string {
	if e.tail == nil {
		return ""
	}
	return e.tail.String()
}

// units reads encoded access units off the encoder's stdout until EOF,
// invoking onUnit for each one in arrival order.
func (e *encoder) units(onUnit func(unit)) error {
	switch e.cfg.Codec {
	case "vp8", "vp9":
		return readIVF(e.stdout, onUnit)
	default:
		return readAnnexB(e.stdout, e.cfg.Codec, onUnit)
	}
}

// realtimeArgs returns the low-latency tuning flags for the selected
// encoder. -tune zerolatency is an x264/x265 private option; libvpx
// spells the same intent -deadline realtime. Hardware encoders run with
// their defaults, which are already latency-oriented.
func realtimeArgs(encoderName string) []string {
	switch encoderName {
	case "libx264", "libx265":
		return []string{"-tune", "zerolatency"}
	case "libvpx", "libvpx-vp9":
		return []string{"-deadline", "realtime", "-cpu-used", "5"}
	default:
		return nil
	}
}

// ivfHeaderSize is the fixed IVF file header length (32 bytes).
const ivfHeaderSize = 32

// ivfFrameHeaderSize is the per-frame header: 4-byte LE size + 8-byte PTS.
const ivfFrameHeaderSize = 12

// readIVF parses an IVF stream (ffmpeg's `-f ivf` output) into discrete
// frames. IVF keyframes aren't flagged in the container itself; the VP8/
// VP9 bitstream's own frame tag carries that, which readers downstream
// (the RTP payloader, the MPEG-TS muxer) don't need for unit boundaries,
// so every unit here is reported as a keyframe and left to the sink to
// reinterpret if it cares.
func readIVF(r io.Reader, onUnit func(unit)) error {
	br := bufio.NewReaderSize(r, 64*1024)

	header := make([]byte, ivfHeaderSize)
	if _, err := io.ReadFull(br, header); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("reading ivf header: %w", err)
	}

	frameHeader := make([]byte, ivfFrameHeaderSize)
	for {
		if _, err := io.ReadFull(br, frameHeader); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return fmt.Errorf("reading ivf frame header: %w", err)
		}
		size := binary.LittleEndian.Uint32(frameHeader[0:4])
		pts := int64(binary.LittleEndian.Uint64(frameHeader[4:12]))

		data := make([]byte, size)
		if _, err := io.ReadFull(br, data); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return fmt.Errorf("reading ivf frame payload: %w", err)
		}

		onUnit(unit{data: data, keyframe: true, pts: pts, dts: pts})
	}
}

// readAnnexB parses an Annex B NAL stream into access units, grouping
// non-VCL NALs (parameter sets, SEI) with the VCL slice NAL that follows
// them. Once the pending access unit holds its VCL slice NAL, the next NAL
// of any type ends it and starts the next, which is exact for the
// single-slice-per-picture encoding this
// chain configures (no slice splitting requested of the encoder). The
// scan is incremental over the subprocess's stdout so a unit is delivered
// the moment its closing start code arrives rather than only at process
// exit.
func readAnnexB(r io.Reader, codecName string, onUnit func(unit)) error {
	isVCL := vclClassifier(codecName)
	scanner := newAnnexBScanner(r)

	var pending [][]byte
	pendingHasVCL := false
	flush := func() {
		if len(pending) == 0 {
			return
		}
		au := make([]byte, 0, 4*len(pending))
		nalus := make([][]byte, len(pending))
		for i, nalu := range pending {
			au = append(au, 0x00, 0x00, 0x00, 0x01)
			au = append(au, nalu...)
			nalus[i] = nalu
		}
		onUnit(unit{data: au, nalus: nalus, keyframe: containsIDR(pending, codecName)})
		pending = nil
		pendingHasVCL = false
	}

	for {
		nalu, err := scanner.next()
		if len(nalu) > 0 {
			if pendingHasVCL {
				flush()
			}
			pending = append(pending, nalu)
			if isVCL(nalu) {
				pendingHasVCL = true
			}
		}
		if err != nil {
			flush()
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading encoded bytestream: %w", err)
		}
	}
}

// annexBScanner splits an Annex B byte stream into NAL units as bytes
// arrive, without waiting for the stream to end.
type annexBScanner struct {
	br  *bufio.Reader
	buf []byte
}

func newAnnexBScanner(r io.Reader) *annexBScanner {
	return &annexBScanner{br: bufio.NewReaderSize(r, 64*1024)}
}

// next returns the next complete NAL unit (start code and any padding
// trailing-zero bytes stripped), or io.EOF once the stream ends — in
// which case any final buffered NAL is still returned alongside the EOF.
func (s *annexBScanner) next() ([]byte, error) {
	for {
		if i := findStartCode(s.buf, 1); i >= 0 {
			nal := trimTrailingZeros(trimLeadingStartCode(s.buf[:i]))
			s.buf = append([]byte(nil), s.buf[i:]...)
			return nal, nil
		}

		b, err := s.br.ReadByte()
		if err != nil {
			nal := trimTrailingZeros(trimLeadingStartCode(s.buf))
			s.buf = nil
			return nal, io.EOF
		}
		s.buf = append(s.buf, b)
	}
}

// findStartCode returns the index of the first 00 00 01 run at or after
// from, or -1. A 4-byte start code (00 00 00 01) is found as a 3-byte
// match one byte later, which trimLeadingStartCode accounts for.
func findStartCode(buf []byte, from int) int {
	for i := from; i+3 <= len(buf); i++ {
		if buf[i] == 0 && buf[i+1] == 0 && buf[i+2] == 1 {
			return i
		}
	}
	return -1
}

// trimLeadingStartCode strips a leading 3- or 4-byte start code from b,
// or returns nil if b doesn't begin with one (an empty or malformed run).
func trimLeadingStartCode(b []byte) []byte {
	switch {
	case len(b) >= 4 && b[0] == 0 && b[1] == 0 && b[2] == 0 && b[3] == 1:
		return b[4:]
	case len(b) >= 3 && b[0] == 0 && b[1] == 0 && b[2] == 1:
		return b[3:]
	default:
		return nil
	}
}

// trimTrailingZeros drops optional trailing_zero_8bits padding bytes that
// may precede the next NAL's start code.
func trimTrailingZeros(b []byte) []byte {
	i := len(b)
	for i > 0 && b[i-1] == 0 {
		i--
	}
	return b[:i]
}

// vclClassifier returns a predicate identifying VCL (picture-carrying)
// NAL units for the given codec family.
func vclClassifier(codecName string) func([]byte) bool {
	if codecName == "h265" {
		return func(nalu []byte) bool {
			if len(nalu) == 0 {
				return false
			}
			nalType := (nalu[0] >> 1) & 0x3F
			return nalType <= 21
		}
	}
	return func(nalu []byte) bool {
		if len(nalu) == 0 {
			return false
		}
		nalType := nalu[0] & 0x1F
		return nalType == 1 || nalType == 5
	}
}

// containsIDR reports whether the access unit's NAL set includes an IDR
// (H.264 type 5) or IRAP (H.265 types 16-23) slice.
func containsIDR(nalus [][]byte, codecName string) bool {
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		if codecName == "h265" {
			nalType := (nalu[0] >> 1) & 0x3F
			if nalType >= 16 && nalType <= 23 {
				return true
			}
		} else if nalu[0]&0x1F == 5 {
			return true
		}
	}
	return false
}
