package output

import (
	"context"
	"fmt"
	"io"
	"os/exec"

	"framesync/internal/codec"
	"framesync/internal/ffmpeg"
	"framesync/internal/render"
)

// fileSink muxes the rendered stream directly into an on-disk container
// via a single ffmpeg subprocess that both encodes (or passes through,
// for codec=raw) and muxes, writing straight to the output file — unlike
// the other sinks, there is no bitstream round trip back into this
// process, since nothing downstream needs per-unit access.
type fileSink struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	closer  func() error
	monitor *ffmpeg.ProcessMonitor
}

func newFileSink(cfg SinkConfig) (*fileSink, error) {
	b := ffmpeg.NewCommandBuilder(cfg.FFmpegBinary).
		LogLevel("error").
		HideBanner().
		Overwrite().
		InputArgs(
			"-f", "rawvideo",
			"-pix_fmt", "yuv420p",
			"-s", fmt.Sprintf("%dx%d", cfg.Render.Width, cfg.Render.Height),
			"-r", fmt.Sprintf("%d", cfg.Render.FPS),
		).
		Input("pipe:0")

	if cfg.Output.Codec == "raw" {
		b = b.VideoCodec("rawvideo").OutputArgs("-f", "avi")
	} else {
		encoderName := codec.GetVideoEncoder(codec.Video(cfg.Output.Codec), cfg.HWAccel)
		b = b.VideoCodec(encoderName).
			VideoBitrate(fmt.Sprintf("%dk", cfg.Output.Bitrate)).
			OutputArgs("-g", fmt.Sprintf("%d", cfg.Output.Keyframe)).
			OutputArgs(realtimeArgs(encoderName)...).
			OutputArgs("-f", codec.FileFormat(codec.Video(cfg.Output.Codec)).String())
	}

	command := b.Output(cfg.Output.File).Build()

	cmd := exec.CommandContext(context.Background(), command.Binary, command.Args...)
	tail := ffmpeg.NewStderrTail(20)
	cmd.Stderr = tail
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("opening file-sink stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting file-sink subprocess: %w", err)
	}

	monitor := ffmpeg.NewProcessMonitor(cmd.Process.Pid)
	monitor.Start()

	return &fileSink{
		cmd:     cmd,
		stdin:   stdin,
		monitor: monitor,
		closer: func() error {
			monitor.Stop()
			_ = stdin.Close()
			if err := cmd.Wait(); err != nil {
				if s := tail.String(); s != "" {
					return fmt.Errorf("file-sink subprocess: %w (ffmpeg: %s)", err, s)
				}
				return fmt.Errorf("file-sink subprocess: %w", err)
			}
			return nil
		},
	}, nil
}

func (s *fileSink) Push(ctx context.Context, sample render.Sample) error {
	_, err := s.stdin.Write(sample.Frame.Data)
	return err
}

func (s *fileSink) Close() error {
	return s.closer()
}

// Stats returns the file-sink subprocess's current resource usage.
func (s *fileSink) Stats() ffmpeg.ProcessStats {
	if s.monitor == nil {
		return ffmpeg.ProcessStats{}
	}
	return s.monitor.Stats()
}
