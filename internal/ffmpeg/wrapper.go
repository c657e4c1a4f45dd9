// Package ffmpeg drives the ffmpeg subprocesses that do this daemon's
// decoding and encoding: argument construction, binary capability probing,
// hardware-accelerator detection, and per-process resource monitoring.
package ffmpeg

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

// Command is a fully built ffmpeg invocation. Callers that need pipes
// wired before start (the decode and encode chains) drive Binary/Args
// through os/exec themselves; Run covers the simple run-to-completion
// case.
type Command struct {
	Binary    string
	Args      []string
	Input     string
	Output    string
	LogLevel  string
	Overwrite bool
}

// RetryConfig configures rebuild behavior for a failed ffmpeg chain.
type RetryConfig struct {
	MaxAttempts   int           // Attempts before giving up on a fast-failing chain
	InitialDelay  time.Duration // Delay before the first rebuild
	MaxDelay      time.Duration // Backoff ceiling
	BackoffFactor float64       // Multiplier applied per rebuild
	MinRunTime    time.Duration // A chain that ran at least this long resets the attempt counter
}

// DefaultRetryConfig returns the rebuild policy used by the decode chain.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		MinRunTime:    5 * time.Second,
	}
}

// CommandBuilder builds ffmpeg argument lists with a fluent API.
type CommandBuilder struct {
	binary     string
	globalArgs []string
	inputArgs  []string
	input      string
	filterArgs []string
	outputArgs []string
	output     string
	logLevel   string
	overwrite  bool
}

// NewCommandBuilder creates a builder for the given ffmpeg binary.
func NewCommandBuilder(ffmpegPath string) *CommandBuilder {
	return &CommandBuilder{
		binary:   ffmpegPath,
		logLevel: "error",
	}
}

// LogLevel sets the ffmpeg log level.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	b.logLevel = level
	return b
}

// HideBanner hides the ffmpeg banner.
func (b *CommandBuilder) HideBanner() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-hide_banner")
	return b
}

// Overwrite enables output file overwriting.
func (b *CommandBuilder) Overwrite() *CommandBuilder {
	b.overwrite = true
	return b
}

// HWAccel sets the hardware acceleration method. "auto" is skipped since
// ffmpeg wants a concrete backend name, never "auto".
func (b *CommandBuilder) HWAccel(accel string) *CommandBuilder {
	if accel != "" && accel != "none" && accel != "auto" {
		b.inputArgs = append(b.inputArgs, "-hwaccel", accel)
	}
	return b
}

// HWAccelDevice sets the hardware acceleration device.
func (b *CommandBuilder) HWAccelDevice(device string) *CommandBuilder {
	if device != "" {
		b.inputArgs = append(b.inputArgs, "-hwaccel_device", device)
	}
	return b
}

// Input sets the input source.
func (b *CommandBuilder) Input(input string) *CommandBuilder {
	b.input = input
	return b
}

// InputArgs adds arbitrary input arguments.
func (b *CommandBuilder) InputArgs(args ...string) *CommandBuilder {
	b.inputArgs = append(b.inputArgs, args...)
	return b
}

// VideoCodec sets the video codec.
func (b *CommandBuilder) VideoCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:v", codec)
	return b
}

// VideoBitrate sets the video bitrate.
func (b *CommandBuilder) VideoBitrate(bitrate string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-b:v", bitrate)
	return b
}

// VideoPreset sets the encoding preset.
func (b *CommandBuilder) VideoPreset(preset string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-preset", preset)
	return b
}

// VideoFilter adds a video filter. Multiple filters are joined into one
// -vf chain in the order added.
func (b *CommandBuilder) VideoFilter(filter string) *CommandBuilder {
	b.filterArgs = append(b.filterArgs, filter)
	return b
}

// OutputArgs adds arbitrary output arguments.
func (b *CommandBuilder) OutputArgs(args ...string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, args...)
	return b
}

// RawVideoArgs adds output arguments for uncompressed rawvideo frames in
// the given pixel format, no container framing. Used by the decode chain
// (frames back over a pipe).
func (b *CommandBuilder) RawVideoArgs(pixFmt string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs,
		"-f", "rawvideo",
		"-pix_fmt", pixFmt,
	)
	return b
}

// Output sets the output destination.
func (b *CommandBuilder) Output(output string) *CommandBuilder {
	b.output = output
	return b
}

// Build assembles the final argument list.
func (b *CommandBuilder) Build() *Command {
	var args []string

	args = append(args, "-loglevel", b.logLevel)
	args = append(args, b.globalArgs...)

	if b.overwrite {
		args = append(args, "-y")
	}

	args = append(args, b.inputArgs...)
	args = append(args, "-i", b.input)

	if len(b.filterArgs) > 0 {
		args = append(args, "-vf", strings.Join(b.filterArgs, ","))
	}

	args = append(args, b.outputArgs...)
	args = append(args, b.output)

	return &Command{
		Binary:    b.binary,
		Args:      args,
		Input:     b.input,
		Output:    b.output,
		LogLevel:  b.logLevel,
		Overwrite: b.overwrite,
	}
}

// String returns the command as a shell-style string.
func (c *Command) String() string {
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// Run executes the command and waits for completion.
func (c *Command) Run(ctx context.Context) error {
	return exec.CommandContext(ctx, c.Binary, c.Args...).Run()
}
