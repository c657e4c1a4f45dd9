package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"framesync/internal/codec"
	"framesync/internal/config"
	"framesync/internal/ffmpeg"
	"framesync/internal/supervisor"
	"framesync/internal/util"
)

var ffmpegBinary string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run one framesyncd session",
	Long: `Run one framesyncd session: ingest the configured MPEG-TS/UDP source,
render it onto the fixed-framerate clock, and deliver it to the configured
output sink.

The session is driven over stdin/stdout by a line-delimited JSON
command/record protocol. It runs until a "stop" command is received, stdin
is closed, or a terminating signal arrives.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&ffmpegBinary, "ffmpeg-binary", "", "path to the ffmpeg binary (default: $FFMPEG_BINARY, ./ffmpeg, or PATH lookup)")

	// Ingest flags
	serveCmd.Flags().Int("input-port", 5004, "UDP listen port for MPEG-TS ingest")
	serveCmd.Flags().String("udp-buffer", "64MB", "OS receive buffer size")
	serveCmd.Flags().String("jitter-buffer", "1s", "minimum queue holding time")
	serveCmd.Flags().String("max-queue", "5s", "maximum queue holding time")

	// Render flags
	serveCmd.Flags().Int("width", 1280, "output frame width")
	serveCmd.Flags().Int("height", 720, "output frame height")
	serveCmd.Flags().Int("fps", 30, "output framerate, Hz")
	serveCmd.Flags().String("stats-interval", "5s", "stats period (0s = off)")

	// Output flags
	serveCmd.Flags().String("host", "127.0.0.1", "output UDP destination host")
	serveCmd.Flags().Int("output-port", 5006, "output UDP destination port")
	serveCmd.Flags().Int("bitrate", 4000, "encoder target bitrate, kbps")
	serveCmd.Flags().Int("keyframe", 60, "max keyframe distance, frames")
	serveCmd.Flags().String("codec", "raw", "output codec (raw, h264, h265, vp8, vp9)")
	serveCmd.Flags().String("container", "rtp", "output container (rtp, mpegts, shm, raw, file)")
	serveCmd.Flags().String("file", "", "output file path (implies container=file)")
	serveCmd.Flags().String("shm-path", "", "shared-memory socket path")
	serveCmd.Flags().String("shm-size", "20MB", "shared-memory region size")

	mustBindPFlag("ingest.input_port", serveCmd.Flags().Lookup("input-port"))
	mustBindPFlag("ingest.udp_buffer", serveCmd.Flags().Lookup("udp-buffer"))
	mustBindPFlag("ingest.jitter_buffer", serveCmd.Flags().Lookup("jitter-buffer"))
	mustBindPFlag("ingest.max_queue", serveCmd.Flags().Lookup("max-queue"))
	mustBindPFlag("render.width", serveCmd.Flags().Lookup("width"))
	mustBindPFlag("render.height", serveCmd.Flags().Lookup("height"))
	mustBindPFlag("render.fps", serveCmd.Flags().Lookup("fps"))
	mustBindPFlag("render.stats_interval", serveCmd.Flags().Lookup("stats-interval"))
	mustBindPFlag("output.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("output.port", serveCmd.Flags().Lookup("output-port"))
	mustBindPFlag("output.bitrate", serveCmd.Flags().Lookup("bitrate"))
	mustBindPFlag("output.keyframe", serveCmd.Flags().Lookup("keyframe"))
	mustBindPFlag("output.codec", serveCmd.Flags().Lookup("codec"))
	mustBindPFlag("output.container", serveCmd.Flags().Lookup("container"))
	mustBindPFlag("output.file", serveCmd.Flags().Lookup("file"))
	mustBindPFlag("output.shm_path", serveCmd.Flags().Lookup("shm-path"))
	mustBindPFlag("output.shm_size", serveCmd.Flags().Lookup("shm-size"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ffmpegPath := ffmpegBinary
	if ffmpegPath == "" {
		ffmpegPath, err = util.FindBinary("ffmpeg", "FFMPEG_BINARY")
		if err != nil {
			return fmt.Errorf("locating ffmpeg binary: %w", err)
		}
	}

	logger := slog.Default()
	logger.Info("framesyncd: starting session", "ffmpeg", ffmpegPath, "output_container", cfg.Output.Container)

	// The Supervisor owns the session's signal handling, including the
	// force-shutdown escalation on a repeated SIGINT/SIGTERM, so this
	// command hands it a plain cancelable context rather than also
	// calling signal.Notify here.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := checkFFmpegCapabilities(ctx, cfg, logger); err != nil {
		return err
	}

	sv := supervisor.New(cfg, ffmpegPath, os.Stdin, os.Stdout, logger)
	return sv.Run(ctx)
}

// checkFFmpegCapabilities probes the ffmpeg installation once at startup
// and fails fast if it can't produce the configured output codec, rather
// than discovering that partway through the first encode chain. Probe
// failure itself is non-fatal — some minimal ffmpeg builds reject one of
// the probe commands even though the codecs they'd report work fine — so
// only a confirmed missing encoder aborts startup.
func checkFFmpegCapabilities(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	info, err := ffmpeg.NewBinaryDetector().Detect(ctx)
	if err != nil {
		logger.Warn("framesyncd: ffmpeg capability probe failed, continuing without it", "error", err)
		return nil
	}

	logger.Info("framesyncd: ffmpeg capabilities detected",
		"version", info.Version, "codecs", len(info.Codecs), "hwaccels", len(info.GetAvailableHWAccels()))
	if !info.SupportsMinVersion(4, 0) {
		logger.Warn("framesyncd: ffmpeg version is older than the minimum tested baseline", "version", info.Version)
	}

	if cfg.Output.Codec == "raw" {
		return nil
	}
	wantEncoder := codec.GetVideoEncoder(codec.Video(cfg.Output.Codec), codec.HWAccelNone)
	if wantEncoder != "" && !info.HasEncoder(wantEncoder) {
		return fmt.Errorf("ffmpeg has no %q encoder for output.codec %q", wantEncoder, cfg.Output.Codec)
	}
	return nil
}
