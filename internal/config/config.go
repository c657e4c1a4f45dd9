// Package config provides configuration management for framesyncd using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultInputPort     = 5004
	defaultUDPBuffer     = 64 * 1024 * 1024 // 64 MiB
	defaultJitterBuffer  = 1 * time.Second  // min-hold
	defaultMaxQueue      = 5 * time.Second  // max-hold
	defaultOutputPort    = 5006
	defaultWidth         = 1280
	defaultHeight        = 720
	defaultFPS           = 30
	defaultBitrateKbps   = 4000
	defaultKeyframeDist  = 60
	defaultShmSize       = 20 * 1024 * 1024 // 20 MB
	defaultStatsInterval = 5 * time.Second
	defaultStaleAfter    = 5 * time.Second // no-signal threshold
	defaultPESSlotCap    = 64 * 1024       // 64 KiB
)

// Config holds all configuration for the application.
type Config struct {
	Logging   LoggingConfig    `mapstructure:"logging"`
	Ingest    IngestConfig     `mapstructure:"ingest"`
	Render    RenderConfig     `mapstructure:"render"`
	Output    OutputConfig     `mapstructure:"output"`
	KLV       KLVConfig        `mapstructure:"klv"`
	FFmpeg    FFmpegConfig     `mapstructure:"ffmpeg"`
	Supervise SupervisorConfig `mapstructure:"supervisor"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// IngestConfig holds UDP ingest and jitter-queue configuration.
type IngestConfig struct {
	InputPort     int      `mapstructure:"input_port"`
	UDPBuffer     ByteSize `mapstructure:"udp_buffer"`
	JitterBuffer  Duration `mapstructure:"jitter_buffer"`  // minimum holding time
	MaxQueue      Duration `mapstructure:"max_queue"`      // maximum holding time
	StaleAfter    Duration `mapstructure:"stale_after"`    // no-signal threshold
	HWAccelDemote []string `mapstructure:"hwaccel_demote"` // codecs forced to software decode
}

// RenderConfig holds render-loop geometry/timing configuration.
type RenderConfig struct {
	Width         int      `mapstructure:"width"`
	Height        int      `mapstructure:"height"`
	FPS           int      `mapstructure:"fps"`
	StatsInterval Duration `mapstructure:"stats_interval"` // 0 disables stats
}

// OutputConfig holds output-session configuration.
type OutputConfig struct {
	Codec     string   `mapstructure:"codec"`     // raw, h264, h265, vp8, vp9
	Container string   `mapstructure:"container"` // rtp, mpegts, shm, raw, file
	Host      string   `mapstructure:"host"`
	Port      int      `mapstructure:"port"`
	Bitrate   int      `mapstructure:"bitrate"`  // kbps
	Keyframe  int      `mapstructure:"keyframe"` // max keyframe distance, frames
	File      string   `mapstructure:"file"`
	ShmPath   string   `mapstructure:"shm_path"`
	ShmSize   ByteSize `mapstructure:"shm_size"`
}

// KLVConfig holds KLV demultiplexer configuration.
type KLVConfig struct {
	Enabled      bool  `mapstructure:"enabled"`
	PIDs         []int `mapstructure:"pids"`
	MaxSlotBytes int   `mapstructure:"max_slot_bytes"`
}

// FFmpegConfig holds the subprocess decode/encode configuration.
type FFmpegConfig struct {
	BinaryPath string `mapstructure:"binary_path"` // empty = auto-detect via PATH
	ProbePath  string `mapstructure:"probe_path"`
}

// SupervisorConfig holds signal/shutdown timing configuration.
type SupervisorConfig struct {
	ForceShutdownWindow Duration `mapstructure:"force_shutdown_window"` // second signal within this forces TERMINATED
	DrainTimeout        Duration `mapstructure:"drain_timeout"`         // max wait for pipelines to reach NULL
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with FRAMESYNC_ and use underscores for nesting.
// Example: FRAMESYNC_RENDER_FPS=25.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/framesyncd")
		v.AddConfigPath("$HOME/.framesyncd")
	}

	v.SetEnvPrefix("FRAMESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// decodeHook extends Viper's default decoding so string values like "2s"
// and "64MB" reach the Duration/ByteSize TextUnmarshaler implementations.
func decodeHook() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Ingest defaults
	v.SetDefault("ingest.input_port", defaultInputPort)
	v.SetDefault("ingest.udp_buffer", defaultUDPBuffer)
	v.SetDefault("ingest.jitter_buffer", defaultJitterBuffer)
	v.SetDefault("ingest.max_queue", defaultMaxQueue)
	v.SetDefault("ingest.stale_after", defaultStaleAfter)
	v.SetDefault("ingest.hwaccel_demote", []string{})

	// Render defaults
	v.SetDefault("render.width", defaultWidth)
	v.SetDefault("render.height", defaultHeight)
	v.SetDefault("render.fps", defaultFPS)
	v.SetDefault("render.stats_interval", defaultStatsInterval)

	// Output defaults
	v.SetDefault("output.codec", "raw")
	v.SetDefault("output.container", "rtp")
	v.SetDefault("output.host", "127.0.0.1")
	v.SetDefault("output.port", defaultOutputPort)
	v.SetDefault("output.bitrate", defaultBitrateKbps)
	v.SetDefault("output.keyframe", defaultKeyframeDist)
	v.SetDefault("output.shm_size", defaultShmSize)

	// KLV defaults
	v.SetDefault("klv.enabled", true)
	v.SetDefault("klv.pids", []int{0x0042, 0x0044, 0x0100, 0x0101, 0x0102, 0x01F1, 0x1000})
	v.SetDefault("klv.max_slot_bytes", defaultPESSlotCap)

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")

	// Supervisor defaults
	v.SetDefault("supervisor.force_shutdown_window", 5*time.Second)
	v.SetDefault("supervisor.drain_timeout", 2*time.Second)
}

// FromViper unmarshals and validates a Config from an already-initialized
// Viper instance: defaults set, config file read, flags and environment
// bound. Used by commands that bind their own flags onto the shared
// instance rather than going through Load.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	const maxPort = 65535
	if c.Ingest.InputPort < 1 || c.Ingest.InputPort > maxPort {
		return fmt.Errorf("ingest.input_port must be between 1 and %d", maxPort)
	}
	if c.Ingest.JitterBuffer.Duration() > c.Ingest.MaxQueue.Duration() {
		return fmt.Errorf("ingest.jitter_buffer must not exceed ingest.max_queue")
	}

	if c.Render.Width < 1 || c.Render.Height < 1 {
		return fmt.Errorf("render.width and render.height must be positive")
	}
	if c.Render.FPS < 1 {
		return fmt.Errorf("render.fps must be at least 1")
	}

	validCodecs := map[string]bool{"raw": true, "h264": true, "h265": true, "vp8": true, "vp9": true}
	if !validCodecs[c.Output.Codec] {
		return fmt.Errorf("output.codec must be one of: raw, h264, h265, vp8, vp9")
	}
	validContainers := map[string]bool{"rtp": true, "mpegts": true, "shm": true, "raw": true, "file": true}
	if !validContainers[c.Output.Container] {
		return fmt.Errorf("output.container must be one of: rtp, mpegts, shm, raw, file")
	}

	switch c.Output.Container {
	case "file":
		if c.Output.File == "" {
			c.Output.File = defaultFileName(c.Output.Codec)
		}
	case "shm":
		if c.Output.ShmPath == "" {
			return fmt.Errorf("output.shm_path is required when output.container is shm")
		}
	case "rtp", "mpegts", "raw":
		if c.Output.Host == "" || c.Output.Port == 0 {
			return fmt.Errorf("output.host and output.port are required for container %q", c.Output.Container)
		}
	}

	if c.Output.File != "" {
		c.Output.Container = "file"
	}

	return nil
}

// defaultFileName returns the default output filename for a codec:
// MP4 for H.264/H.265, MKV for VP8/VP9, AVI for raw.
func defaultFileName(codec string) string {
	switch codec {
	case "h264", "h265":
		return "output.mp4"
	case "vp8", "vp9":
		return "output.mkv"
	default:
		return "output.avi"
	}
}
