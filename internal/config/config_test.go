package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 5004, cfg.Ingest.InputPort)
	assert.Equal(t, ByteSize(64*1024*1024), cfg.Ingest.UDPBuffer)
	assert.Equal(t, Duration(1*time.Second), cfg.Ingest.JitterBuffer)
	assert.Equal(t, Duration(5*time.Second), cfg.Ingest.MaxQueue)

	assert.Equal(t, 1280, cfg.Render.Width)
	assert.Equal(t, 720, cfg.Render.Height)
	assert.Equal(t, 30, cfg.Render.FPS)

	assert.Equal(t, "raw", cfg.Output.Codec)
	assert.Equal(t, "rtp", cfg.Output.Container)
	assert.Equal(t, "127.0.0.1", cfg.Output.Host)
	assert.Equal(t, 5006, cfg.Output.Port)

	assert.True(t, cfg.KLV.Enabled)
	assert.Contains(t, cfg.KLV.PIDs, 0x0102)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
ingest:
  input_port: 9090
  jitter_buffer: 2s

render:
  width: 640
  height: 480
  fps: 25

output:
  codec: h264
  container: file
  file: "/tmp/out.mp4"

logging:
  level: "debug"
  format: "text"
`
	err := os.WriteFile(configPath, []byte(configContent), 0o600)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 9090, cfg.Ingest.InputPort)
	assert.Equal(t, Duration(2*time.Second), cfg.Ingest.JitterBuffer)
	assert.Equal(t, 640, cfg.Render.Width)
	assert.Equal(t, 480, cfg.Render.Height)
	assert.Equal(t, 25, cfg.Render.FPS)
	assert.Equal(t, "h264", cfg.Output.Codec)
	assert.Equal(t, "file", cfg.Output.Container)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("FRAMESYNC_INGEST_INPUT_PORT", "3000")
	t.Setenv("FRAMESYNC_RENDER_FPS", "60")
	t.Setenv("FRAMESYNC_LOGGING_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 3000, cfg.Ingest.InputPort)
	assert.Equal(t, 60, cfg.Render.FPS)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
ingest:
  input_port: 8080
render:
  fps: 30
`
	err := os.WriteFile(configPath, []byte(configContent), 0o600)
	require.NoError(t, err)

	t.Setenv("FRAMESYNC_INGEST_INPUT_PORT", "9000")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Ingest.InputPort)
	assert.Equal(t, 30, cfg.Render.FPS)
}

func validBaseConfig() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Ingest: IngestConfig{
			InputPort:    5004,
			JitterBuffer: Duration(1 * time.Second),
			MaxQueue:     Duration(5 * time.Second),
		},
		Render: RenderConfig{Width: 1280, Height: 720, FPS: 30},
		Output: OutputConfig{
			Codec:     "raw",
			Container: "rtp",
			Host:      "127.0.0.1",
			Port:      5006,
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	err := validBaseConfig().Validate()
	assert.NoError(t, err)
}

func TestValidate_InvalidPort(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{"zero port", 0},
		{"negative port", -1},
		{"port too high", 70000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validBaseConfig()
			cfg.Ingest.InputPort = tt.port
			err := cfg.Validate()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), "ingest.input_port")
		})
	}
}

func TestValidate_JitterExceedsMaxQueue(t *testing.T) {
	cfg := validBaseConfig()
	cfg.Ingest.JitterBuffer = Duration(10 * time.Second)
	cfg.Ingest.MaxQueue = Duration(5 * time.Second)

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "jitter_buffer")
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := validBaseConfig()
	cfg.Logging.Level = "invalid"

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := validBaseConfig()
	cfg.Logging.Format = "xml"

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "logging.format")
}

func TestValidate_InvalidCodec(t *testing.T) {
	cfg := validBaseConfig()
	cfg.Output.Codec = "av1"

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "output.codec")
}

func TestValidate_InvalidContainer(t *testing.T) {
	cfg := validBaseConfig()
	cfg.Output.Container = "hls"

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "output.container")
}

func TestValidate_ShmRequiresPath(t *testing.T) {
	cfg := validBaseConfig()
	cfg.Output.Container = "shm"
	cfg.Output.ShmPath = ""

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "output.shm_path")
}

func TestValidate_FileContainerGetsDefaultName(t *testing.T) {
	cfg := validBaseConfig()
	cfg.Output.Container = "file"
	cfg.Output.Codec = "h265"
	cfg.Output.File = ""

	err := cfg.Validate()
	require.NoError(t, err)
	assert.Equal(t, "output.mp4", cfg.Output.File)
}

func TestValidate_NonEmptyFileImpliesFileContainer(t *testing.T) {
	cfg := validBaseConfig()
	cfg.Output.Container = "rtp"
	cfg.Output.File = "/tmp/explicit.mkv"
	cfg.Output.Codec = "vp9"

	err := cfg.Validate()
	require.NoError(t, err)
	assert.Equal(t, "file", cfg.Output.Container)
}

func TestValidate_RTPRequiresHostAndPort(t *testing.T) {
	cfg := validBaseConfig()
	cfg.Output.Host = ""

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "output.host")
}

func TestLoad_NonExistentFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestConfig_AllCodecs(t *testing.T) {
	codecs := []string{"raw", "h264", "h265", "vp8", "vp9"}

	for _, codec := range codecs {
		t.Run(codec, func(t *testing.T) {
			cfg := validBaseConfig()
			cfg.Output.Codec = codec
			err := cfg.Validate()
			assert.NoError(t, err)
		})
	}
}

func TestConfig_AllContainers(t *testing.T) {
	tests := []struct {
		container string
		setup     func(*Config)
	}{
		{"rtp", func(c *Config) {}},
		{"mpegts", func(c *Config) {}},
		{"raw", func(c *Config) {}},
		{"shm", func(c *Config) { c.Output.ShmPath = "/dev/shm/framesync" }},
		{"file", func(c *Config) {}},
	}

	for _, tt := range tests {
		t.Run(tt.container, func(t *testing.T) {
			cfg := validBaseConfig()
			cfg.Output.Container = tt.container
			tt.setup(cfg)
			err := cfg.Validate()
			assert.NoError(t, err)
		})
	}
}
