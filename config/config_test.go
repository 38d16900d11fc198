package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/user/gattstream/frame"
	"github.com/user/gattstream/logger"
	"github.com/user/gattstream/wire"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("GATTSTREAM_DIR", t.TempDir())
	t.Setenv(LogLevelEnv, "")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, 512, cfg.MaxChunk)
	require.Equal(t, "marker", cfg.Framing)
	require.Equal(t, "zlib", cfg.Compression)
	require.Equal(t, 30*time.Second, cfg.WriteTimeout.Std())
}

func TestLoadYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlData := `
data_dir: /var/lib/gattstream
device_id: 3f1c2a9e-0000-4000-8000-000000000001
max_chunk: 180
framing: length
compression: deflate
log_level: debug
write_timeout: 5s
`
	require.NoError(t, os.WriteFile(path, []byte(yamlData), 0600))

	t.Setenv("GATTSTREAM_DIR", "")
	t.Setenv(LogLevelEnv, "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/gattstream", cfg.DataDir)
	require.Equal(t, 180, cfg.MaxChunk)
	require.Equal(t, 5*time.Second, cfg.WriteTimeout.Std())
	require.Equal(t, logger.WARN, cfg.Level())

	codec, err := cfg.Codec()
	require.NoError(t, err)
	require.IsType(t, frame.LengthFramer{}, codec.Framer())
	require.Equal(t, "deflate", codec.Compressor().Name())

	opts, err := cfg.TransportOptions("dev")
	require.NoError(t, err)
	require.Equal(t, 180, opts.MaxChunk)
	require.Equal(t, "dev", opts.LogID)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero chunk", func(c *Config) { c.MaxChunk = 0 }},
		{"chunk above attribute limit", func(c *Config) { c.MaxChunk = 513 }},
		{"unknown framing", func(c *Config) { c.Framing = "slip" }},
		{"unknown compression", func(c *Config) { c.Compression = "brotli" }},
		{"negative timeout", func(c *Config) { c.WriteTimeout = Duration(-time.Second) }},
		{"no data dir", func(c *Config) { c.DataDir = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.DataDir = "/tmp/x"
			require.NoError(t, cfg.Validate())
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_chunk: [nope"), 0600))
	_, err := Load(path)
	require.Error(t, err)
}

func TestWriteTimeoutForms(t *testing.T) {
	tests := []struct {
		yaml string
		want time.Duration
	}{
		{"write_timeout: 30", 30 * time.Second},
		{"write_timeout: 1.5", 1500 * time.Millisecond},
		{"write_timeout: 45s", 45 * time.Second},
		{"write_timeout: 2m", 2 * time.Minute},
		{"write_timeout: 0s", 0},
	}
	for _, tt := range tests {
		t.Run(tt.yaml, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml+"\n"), 0600))
			t.Setenv("GATTSTREAM_DIR", t.TempDir())

			cfg, err := Load(path)
			require.NoError(t, err)
			require.Equal(t, tt.want, cfg.WriteTimeout.Std())
		})
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("write_timeout: soon\n"), 0600))
	_, err := Load(path)
	require.Error(t, err)
}

func TestMaxChunkBoundIsAttributeLimit(t *testing.T) {
	cfg := Default()
	cfg.MaxChunk = wire.MaxAttributeLen
	require.NoError(t, cfg.Validate())
	cfg.MaxChunk = wire.MaxAttributeLen + 1
	require.Error(t, cfg.Validate())
}
