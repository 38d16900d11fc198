// Package config loads gattstream settings from YAML with environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/user/gattstream/frame"
	"github.com/user/gattstream/logger"
	"github.com/user/gattstream/transport"
	"github.com/user/gattstream/util"
	"github.com/user/gattstream/wire"
)

// LogLevelEnv overrides log_level
const LogLevelEnv = "GATTSTREAM_LOG_LEVEL"

// Config holds the gattstream configuration.
type Config struct {
	DataDir     string `yaml:"data_dir"`
	DeviceID    string `yaml:"device_id"`
	MaxChunk    int    `yaml:"max_chunk"`
	Framing     string `yaml:"framing"`
	Compression string `yaml:"compression"`
	LogLevel    string `yaml:"log_level"`
	// WriteTimeout bounds each acknowledged chunk write; zero selects the
	// 30s ATT transaction timeout
	WriteTimeout Duration `yaml:"write_timeout"`
}

// Duration reads either a Go duration string ("30s", "1m") or a bare number
// of seconds
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.ShortTag() {
	case "!!int", "!!float":
		var secs float64
		if err := value.Decode(&secs); err != nil {
			return err
		}
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		DataDir:      util.GetDataDir(),
		MaxChunk:     transport.DefaultMaxChunk,
		Framing:      "marker",
		Compression:  "zlib",
		LogLevel:     "info",
		WriteTimeout: Duration(30 * time.Second),
	}
}

// DefaultPath returns the default config file path: {dataDir}/config.yaml
func DefaultPath() string {
	return filepath.Join(util.GetDataDir(), "config.yaml")
}

// Load reads the configuration from the given YAML file path.
// If the file does not exist, it returns defaults with no error.
// Environment overrides are applied after the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays GATTSTREAM_DIR and GATTSTREAM_LOG_LEVEL
func (c *Config) ApplyEnv() {
	if dir := os.Getenv(util.DataDirEnv); dir != "" {
		c.DataDir = dir
	}
	if level := os.Getenv(LogLevelEnv); level != "" {
		c.LogLevel = level
	}
}

// Validate rejects settings the transport cannot honor
func (c *Config) Validate() error {
	if c.MaxChunk < 1 || c.MaxChunk > wire.MaxAttributeLen {
		return fmt.Errorf("config: max_chunk must be between 1 and %d (got %d)", wire.MaxAttributeLen, c.MaxChunk)
	}
	if _, err := frame.NewFramer(c.Framing); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := frame.NewCompressor(c.Compression); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("config: write_timeout must not be negative")
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir is required")
	}
	return nil
}

// Codec builds the frame codec the config selects
func (c *Config) Codec() (*frame.Codec, error) {
	framer, err := frame.NewFramer(c.Framing)
	if err != nil {
		return nil, err
	}
	compressor, err := frame.NewCompressor(c.Compression)
	if err != nil {
		return nil, err
	}
	return frame.NewCodec(compressor, framer), nil
}

// TransportOptions builds transport options for a device
func (c *Config) TransportOptions(deviceID string) (transport.Options, error) {
	codec, err := c.Codec()
	if err != nil {
		return transport.Options{}, err
	}
	return transport.Options{MaxChunk: c.MaxChunk, Codec: codec, LogID: deviceID}, nil
}

// Level returns the parsed log level
func (c *Config) Level() logger.LogLevel {
	return logger.ParseLevel(c.LogLevel)
}
