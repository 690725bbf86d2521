package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
	DefaultFallbackEncoding = "windows-1251"
	DefaultTimeout          = 30 * time.Second
	DefaultJPEGQuality      = 85
	DefaultMaxPixels        = 100 * 1000 * 1000
	minJPEGQuality          = 60
)

var (
	LogLevels    = []string{"debug", "info", "warn", "error"}
	LogFormats   = []string{"text", "json"}
	ImageFormats = []string{"keep", "jpeg", "png"}
)

// Config is the fb2lines configuration file. Every field can also be set
// from the command line; the flag name is given in the comment.
type Config struct {
	LogLevel         string        `yaml:"log_level"`         // --log-level
	LogFormat        string        `yaml:"log_format"`        // --log-format
	FlatHeaders      bool          `yaml:"flat_headers"`      // --flat-headers
	FallbackEncoding string        `yaml:"fallback_encoding"` // --encoding
	Timeout          time.Duration `yaml:"timeout"`           // --timeout; 0 disables the limit
	Images           ImageConfig   `yaml:"images"`
}

// ImageConfig controls how images are written by the cover and images commands
type ImageConfig struct {
	MaxWidth    int    `yaml:"max_width"`    // --max-width; 0 keeps the original width
	JPEGQuality int    `yaml:"jpeg_quality"` // --quality
	Format      string `yaml:"format"`       // --format: keep, jpeg or png
	MaxPixels   int    `yaml:"max_pixels"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel:         DefaultLogLevel,
		LogFormat:        DefaultLogFormat,
		FallbackEncoding: DefaultFallbackEncoding,
		Timeout:          DefaultTimeout,
		Images: ImageConfig{
			JPEGQuality: DefaultJPEGQuality,
			Format:      "keep",
			MaxPixels:   DefaultMaxPixels,
		},
	}
}

// Load reads a YAML configuration file on top of the defaults. An empty
// path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := Decode(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Decode parses YAML into cfg, keeping the values of absent keys.
// Unknown keys are rejected.
func Decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	cfg.Images.Format = strings.ToLower(cfg.Images.Format)
	return nil
}

// Validate reports the first invalid value, naming its flag.
func (c Config) Validate() error {
	if !slices.Contains(LogLevels, c.LogLevel) {
		return fmt.Errorf("--log-level must be one of %s, got %q", strings.Join(LogLevels, ", "), c.LogLevel)
	}
	if !slices.Contains(LogFormats, c.LogFormat) {
		return fmt.Errorf("--log-format must be one of %s, got %q", strings.Join(LogFormats, ", "), c.LogFormat)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("--timeout must not be negative, got %s", c.Timeout)
	}
	if c.Images.MaxWidth < 0 {
		return fmt.Errorf("--max-width must not be negative, got %d", c.Images.MaxWidth)
	}
	if c.Images.JPEGQuality < minJPEGQuality || c.Images.JPEGQuality > 100 {
		return fmt.Errorf("--quality must be between %d and 100, got %d", minJPEGQuality, c.Images.JPEGQuality)
	}
	if !slices.Contains(ImageFormats, c.Images.Format) {
		return fmt.Errorf("--format must be one of %s, got %q", strings.Join(ImageFormats, ", "), c.Images.Format)
	}
	if c.Images.MaxPixels < 0 {
		return fmt.Errorf("images.max_pixels must not be negative, got %d", c.Images.MaxPixels)
	}
	return nil
}
