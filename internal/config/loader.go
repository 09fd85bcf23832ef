package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the daemon.
// Zero values mean "unspecified" and are replaced by WithDefaults or flags.
type Config struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"`

	// FramesDir, when set, is replayed as the camera stream.
	FramesDir       string `json:"frames_dir" yaml:"frames_dir" toml:"frames_dir"`
	FrameIntervalMs int    `json:"frame_interval_ms" yaml:"frame_interval_ms" toml:"frame_interval_ms"`

	EncoderSize      int `json:"encoder_size" yaml:"encoder_size" toml:"encoder_size"`
	StageTimeoutMs   int `json:"stage_timeout_ms" yaml:"stage_timeout_ms" toml:"stage_timeout_ms"`
	SegmentTimeoutMs int `json:"segment_timeout_ms" yaml:"segment_timeout_ms" toml:"segment_timeout_ms"`

	MaxBodyBytes  int64 `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	MaxFrameBytes int64 `json:"max_frame_bytes" yaml:"max_frame_bytes" toml:"max_frame_bytes"`

	// MaxFramePixels bounds decoded frame dimensions (width*height).
	MaxFramePixels int64 `json:"max_frame_pixels" yaml:"max_frame_pixels" toml:"max_frame_pixels"`

	LogLevel     string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat    string `json:"log_format" yaml:"log_format" toml:"log_format"`
	HTTPLogLevel string `json:"http_log_level" yaml:"http_log_level" toml:"http_log_level"`

	CORSEnabled        bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSAllowedOrigins []string `json:"cors_allowed_origins" yaml:"cors_allowed_origins" toml:"cors_allowed_origins"`
	CORSAllowedMethods []string `json:"cors_allowed_methods" yaml:"cors_allowed_methods" toml:"cors_allowed_methods"`
	CORSAllowedHeaders []string `json:"cors_allowed_headers" yaml:"cors_allowed_headers" toml:"cors_allowed_headers"`

	// RemoteURL selects an external model server instead of the built-in
	// reference model.
	RemoteURL       string `json:"remote_url" yaml:"remote_url" toml:"remote_url"`
	RemoteAPIKey    string `json:"remote_api_key" yaml:"remote_api_key" toml:"remote_api_key"`
	RemoteTimeoutMs int    `json:"remote_timeout_ms" yaml:"remote_timeout_ms" toml:"remote_timeout_ms"`

	// AutoSegmentMs and AutoPoints drive periodic segmentation ("x,y[,fg|bg]").
	AutoSegmentMs int      `json:"auto_segment_ms" yaml:"auto_segment_ms" toml:"auto_segment_ms"`
	AutoPoints    []string `json:"auto_points" yaml:"auto_points" toml:"auto_points"`

	ExportDir string `json:"export_dir" yaml:"export_dir" toml:"export_dir"`
	History   int    `json:"history" yaml:"history" toml:"history"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Addr:            ":8080",
		FrameIntervalMs: 100,
		EncoderSize:     1024,
		StageTimeoutMs:  0,
		MaxBodyBytes:    1 << 20,
		MaxFrameBytes:   32 << 20,
		MaxFramePixels:  4096 * 4096,
		LogLevel:        "info",
		LogFormat:       "console",
		HTTPLogLevel:    "info",
		RemoteTimeoutMs: 10000,
		ExportDir:       "Segmentations",
		History:         16,
	}
}

// WithDefaults fills every unspecified field from Defaults.
func (c Config) WithDefaults() Config {
	d := Defaults()
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.FrameIntervalMs <= 0 {
		c.FrameIntervalMs = d.FrameIntervalMs
	}
	if c.EncoderSize <= 0 {
		c.EncoderSize = d.EncoderSize
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = d.MaxBodyBytes
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = d.MaxFrameBytes
	}
	if c.MaxFramePixels <= 0 {
		c.MaxFramePixels = d.MaxFramePixels
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = d.LogFormat
	}
	if c.HTTPLogLevel == "" {
		c.HTTPLogLevel = d.HTTPLogLevel
	}
	if c.RemoteTimeoutMs <= 0 {
		c.RemoteTimeoutMs = d.RemoteTimeoutMs
	}
	if c.ExportDir == "" {
		c.ExportDir = d.ExportDir
	}
	if c.History <= 0 {
		c.History = d.History
	}
	return c
}

// ExpandPaths expands a leading '~' in the path-valued fields.
func (c Config) ExpandPaths() (Config, error) {
	var err error
	if c.FramesDir, err = ExpandHome(c.FramesDir); err != nil {
		return c, err
	}
	if c.ExportDir, err = ExpandHome(c.ExportDir); err != nil {
		return c, err
	}
	return c, nil
}

// ExpandHome expands a leading '~' to the user's home directory.
func ExpandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}
