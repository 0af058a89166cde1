package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	AppName        = "singstream"
	AppTagline     = "Streaming song player"
	AppDescription = "Fetches a song from the sing server and plays it while it downloads"
	AppProjectURL  = "https://github.com/glebovdev/singstream"

	ConfigDir      = ".config/singstream"
	ConfigFileName = "config.yml"

	// HostEnv overrides the configured base host.
	HostEnv = "SINGSTREAM_HOST"

	DefaultBaseHost         = "http://8.134.249.85:18080"
	DefaultUserAgent        = "ESP32-Sing-Player/1.0"
	DefaultOpenTimeoutMs    = 10000
	DefaultReadTimeoutMs    = 5000
	DefaultMaxBufferKB      = 128
	DefaultMinBufferKB      = 16
	DefaultReadSize         = 4096
	DefaultJoinTimeoutMs    = 1000
	DefaultOpenRetryDelayMs = 500
	DefaultCloseGraceMs     = 100
	DefaultFrameDurationMs  = 60
	DefaultOutputSampleRate = 24000
	DefaultSpeakerBufferMs  = 250

	DisplaySpectrum = "spectrum"
	DisplayStatic   = "static"
)

// AppVersion can be overridden at build time using ldflags:
// go build -ldflags "-X github.com/glebovdev/singstream/internal/config.AppVersion=1.0.0"
var AppVersion = "dev"

type Config struct {
	BaseHost         string            `yaml:"base_host"`
	UserAgent        string            `yaml:"user_agent"`
	Headers          map[string]string `yaml:"headers,omitempty"`
	OpenTimeoutMs    int               `yaml:"open_timeout_ms"`
	ReadTimeoutMs    int               `yaml:"read_timeout_ms"`
	OpenRetryDelayMs int               `yaml:"open_retry_delay_ms"`
	CloseGraceMs     int               `yaml:"close_grace_ms"`
	JoinTimeoutMs    int               `yaml:"join_timeout_ms"`
	MaxBufferKB      int               `yaml:"max_buffer_kb"`
	MinBufferKB      int               `yaml:"min_buffer_kb"`
	ReadSize         int               `yaml:"read_size"`
	FrameDurationMs  int               `yaml:"frame_duration_ms"`
	OutputSampleRate int               `yaml:"output_sample_rate"`
	SpeakerBufferMs  int               `yaml:"speaker_buffer_ms"`
	DisplayMode      string            `yaml:"display_mode"`
	MetricsListen    string            `yaml:"metrics_listen,omitempty"`
	LastQuery        string            `yaml:"last_query,omitempty"`
}

func GetConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	configPath := filepath.Join(home, ConfigDir, ConfigFileName)
	return configPath, nil
}

func Load() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		cfg := DefaultConfig()
		cfg.applyEnv()
		return cfg, err
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnv()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return DefaultConfig(), fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()
	cfg.Validate()

	return cfg, nil
}

func (c *Config) applyEnv() {
	if host := strings.TrimSpace(os.Getenv(HostEnv)); host != "" {
		c.BaseHost = host
	}
}

// Validate replaces out-of-range values with defaults.
func (c *Config) Validate() {
	c.BaseHost = strings.TrimRight(strings.TrimSpace(c.BaseHost), "/")
	if c.BaseHost == "" {
		c.BaseHost = DefaultBaseHost
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}

	c.OpenTimeoutMs = positiveOr(c.OpenTimeoutMs, DefaultOpenTimeoutMs)
	c.ReadTimeoutMs = positiveOr(c.ReadTimeoutMs, DefaultReadTimeoutMs)
	c.OpenRetryDelayMs = positiveOr(c.OpenRetryDelayMs, DefaultOpenRetryDelayMs)
	c.JoinTimeoutMs = positiveOr(c.JoinTimeoutMs, DefaultJoinTimeoutMs)
	c.MaxBufferKB = positiveOr(c.MaxBufferKB, DefaultMaxBufferKB)
	c.MinBufferKB = positiveOr(c.MinBufferKB, DefaultMinBufferKB)
	c.ReadSize = positiveOr(c.ReadSize, DefaultReadSize)
	c.FrameDurationMs = positiveOr(c.FrameDurationMs, DefaultFrameDurationMs)
	c.OutputSampleRate = positiveOr(c.OutputSampleRate, DefaultOutputSampleRate)
	c.SpeakerBufferMs = positiveOr(c.SpeakerBufferMs, DefaultSpeakerBufferMs)
	if c.CloseGraceMs < 0 {
		c.CloseGraceMs = DefaultCloseGraceMs
	}

	if c.MinBufferKB > c.MaxBufferKB {
		c.MinBufferKB = c.MaxBufferKB
	}
	if c.ReadSize > c.MaxBufferKB*1024 {
		c.ReadSize = c.MaxBufferKB * 1024
	}

	switch c.DisplayMode {
	case DisplaySpectrum, DisplayStatic:
	default:
		c.DisplayMode = DisplaySpectrum
	}
}

func positiveOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// SaveLastQuery records query in the config file without writing back any
// environment or command-line overrides applied to the running config.
func SaveLastQuery(query string) error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	case !os.IsNotExist(err):
		return fmt.Errorf("failed to read config file: %w", err)
	}

	cfg.LastQuery = query
	return cfg.Save()
}

// Save writes the configuration to disk atomically using temp file + rename.
func (c *Config) Save() error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmpFile, err := os.CreateTemp(configDir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, configPath); err != nil {
		return fmt.Errorf("failed to rename config file: %w", err)
	}

	tmpPath = "" // Prevent defer from removing the final file
	return nil
}

func DefaultConfig() *Config {
	return &Config{
		BaseHost:         DefaultBaseHost,
		UserAgent:        DefaultUserAgent,
		Headers:          map[string]string{},
		OpenTimeoutMs:    DefaultOpenTimeoutMs,
		ReadTimeoutMs:    DefaultReadTimeoutMs,
		OpenRetryDelayMs: DefaultOpenRetryDelayMs,
		CloseGraceMs:     DefaultCloseGraceMs,
		JoinTimeoutMs:    DefaultJoinTimeoutMs,
		MaxBufferKB:      DefaultMaxBufferKB,
		MinBufferKB:      DefaultMinBufferKB,
		ReadSize:         DefaultReadSize,
		FrameDurationMs:  DefaultFrameDurationMs,
		OutputSampleRate: DefaultOutputSampleRate,
		SpeakerBufferMs:  DefaultSpeakerBufferMs,
		DisplayMode:      DisplaySpectrum,
	}
}

func (c *Config) OpenTimeout() time.Duration {
	return time.Duration(c.OpenTimeoutMs) * time.Millisecond
}

// ReadTimeout bounds a stall once the stream has started.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutMs) * time.Millisecond
}

func (c *Config) OpenRetryDelay() time.Duration {
	return time.Duration(c.OpenRetryDelayMs) * time.Millisecond
}

func (c *Config) CloseGrace() time.Duration {
	return time.Duration(c.CloseGraceMs) * time.Millisecond
}

func (c *Config) JoinTimeout() time.Duration {
	return time.Duration(c.JoinTimeoutMs) * time.Millisecond
}

func (c *Config) FrameDuration() time.Duration {
	return time.Duration(c.FrameDurationMs) * time.Millisecond
}

func (c *Config) SpeakerBuffer() time.Duration {
	return time.Duration(c.SpeakerBufferMs) * time.Millisecond
}

func (c *Config) MaxBufferBytes() int {
	return c.MaxBufferKB * 1024
}

func (c *Config) MinBufferBytes() int {
	return c.MinBufferKB * 1024
}
