package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.BaseHost != DefaultBaseHost {
		t.Errorf("DefaultConfig().BaseHost = %q, want %q", cfg.BaseHost, DefaultBaseHost)
	}

	if cfg.MaxBufferBytes() != 128*1024 {
		t.Errorf("DefaultConfig().MaxBufferBytes() = %d, want %d", cfg.MaxBufferBytes(), 128*1024)
	}

	if cfg.MinBufferBytes() != 16*1024 {
		t.Errorf("DefaultConfig().MinBufferBytes() = %d, want %d", cfg.MinBufferBytes(), 16*1024)
	}

	if cfg.ReadTimeout() != 5*time.Second {
		t.Errorf("DefaultConfig().ReadTimeout() = %v, want 5s", cfg.ReadTimeout())
	}
	if cfg.OpenTimeout() != 10*time.Second {
		t.Errorf("DefaultConfig().OpenTimeout() = %v, want 10s", cfg.OpenTimeout())
	}

	if cfg.JoinTimeout() != time.Second {
		t.Errorf("DefaultConfig().JoinTimeout() = %v, want 1s", cfg.JoinTimeout())
	}

	if cfg.DisplayMode != DisplaySpectrum {
		t.Errorf("DefaultConfig().DisplayMode = %q, want %q", cfg.DisplayMode, DisplaySpectrum)
	}
}

func TestConfigSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv(HostEnv, "")

	testCfg := DefaultConfig()
	testCfg.BaseHost = "http://localhost:9000"
	testCfg.LastQuery = "Adele+Hello"
	testCfg.Headers = map[string]string{"X-Chip-ID": "abc"}

	err := testCfg.Save()
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	configPath := filepath.Join(tmpDir, ConfigDir, ConfigFileName)
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Fatalf("Config file was not created at %s", configPath)
	}

	loadedCfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if loadedCfg.BaseHost != testCfg.BaseHost {
		t.Errorf("Load().BaseHost = %q, want %q", loadedCfg.BaseHost, testCfg.BaseHost)
	}

	if loadedCfg.LastQuery != testCfg.LastQuery {
		t.Errorf("Load().LastQuery = %q, want %q", loadedCfg.LastQuery, testCfg.LastQuery)
	}

	if loadedCfg.Headers["X-Chip-ID"] != "abc" {
		t.Errorf("Load().Headers = %v, want X-Chip-ID=abc", loadedCfg.Headers)
	}
}

func TestLoadNonExistentConfig(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv(HostEnv, "")

	cfg, err := Load()
	if err != nil {
		t.Logf("Load() error (expected): %v", err)
	}

	if cfg.BaseHost != DefaultBaseHost {
		t.Errorf("Load() with non-existent file returned BaseHost = %q, want %q", cfg.BaseHost, DefaultBaseHost)
	}
}

func TestHostEnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv(HostEnv, "http://override:1234")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BaseHost != "http://override:1234" {
		t.Errorf("Load().BaseHost = %q, want env override", cfg.BaseHost)
	}
}

func TestSaveLastQueryKeepsOverridesOut(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv(HostEnv, "")

	onDisk := DefaultConfig()
	onDisk.BaseHost = "http://saved:8080"
	if err := onDisk.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	t.Setenv(HostEnv, "http://override:1234")
	running, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	running.MetricsListen = ":9090"

	if err := SaveLastQuery("Adele+Hello"); err != nil {
		t.Fatalf("SaveLastQuery() error = %v", err)
	}

	t.Setenv(HostEnv, "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LastQuery != "Adele+Hello" {
		t.Errorf("LastQuery = %q, want %q", cfg.LastQuery, "Adele+Hello")
	}
	if cfg.BaseHost != "http://saved:8080" {
		t.Errorf("BaseHost = %q, env override should not be saved", cfg.BaseHost)
	}
	if cfg.MetricsListen != "" {
		t.Errorf("MetricsListen = %q, flag override should not be saved", cfg.MetricsListen)
	}
}

func TestSaveLastQueryWithoutFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv(HostEnv, "")

	if err := SaveLastQuery("42"); err != nil {
		t.Fatalf("SaveLastQuery() error = %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LastQuery != "42" || cfg.BaseHost != DefaultBaseHost {
		t.Errorf("Load() = %q/%q, want 42 with the default host", cfg.LastQuery, cfg.BaseHost)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	configPath := filepath.Join(tmpDir, ConfigDir, ConfigFileName)
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(configPath, []byte("base_host: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err == nil {
		t.Error("Load() expected error for invalid yaml")
	}
	if cfg == nil || cfg.BaseHost != DefaultBaseHost {
		t.Error("Load() should fall back to defaults on parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		mod   func(c *Config)
		check func(t *testing.T, c *Config)
	}{
		{
			name: "min buffer larger than max",
			mod:  func(c *Config) { c.MinBufferKB = 512; c.MaxBufferKB = 64 },
			check: func(t *testing.T, c *Config) {
				if c.MinBufferKB != 64 {
					t.Errorf("MinBufferKB = %d, want 64", c.MinBufferKB)
				}
			},
		},
		{
			name: "non-positive timeouts fall back",
			mod:  func(c *Config) { c.OpenTimeoutMs = 0; c.JoinTimeoutMs = -5 },
			check: func(t *testing.T, c *Config) {
				if c.OpenTimeoutMs != DefaultOpenTimeoutMs || c.JoinTimeoutMs != DefaultJoinTimeoutMs {
					t.Errorf("timeouts = %d/%d, want defaults", c.OpenTimeoutMs, c.JoinTimeoutMs)
				}
			},
		},
		{
			name: "unknown display mode",
			mod:  func(c *Config) { c.DisplayMode = "wave" },
			check: func(t *testing.T, c *Config) {
				if c.DisplayMode != DisplaySpectrum {
					t.Errorf("DisplayMode = %q, want %q", c.DisplayMode, DisplaySpectrum)
				}
			},
		},
		{
			name: "trailing slash trimmed",
			mod:  func(c *Config) { c.BaseHost = "http://host:1/ " },
			check: func(t *testing.T, c *Config) {
				if c.BaseHost != "http://host:1" {
					t.Errorf("BaseHost = %q, want %q", c.BaseHost, "http://host:1")
				}
			},
		},
		{
			name: "read size capped at buffer size",
			mod:  func(c *Config) { c.MaxBufferKB = 2; c.MinBufferKB = 1; c.ReadSize = 8192 },
			check: func(t *testing.T, c *Config) {
				if c.ReadSize != 2048 {
					t.Errorf("ReadSize = %d, want 2048", c.ReadSize)
				}
			},
		},
		{
			name: "zero close grace allowed",
			mod:  func(c *Config) { c.CloseGraceMs = 0 },
			check: func(t *testing.T, c *Config) {
				if c.CloseGrace() != 0 {
					t.Errorf("CloseGrace() = %v, want 0", c.CloseGrace())
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mod(cfg)
			cfg.Validate()
			tt.check(t, cfg)
		})
	}
}
