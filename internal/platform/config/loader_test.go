package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoader_Load(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, ".config.yaml")

	configContent := `
server:
  ip: "127.0.0.1"
  port: 8091
log:
  log_level: "DEBUG"
services:
  face_url: "http://10.0.0.2:9000"
  chat_url: "http://10.0.0.3:8000"
`

	err := os.WriteFile(configFile, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	loader := NewLoader().WithDotEnv(false).WithPath(configFile)
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.IP != "127.0.0.1" {
		t.Errorf("expected server IP 127.0.0.1, got %s", cfg.Server.IP)
	}
	if cfg.Server.Port != 8091 {
		t.Errorf("expected server port 8091, got %d", cfg.Server.Port)
	}
	if cfg.Log.Level != "DEBUG" {
		t.Errorf("expected log level DEBUG, got %s", cfg.Log.Level)
	}
	if cfg.Services.FaceURL != "http://10.0.0.2:9000" {
		t.Errorf("face_url override lost, got %s", cfg.Services.FaceURL)
	}
	// untouched fields keep defaults
	if cfg.Services.VoiceURL != "http://127.0.0.1:5001" {
		t.Errorf("expected default voice_url, got %s", cfg.Services.VoiceURL)
	}
	if cfg.Services.RequestTimeout.Std() != 30*time.Second {
		t.Errorf("expected default request timeout, got %s", cfg.Services.RequestTimeout)
	}
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	loader := NewLoader().WithDotEnv(false).WithPath(filepath.Join(t.TempDir(), "absent.yaml"))
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("load with missing file should fall back to defaults: %v", err)
	}
	if cfg.Services.ChatURL != "http://127.0.0.1:8000" {
		t.Errorf("expected default chat_url, got %s", cfg.Services.ChatURL)
	}
}

func TestLoader_EnvOverride(t *testing.T) {
	t.Setenv("MAITRI_CHAT_URL", "http://chat.internal:8000")

	loader := NewLoader().WithDotEnv(false).WithPath(filepath.Join(t.TempDir(), "absent.yaml"))
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Services.ChatURL != "http://chat.internal:8000" {
		t.Errorf("env override not applied, got %s", cfg.Services.ChatURL)
	}
}

func TestLoader_Validate(t *testing.T) {
	loader := NewLoader()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "invalid server port",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "missing face url",
			mutate:  func(c *Config) { c.Services.FaceURL = "" },
			wantErr: true,
		},
		{
			name:    "zero request timeout",
			mutate:  func(c *Config) { c.Services.RequestTimeout = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := loader.validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
