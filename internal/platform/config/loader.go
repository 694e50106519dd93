package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const defaultConfigFile = ".config.yaml"

// Loader reads the gateway configuration from a yaml file with environment
// overrides layered on top of the built-in defaults.
type Loader struct {
	useDotEnv bool
	path      string
}

// NewLoader creates a loader reading from the default config file location.
func NewLoader() *Loader {
	return &Loader{
		useDotEnv: true,
		path:      defaultConfigFile,
	}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithPath overrides the configuration file location (useful for tests).
func (l *Loader) WithPath(path string) *Loader {
	if path != "" {
		l.path = path
	}
	return l
}

// Load builds the effective configuration: defaults, then yaml file (when
// present), then environment variables. A missing config file is not an
// error; missing remote endpoints are.
func (l *Loader) Load() (*Config, error) {
	if l.useDotEnv {
		if err := godotenv.Load(); err != nil {
			fmt.Println("no .env file found, using system environment")
		}
	}

	path := l.path
	if env := os.Getenv("MAITRI_CONFIG"); env != "" {
		path = env
	}

	cfg := DefaultConfig()
	if raw, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := l.validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrides := map[string]*string{
		"MAITRI_FACE_URL":     &cfg.Services.FaceURL,
		"MAITRI_VOICE_URL":    &cfg.Services.VoiceURL,
		"MAITRI_CHAT_URL":     &cfg.Services.ChatURL,
		"MAITRI_AUDIO_ORIGIN": &cfg.Services.AudioOrigin,
		"MAITRI_LOG_LEVEL":    &cfg.Log.Level,
		"MAITRI_LOG_DIR":      &cfg.Log.Dir,
		"MAITRI_STATIC_DIR":   &cfg.Server.StaticDir,
		"MAITRI_STORAGE_DSN":  &cfg.Storage.DSN,
	}
	for key, target := range overrides {
		if value := os.Getenv(key); value != "" {
			*target = value
		}
	}
}

func (l *Loader) validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	for name, value := range map[string]string{
		"face_url":     cfg.Services.FaceURL,
		"voice_url":    cfg.Services.VoiceURL,
		"chat_url":     cfg.Services.ChatURL,
		"audio_origin": cfg.Services.AudioOrigin,
	} {
		if value == "" {
			return fmt.Errorf("missing required service address: %s", name)
		}
	}
	if cfg.Services.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	if cfg.Playback.QueueSize <= 0 {
		return fmt.Errorf("playback queue_size must be positive")
	}
	return nil
}
