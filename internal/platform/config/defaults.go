package config

import "time"

// DefaultConfig returns the configuration used when no file or environment
// overrides are present. The service addresses mirror the development
// deployment: face analysis on :9000, voice analysis on :5001, dialogue core
// on :8000 and the TTS audio origin on :5000.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			IP:            "0.0.0.0",
			Port:          8090,
			StaticDir:     "./web",
			WebSocketPath: "/ws",
		},
		Log: LogConfig{
			Level: "INFO",
			Dir:   "data/logs",
			File:  "gateway.log",
		},
		Services: ServicesConfig{
			FaceURL:        "http://127.0.0.1:9000",
			VoiceURL:       "http://127.0.0.1:5001",
			ChatURL:        "http://127.0.0.1:8000",
			AudioOrigin:    "http://127.0.0.1:5000",
			RequestTimeout: Duration(30 * time.Second),
			HealthTimeout:  Duration(5 * time.Second),
		},
		Media: MediaConfig{
			MaxFrameBytes:     5 << 20,
			MaxFrameWidth:     4096,
			MaxFrameHeight:    4096,
			AllowedFormats:    []string{"jpeg", "jpg", "png", "webp"},
			MaxRecordingBytes: 20 << 20,
			BridgeAckTimeout:  Duration(10 * time.Second),
		},
		Playback: PlaybackConfig{
			CacheDir:     "data/audio_cache",
			FetchTimeout: Duration(30 * time.Second),
			AckGrace:     Duration(5 * time.Second),
			QueueSize:    16,
		},
		Storage: StorageConfig{
			Enabled: true,
			DSN:     "data/transcripts.db",
		},
		Observability: ObservabilityConfig{
			Enabled: false,
		},
	}
}
