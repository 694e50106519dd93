package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so yaml values like "30s" parse naturally.
// Bare integers are treated as seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var text string
	if err := value.Decode(&text); err == nil {
		parsed, err := time.ParseDuration(text)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", text, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var seconds int64
	if err := value.Decode(&seconds); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}
	return fmt.Errorf("invalid duration value")
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Log           LogConfig           `yaml:"log"`
	Services      ServicesConfig      `yaml:"services"`
	Media         MediaConfig         `yaml:"media"`
	Playback      PlaybackConfig      `yaml:"playback"`
	Storage       StorageConfig       `yaml:"storage"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServerConfig struct {
	IP            string `yaml:"ip"`
	Port          int    `yaml:"port"`
	StaticDir     string `yaml:"static_dir"`
	WebSocketPath string `yaml:"websocket_path"`
}

type LogConfig struct {
	Level string `yaml:"log_level"`
	Dir   string `yaml:"log_dir"`
	File  string `yaml:"log_file"`
}

// ServicesConfig holds the base addresses of the three remote collaborators.
// Face, voice and dialogue backends may run on different hosts and ports, so
// each is configured independently.
type ServicesConfig struct {
	FaceURL        string   `yaml:"face_url"`
	VoiceURL       string   `yaml:"voice_url"`
	ChatURL        string   `yaml:"chat_url"`
	AudioOrigin    string   `yaml:"audio_origin"`
	RequestTimeout Duration `yaml:"request_timeout"`
	HealthTimeout  Duration `yaml:"health_timeout"`
}

// MediaConfig bounds captured artifacts and the device bridge round-trips.
type MediaConfig struct {
	MaxFrameBytes     int64    `yaml:"max_frame_bytes"`
	MaxFrameWidth     int      `yaml:"max_frame_width"`
	MaxFrameHeight    int      `yaml:"max_frame_height"`
	AllowedFormats    []string `yaml:"allowed_formats"`
	MaxRecordingBytes int64    `yaml:"max_recording_bytes"`
	BridgeAckTimeout  Duration `yaml:"bridge_ack_timeout"`
}

type PlaybackConfig struct {
	CacheDir     string   `yaml:"cache_dir"`
	FetchTimeout Duration `yaml:"fetch_timeout"`
	AckGrace     Duration `yaml:"ack_grace"`
	QueueSize    int      `yaml:"queue_size"`
}

type StorageConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

type ObservabilityConfig struct {
	Enabled bool `yaml:"enabled"`
}
