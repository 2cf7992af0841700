// Package config holds the values the dialogue client consumes: the server
// endpoint, voice-activity-detection tuning, the capture format and the
// reconnect budget. Values come from an optional YAML file with environment
// and built-in fallbacks; command-line flags override on top in main.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the complete client configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	VAD     VADConfig     `yaml:"vad"`
	Capture CaptureConfig `yaml:"capture"`
	Reply   ReplyConfig   `yaml:"reply"`
}

// ServerConfig describes the chat endpoint and reconnect policy.
type ServerConfig struct {
	URL        string `yaml:"url"`
	MaxRetries int    `yaml:"max_retries"`
}

// VADConfig tunes the energy-based voice activity detector.
type VADConfig struct {
	SilenceThresholdMs int     `yaml:"silence_threshold_ms"`
	MinSpeechTimeMs    int     `yaml:"min_speech_time_ms"`
	EnergyThreshold    float64 `yaml:"energy_threshold"`
	EnergySmoothing    float64 `yaml:"energy_smoothing"`
	AutoStop           bool    `yaml:"auto_stop"`
}

// CaptureConfig describes the microphone format and turn encoding.
type CaptureConfig struct {
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	Encoding   string `yaml:"encoding"` // "wav" or "flac"
	FrameSize  int    `yaml:"frame_size"`
}

// ReplyConfig describes the assistant audio the server sends back.
type ReplyConfig struct {
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			URL:        "ws://localhost:8000/ws/audio",
			MaxRetries: 3,
		},
		VAD: VADConfig{
			SilenceThresholdMs: 1500,
			MinSpeechTimeMs:    300,
			EnergyThreshold:    0.02,
			EnergySmoothing:    0.8,
			AutoStop:           false,
		},
		Capture: CaptureConfig{
			SampleRate: 16000,
			Channels:   1,
			Encoding:   "wav",
			FrameSize:  4096,
		},
		Reply: ReplyConfig{
			SampleRate: 24000,
			Channels:   1,
		},
	}
}

// Load reads the configuration file at path on top of the defaults.
// A CHATBOT_URL environment variable overrides the server URL.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if url := os.Getenv("CHATBOT_URL"); url != "" {
		cfg.Server.URL = url
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate performs range checks on all sections.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}
	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}
	if err := c.Reply.Validate(); err != nil {
		return fmt.Errorf("reply config: %w", err)
	}
	return nil
}

func (s *ServerConfig) Validate() error {
	if s.URL == "" {
		return fmt.Errorf("url cannot be empty")
	}
	if s.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", s.MaxRetries)
	}
	return nil
}

func (v *VADConfig) Validate() error {
	if v.SilenceThresholdMs <= 0 {
		return fmt.Errorf("silence_threshold_ms must be positive, got %d", v.SilenceThresholdMs)
	}
	if v.MinSpeechTimeMs < 0 {
		return fmt.Errorf("min_speech_time_ms cannot be negative, got %d", v.MinSpeechTimeMs)
	}
	if v.EnergyThreshold < 0 || v.EnergyThreshold > 1 {
		return fmt.Errorf("energy_threshold must be between 0 and 1, got %f", v.EnergyThreshold)
	}
	if v.EnergySmoothing < 0 || v.EnergySmoothing > 1 {
		return fmt.Errorf("energy_smoothing must be between 0 and 1, got %f", v.EnergySmoothing)
	}
	return nil
}

func (cc *CaptureConfig) Validate() error {
	if cc.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", cc.SampleRate)
	}
	if cc.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", cc.Channels)
	}
	switch cc.Encoding {
	case "wav", "flac":
	default:
		return fmt.Errorf("encoding must be \"wav\" or \"flac\", got %q", cc.Encoding)
	}
	if cc.FrameSize <= 0 {
		return fmt.Errorf("frame_size must be positive, got %d", cc.FrameSize)
	}
	return nil
}

func (r *ReplyConfig) Validate() error {
	if r.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", r.SampleRate)
	}
	if r.Channels < 1 || r.Channels > 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", r.Channels)
	}
	return nil
}
