package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override secrets in the config file
const (
	EnvDeepgramAPIKey   = "DEEPGRAM_API_KEY"
	EnvOpenAIAPIKey     = "OPENAI_API_KEY"
	EnvElevenLabsAPIKey = "ELEVENLABS_API_KEY"
)

// Config represents the complete service configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Session       SessionConfig       `yaml:"session"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Synthesis     SynthesisConfig     `yaml:"synthesis"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig contains HTTP and WebSocket listener configuration
type ServerConfig struct {
	Address        string   `yaml:"address"`
	Port           int      `yaml:"port"`
	WSPath         string   `yaml:"ws_path"`
	MaxSessions    int      `yaml:"max_sessions"`
	ReadLimit      int64    `yaml:"read_limit"`      // bytes per inbound message
	WriteTimeout   int      `yaml:"write_timeout"`   // seconds
	AllowedOrigins []string `yaml:"allowed_origins"` // empty allows any origin
}

// SessionConfig contains per-connection session parameters
type SessionConfig struct {
	AggregationWindowMs int `yaml:"aggregation_window_ms"`
	MaxBufferBytes      int `yaml:"max_buffer_bytes"`
	MaxPendingBytes     int `yaml:"max_pending_bytes"`
	HeartbeatInterval   int `yaml:"heartbeat_interval"` // seconds
	IdleTimeout         int `yaml:"idle_timeout"`       // seconds
	FrameQueueSize      int `yaml:"frame_queue_size"`
}

// TranscriptionConfig contains the live speech-to-text provider configuration
type TranscriptionConfig struct {
	Provider       string `yaml:"provider"`
	Endpoint       string `yaml:"endpoint"`
	APIKey         string `yaml:"api_key"`
	Language       string `yaml:"language"`
	Model          string `yaml:"model"`
	Punctuate      bool   `yaml:"punctuate"`
	SmartFormat    bool   `yaml:"smart_format"`
	FillerWords    bool   `yaml:"filler_words"`
	InterimResults bool   `yaml:"interim_results"`
	Encoding       string `yaml:"encoding"` // empty lets the provider detect the container
	SampleRate     int    `yaml:"sample_rate"`
	Channels       int    `yaml:"channels"`
	DialTimeout    int    `yaml:"dial_timeout"` // seconds
}

// SynthesisConfig contains the text-to-speech provider configuration
type SynthesisConfig struct {
	Provider       string `yaml:"provider"`
	Endpoint       string `yaml:"endpoint"` // base URL override, empty uses the provider default
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	Voice          string `yaml:"voice"`
	LanguageCode   string `yaml:"language_code"`
	ResponseFormat string `yaml:"response_format"`
	SampleRate     int    `yaml:"sample_rate"`
	Timeout        int    `yaml:"timeout"` // seconds
	MaxRetries     int    `yaml:"max_retries"`
	MaxConcurrent  int    `yaml:"max_concurrent"`
}

// MetricsConfig toggles Prometheus instrumentation
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns a configuration populated with the service defaults
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      "0.0.0.0",
			Port:         3000,
			WSPath:       "/ws",
			MaxSessions:  100,
			ReadLimit:    1 << 20,
			WriteTimeout: 10,
		},
		Session: SessionConfig{
			AggregationWindowMs: 50,
			MaxBufferBytes:      1 << 20,
			MaxPendingBytes:     4 << 20,
			HeartbeatInterval:   10,
			IdleTimeout:         300,
			FrameQueueSize:      64,
		},
		Transcription: TranscriptionConfig{
			Provider:       "deepgram",
			Endpoint:       "wss://api.deepgram.com/v1/listen",
			Language:       "en",
			Model:          "nova-2",
			Punctuate:      true,
			SmartFormat:    false,
			FillerWords:    false,
			InterimResults: false,
			Encoding:       "linear16",
			SampleRate:     44100,
			Channels:       1,
			DialTimeout:    10,
		},
		Synthesis: SynthesisConfig{
			Provider:       "openai",
			Model:          "tts-1",
			Voice:          "onyx",
			LanguageCode:   "en-US",
			ResponseFormat: "wav",
			SampleRate:     24000,
			Timeout:        30,
			MaxRetries:     0,
			MaxConcurrent:  8,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file on top of the defaults,
// applies secrets from the environment and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// ApplyEnv fills API keys from the environment when they are set there
func (c *Config) ApplyEnv() {
	if key := os.Getenv(EnvDeepgramAPIKey); key != "" {
		c.Transcription.APIKey = key
	}

	switch c.Synthesis.Provider {
	case "openai":
		if key := os.Getenv(EnvOpenAIAPIKey); key != "" {
			c.Synthesis.APIKey = key
		}
	case "elevenlabs":
		if key := os.Getenv(EnvElevenLabsAPIKey); key != "" {
			c.Synthesis.APIKey = key
		}
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Synthesis.Validate(); err != nil {
		return fmt.Errorf("synthesis config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if s.WSPath == "" || s.WSPath[0] != '/' {
		return fmt.Errorf("ws_path must start with '/', got '%s'", s.WSPath)
	}

	if s.MaxSessions < 1 {
		return fmt.Errorf("max_sessions must be at least 1, got %d", s.MaxSessions)
	}

	if s.ReadLimit < 1024 {
		return fmt.Errorf("read_limit must be at least 1024 bytes, got %d", s.ReadLimit)
	}

	if s.WriteTimeout < 1 {
		return fmt.Errorf("write_timeout must be at least 1 second, got %d", s.WriteTimeout)
	}

	return nil
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if s.AggregationWindowMs < 1 {
		return fmt.Errorf("aggregation_window_ms must be positive, got %d", s.AggregationWindowMs)
	}

	if s.MaxBufferBytes < 1024 {
		return fmt.Errorf("max_buffer_bytes must be at least 1024, got %d", s.MaxBufferBytes)
	}

	if s.MaxPendingBytes < s.MaxBufferBytes {
		return fmt.Errorf("max_pending_bytes (%d) must be at least max_buffer_bytes (%d)",
			s.MaxPendingBytes, s.MaxBufferBytes)
	}

	if s.HeartbeatInterval < 1 {
		return fmt.Errorf("heartbeat_interval must be at least 1 second, got %d", s.HeartbeatInterval)
	}

	if s.IdleTimeout < 1 {
		return fmt.Errorf("idle_timeout must be at least 1 second, got %d", s.IdleTimeout)
	}

	if s.FrameQueueSize < 1 {
		return fmt.Errorf("frame_queue_size must be at least 1, got %d", s.FrameQueueSize)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.Provider != "deepgram" {
		return fmt.Errorf("provider must be 'deepgram', got '%s'", t.Provider)
	}

	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if t.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty (set %s)", EnvDeepgramAPIKey)
	}

	if t.Encoding != "" && t.SampleRate < 8000 {
		return fmt.Errorf("sample_rate must be at least 8000 when encoding is set, got %d", t.SampleRate)
	}

	if t.Channels < 1 {
		return fmt.Errorf("channels must be at least 1, got %d", t.Channels)
	}

	if t.DialTimeout < 1 {
		return fmt.Errorf("dial_timeout must be at least 1 second, got %d", t.DialTimeout)
	}

	return nil
}

// Validate validates synthesis configuration
func (s *SynthesisConfig) Validate() error {
	validProviders := map[string]bool{"openai": true, "elevenlabs": true, "google": true}
	if !validProviders[s.Provider] {
		return fmt.Errorf("provider must be one of [openai, elevenlabs, google], got '%s'", s.Provider)
	}

	// Google authenticates through application default credentials
	if s.Provider != "google" && s.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty for provider '%s'", s.Provider)
	}

	if s.Voice == "" {
		return fmt.Errorf("voice cannot be empty")
	}

	if s.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", s.Timeout)
	}

	if s.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", s.MaxRetries)
	}

	if s.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", s.MaxConcurrent)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetWriteTimeoutDuration returns the websocket write timeout as a time.Duration
func (s *ServerConfig) GetWriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// GetAggregationWindow returns the audio aggregation window as a time.Duration
func (s *SessionConfig) GetAggregationWindow() time.Duration {
	return time.Duration(s.AggregationWindowMs) * time.Millisecond
}

// GetHeartbeatInterval returns the keep-alive interval as a time.Duration
func (s *SessionConfig) GetHeartbeatInterval() time.Duration {
	return time.Duration(s.HeartbeatInterval) * time.Second
}

// GetIdleTimeout returns the idle session timeout as a time.Duration
func (s *SessionConfig) GetIdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeout) * time.Second
}

// GetDialTimeoutDuration returns the provider dial timeout as a time.Duration
func (t *TranscriptionConfig) GetDialTimeoutDuration() time.Duration {
	return time.Duration(t.DialTimeout) * time.Second
}

// GetTimeoutDuration returns the synthesis request timeout as a time.Duration
func (s *SynthesisConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}
