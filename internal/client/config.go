package client

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. VOICECLIENT_SERVER_URL
const EnvPrefix = "VOICECLIENT"

// Config holds the voice client settings
type Config struct {
	ServerURL  string        `mapstructure:"server_url"`
	Input      string        `mapstructure:"input"` // "mic" or a WAV file path
	SampleRate int           `mapstructure:"sample_rate"`
	FrameMs    int           `mapstructure:"frame_ms"`
	Realtime   bool          `mapstructure:"realtime"` // pace file input at capture speed
	Linger     time.Duration `mapstructure:"linger"`   // wait for clips after file input ends
	Mute       bool          `mapstructure:"mute"`
	OutputRate int           `mapstructure:"output_rate"`
	LogLevel   string        `mapstructure:"log_level"`
}

// SetDefaults registers the client defaults on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server_url", "ws://localhost:3000/ws")
	v.SetDefault("input", "mic")
	v.SetDefault("sample_rate", 44100)
	v.SetDefault("frame_ms", 500)
	v.SetDefault("realtime", true)
	v.SetDefault("linger", 5*time.Second)
	v.SetDefault("mute", false)
	v.SetDefault("output_rate", 44100)
	v.SetDefault("log_level", "info")
}

// LoadConfig resolves settings from v, which carries defaults, bound flags
// and VOICECLIENT_* environment variables
func LoadConfig(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode client settings: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the client settings
func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid server_url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("server_url must use ws or wss, got '%s'", c.ServerURL)
	}

	if c.Input == "" {
		return fmt.Errorf("input cannot be empty")
	}

	if c.SampleRate < 8000 {
		return fmt.Errorf("sample_rate must be at least 8000, got %d", c.SampleRate)
	}

	if c.FrameMs < 10 {
		return fmt.Errorf("frame_ms must be at least 10, got %d", c.FrameMs)
	}

	if c.OutputRate < 8000 {
		return fmt.Errorf("output_rate must be at least 8000, got %d", c.OutputRate)
	}

	return nil
}

// FrameDuration returns the capture frame length as a time.Duration
func (c *Config) FrameDuration() time.Duration {
	return time.Duration(c.FrameMs) * time.Millisecond
}

// UsesMicrophone reports whether audio comes from the capture device
func (c *Config) UsesMicrophone() bool {
	return c.Input == "mic"
}
