// Package config handles Verbalis configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/verbalis/config.yaml, /etc/verbalis/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "verbalis", "config.yaml"))
	}

	paths = append(paths, "/etc/verbalis/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Verbalis configuration.
type Config struct {
	Listen   ListenConfig   `yaml:"listen"`
	Session  SessionConfig  `yaml:"session"`
	Speech   SpeechConfig   `yaml:"speech"`
	Calendar CalendarConfig `yaml:"calendar"`
	Weather  WeatherConfig  `yaml:"weather"`
	News     NewsConfig     `yaml:"news"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	DataDir  string         `yaml:"data_dir"`
	LogLevel string         `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// SessionConfig defines conversational session behavior.
type SessionConfig struct {
	// MaxStartAttempts is how many times session start retries speech
	// sink verification before giving up.
	MaxStartAttempts int `yaml:"max_start_attempts"`
	// RetryDelaySec is the fixed delay between start attempts.
	RetryDelaySec int `yaml:"retry_delay_sec"`
	// InactivityTimeoutMin is the watchdog window: a session with no
	// activity for this long is stopped automatically.
	InactivityTimeoutMin int `yaml:"inactivity_timeout_min"`
}

// StartRetryDelay returns the configured inter-attempt delay.
func (s SessionConfig) StartRetryDelay() time.Duration {
	return time.Duration(s.RetryDelaySec) * time.Second
}

// InactivityTimeout returns the configured watchdog window.
func (s SessionConfig) InactivityTimeout() time.Duration {
	return time.Duration(s.InactivityTimeoutMin) * time.Minute
}

// SpeechConfig defines the speech synthesis provider.
type SpeechConfig struct {
	// APIKey is the ElevenLabs API key. When empty, spoken output is
	// logged instead of synthesized.
	APIKey string `yaml:"api_key"`
	// VoiceID selects the synthesis voice.
	VoiceID string `yaml:"voice_id"`
	// AgentID identifies the conversational agent. Optional; when set it
	// is validated during session start.
	AgentID string `yaml:"agent_id"`
	// BaseURL overrides the API endpoint (mainly for tests).
	BaseURL string `yaml:"base_url"`
}

// CalendarConfig defines the CalDAV calendar backend.
type CalendarConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// WeatherConfig defines the OpenWeatherMap lookup.
type WeatherConfig struct {
	// APIKey enables live weather data. An empty key switches the
	// weather command to a deterministic demo payload.
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// NewsConfig defines the NewsAPI headlines lookup.
type NewsConfig struct {
	// APIKey enables live headlines. An empty key switches the news
	// command to deterministic demo headlines.
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// MQTTConfig defines the optional broker for task-completion
// notifications. When Broker is empty the notifier is disabled.
type MQTTConfig struct {
	Broker   string `yaml:"broker"` // e.g. mqtt://broker.local:1883
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// TopicPrefix is prepended to all published topics (default "verbalis").
	TopicPrefix string `yaml:"topic_prefix"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		Session: SessionConfig{
			MaxStartAttempts:     3,
			RetryDelaySec:        5,
			InactivityTimeoutMin: 10,
		},
		DataDir: ".",
	}
}
