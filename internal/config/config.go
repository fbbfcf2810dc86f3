// Package config handles go-eventsocket configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// searchPathsFunc is overridden in tests so DefaultSearchPaths'
// home-directory entry doesn't depend on the test environment.
var searchPathsFunc = defaultSearchPaths

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/go-eventsocket/config.yaml,
// /config/config.yaml (container convention), /etc/go-eventsocket/config.yaml.
func DefaultSearchPaths() []string {
	return searchPathsFunc()
}

func defaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "go-eventsocket", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // Container convention
	paths = append(paths, "/etc/go-eventsocket/config.yaml")
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

// Config holds all go-eventsocket configuration.
type Config struct {
	ESL       ESLConfig       `yaml:"esl"`
	LogLevel  string          `yaml:"log_level"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Journal   JournalConfig   `yaml:"journal"`
}

// ESLConfig defines the Event Socket connection the engine dials.
type ESLConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Password        string `yaml:"password"`
	MaxRetries      int    `yaml:"max_retries"`       // 0 means use the spec default (10)
	RetryIntervalMs int    `yaml:"retry_interval_ms"` // 0 means use the spec default (1000)
}

// MQTTConfig defines the optional event-to-MQTT bridge.
type MQTTConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Broker          string `yaml:"broker"`
	DeviceName      string `yaml:"device_name"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	TopicPrefix     string `yaml:"topic_prefix"`
}

// WebSocketConfig defines the optional dashboard relay server.
type WebSocketConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// JournalConfig defines the optional durable SQLite record of jobs and events.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates
// the result. After Load returns successfully, all fields are usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${ESL_PASSWORD}). This is a
	// convenience for container deployments; the recommended approach
	// is to put values directly in the config file.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load. After this, callers can read any field
// without checking for empty strings or zero values.
func (c *Config) applyDefaults() {
	if c.ESL.Host == "" {
		c.ESL.Host = "127.0.0.1"
	}
	if c.ESL.Port == 0 {
		c.ESL.Port = 8021
	}
	if c.ESL.Password == "" {
		c.ESL.Password = "ClueCon"
	}
	if c.ESL.MaxRetries == 0 {
		c.ESL.MaxRetries = 10
	}
	if c.ESL.RetryIntervalMs == 0 {
		c.ESL.RetryIntervalMs = 1000
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = "go-eventsocket"
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "eventsocket"
	}
	if c.WebSocket.Port == 0 {
		c.WebSocket.Port = 8022
	}
	if c.Journal.Path == "" {
		c.Journal.Path = "./eventsocket.db"
	}
}

// Validate checks that the configuration is internally consistent.
// It runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if c.ESL.Port < 1 || c.ESL.Port > 65535 {
		return fmt.Errorf("esl.port %d out of range (1-65535)", c.ESL.Port)
	}
	if c.ESL.MaxRetries < 0 {
		return fmt.Errorf("esl.max_retries %d must not be negative", c.ESL.MaxRetries)
	}
	if c.ESL.RetryIntervalMs < 0 {
		return fmt.Errorf("esl.retry_interval_ms %d must not be negative", c.ESL.RetryIntervalMs)
	}
	if c.WebSocket.Enabled && (c.WebSocket.Port < 1 || c.WebSocket.Port > 65535) {
		return fmt.Errorf("websocket.port %d out of range (1-65535)", c.WebSocket.Port)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt.enabled is true")
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		return fmt.Errorf("journal.path is required when journal.enabled is true")
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a default configuration suitable for connecting to a
// FreeSWITCH instance on localhost with its stock event socket password.
// All defaults are already applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
