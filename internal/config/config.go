// Package config loads bridge configuration from defaults, a YAML file, the
// environment (optionally seeded from a .env file) and command-line flags,
// in that order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the complete bridge configuration.
type Config struct {
	MQTT        MQTTConfig       `yaml:"mqtt"`
	Devices     []DeviceConfig   `yaml:"devices"`
	Discovery   DiscoveryConfig  `yaml:"discovery"`
	Classifier  ClassifierConfig `yaml:"classifier"`
	HTTP        HTTPConfig       `yaml:"http"`
	Store       StoreConfig      `yaml:"store"`
	GPIO        GPIOConfig       `yaml:"gpio"`
	HeartbeatMS int              `yaml:"heartbeat_ms"`
	Logging     LoggingConfig    `yaml:"logging"`
}

// MQTTConfig configures the broker connection and topic layout.
type MQTTConfig struct {
	Broker          string `yaml:"broker"`
	ClientID        string `yaml:"client_id"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	BaseTopic       string `yaml:"base_topic"`
	EventPrefix     string `yaml:"event_prefix"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	BufferSize      int    `yaml:"buffer_size"`
}

// DeviceConfig statically provisions one controller.
type DeviceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DiscoveryConfig controls automatic provisioning from bridge/devices.
type DiscoveryConfig struct {
	Enabled bool `yaml:"enabled"`
	// HomeAssistant publishes device trigger configs for each provisioned device.
	HomeAssistant bool `yaml:"home_assistant"`
}

// ClassifierConfig tunes event classification.
type ClassifierConfig struct {
	DebounceMS int `yaml:"debounce_ms"`
}

// HTTPConfig configures the status server. An empty Addr disables it.
type HTTPConfig struct {
	Addr        string   `yaml:"addr"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// StoreConfig configures the device registry. An empty Path disables it.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// GPIOConfig configures the activity LED. A negative LEDPin disables it.
type GPIOConfig struct {
	Chip    string `yaml:"chip"`
	LEDPin  int    `yaml:"led_pin"`
	PulseMS int    `yaml:"pulse_ms"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		MQTT: MQTTConfig{
			Broker:          "tcp://localhost:1883",
			BaseTopic:       "zigbee2mqtt",
			EventPrefix:     "tapdial",
			DiscoveryPrefix: "homeassistant",
			BufferSize:      100,
		},
		Discovery: DiscoveryConfig{
			Enabled:       true,
			HomeAssistant: true,
		},
		Classifier: ClassifierConfig{
			DebounceMS: 100,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Store: StoreConfig{
			Path: "tapdial.db",
		},
		GPIO: GPIOConfig{
			Chip:    "gpiochip0",
			LEDPin:  -1,
			PulseMS: 150,
		},
		HeartbeatMS: int((15 * time.Minute).Milliseconds()),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Debounce returns the classifier debounce window.
func (c Config) Debounce() time.Duration {
	return time.Duration(c.Classifier.DebounceMS) * time.Millisecond
}

// Heartbeat returns the heartbeat interval. Zero disables heartbeats.
func (c Config) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatMS) * time.Millisecond
}

// Pulse returns the LED pulse length.
func (c Config) Pulse() time.Duration {
	return time.Duration(c.GPIO.PulseMS) * time.Millisecond
}

// ExpandPath expands a leading "~/" to the user's home directory.
func ExpandPath(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}

// LoadConfigFile reads and parses a YAML config file on top of the defaults.
// Unknown fields are rejected.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML on top of the defaults.
func Parse(b []byte) (Config, error) {
	cfg := DefaultConfig()
	if len(bytes.TrimSpace(b)) == 0 {
		return cfg, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}
	// Only whitespace and comments may follow the document.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return Config{}, errors.New("decode config yaml: unexpected trailing document")
	}
	return cfg, nil
}

// LoadDotEnv loads variables from a .env file into the process environment
// without overriding ones already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(ExpandPath(path)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Validate checks config invariants and returns a user-friendly error.
func (c *Config) Validate() error {
	if c.MQTT.Broker == "" {
		return errors.New("mqtt.broker must not be empty")
	}
	if c.MQTT.BaseTopic == "" || strings.ContainsAny(c.MQTT.BaseTopic, "+#") {
		return fmt.Errorf("mqtt.base_topic %q is invalid", c.MQTT.BaseTopic)
	}
	if c.MQTT.EventPrefix == "" || strings.ContainsAny(c.MQTT.EventPrefix, "+#") {
		return fmt.Errorf("mqtt.event_prefix %q is invalid", c.MQTT.EventPrefix)
	}
	if c.MQTT.DiscoveryPrefix == "" {
		return errors.New("mqtt.discovery_prefix must not be empty")
	}
	if c.MQTT.BufferSize <= 0 {
		return errors.New("mqtt.buffer_size must be > 0")
	}
	if c.Classifier.DebounceMS < 0 {
		return errors.New("classifier.debounce_ms must be >= 0")
	}
	if c.HeartbeatMS < 0 {
		return errors.New("heartbeat_ms must be >= 0")
	}

	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		if d.ID == "" {
			return fmt.Errorf("devices[%d].id is empty", i)
		}
		if strings.ContainsAny(d.ID, "+#") {
			return fmt.Errorf("devices[%d].id %q must not contain MQTT wildcards", i, d.ID)
		}
		if seen[d.ID] {
			return fmt.Errorf("devices[%d].id %q is duplicated", i, d.ID)
		}
		seen[d.ID] = true
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text", "console":
	default:
		return fmt.Errorf("logging.format %q must be json or text", c.Logging.Format)
	}
	return nil
}
