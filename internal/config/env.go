package config

import (
	"strconv"
	"strings"
)

// Environment variables that override file values.
const (
	EnvBroker      = "TAPDIAL_BROKER"
	EnvUsername    = "TAPDIAL_MQTT_USERNAME"
	EnvPassword    = "TAPDIAL_MQTT_PASSWORD"
	EnvHTTP        = "TAPDIAL_HTTP"
	EnvLogLevel    = "TAPDIAL_LOG_LEVEL"
	EnvStore       = "TAPDIAL_STORE"
	EnvDiscovery   = "TAPDIAL_DISCOVERY"
	EnvLEDPin      = "TAPDIAL_LED_PIN"
	EnvCORSOrigins = "TAPDIAL_CORS_ORIGINS"
)

// ApplyEnv overrides cfg with any variables set in the environment. Values
// that fail to parse are ignored.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv(EnvBroker); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := getenv(EnvUsername); v != "" {
		cfg.MQTT.Username = v
	}
	if v := getenv(EnvPassword); v != "" {
		cfg.MQTT.Password = v
	}
	if v, ok := lookup(getenv, EnvHTTP); ok {
		cfg.HTTP.Addr = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v, ok := lookup(getenv, EnvStore); ok {
		cfg.Store.Path = v
	}
	if v := getenv(EnvDiscovery); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Discovery.Enabled = b
		}
	}
	if v := getenv(EnvLEDPin); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.GPIO.LEDPin = n
		}
	}
	if v := getenv(EnvCORSOrigins); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.HTTP.CORSOrigins = origins
	}
}

// lookup treats the literal "off" as an explicit empty value, so an
// environment can disable a feature that defaults on.
func lookup(getenv func(string) string, key string) (string, bool) {
	v := getenv(key)
	switch v {
	case "":
		return "", false
	case "off":
		return "", true
	}
	return v, true
}
