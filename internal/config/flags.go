package config

// FlagOverrides applies command-line values on top of a loaded config.
//
// Flags pass pointers; a nil pointer means the flag was not set, and a
// non-nil pointer is applied even if it holds a zero value.
type FlagOverrides struct {
	Broker      *string
	HTTPAddr    *string
	StorePath   *string
	DebounceMS  *int
	HeartbeatMS *int
	LEDPin      *int
	Discovery   *bool
	LogLevel    *string
	LogFormat   *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.Broker != nil {
		cfg.MQTT.Broker = *o.Broker
	}
	if o.HTTPAddr != nil {
		cfg.HTTP.Addr = *o.HTTPAddr
	}
	if o.StorePath != nil {
		cfg.Store.Path = *o.StorePath
	}
	if o.DebounceMS != nil {
		cfg.Classifier.DebounceMS = *o.DebounceMS
	}
	if o.HeartbeatMS != nil {
		cfg.HeartbeatMS = *o.HeartbeatMS
	}
	if o.LEDPin != nil {
		cfg.GPIO.LEDPin = *o.LEDPin
	}
	if o.Discovery != nil {
		cfg.Discovery.Enabled = *o.Discovery
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.LogFormat != nil {
		cfg.Logging.Format = *o.LogFormat
	}
}
