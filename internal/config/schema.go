package config

import (
	"time"
)

// Config is the root configuration structure
type Config struct {
	Version   int             `koanf:"version" yaml:"version"`
	Server    ServerConfig    `koanf:"server" yaml:"server"`
	Store     StoreConfig     `koanf:"store" yaml:"store"`
	Retention RetentionConfig `koanf:"retention" yaml:"retention"`
	Capture   CaptureConfig   `koanf:"capture" yaml:"capture"`
	Log       LogConfig       `koanf:"log" yaml:"log"`
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Addr string `koanf:"addr" yaml:"addr" validate:"required"`

	// RateLimit is requests per minute per client IP on /savegorilla; 0 disables
	RateLimit int `koanf:"rate_limit" yaml:"rate_limit" validate:"gte=0"`

	MaxBodyBytes    int64    `koanf:"max_body_bytes" yaml:"max_body_bytes" validate:"gt=0"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout" yaml:"shutdown_timeout"`

	// WatchConfig re-applies store settings when the config file changes
	WatchConfig bool `koanf:"watch_config" yaml:"watch_config"`
}

// StoreConfig selects and locates the backing store
type StoreConfig struct {
	Kind            string `koanf:"kind" yaml:"kind" validate:"required,store_kind"`
	OutputDirectory string `koanf:"output_directory" yaml:"output_directory" validate:"required"`
	DataDirectory   string `koanf:"data_directory" yaml:"data_directory" validate:"required"`
	TimeZone        string `koanf:"time_zone" yaml:"time_zone" validate:"omitempty,time_zone"`
}

// RetentionConfig holds pruning limits. Values <= 0 disable a limit.
type RetentionConfig struct {
	MaxRecordCount int      `koanf:"max_record_count" yaml:"max_record_count"`
	MaxKeepDays    int      `koanf:"max_keep_days" yaml:"max_keep_days"`
	MaxSizeMB      int      `koanf:"max_size_mb" yaml:"max_size_mb"`
	PruneInterval  Duration `koanf:"prune_interval" yaml:"prune_interval"`
}

// CaptureConfig controls what is kept from each notification
type CaptureConfig struct {
	StoreImage       bool   `koanf:"store_image" yaml:"store_image"`
	ImageKind        string `koanf:"image_kind" yaml:"image_kind" validate:"required,image_kind"`
	StoreFullPayload bool   `koanf:"store_full_payload" yaml:"store_full_payload"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `koanf:"level" yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Format string `koanf:"format" yaml:"format" validate:"omitempty,oneof=json console"`
	Caller bool   `koanf:"caller" yaml:"caller"`
}

// Duration wraps time.Duration for YAML unmarshaling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for file and
// environment layers
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
