// Package config provides configuration management for ellen.
//
// Settings are layered: built-in defaults, then the YAML config file, then
// ELLEN_* environment variables. When no config file exists on first start
// a default one is written so operators have something to edit.
//
// Config file locations (priority order):
//  1. $ELLEN_CONFIG
//  2. ./ellen.yaml
//  3. $XDG_CONFIG_HOME/ellen/config.yaml
//  4. ~/.config/ellen/config.yaml
//  5. /etc/ellen/config.yaml
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"ellen/internal/domain"
	"ellen/internal/repository"
	"ellen/internal/retention"
)

var validate = newValidator()

// newValidator registers the enum checks so they accept exactly what the
// domain parsers accept.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	parsers := map[string]func(string) error{
		"store_kind": func(s string) error { _, err := repository.ParseKind(s); return err },
		"image_kind": func(s string) error { _, err := domain.ParseImageKind(s); return err },
		"time_zone":  func(s string) error { _, err := domain.ParseTimeZone(s); return err },
	}
	for tag, parse := range parsers {
		parse := parse
		if err := v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			return parse(fl.Field().String()) == nil
		}); err != nil {
			panic(err)
		}
	}
	return v
}

// Load finds and loads the config file, or returns defaults if none found.
// Environment overrides apply either way.
func Load() (*Config, string, error) {
	path := FindConfigPath()
	cfg, err := loadLayers(path)
	if err != nil {
		return nil, path, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// LoadFromPath loads config from a specific path
func LoadFromPath(path string) (*Config, string, error) {
	if !fileExists(path) {
		return nil, path, fmt.Errorf("read config: %w", os.ErrNotExist)
	}
	cfg, err := loadLayers(path)
	if err != nil {
		return nil, path, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// LoadOrInit loads the config at path, or from the search path when path is
// empty. If no file exists, the defaults are written to path (or
// DefaultConfigPath) first. created reports whether a file was written.
func LoadOrInit(path string) (cfg *Config, used string, created bool, err error) {
	if path == "" {
		path = FindConfigPath()
	}
	if path != "" && fileExists(path) {
		cfg, used, err = LoadFromPath(path)
		return cfg, used, false, err
	}
	if path == "" {
		path = DefaultConfigPath()
	}

	if err := DefaultConfig().Save(path); err != nil {
		return nil, path, false, fmt.Errorf("write default config: %w", err)
	}
	cfg, used, err = LoadFromPath(path)
	return cfg, used, true, err
}

// Save writes config to the specified path
func (c *Config) Save(path string) error {
	if err := EnsureConfigDir(path); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns sensible defaults for a new installation
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Server: ServerConfig{
			Addr:            ":5000",
			RateLimit:       600,
			MaxBodyBytes:    32 << 20,
			ShutdownTimeout: Duration(10 * time.Second),
			WatchConfig:     true,
		},
		Store: StoreConfig{
			Kind:            string(repository.KindSpreadsheet),
			OutputDirectory: "./",
			DataDirectory:   "./data",
			TimeZone:        string(domain.TimeZoneUTC),
		},
		Retention: RetentionConfig{
			MaxRecordCount: 10_000,
			MaxKeepDays:    30,
			MaxSizeMB:      100,
			PruneInterval:  Duration(time.Hour),
		},
		Capture: CaptureConfig{
			StoreImage:       true,
			ImageKind:        string(domain.ImageKindFace),
			StoreFullPayload: false,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate checks field constraints
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (got %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("configuration validation failed: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// StoreKind returns the parsed backing store selection
func (c *Config) StoreKind() (repository.Kind, error) {
	return repository.ParseKind(c.Store.Kind)
}

// Options converts the config into store options
func (c *Config) Options() (repository.Options, error) {
	kind, err := domain.ParseImageKind(c.Capture.ImageKind)
	if err != nil {
		return repository.Options{}, err
	}
	zone, err := domain.ParseTimeZone(c.Store.TimeZone)
	if err != nil {
		return repository.Options{}, err
	}

	return repository.Options{
		Retention: retention.Policy{
			MaxRecordCount:   c.Retention.MaxRecordCount,
			MaxKeepDays:      c.Retention.MaxKeepDays,
			MaxSizeMegabytes: c.Retention.MaxSizeMB,
		},
		StoreImage:       c.Capture.StoreImage,
		ImageKind:        kind,
		StoreFullPayload: c.Capture.StoreFullPayload,
		OutputDirectory:  c.Store.OutputDirectory,
		DataDirectory:    c.Store.DataDirectory,
		TimeZone:         zone,
	}, nil
}

// Summary returns a human-readable config summary
func (c *Config) Summary() string {
	return fmt.Sprintf("store=%s output=%s keep=%dd max_records=%d max_size=%dMB image=%v(%s) full_payload=%v",
		c.Store.Kind, c.Store.OutputDirectory,
		c.Retention.MaxKeepDays, c.Retention.MaxRecordCount, c.Retention.MaxSizeMB,
		c.Capture.StoreImage, c.Capture.ImageKind, c.Capture.StoreFullPayload)
}
