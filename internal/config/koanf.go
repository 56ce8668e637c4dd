package config

import (
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix namespaces environment overrides
const EnvPrefix = "ELLEN_"

// loadLayers merges defaults, the YAML file at path (if any) and ELLEN_*
// environment variables, in increasing priority.
func loadLayers(path string) (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults
	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// Layer 3: environment (highest priority)
	// ELLEN_STORE_KIND -> store.kind
	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.TextUnmarshallerHookFunc(),
				mapstructure.StringToTimeDurationHookFunc(),
			),
			Result:           cfg,
			TagName:          "koanf",
			WeaklyTypedInput: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	return cfg, nil
}

// envMappings lists every supported override. Variables not listed are
// ignored so unrelated ELLEN_* variables cannot inject keys.
var envMappings = map[string]string{
	"server_addr":             "server.addr",
	"server_rate_limit":       "server.rate_limit",
	"server_max_body_bytes":   "server.max_body_bytes",
	"server_shutdown_timeout": "server.shutdown_timeout",
	"server_watch_config":     "server.watch_config",

	"store_kind":             "store.kind",
	"store_output_directory": "store.output_directory",
	"store_data_directory":   "store.data_directory",
	"store_time_zone":        "store.time_zone",

	"retention_max_record_count": "retention.max_record_count",
	"retention_max_keep_days":    "retention.max_keep_days",
	"retention_max_size_mb":      "retention.max_size_mb",
	"retention_prune_interval":   "retention.prune_interval",

	"capture_store_image":        "capture.store_image",
	"capture_image_kind":         "capture.image_kind",
	"capture_store_full_payload": "capture.store_full_payload",

	"log_level":  "log.level",
	"log_format": "log.format",
	"log_caller": "log.caller",
}

// envTransformFunc transforms environment variable names to koanf paths.
// Returning "" drops the variable.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return envMappings[key]
}
