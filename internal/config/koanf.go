package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// PathEnvVar overrides the config file location.
const PathEnvVar = "CONFIG_PATH"

var defaultPaths = []string{"config.yaml", "config.yml"}

// envMappings lists every environment variable Load understands. Anything
// else in the environment is ignored.
var envMappings = map[string]string{
	// names the deployment scripts already set
	"api_host": "server.host",
	"api_port": "server.port",
	"debug":    "server.debug",

	"server_read_timeout":     "server.read_timeout",
	"server_write_timeout":    "server.write_timeout",
	"server_shutdown_timeout": "server.shutdown_timeout",

	"service_name":         "gateway.service_name",
	"service_version":      "gateway.version",
	"classifier_url":       "gateway.classifier_url",
	"classifier_timeout":   "gateway.classifier_timeout",
	"breaker_failures":     "gateway.breaker_failures",
	"breaker_open_timeout": "gateway.breaker_open_timeout",

	"classifier_host":           "classifier.host",
	"classifier_port":           "classifier.port",
	"model_path":                "classifier.model_path",
	"model_metadata_path":       "classifier.metadata_path",
	"onnxruntime_lib":           "classifier.ort_library_path",
	"scratch_dir":               "classifier.scratch_dir",
	"max_upload_bytes":          "classifier.max_upload_bytes",
	"max_concurrent_inferences": "classifier.max_concurrent_inferences",
	"inference_timeout":         "classifier.inference_timeout",
	"scratch_sweep_interval":    "classifier.sweep_interval",
	"scratch_sweep_max_age":     "classifier.sweep_max_age",

	"cors_origins":        "security.cors_origins",
	"rate_limit_requests": "security.rate_limit_requests",
	"rate_limit_window":   "security.rate_limit_window",
	"rate_limit_disabled": "security.rate_limit_disabled",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// sliceKeys arrive from the environment as comma-separated strings.
var sliceKeys = []string{"security.cors_origins"}

// Load reads defaults, the optional config file and the environment, then validates.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if err := splitSlices(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func findFile() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range defaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envKey maps API_PORT to server.port and drops unknown variables.
func envKey(key string) string {
	return envMappings[strings.ToLower(key)]
}

func splitSlices(k *koanf.Koanf) error {
	for _, key := range sliceKeys {
		s, ok := k.Get(key).(string)
		if !ok {
			continue
		}
		var parts []string
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(key, parts); err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
	}
	return nil
}
