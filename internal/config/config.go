// Package config builds the single Config value both services run from.
//
// Load layers three sources, later ones winning:
//  1. defaults from Default()
//  2. an optional YAML file (CONFIG_PATH, else ./config.yaml or ./config.yml)
//  3. environment variables listed in envMappings
//
// The result is validated and then treated as read-only; constructors receive
// the sections they need instead of reading globals.
package config

import (
	"fmt"
	"runtime"
	"time"
)

// Config is the full configuration for the gateway and classifier processes.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Gateway    GatewayConfig    `koanf:"gateway"`
	Classifier ClassifierConfig `koanf:"classifier"`
	Security   SecurityConfig   `koanf:"security"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// ServerConfig is the gateway listener. Debug also controls whether error
// details reach clients in both services.
type ServerConfig struct {
	Host            string        `koanf:"host" validate:"required"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	Debug           bool          `koanf:"debug"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// GatewayConfig describes the gateway itself and how it reaches the classifier.
type GatewayConfig struct {
	ServiceName       string        `koanf:"service_name" validate:"required"`
	Version           string        `koanf:"version" validate:"required"`
	ClassifierURL     string        `koanf:"classifier_url" validate:"required,url"`
	ClassifierTimeout time.Duration `koanf:"classifier_timeout" validate:"gt=0"`

	// Consecutive upstream failures before the breaker opens, and how long it
	// stays open before letting a probe through.
	BreakerFailures    uint32        `koanf:"breaker_failures" validate:"min=1"`
	BreakerOpenTimeout time.Duration `koanf:"breaker_open_timeout" validate:"gt=0"`
}

// ClassifierConfig is the image classification service.
type ClassifierConfig struct {
	Host string `koanf:"host" validate:"required"`
	Port int    `koanf:"port" validate:"min=1,max=65535"`

	ModelPath    string `koanf:"model_path" validate:"required"`
	MetadataPath string `koanf:"metadata_path"`
	// ORTLibraryPath points at libonnxruntime when it is not on the loader path.
	ORTLibraryPath string `koanf:"ort_library_path"`

	ScratchDir             string        `koanf:"scratch_dir" validate:"required"`
	MaxUploadBytes         int64         `koanf:"max_upload_bytes" validate:"min=1"`
	MaxConcurrentInference int64         `koanf:"max_concurrent_inferences" validate:"min=1"`
	InferenceTimeout       time.Duration `koanf:"inference_timeout" validate:"gte=0"`
	SweepInterval          time.Duration `koanf:"sweep_interval" validate:"gt=0"`
	SweepMaxAge            time.Duration `koanf:"sweep_max_age" validate:"gt=0"`
}

// SecurityConfig holds CORS and rate limiting, shared by both services.
type SecurityConfig struct {
	CORSOrigins       []string      `koanf:"cors_origins" validate:"min=1"`
	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"min=1"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window" validate:"gt=0"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// LoggingConfig feeds logging.Init.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Default returns the built-in configuration. The gateway listens on 8000
// and the classifier on 8001.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			Debug:           false,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Gateway: GatewayConfig{
			ServiceName:        "Disaster Management ML Services",
			Version:            "1.0.0",
			ClassifierURL:      "http://127.0.0.1:8001",
			ClassifierTimeout:  30 * time.Second,
			BreakerFailures:    5,
			BreakerOpenTimeout: 30 * time.Second,
		},
		Classifier: ClassifierConfig{
			Host:                   "0.0.0.0",
			Port:                   8001,
			ModelPath:              "models/hazard_classifier_mobilenetv2.onnx",
			MetadataPath:           "models/model_metadata.json",
			ScratchDir:             ".",
			MaxUploadBytes:         10 << 20,
			MaxConcurrentInference: int64(runtime.NumCPU()),
			InferenceTimeout:       0,
			SweepInterval:          5 * time.Minute,
			SweepMaxAge:            10 * time.Minute,
		},
		Security: SecurityConfig{
			CORSOrigins:       []string{"*"},
			RateLimitRequests: 300,
			RateLimitWindow:   time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// GatewayAddr is host:port for the gateway listener.
func (c *Config) GatewayAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ClassifierAddr is host:port for the classifier listener.
func (c *Config) ClassifierAddr() string {
	return fmt.Sprintf("%s:%d", c.Classifier.Host, c.Classifier.Port)
}
