// Winnerd - Photo Competition Winner Selection Service
// Copyright 2026 Photoarena
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/photoarena/winnerd

// Package config loads service configuration from three layered
// sources with clear precedence: environment variables over an optional
// YAML file over built-in defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/photoarena/winnerd/internal/api"
	"github.com/photoarena/winnerd/internal/eventbus"
	"github.com/photoarena/winnerd/internal/logging"
	"github.com/photoarena/winnerd/internal/scheduler"
)

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"/etc/winnerd/config.yaml",
}

// Config is the full service configuration.
type Config struct {
	Log    LogConfig    `koanf:"log"`
	HTTP   HTTPConfig   `koanf:"http"`
	Broker BrokerConfig `koanf:"broker"`
	Store  StoreConfig  `koanf:"store"`
	Sweep  SweepConfig  `koanf:"sweep"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// HTTPConfig controls the operator HTTP surface.
type HTTPConfig struct {
	Addr      string `koanf:"addr" validate:"required"`
	RateLimit int    `koanf:"rate_limit" validate:"min=1"`

	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// BrokerConfig controls the NATS connection, the durable consumer
// identity, and the handler failure policy.
type BrokerConfig struct {
	URL string `koanf:"url" validate:"required"`

	ConnectMaxAttempts int           `koanf:"connect_max_attempts" validate:"min=1"`
	ConnectRetryWait   time.Duration `koanf:"connect_retry_wait"`

	DurableName string        `koanf:"durable_name" validate:"required"`
	QueueGroup  string        `koanf:"queue_group" validate:"required"`
	AckWait     time.Duration `koanf:"ack_wait"`
	MaxDeliver  int           `koanf:"max_deliver" validate:"min=1"`

	// OnHandlerError is the failure policy for unprocessable messages.
	OnHandlerError string `koanf:"on_handler_error" validate:"oneof=drop deadletter"`

	// Embedded starts an in-process JetStream server instead of
	// dialing an external one.
	Embedded         bool   `koanf:"embedded"`
	EmbeddedHost     string `koanf:"embedded_host"`
	EmbeddedPort     int    `koanf:"embedded_port"`
	EmbeddedStoreDir string `koanf:"embedded_store_dir"`
}

// StoreConfig selects the materialized view backend.
type StoreConfig struct {
	// Backend is "badger" for the persistent store or "memory" for the
	// rebuild-on-restart store.
	Backend string `koanf:"backend" validate:"oneof=badger memory"`

	// Path is the Badger data directory; required for the badger
	// backend.
	Path string `koanf:"path"`
}

// SweepConfig controls the reconciliation sweep.
type SweepConfig struct {
	Interval time.Duration `koanf:"interval"`
	Timeout  time.Duration `koanf:"timeout"`
}

// defaultConfig returns the built-in defaults.
func defaultConfig() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			RateLimit:       120,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Broker: BrokerConfig{
			URL:                "nats://localhost:4222",
			ConnectMaxAttempts: 10,
			ConnectRetryWait:   5 * time.Second,
			DurableName:        "winner-service",
			QueueGroup:         "winner-service",
			AckWait:            30 * time.Second,
			MaxDeliver:         5,
			OnHandlerError:     eventbus.PolicyDeadLetter,
			EmbeddedHost:       "127.0.0.1",
			EmbeddedPort:       4222,
			EmbeddedStoreDir:   "data/nats",
		},
		Store: StoreConfig{
			Backend: "badger",
			Path:    "data/store",
		},
		Sweep: SweepConfig{
			Interval: time.Minute,
			Timeout:  5 * time.Minute,
		},
	}
}

// envMappings maps environment variable names (lowercased) to config
// paths. Unlisted variables are ignored, so unrelated environment noise
// cannot flip settings.
var envMappings = map[string]string{
	"log_level":  "log.level",
	"log_format": "log.format",

	"http_addr":       "http.addr",
	"http_rate_limit": "http.rate_limit",

	"broker_url":                  "broker.url",
	"broker_connect_max_attempts": "broker.connect_max_attempts",
	"broker_connect_retry_wait":   "broker.connect_retry_wait",
	"broker_durable_name":         "broker.durable_name",
	"broker_queue_group":          "broker.queue_group",
	"broker_ack_wait":             "broker.ack_wait",
	"broker_max_deliver":          "broker.max_deliver",
	"broker_on_handler_error":     "broker.on_handler_error",
	"broker_embedded":             "broker.embedded",
	"broker_embedded_host":        "broker.embedded_host",
	"broker_embedded_port":        "broker.embedded_port",
	"broker_embedded_store_dir":   "broker.embedded_store_dir",

	"store_backend": "store.backend",
	"store_path":    "store.path",

	"sweep_interval": "sweep.interval",
	"sweep_timeout":  "sweep.timeout",
}

// Load builds the configuration from defaults, an optional YAML file,
// and environment variables, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider("", ".", func(key string) string {
		return envMappings[strings.ToLower(key)]
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate configuration: %w", err)
	}
	return cfg, nil
}

// findConfigFile returns the first readable config file path, or empty.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Validate checks field constraints plus the cross-field rules the
// struct tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Store.Backend == "badger" && c.Store.Path == "" {
		return fmt.Errorf("store.path is required for the badger backend")
	}
	if c.Sweep.Interval <= 0 {
		return fmt.Errorf("sweep.interval must be positive")
	}
	return nil
}

// LoggingConfig maps to the logging package configuration.
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{
		Level:  c.Log.Level,
		Format: c.Log.Format,
	}
}

// ConnectorConfig maps to the eventbus connector configuration.
func (c *Config) ConnectorConfig() eventbus.ConnectorConfig {
	cc := eventbus.DefaultConnectorConfig()
	cc.URL = c.Broker.URL
	cc.MaxAttempts = c.Broker.ConnectMaxAttempts
	cc.RetryWait = c.Broker.ConnectRetryWait
	return cc
}

// PublisherConfig maps to the eventbus publisher configuration.
func (c *Config) PublisherConfig() eventbus.PublisherConfig {
	pc := eventbus.DefaultPublisherConfig()
	pc.URL = c.Broker.URL
	return pc
}

// DispatcherConfig maps to the eventbus dispatcher configuration.
func (c *Config) DispatcherConfig() eventbus.DispatcherConfig {
	dc := eventbus.DefaultDispatcherConfig()
	dc.URL = c.Broker.URL
	dc.DurableName = c.Broker.DurableName
	dc.QueueGroup = c.Broker.QueueGroup
	dc.AckWait = c.Broker.AckWait
	dc.MaxDeliver = c.Broker.MaxDeliver
	dc.OnHandlerError = c.Broker.OnHandlerError
	return dc
}

// EmbeddedServerConfig maps to the embedded NATS server configuration.
func (c *Config) EmbeddedServerConfig() eventbus.ServerConfig {
	sc := eventbus.DefaultServerConfig()
	sc.Enabled = c.Broker.Embedded
	sc.Host = c.Broker.EmbeddedHost
	sc.Port = c.Broker.EmbeddedPort
	sc.StoreDir = c.Broker.EmbeddedStoreDir
	return sc
}

// SchedulerConfig maps to the reconciliation sweep configuration.
func (c *Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		Interval:     c.Sweep.Interval,
		SweepTimeout: c.Sweep.Timeout,
	}
}

// HTTPServerConfig maps to the API server configuration.
func (c *Config) HTTPServerConfig() api.ServerConfig {
	return api.ServerConfig{
		Addr:            c.HTTP.Addr,
		ReadTimeout:     c.HTTP.ReadTimeout,
		WriteTimeout:    c.HTTP.WriteTimeout,
		ShutdownTimeout: c.HTTP.ShutdownTimeout,
		RateLimit:       c.HTTP.RateLimit,
	}
}
