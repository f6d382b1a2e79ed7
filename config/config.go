// Package config provides configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	App           AppConfig           `yaml:"app"`
	Logging       LoggingConfig       `yaml:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Introspection IntrospectionConfig `yaml:"introspection"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// AppConfig names the application package and its configuration file.
type AppConfig struct {
	Package       string         `yaml:"package"`        // package name used for relative dotted names
	PackageDir    string         `yaml:"package_dir"`    // directory holding the package's files
	ConfigureZCML string         `yaml:"configure_zcml"` // file or asset spec to load
	Root          string         `yaml:"root"`           // dotted name of the root factory, optional
	Reload        bool           `yaml:"reload"`         // rebuild the app when a configuration file changes
	Settings      map[string]any `yaml:"settings"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // Enable /metrics endpoint
	Path    string `yaml:"path"`    // Custom path (default: /metrics)
}

// IntrospectionConfig configures persistence of committed actions.
type IntrospectionConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
//
// Environment variables:
//
//	ZCML_SERVER_HOST           - Server host (default: 0.0.0.0)
//	ZCML_SERVER_PORT           - Server port (default: 6543)
//	ZCML_APP_PACKAGE           - Application package name (default: app)
//	ZCML_APP_PACKAGE_DIR       - Application package directory (default: .)
//	ZCML_CONFIGURE_ZCML        - Configuration file (default: configure.zcml)
//	ZCML_APP_ROOT              - Dotted name of the root factory
//	ZCML_RELOAD                - Rebuild on configuration file change
//	ZCML_LOG_LEVEL             - Log level: debug, info, warn, error (default: info)
//	ZCML_LOG_FORMAT            - Log format: json or console (default: json)
//	ZCML_METRICS_ENABLED       - Enable /metrics endpoint
//	ZCML_METRICS_PATH          - Metrics path (default: /metrics)
//	ZCML_INTROSPECTION_ENABLED - Persist committed actions
//	ZCML_INTROSPECTION_DSN     - Introspection database (default: zcml.db)
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback loads path when it exists and falls back to the
// environment otherwise.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// applyEnvOverrides applies ZCML_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	// Server configuration
	if v := os.Getenv("ZCML_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("ZCML_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ZCML_SERVER_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if v := os.Getenv("ZCML_SERVER_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}

	// Application
	if v := os.Getenv("ZCML_APP_PACKAGE"); v != "" {
		cfg.App.Package = v
	}
	if v := os.Getenv("ZCML_APP_PACKAGE_DIR"); v != "" {
		cfg.App.PackageDir = v
	}
	if v := os.Getenv("ZCML_CONFIGURE_ZCML"); v != "" {
		cfg.App.ConfigureZCML = v
	}
	if v := os.Getenv("ZCML_APP_ROOT"); v != "" {
		cfg.App.Root = v
	}
	if v := os.Getenv("ZCML_RELOAD"); v != "" {
		cfg.App.Reload = parseBool(v)
	}

	// Logging configuration
	if v := os.Getenv("ZCML_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ZCML_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics configuration
	if v := os.Getenv("ZCML_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("ZCML_METRICS_PATH"); v != "" {
		cfg.Metrics.Path = v
	}

	// Introspection
	if v := os.Getenv("ZCML_INTROSPECTION_ENABLED"); v != "" {
		cfg.Introspection.Enabled = parseBool(v)
	}
	if v := os.Getenv("ZCML_INTROSPECTION_DSN"); v != "" {
		cfg.Introspection.DSN = v
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 6543
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}

	if cfg.App.Package == "" {
		cfg.App.Package = "app"
	}
	if cfg.App.PackageDir == "" {
		cfg.App.PackageDir = "."
	}
	if cfg.App.ConfigureZCML == "" {
		cfg.App.ConfigureZCML = "configure.zcml"
	}
	if cfg.App.Settings == nil {
		cfg.App.Settings = map[string]any{}
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Introspection.DSN == "" {
		cfg.Introspection.DSN = "zcml.db"
	}
}

func validate(cfg *Config) error {
	var errs []error

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port))
	}
	if strings.ContainsAny(cfg.App.Package, " /\\") {
		errs = append(errs, fmt.Errorf("app.package must be a dotted name, got %q", cfg.App.Package))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, fmt.Errorf("logging.level must be one of: debug, info, warn, error"))
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format))
	}

	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("metrics.path must start with '/', got %q", cfg.Metrics.Path))
	}

	return errors.Join(errs...)
}
