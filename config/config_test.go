package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Pylons/pyramid-zcml/config"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
server:
  host: "127.0.0.1"
  port: 9090
  read_timeout: 5s

app:
  package: "shop"
  package_dir: "./shop"
  configure_zcml: "shop:site.zcml"
  root: "shop.resources.Root"
  settings:
    debug_templates: true
    default_locale_name: "fr"

metrics:
  enabled: true

introspection:
  enabled: true
  dsn: ":memory:"
`

	cfg := writeAndLoad(t, content)

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Host = %s, want 127.0.0.1", cfg.Server.Host)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 5*time.Second {
		t.Errorf("ReadTimeout = %v, want 5s", cfg.Server.ReadTimeout)
	}
	if cfg.Server.Addr() != "127.0.0.1:9090" {
		t.Errorf("Addr = %s", cfg.Server.Addr())
	}
	if cfg.App.Package != "shop" || cfg.App.PackageDir != "./shop" {
		t.Errorf("App = %+v", cfg.App)
	}
	if cfg.App.ConfigureZCML != "shop:site.zcml" {
		t.Errorf("ConfigureZCML = %s", cfg.App.ConfigureZCML)
	}
	if cfg.App.Root != "shop.resources.Root" {
		t.Errorf("Root = %s", cfg.App.Root)
	}
	if cfg.App.Settings["default_locale_name"] != "fr" {
		t.Errorf("Settings = %v", cfg.App.Settings)
	}
	if cfg.App.Settings["debug_templates"] != true {
		t.Errorf("debug_templates = %v", cfg.App.Settings["debug_templates"])
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics = %+v", cfg.Metrics)
	}
	if !cfg.Introspection.Enabled || cfg.Introspection.DSN != ":memory:" {
		t.Errorf("Introspection = %+v", cfg.Introspection)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := writeAndLoad(t, "{}\n")

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Host = %s, want 0.0.0.0", cfg.Server.Host)
	}
	if cfg.Server.Port != 6543 {
		t.Errorf("Port = %d, want 6543", cfg.Server.Port)
	}
	if cfg.Server.WriteTimeout != 60*time.Second {
		t.Errorf("WriteTimeout = %v, want 60s", cfg.Server.WriteTimeout)
	}
	if cfg.App.Package != "app" || cfg.App.PackageDir != "." {
		t.Errorf("App = %+v", cfg.App)
	}
	if cfg.App.ConfigureZCML != "configure.zcml" {
		t.Errorf("ConfigureZCML = %s, want configure.zcml", cfg.App.ConfigureZCML)
	}
	if cfg.App.Settings == nil {
		t.Error("Settings should default to an empty map")
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if cfg.Metrics.Enabled {
		t.Error("metrics should be disabled by default")
	}
	if cfg.Introspection.DSN != "zcml.db" {
		t.Errorf("Introspection.DSN = %s, want zcml.db", cfg.Introspection.DSN)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_ZCML_FILE", "expanded.zcml")

	cfg := writeAndLoad(t, `
app:
  configure_zcml: "${TEST_ZCML_FILE}"
`)

	if cfg.App.ConfigureZCML != "expanded.zcml" {
		t.Errorf("ConfigureZCML = %s, want expanded.zcml", cfg.App.ConfigureZCML)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bad port", "server:\n  port: 70000\n", "server.port"},
		{"bad level", "logging:\n  level: trace\n", "logging.level"},
		{"bad format", "logging:\n  format: xml\n", "logging.format"},
		{"bad metrics path", "metrics:\n  path: metrics\n", "metrics.path"},
		{"bad package", "app:\n  package: \"my app\"\n", "app.package"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := config.Load(path)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestLoad_ValidationErrorsAccumulate(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: trace\n  format: xml\n")
	_, err := config.Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "logging.level") || !strings.Contains(err.Error(), "logging.format") {
		t.Errorf("error should list both problems: %v", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [unclosed\n")
	if _, err := config.Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("ZCML_SERVER_PORT", "7000")
	t.Setenv("ZCML_APP_PACKAGE", "fromenv")
	t.Setenv("ZCML_CONFIGURE_ZCML", "env.zcml")
	t.Setenv("ZCML_LOG_LEVEL", "debug")
	t.Setenv("ZCML_METRICS_ENABLED", "yes")
	t.Setenv("ZCML_INTROSPECTION_DSN", "/tmp/env.db")

	cfg := writeAndLoad(t, `
server:
  port: 9000
app:
  package: fromfile
`)

	if cfg.Server.Port != 7000 {
		t.Errorf("Port = %d, want 7000", cfg.Server.Port)
	}
	if cfg.App.Package != "fromenv" {
		t.Errorf("Package = %s, want fromenv", cfg.App.Package)
	}
	if cfg.App.ConfigureZCML != "env.zcml" {
		t.Errorf("ConfigureZCML = %s, want env.zcml", cfg.App.ConfigureZCML)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %s, want debug", cfg.Logging.Level)
	}
	if !cfg.Metrics.Enabled {
		t.Error("metrics should be enabled by env")
	}
	if cfg.Introspection.DSN != "/tmp/env.db" {
		t.Errorf("DSN = %s", cfg.Introspection.DSN)
	}
}

func TestEnvOverrides_InvalidValuesIgnored(t *testing.T) {
	t.Setenv("ZCML_SERVER_PORT", "not-a-port")
	t.Setenv("ZCML_SERVER_READ_TIMEOUT", "soon")

	cfg := writeAndLoad(t, "{}\n")

	if cfg.Server.Port != 6543 {
		t.Errorf("Port = %d, want default 6543", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("ReadTimeout = %v, want default 30s", cfg.Server.ReadTimeout)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ZCML_APP_PACKAGE", "envapp")
	t.Setenv("ZCML_RELOAD", "1")

	cfg, err := config.LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.App.Package != "envapp" {
		t.Errorf("Package = %s, want envapp", cfg.App.Package)
	}
	if !cfg.App.Reload {
		t.Error("Reload should be set")
	}
}

func TestLoadWithFallback(t *testing.T) {
	path := writeConfig(t, "app:\n  package: filed\n")
	cfg, err := config.LoadWithFallback(path)
	if err != nil {
		t.Fatalf("LoadWithFallback: %v", err)
	}
	if cfg.App.Package != "filed" {
		t.Errorf("Package = %s, want filed", cfg.App.Package)
	}

	cfg, err = config.LoadWithFallback(filepath.Join(t.TempDir(), "none.yaml"))
	if err != nil {
		t.Fatalf("LoadWithFallback without file: %v", err)
	}
	if cfg.App.Package != "app" {
		t.Errorf("Package = %s, want default app", cfg.App.Package)
	}
}

func TestParseBoolValues(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"true", true},
		{"TRUE", true},
		{"1", true},
		{"yes", true},
		{" on ", true},
		{"false", false},
		{"0", false},
		{"nope", false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("ZCML_METRICS_ENABLED", tt.value)
			cfg, err := config.LoadFromEnv()
			if err != nil {
				t.Fatalf("LoadFromEnv: %v", err)
			}
			if cfg.Metrics.Enabled != tt.want {
				t.Errorf("Metrics.Enabled for %q = %v, want %v", tt.value, cfg.Metrics.Enabled, tt.want)
			}
		})
	}
}

func writeAndLoad(t *testing.T, content string) *config.Config {
	t.Helper()
	cfg, err := config.Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	return cfg
}

// ZCML_* variables set in the outer environment would override fixtures.
func TestMain(m *testing.M) {
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "ZCML_") {
			os.Unsetenv(strings.SplitN(kv, "=", 2)[0])
		}
	}
	os.Exit(m.Run())
}
