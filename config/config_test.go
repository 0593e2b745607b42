package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestDefaultConfig checks that the defaults validate
func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	if err := config.Validate(); err != nil {
		t.Fatalf("Default config validation failed: %v", err)
	}
	if config.Transport.Mode != TransportLocal {
		t.Errorf("Expected default mode local, got %s", config.Transport.Mode)
	}
	if config.Invoke.MaxDepth != 0 {
		t.Errorf("Expected unbounded depth, got %d", config.Invoke.MaxDepth)
	}
}

// TestConfigValidation tests configuration validation
func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{
			name:    "invalid app name",
			mutate:  func(c *Config) { c.App.Name = "" },
			wantErr: ErrInvalidAppName,
		},
		{
			name:    "invalid environment",
			mutate:  func(c *Config) { c.App.Environment = "moon" },
			wantErr: ErrInvalidEnvironment,
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Log.Level = "loud" },
			wantErr: ErrInvalidLogLevel,
		},
		{
			name:    "invalid transport mode",
			mutate:  func(c *Config) { c.Transport.Mode = "posix_mq" },
			wantErr: ErrInvalidTransportMode,
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Transport.Port = 70000 },
			wantErr: ErrInvalidPort,
		},
		{
			name:    "negative buffer size",
			mutate:  func(c *Config) { c.Process.OutputBufferSize = -1 },
			wantErr: ErrInvalidBufferSize,
		},
		{
			name:    "negative mailbox keys",
			mutate:  func(c *Config) { c.Process.MailboxKeys = -1 },
			wantErr: ErrInvalidMailboxKeys,
		},
		{
			name:    "negative put rate",
			mutate:  func(c *Config) { c.Transport.PutLimit.Rate = -1 },
			wantErr: ErrInvalidRateLimit,
		},
		{
			name:    "zero invoke timeout",
			mutate:  func(c *Config) { c.Invoke.Timeout = 0 },
			wantErr: ErrInvalidInvokeTimeout,
		},
		{
			name:    "negative max depth",
			mutate:  func(c *Config) { c.Invoke.MaxDepth = -2 },
			wantErr: ErrInvalidMaxDepth,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Config.Validate() unexpected error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Config.Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestListenAddress(t *testing.T) {
	config := DefaultConfig()
	config.Transport.Port = 7000
	if got := config.ListenAddress(); got != "127.0.0.1:7000" {
		t.Errorf("Expected 127.0.0.1:7000, got %s", got)
	}

	config.Transport.Name = "0.0.0.0:9000"
	if got := config.ListenAddress(); got != "0.0.0.0:9000" {
		t.Errorf("Expected name to win, got %s", got)
	}

	config.Transport.Name = "worker-queue"
	if got := config.ListenAddress(); got != "127.0.0.1:7000" {
		t.Errorf("Expected plain name to be ignored, got %s", got)
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
	return path
}

// TestLoader tests YAML configuration loading
func TestLoader(t *testing.T) {
	yamlFile := writeFile(t, t.TempDir(), "praas.yaml", `
app:
  name: test-app
  environment: testing

log:
  level: debug
  format: json

process:
  id: p1
  manifest_location: /srv/functions.json

transport:
  mode: tcp
  port: 8080
  peers:
    p2: 127.0.0.1:8081
  put_limit:
    rate: 10
    burst: 20
    interval: 1s
  circuit_breaker:
    failure_threshold: 3

invoke:
  timeout: 5s
  max_depth: 16
`)

	config, err := NewLoader().LoadFromFile(yamlFile)
	if err != nil {
		t.Fatalf("Failed to load YAML config: %v", err)
	}

	if config.App.Name != "test-app" || config.App.Environment != EnvTesting {
		t.Errorf("Unexpected app section: %+v", config.App)
	}
	if config.Log.Level != LogLevelDebug || config.Log.Format != "json" {
		t.Errorf("Unexpected log section: %+v", config.Log)
	}
	if config.Process.ID != "p1" || config.Process.ManifestLocation != "/srv/functions.json" {
		t.Errorf("Unexpected process section: %+v", config.Process)
	}
	if config.Process.OutputBufferSize != 5*1024*1024 {
		t.Errorf("Expected default buffer size to survive merge, got %d", config.Process.OutputBufferSize)
	}
	if config.Transport.Mode != TransportTCP || config.Transport.Port != 8080 {
		t.Errorf("Unexpected transport section: %+v", config.Transport)
	}
	if config.Transport.Peers["p2"] != "127.0.0.1:8081" {
		t.Errorf("Expected peer p2, got %v", config.Transport.Peers)
	}
	if config.Transport.PutLimit.Rate != 10 || config.Transport.PutLimit.Burst != 20 {
		t.Errorf("Unexpected put limit: %+v", config.Transport.PutLimit)
	}
	if config.Transport.CircuitBreaker.FailureThreshold != 3 || config.Transport.CircuitBreaker.Timeout != 10*time.Second {
		t.Errorf("Unexpected breaker: %+v", config.Transport.CircuitBreaker)
	}
	if config.Transport.Encoding != "msgpack" {
		t.Errorf("Expected default encoding, got %s", config.Transport.Encoding)
	}
	if config.Invoke.Timeout != 5*time.Second || config.Invoke.MaxDepth != 16 {
		t.Errorf("Unexpected invoke section: %+v", config.Invoke)
	}
}

// TestLoaderJSON tests JSON configuration loading
func TestLoaderJSON(t *testing.T) {
	jsonFile := writeFile(t, t.TempDir(), "praas.json", `{
	"app": {"name": "json-test-app", "environment": "production"},
	"log": {"level": "warn"},
	"transport": {"mode": "local", "encoding": "json"}
}`)

	config, err := NewLoader().LoadFromFile(jsonFile)
	if err != nil {
		t.Fatalf("Failed to load JSON config: %v", err)
	}

	if config.App.Name != "json-test-app" || !config.IsProduction() {
		t.Errorf("Unexpected app section: %+v", config.App)
	}
	if config.Log.Level != LogLevelWarn {
		t.Errorf("Expected log level warn, got %v", config.Log.Level)
	}
	if config.Transport.Encoding != "json" {
		t.Errorf("Expected json encoding, got %s", config.Transport.Encoding)
	}
}

func TestLoaderErrors(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader()

	if _, err := loader.LoadFromFile(filepath.Join(dir, "missing.yaml")); !errors.Is(err, ErrConfigFileNotFound) {
		t.Errorf("Expected ErrConfigFileNotFound, got %v", err)
	}
	if _, err := loader.LoadFromFile(writeFile(t, dir, "config.toml", "")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Expected ErrUnsupportedFormat, got %v", err)
	}
	if _, err := loader.LoadFromFile(writeFile(t, dir, "broken.yaml", "app: [")); !errors.Is(err, ErrConfigParseError) {
		t.Errorf("Expected ErrConfigParseError, got %v", err)
	}
	if _, err := loader.LoadFromFile(writeFile(t, dir, "bad.yaml", "transport:\n  mode: carrier-pigeon\n")); !errors.Is(err, ErrInvalidTransportMode) {
		t.Errorf("Expected ErrInvalidTransportMode, got %v", err)
	}
}

// TestEnvironmentOverrides tests environment variable overrides
func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("PRAAS_APP_NAME", "env-test-app")
	t.Setenv("PRAAS_PROCESS_ID", "env-process")
	t.Setenv("PRAAS_TRANSPORT_MODE", "TCP")
	t.Setenv("PRAAS_TRANSPORT_PORT", "7777")
	t.Setenv("PRAAS_TRANSPORT_PEERS", "a=127.0.0.1:1, b=127.0.0.1:2")
	t.Setenv("PRAAS_LOG_LEVEL", "error")
	t.Setenv("PRAAS_INVOKE_TIMEOUT", "1500ms")
	t.Setenv("PRAAS_INVOKE_MAX_DEPTH", "4")

	yamlFile := writeFile(t, t.TempDir(), "env.yaml", `
app:
  name: base-app
process:
  id: file-process
log:
  level: info
`)

	config, err := NewLoader().LoadFromFile(yamlFile)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.App.Name != "env-test-app" {
		t.Errorf("Expected app name 'env-test-app', got '%s'", config.App.Name)
	}
	if config.Process.ID != "env-process" {
		t.Errorf("Expected process id override, got %s", config.Process.ID)
	}
	if config.Transport.Mode != TransportTCP || config.Transport.Port != 7777 {
		t.Errorf("Unexpected transport overrides: %+v", config.Transport)
	}
	if len(config.Transport.Peers) != 2 || config.Transport.Peers["b"] != "127.0.0.1:2" {
		t.Errorf("Unexpected peers: %v", config.Transport.Peers)
	}
	if config.Log.Level != LogLevelError {
		t.Errorf("Expected log level error, got %v", config.Log.Level)
	}
	if config.Invoke.Timeout != 1500*time.Millisecond || config.Invoke.MaxDepth != 4 {
		t.Errorf("Unexpected invoke overrides: %+v", config.Invoke)
	}
}

func TestEnvironmentOverrideErrors(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"port", "PRAAS_TRANSPORT_PORT", "http"},
		{"port range", "PRAAS_TRANSPORT_PORT", "99999"},
		{"peers", "PRAAS_TRANSPORT_PEERS", "a"},
		{"timeout", "PRAAS_INVOKE_TIMEOUT", "soon"},
		{"depth", "PRAAS_INVOKE_MAX_DEPTH", "deep"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := NewLoader().Load("")
			if !errors.Is(err, ErrEnvironmentVarError) {
				t.Fatalf("Expected ErrEnvironmentVarError, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.key) {
				t.Errorf("Expected error to name %s, got %v", tt.key, err)
			}
		})
	}
}

func TestMergeDoesNotShareDefaults(t *testing.T) {
	defaults := DefaultConfig()
	loader := NewLoader().SetDefaultConfig(defaults)

	config, err := loader.LoadFromReader(strings.NewReader(`{"custom": {"greeting": "hi"}}`), FormatJSON)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if config.Custom["greeting"] != "hi" {
		t.Errorf("Expected custom value, got %v", config.Custom)
	}
	if _, leaked := defaults.Custom["greeting"]; leaked {
		t.Error("Merge wrote into the default config")
	}
}

// TestAutoLoad tests automatic configuration discovery
func TestAutoLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "praas.yaml", `
app:
  name: auto-load-app
`)

	config, err := NewLoader().SetSearchPaths([]string{t.TempDir(), dir}).AutoLoad()
	if err != nil {
		t.Fatalf("Failed to auto-load config: %v", err)
	}
	if config.App.Name != "auto-load-app" {
		t.Errorf("Expected app name 'auto-load-app', got '%s'", config.App.Name)
	}

	config, err = NewLoader().SetSearchPaths([]string{t.TempDir()}).AutoLoad()
	if err != nil {
		t.Fatalf("Expected defaults when nothing is found, got %v", err)
	}
	if config.App.Name != "praas-app" {
		t.Errorf("Expected default app name, got %s", config.App.Name)
	}
}

// TestWatcher tests configuration file watching
func TestWatcher(t *testing.T) {
	configFile := writeFile(t, t.TempDir(), "watch.yaml", `
app:
  name: watch-test-app
log:
  level: info
`)

	watcher, err := NewWatcher(configFile, NewLoader(), WithDebounce(20*time.Millisecond))
	if err != nil {
		t.Fatalf("Failed to create watcher: %v", err)
	}
	defer watcher.Stop()

	if level := watcher.GetConfig().Log.Level; level != LogLevelInfo {
		t.Errorf("Expected initial level info, got %s", level)
	}

	changeDetected := make(chan *Config, 1)
	watcher.OnConfigChange(func(oldConfig, newConfig *Config) {
		if oldConfig.Log.Level == LogLevelInfo && newConfig.Log.Level == LogLevelDebug {
			select {
			case changeDetected <- newConfig:
			default:
			}
		}
	})

	if err := watcher.Start(); err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	writeFile(t, filepath.Dir(configFile), "watch.yaml", `
app:
  name: watch-test-app
log:
  level: debug
`)

	select {
	case <-changeDetected:
		if level := watcher.GetConfig().Log.Level; level != LogLevelDebug {
			t.Errorf("Watcher kept level %s after reload", level)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Configuration change was not detected within timeout")
	}
}

func TestWatcherReloadKeepsConfigOnError(t *testing.T) {
	configFile := writeFile(t, t.TempDir(), "reload.yaml", "app:\n  name: before\n")

	watcher, err := NewWatcher(configFile, nil)
	if err != nil {
		t.Fatalf("Failed to create watcher: %v", err)
	}
	defer watcher.Stop()

	writeFile(t, filepath.Dir(configFile), "reload.yaml", "log:\n  level: nope\n")
	if err := watcher.Reload(); !errors.Is(err, ErrInvalidLogLevel) {
		t.Fatalf("Expected ErrInvalidLogLevel, got %v", err)
	}
	if watcher.GetConfig().App.Name != "before" {
		t.Errorf("Expected previous config to be kept, got %s", watcher.GetConfig().App.Name)
	}

	if err := watcher.Stop(); err != nil {
		t.Errorf("Stop returned %v", err)
	}
}
