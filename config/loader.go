package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFormat represents the configuration file format
type ConfigFormat string

const (
	FormatYAML ConfigFormat = "yaml"
	FormatJSON ConfigFormat = "json"
)

// DefaultEnvPrefix prefixes every environment override.
const DefaultEnvPrefix = "PRAAS"

// Loader handles configuration loading from various sources
type Loader struct {
	// Configuration search paths
	searchPaths []string

	// Environment variable prefix
	envPrefix string

	// Default configuration
	defaultConfig *Config
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	paths := []string{
		".",
		"./config",
		"./configs",
		"/etc/praas",
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".praas"))
	}
	return &Loader{
		searchPaths:   paths,
		envPrefix:     DefaultEnvPrefix,
		defaultConfig: DefaultConfig(),
	}
}

// SetSearchPaths sets the configuration file search paths
func (l *Loader) SetSearchPaths(paths []string) *Loader {
	l.searchPaths = paths
	return l
}

// SetEnvPrefix sets the environment variable prefix
func (l *Loader) SetEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// SetDefaultConfig sets the default configuration
func (l *Loader) SetDefaultConfig(config *Config) *Loader {
	l.defaultConfig = config
	return l
}

// Load loads configuration from the specified file. An empty filename
// yields the defaults with environment overrides applied.
func (l *Loader) Load(filename string) (*Config, error) {
	if filename == "" {
		return l.finish(l.defaults())
	}
	config, err := l.loadFromFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from file %s: %w", filename, err)
	}
	return config, nil
}

// LoadFromFile loads configuration from a specific file
func (l *Loader) LoadFromFile(filename string) (*Config, error) {
	return l.loadFromFile(filename)
}

// LoadFromReader loads configuration from an io.Reader
func (l *Loader) LoadFromReader(reader io.Reader, format ConfigFormat) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration data: %w", err)
	}

	config, err := l.parseConfig(data, format)
	if err != nil {
		return nil, err
	}
	return l.finish(l.mergeConfig(l.defaults(), config))
}

// AutoLoad automatically discovers and loads configuration
func (l *Loader) AutoLoad() (*Config, error) {
	configFile, _, err := l.findConfigFile()
	if errors.Is(err, ErrConfigFileNotFound) {
		return l.finish(l.defaults())
	}
	if err != nil {
		return nil, err
	}
	return l.loadFromFile(configFile)
}

func (l *Loader) defaults() *Config {
	if l.defaultConfig == nil {
		return DefaultConfig()
	}
	return l.defaultConfig
}

// finish applies environment overrides and validates.
func (l *Loader) finish(config *Config) (*Config, error) {
	merged := l.mergeConfig(config, &Config{})
	if err := l.loadFromEnv(merged); err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}
	if err := merged.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return merged, nil
}

// findConfigFile searches for configuration files in search paths
func (l *Loader) findConfigFile() (string, ConfigFormat, error) {
	filenames := []string{
		"praas.yaml", "praas.yml",
		"config.yaml", "config.yml",
		"praas.json", "config.json",
	}

	for _, searchPath := range l.searchPaths {
		for _, filename := range filenames {
			fullPath := filepath.Join(searchPath, filename)
			if _, err := os.Stat(fullPath); err == nil {
				format, err := formatOf(filename)
				if err != nil {
					continue
				}
				return fullPath, format, nil
			}
		}
	}

	return "", "", ErrConfigFileNotFound
}

func formatOf(filename string) (ConfigFormat, error) {
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// loadFromFile loads configuration from a file
func (l *Loader) loadFromFile(filename string) (*Config, error) {
	format, err := formatOf(filename)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigFileNotFound, filename)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config, err := l.parseConfig(data, format)
	if err != nil {
		return nil, err
	}

	// Merge with default config to fill missing fields
	return l.finish(l.mergeConfig(l.defaults(), config))
}

// parseConfig parses configuration data based on format
func (l *Loader) parseConfig(data []byte, format ConfigFormat) (*Config, error) {
	config := &Config{}

	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("%w: yaml: %w", ErrConfigParseError, err)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("%w: json: %w", ErrConfigParseError, err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	return config, nil
}

// loadFromEnv loads configuration overrides from environment variables
func (l *Loader) loadFromEnv(config *Config) error {
	env := func(name string) string {
		return os.Getenv(l.envPrefix + "_" + name)
	}

	// App configuration
	if val := env("APP_NAME"); val != "" {
		config.App.Name = val
	}
	if val := env("APP_VERSION"); val != "" {
		config.App.Version = val
	}
	if val := env("APP_ENVIRONMENT"); val != "" {
		config.App.Environment = Environment(val)
	}
	if val := env("APP_DEBUG"); val != "" {
		config.App.Debug = strings.ToLower(val) == "true"
	}

	// Log configuration
	if val := env("LOG_LEVEL"); val != "" {
		config.Log.Level = LogLevel(strings.ToLower(val))
	}
	if val := env("LOG_FORMAT"); val != "" {
		config.Log.Format = val
	}
	if val := env("LOG_OUTPUT"); val != "" {
		config.Log.Output = val
	}

	// Process configuration
	if val := env("PROCESS_ID"); val != "" {
		config.Process.ID = val
	}
	if val := env("PROCESS_CODE_LOCATION"); val != "" {
		config.Process.CodeLocation = val
	}
	if val := env("PROCESS_MANIFEST_LOCATION"); val != "" {
		config.Process.ManifestLocation = val
	}

	// Transport configuration
	if val := env("TRANSPORT_MODE"); val != "" {
		config.Transport.Mode = TransportMode(strings.ToLower(val))
	}
	if val := env("TRANSPORT_NAME"); val != "" {
		config.Transport.Name = val
	}
	if val := env("TRANSPORT_ADDRESS"); val != "" {
		config.Transport.Address = val
	}
	if val := env("TRANSPORT_PORT"); val != "" {
		port, err := parsePort(val)
		if err != nil {
			return fmt.Errorf("%w: %s_TRANSPORT_PORT: %w", ErrEnvironmentVarError, l.envPrefix, err)
		}
		config.Transport.Port = port
	}
	if val := env("TRANSPORT_ENCODING"); val != "" {
		config.Transport.Encoding = val
	}
	if val := env("TRANSPORT_PEERS"); val != "" {
		peers, err := parsePeers(val)
		if err != nil {
			return fmt.Errorf("%w: %s_TRANSPORT_PEERS: %w", ErrEnvironmentVarError, l.envPrefix, err)
		}
		config.Transport.Peers = peers
	}

	// Invoke configuration
	if val := env("INVOKE_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("%w: %s_INVOKE_TIMEOUT: %w", ErrEnvironmentVarError, l.envPrefix, err)
		}
		config.Invoke.Timeout = d
	}
	if val := env("INVOKE_MAX_DEPTH"); val != "" {
		depth, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%w: %s_INVOKE_MAX_DEPTH: %w", ErrEnvironmentVarError, l.envPrefix, err)
		}
		config.Invoke.MaxDepth = depth
	}

	return nil
}

// Helper function to parse port number
func parsePort(val string) (int, error) {
	port, err := strconv.Atoi(val)
	if err != nil {
		return 0, err
	}
	if port < 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port number: %d", port)
	}
	return port, nil
}

// parsePeers reads "id=host:port,id=host:port".
func parsePeers(val string) (map[string]string, error) {
	peers := make(map[string]string)
	for _, entry := range strings.Split(val, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, addr, ok := strings.Cut(entry, "=")
		if !ok || id == "" || addr == "" {
			return nil, fmt.Errorf("malformed peer %q", entry)
		}
		peers[id] = addr
	}
	return peers, nil
}

// mergeConfig merges user config with default config
func (l *Loader) mergeConfig(defaultConfig, userConfig *Config) *Config {
	// Start with default config
	merged := *defaultConfig
	merged.App.Metadata = maps.Clone(defaultConfig.App.Metadata)
	merged.Log.Fields = maps.Clone(defaultConfig.Log.Fields)
	merged.Transport.Peers = maps.Clone(defaultConfig.Transport.Peers)
	merged.Custom = maps.Clone(defaultConfig.Custom)

	// App config
	if userConfig.App.Name != "" {
		merged.App.Name = userConfig.App.Name
	}
	if userConfig.App.Version != "" {
		merged.App.Version = userConfig.App.Version
	}
	if userConfig.App.Environment != "" {
		merged.App.Environment = userConfig.App.Environment
	}
	if userConfig.App.Debug {
		merged.App.Debug = true
	}
	if userConfig.App.Metadata != nil {
		merged.App.Metadata = maps.Clone(userConfig.App.Metadata)
	}

	// Log config
	if userConfig.Log.Level != "" {
		merged.Log.Level = userConfig.Log.Level
	}
	if userConfig.Log.Format != "" {
		merged.Log.Format = userConfig.Log.Format
	}
	if userConfig.Log.Output != "" {
		merged.Log.Output = userConfig.Log.Output
	}
	if userConfig.Log.Fields != nil {
		merged.Log.Fields = maps.Clone(userConfig.Log.Fields)
	}

	// Process config
	if userConfig.Process.ID != "" {
		merged.Process.ID = userConfig.Process.ID
	}
	if userConfig.Process.CodeLocation != "" {
		merged.Process.CodeLocation = userConfig.Process.CodeLocation
	}
	if userConfig.Process.ManifestLocation != "" {
		merged.Process.ManifestLocation = userConfig.Process.ManifestLocation
	}
	if userConfig.Process.OutputBufferSize != 0 {
		merged.Process.OutputBufferSize = userConfig.Process.OutputBufferSize
	}
	if userConfig.Process.MailboxKeys != 0 {
		merged.Process.MailboxKeys = userConfig.Process.MailboxKeys
	}

	// Transport config
	ut := userConfig.Transport
	if ut.Mode != "" {
		merged.Transport.Mode = ut.Mode
	}
	if ut.Name != "" {
		merged.Transport.Name = ut.Name
	}
	if ut.Address != "" {
		merged.Transport.Address = ut.Address
	}
	if ut.Port != 0 {
		merged.Transport.Port = ut.Port
	}
	if ut.Advertise != "" {
		merged.Transport.Advertise = ut.Advertise
	}
	for id, addr := range ut.Peers {
		if merged.Transport.Peers == nil {
			merged.Transport.Peers = make(map[string]string)
		}
		merged.Transport.Peers[id] = addr
	}
	if ut.Encoding != "" {
		merged.Transport.Encoding = ut.Encoding
	}
	if ut.Compression != "" {
		merged.Transport.Compression = ut.Compression
	}
	if ut.MaxConnections != 0 {
		merged.Transport.MaxConnections = ut.MaxConnections
	}
	if ut.Timeouts.Read != 0 {
		merged.Transport.Timeouts.Read = ut.Timeouts.Read
	}
	if ut.Timeouts.Write != 0 {
		merged.Transport.Timeouts.Write = ut.Timeouts.Write
	}
	if ut.Timeouts.Dial != 0 {
		merged.Transport.Timeouts.Dial = ut.Timeouts.Dial
	}
	if ut.PutLimit.Rate != 0 {
		merged.Transport.PutLimit.Rate = ut.PutLimit.Rate
	}
	if ut.PutLimit.Burst != 0 {
		merged.Transport.PutLimit.Burst = ut.PutLimit.Burst
	}
	if ut.PutLimit.Interval != 0 {
		merged.Transport.PutLimit.Interval = ut.PutLimit.Interval
	}
	if ut.CircuitBreaker.FailureThreshold != 0 {
		merged.Transport.CircuitBreaker.FailureThreshold = ut.CircuitBreaker.FailureThreshold
	}
	if ut.CircuitBreaker.MaxRequests != 0 {
		merged.Transport.CircuitBreaker.MaxRequests = ut.CircuitBreaker.MaxRequests
	}
	if ut.CircuitBreaker.Interval != 0 {
		merged.Transport.CircuitBreaker.Interval = ut.CircuitBreaker.Interval
	}
	if ut.CircuitBreaker.Timeout != 0 {
		merged.Transport.CircuitBreaker.Timeout = ut.CircuitBreaker.Timeout
	}

	// Invoke config
	if userConfig.Invoke.Timeout != 0 {
		merged.Invoke.Timeout = userConfig.Invoke.Timeout
	}
	if userConfig.Invoke.MaxDepth != 0 {
		merged.Invoke.MaxDepth = userConfig.Invoke.MaxDepth
	}

	// Custom fields
	for k, v := range userConfig.Custom {
		if merged.Custom == nil {
			merged.Custom = make(map[string]interface{})
		}
		merged.Custom[k] = v
	}

	return &merged
}
