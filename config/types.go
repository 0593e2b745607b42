// Package config provides configuration management for PraaS processes
package config

import (
	"net"
	"strconv"
	"strings"
	"time"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// String returns the string representation of Environment
func (e Environment) String() string {
	return string(e)
}

// IsValid checks if the environment is valid
func (e Environment) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvTesting, EnvStaging, EnvProduction:
		return true
	default:
		return false
	}
}

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
	LogLevelFatal LogLevel = "fatal"
)

// String returns the string representation of LogLevel
func (l LogLevel) String() string {
	return string(l)
}

// IsValid checks if the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelTrace, LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError, LogLevelFatal:
		return true
	default:
		return false
	}
}

// TransportMode selects how a process talks to the rest of the application.
type TransportMode string

const (
	// TransportLocal attaches the process to an in-process hub.
	TransportLocal TransportMode = "local"
	// TransportTCP serves and dials peers over framed TCP.
	TransportTCP TransportMode = "tcp"
)

// String returns the string representation of TransportMode
func (m TransportMode) String() string {
	return string(m)
}

// IsValid checks if the transport mode is known
func (m TransportMode) IsValid() bool {
	switch m {
	case TransportLocal, TransportTCP:
		return true
	default:
		return false
	}
}

// Config represents the complete process configuration
type Config struct {
	// Application configuration
	App AppConfig `yaml:"app" json:"app"`

	// Logging configuration
	Log LogConfig `yaml:"log" json:"log"`

	// Process identity and code locations
	Process ProcessConfig `yaml:"process" json:"process"`

	// Transport configuration
	Transport TransportConfig `yaml:"transport" json:"transport"`

	// Invocation limits
	Invoke InvokeConfig `yaml:"invoke" json:"invoke"`

	// Custom configurations (passed through to handlers untouched)
	Custom map[string]interface{} `yaml:"custom,omitempty" json:"custom,omitempty"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	// Application name
	Name string `yaml:"name" json:"name"`

	// Application version
	Version string `yaml:"version" json:"version"`

	// Deployment environment
	Environment Environment `yaml:"environment" json:"environment"`

	// Debug mode
	Debug bool `yaml:"debug" json:"debug"`

	// Application metadata
	Metadata map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	// Log level
	Level LogLevel `yaml:"level" json:"level"`

	// Log format (json, text)
	Format string `yaml:"format" json:"format"`

	// Output destination (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`

	// Attributes added to every record
	Fields map[string]interface{} `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// ProcessConfig identifies the process and where its functions come from.
type ProcessConfig struct {
	// Process identifier, unique within the application
	ID string `yaml:"id" json:"id"`

	// Directory holding the function code
	CodeLocation string `yaml:"code_location" json:"code_location"`

	// Path of the function manifest
	ManifestLocation string `yaml:"manifest_location" json:"manifest_location"`

	// Default capacity of a fresh output buffer
	OutputBufferSize int `yaml:"output_buffer_size" json:"output_buffer_size"`

	// Distinct mailbox keys the lookup filter is first sized for
	MailboxKeys int `yaml:"mailbox_keys" json:"mailbox_keys"`
}

// TransportConfig contains transport settings
type TransportConfig struct {
	// local or tcp
	Mode TransportMode `yaml:"mode" json:"mode"`

	// Channel name; in tcp mode a host:port overriding Address and Port
	Name string `yaml:"name" json:"name"`

	// Listening address
	Address string `yaml:"address" json:"address"`

	// Listening port, 0 picks a free one
	Port int `yaml:"port" json:"port"`

	// Address announced to peers, defaults to the bound one
	Advertise string `yaml:"advertise,omitempty" json:"advertise,omitempty"`

	// Known peers: process id to host:port
	Peers map[string]string `yaml:"peers,omitempty" json:"peers,omitempty"`

	// Payload encoding (json, msgpack)
	Encoding string `yaml:"encoding" json:"encoding"`

	// Payload compression ("" or zstd)
	Compression string `yaml:"compression,omitempty" json:"compression,omitempty"`

	// Maximum concurrent inbound connections, 0 is unlimited
	MaxConnections int `yaml:"max_connections" json:"max_connections"`

	// Timeouts
	Timeouts TimeoutConfig `yaml:"timeouts" json:"timeouts"`

	// Outbound put rate limit per target
	PutLimit RateLimitConfig `yaml:"put_limit" json:"put_limit"`

	// Circuit breaker per target
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" json:"circuit_breaker"`
}

// TimeoutConfig contains timeout settings
type TimeoutConfig struct {
	// Read timeout, 0 disables it
	Read time.Duration `yaml:"read" json:"read"`

	// Write timeout
	Write time.Duration `yaml:"write" json:"write"`

	// Dial timeout
	Dial time.Duration `yaml:"dial" json:"dial"`
}

// RateLimitConfig contains token bucket settings
type RateLimitConfig struct {
	// Tokens added per Interval, 0 disables limiting
	Rate int64 `yaml:"rate" json:"rate"`

	// Bucket size
	Burst int64 `yaml:"burst" json:"burst"`

	// Refill interval
	Interval time.Duration `yaml:"interval" json:"interval"`
}

// CircuitBreakerConfig contains circuit breaker settings
type CircuitBreakerConfig struct {
	// Consecutive failures that open the breaker
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`

	// Requests allowed through while half-open
	MaxRequests int `yaml:"max_requests" json:"max_requests"`

	// Counter reset period while closed
	Interval time.Duration `yaml:"interval" json:"interval"`

	// Timeout for open state
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// InvokeConfig bounds invocations.
type InvokeConfig struct {
	// Wait limit for a remote invocation result
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// Maximum self-invoke nesting, 0 is unbounded
	MaxDepth int `yaml:"max_depth" json:"max_depth"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "praas-app",
			Version:     "1.0.0",
			Environment: EnvDevelopment,
		},
		Log: LogConfig{
			Level:  LogLevelInfo,
			Format: "text",
			Output: "stderr",
		},
		Process: ProcessConfig{
			OutputBufferSize: 5 * 1024 * 1024,
			MailboxKeys:      10000,
		},
		Transport: TransportConfig{
			Mode:     TransportLocal,
			Address:  "127.0.0.1",
			Port:     0,
			Encoding: "msgpack",
			Timeouts: TimeoutConfig{
				Write: 10 * time.Second,
				Dial:  5 * time.Second,
			},
			PutLimit: RateLimitConfig{
				Rate:     0,
				Burst:    0,
				Interval: time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				MaxRequests:      1,
				Interval:         time.Minute,
				Timeout:          10 * time.Second,
			},
		},
		Invoke: InvokeConfig{
			Timeout:  30 * time.Second,
			MaxDepth: 0,
		},
		Custom: make(map[string]interface{}),
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate app config
	if c.App.Name == "" {
		return ErrInvalidAppName
	}
	if !c.App.Environment.IsValid() {
		return ErrInvalidEnvironment
	}

	// Validate log config
	if !c.Log.Level.IsValid() {
		return ErrInvalidLogLevel
	}

	if c.Process.OutputBufferSize < 0 {
		return ErrInvalidBufferSize
	}
	if c.Process.MailboxKeys < 0 {
		return ErrInvalidMailboxKeys
	}

	// Validate transport config
	if !c.Transport.Mode.IsValid() {
		return ErrInvalidTransportMode
	}
	if c.Transport.Port < 0 || c.Transport.Port > 65535 {
		return ErrInvalidPort
	}
	if c.Transport.MaxConnections < 0 {
		return ErrInvalidMaxConnections
	}
	if c.Transport.PutLimit.Rate < 0 || c.Transport.PutLimit.Burst < 0 {
		return ErrInvalidRateLimit
	}

	// Validate invoke config
	if c.Invoke.Timeout <= 0 {
		return ErrInvalidInvokeTimeout
	}
	if c.Invoke.MaxDepth < 0 {
		return ErrInvalidMaxDepth
	}

	return nil
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// GetLogLevel returns the log level
func (c *Config) GetLogLevel() LogLevel {
	return c.Log.Level
}

// IsDebugEnabled returns true if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.App.Environment == EnvDevelopment
}

// ListenAddress returns the address the TCP transport binds. A Name holding
// a host:port wins over Address and Port.
func (c *Config) ListenAddress() string {
	if c.Transport.Name != "" && strings.Contains(c.Transport.Name, ":") {
		return c.Transport.Name
	}
	return net.JoinHostPort(c.Transport.Address, strconv.Itoa(c.Transport.Port))
}
