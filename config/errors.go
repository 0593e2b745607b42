package config

import "errors"

// Configuration validation errors
var (
	ErrInvalidAppName        = errors.New("invalid application name")
	ErrInvalidEnvironment    = errors.New("invalid environment")
	ErrInvalidLogLevel       = errors.New("invalid log level")
	ErrInvalidBufferSize     = errors.New("invalid output buffer size")
	ErrInvalidTransportMode  = errors.New("invalid transport mode")
	ErrInvalidPort           = errors.New("invalid port number")
	ErrInvalidMaxConnections = errors.New("invalid max connections")
	ErrInvalidRateLimit      = errors.New("invalid put rate limit")
	ErrInvalidInvokeTimeout  = errors.New("invalid invoke timeout")
	ErrInvalidMaxDepth       = errors.New("invalid max invoke depth")
	ErrInvalidMailboxKeys    = errors.New("invalid mailbox key estimate")
)

// Configuration loading errors
var (
	ErrConfigFileNotFound  = errors.New("configuration file not found")
	ErrConfigParseError    = errors.New("configuration parse error")
	ErrEnvironmentVarError = errors.New("environment variable error")
	ErrUnsupportedFormat   = errors.New("unsupported configuration format")
)
