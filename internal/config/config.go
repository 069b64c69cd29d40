package config

import (
	"net"
	"strconv"
	"time"
)

// MatchType defines how a path pattern is interpreted.
type MatchType string

const (
	// MatchTypeExact matches the path exactly.
	MatchTypeExact MatchType = "Exact"
	// MatchTypePrefix matches any path starting with the prefix.
	MatchTypePrefix MatchType = "Prefix"
)

// LogLevel defines the minimum severity for error logs.
type LogLevel string

const (
	LogLevelDebug   LogLevel = "DEBUG"
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARNING"
	LogLevelError   LogLevel = "ERROR"
)

// Handler types understood by the server's handler registry.
const (
	HandlerTypeStaticFileServer = "StaticFileServer"
	HandlerTypeMetrics          = "Metrics"
)

// Config is the top-level configuration structure for the server.
// It is built once at startup and never mutated afterwards.
type Config struct {
	Server  *ServerConfig  `json:"server,omitempty" toml:"server,omitempty" yaml:"server,omitempty"`
	Static  *StaticConfig  `json:"static,omitempty" toml:"static,omitempty" yaml:"static,omitempty"`
	Routing *RoutingConfig `json:"routing,omitempty" toml:"routing,omitempty" yaml:"routing,omitempty"`
	Logging *LoggingConfig `json:"logging,omitempty" toml:"logging,omitempty" yaml:"logging,omitempty"`
	Metrics *MetricsConfig `json:"metrics,omitempty" toml:"metrics,omitempty" yaml:"metrics,omitempty"`
}

// ServerConfig holds listener and lifecycle settings.
type ServerConfig struct {
	Host                    string `json:"host,omitempty" toml:"host,omitempty" yaml:"host,omitempty"`
	Port                    *int   `json:"port,omitempty" toml:"port,omitempty" yaml:"port,omitempty"`
	MaxConnections          int    `json:"max_connections,omitempty" toml:"max_connections,omitempty" yaml:"max_connections,omitempty"`
	GracefulShutdownTimeout string `json:"graceful_shutdown_timeout,omitempty" toml:"graceful_shutdown_timeout,omitempty" yaml:"graceful_shutdown_timeout,omitempty"` // e.g., "10s"
}

// StaticConfig configures the static content pipeline.
type StaticConfig struct {
	Root               string            `json:"root,omitempty" toml:"root,omitempty" yaml:"root,omitempty"`
	MaxAge             *int              `json:"max_age,omitempty" toml:"max_age,omitempty" yaml:"max_age,omitempty"` // seconds
	CompressExtensions []string          `json:"compress,omitempty" toml:"compress,omitempty" yaml:"compress,omitempty"`
	DirIcon            string            `json:"dir_icon,omitempty" toml:"dir_icon,omitempty" yaml:"dir_icon,omitempty"`
	FileIcon           string            `json:"file_icon,omitempty" toml:"file_icon,omitempty" yaml:"file_icon,omitempty"`
	MimeTypes          map[string]string `json:"mime_types,omitempty" toml:"mime_types,omitempty" yaml:"mime_types,omitempty"`
	MimeTypesPath      string            `json:"mime_types_path,omitempty" toml:"mime_types_path,omitempty" yaml:"mime_types_path,omitempty"`
}

// RoutingConfig contains the list of routes.
type RoutingConfig struct {
	Routes []Route `json:"routes,omitempty" toml:"routes,omitempty" yaml:"routes,omitempty"`
}

// Route defines a single routing rule.
type Route struct {
	PathPattern string    `json:"path_pattern" toml:"path_pattern" yaml:"path_pattern"`
	MatchType   MatchType `json:"match_type" toml:"match_type" yaml:"match_type"`
	HandlerType string    `json:"handler_type" toml:"handler_type" yaml:"handler_type"`
}

// LoggingConfig holds logging configurations.
type LoggingConfig struct {
	LogLevel  LogLevel         `json:"log_level,omitempty" toml:"log_level,omitempty" yaml:"log_level,omitempty"`
	AccessLog *AccessLogConfig `json:"access_log,omitempty" toml:"access_log,omitempty" yaml:"access_log,omitempty"`
	ErrorLog  *ErrorLogConfig  `json:"error_log,omitempty" toml:"error_log,omitempty" yaml:"error_log,omitempty"`
}

// AccessLogConfig configures access logging.
type AccessLogConfig struct {
	Enabled        *bool    `json:"enabled,omitempty" toml:"enabled,omitempty" yaml:"enabled,omitempty"`
	Target         string   `json:"target,omitempty" toml:"target,omitempty" yaml:"target,omitempty"`
	Format         string   `json:"format,omitempty" toml:"format,omitempty" yaml:"format,omitempty"`
	TrustedProxies []string `json:"trusted_proxies,omitempty" toml:"trusted_proxies,omitempty" yaml:"trusted_proxies,omitempty"`
	RealIPHeader   *string  `json:"real_ip_header,omitempty" toml:"real_ip_header,omitempty" yaml:"real_ip_header,omitempty"`
}

// ErrorLogConfig configures error logging.
type ErrorLogConfig struct {
	Target string `json:"target,omitempty" toml:"target,omitempty" yaml:"target,omitempty"`
	Format string `json:"format,omitempty" toml:"format,omitempty" yaml:"format,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled *bool  `json:"enabled,omitempty" toml:"enabled,omitempty" yaml:"enabled,omitempty"`
	Path    string `json:"path,omitempty" toml:"path,omitempty" yaml:"path,omitempty"`
}

// Address returns the host:port the server listens on.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(*c.Server.Port))
}

// MaxAgeDuration returns the cache lifetime advertised for served files.
func (s *StaticConfig) MaxAgeDuration() time.Duration {
	if s.MaxAge == nil {
		return DefaultMaxAge * time.Second
	}
	return time.Duration(*s.MaxAge) * time.Second
}

// ShutdownTimeout returns the parsed graceful shutdown timeout.
// Validate guarantees the string parses.
func (s *ServerConfig) ShutdownTimeout() time.Duration {
	d, err := time.ParseDuration(s.GracefulShutdownTimeout)
	if err != nil {
		return DefaultGracefulShutdownTimeout
	}
	return d
}

// MetricsEnabled reports whether the metrics route should be served.
func (c *Config) MetricsEnabled() bool {
	return c.Metrics != nil && c.Metrics.Enabled != nil && *c.Metrics.Enabled
}

// IsFilePath reports whether a log target names a file rather than a standard stream.
func IsFilePath(target string) bool {
	return target != "" && target != "stdout" && target != "stderr"
}
