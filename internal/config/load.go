package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	DefaultHost                    = "127.0.0.1"
	DefaultPort                    = 9527
	DefaultMaxAge                  = 600
	DefaultDirIcon                 = "folder"
	DefaultFileIcon                = "file"
	DefaultMetricsPath             = "/metrics"
	DefaultGracefulShutdownTimeout = 10 * time.Second
)

// DefaultCompressExtensions lists the extensions compressed on the fly.
var DefaultCompressExtensions = []string{"html", "js", "css", "md"}

// ConfigError describes a problem with a configuration file or value.
type ConfigError struct {
	FilePath string
	Message  string
	Err      error
}

func (e *ConfigError) Error() string {
	var sb strings.Builder
	sb.WriteString("config")
	if e.FilePath != "" {
		sb.WriteString(" ")
		sb.WriteString(e.FilePath)
	}
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *ConfigError) Unwrap() error { return e.Err }

// LoadConfig reads, parses, defaults and validates the configuration file at path.
func LoadConfig(path string) (*Config, error) {
	cfg, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	if err := ApplyDefaults(cfg); err != nil {
		return nil, &ConfigError{FilePath: path, Message: "failed to apply defaults", Err: err}
	}
	if err := Validate(cfg); err != nil {
		var ce *ConfigError
		if errors.As(err, &ce) && ce.FilePath == "" {
			ce.FilePath = path
		}
		return nil, err
	}
	return cfg, nil
}

// ParseFile reads and decodes the configuration file at path without applying
// defaults, so callers can layer command-line overrides on top.
// The format is chosen from the extension (.json, .toml, .yaml, .yml); other
// extensions are tried as JSON, then TOML, then YAML. Relative paths inside the
// file are resolved against the file's directory.
func ParseFile(path string) (*Config, error) {
	if path == "" {
		return nil, &ConfigError{Message: "configuration file path cannot be empty"}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{FilePath: path, Message: "failed to read configuration file", Err: err}
	}

	cfg, err := parse(data, strings.ToLower(filepath.Ext(path)))
	if err != nil {
		return nil, &ConfigError{FilePath: path, Message: "failed to parse configuration file", Err: err}
	}

	resolveRelativePaths(cfg, filepath.Dir(path))
	return cfg, nil
}

func parse(data []byte, ext string) (*Config, error) {
	cfg := &Config{}
	switch ext {
	case ".json":
		return cfg, decodeJSON(data, cfg)
	case ".toml":
		_, err := toml.Decode(string(data), cfg)
		return cfg, err
	case ".yaml", ".yml":
		return cfg, yaml.Unmarshal(data, cfg)
	}

	// Auto-detect.
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if err := decodeJSON(data, cfg); err == nil {
			return cfg, nil
		}
	}
	cfg = &Config{}
	if _, err := toml.Decode(string(data), cfg); err == nil {
		return cfg, nil
	}
	cfg = &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("content is not valid JSON, TOML or YAML: %w", err)
	}
	return cfg, nil
}

func decodeJSON(data []byte, cfg *Config) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(cfg)
}

// resolveRelativePaths makes file paths in the configuration relative to the
// directory holding the configuration file.
func resolveRelativePaths(cfg *Config, baseDir string) {
	if cfg.Static == nil {
		return
	}
	if cfg.Static.Root != "" && !filepath.IsAbs(cfg.Static.Root) {
		cfg.Static.Root = filepath.Join(baseDir, cfg.Static.Root)
	}
	if cfg.Static.MimeTypesPath != "" && !filepath.IsAbs(cfg.Static.MimeTypesPath) {
		cfg.Static.MimeTypesPath = filepath.Join(baseDir, cfg.Static.MimeTypesPath)
	}
}

// ApplyDefaults fills every unset field. It is safe to call on an empty Config.
func ApplyDefaults(cfg *Config) error {
	if cfg.Server == nil {
		cfg.Server = &ServerConfig{}
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = DefaultHost
	}
	if cfg.Server.Port == nil {
		p := DefaultPort
		cfg.Server.Port = &p
	}
	if cfg.Server.GracefulShutdownTimeout == "" {
		cfg.Server.GracefulShutdownTimeout = DefaultGracefulShutdownTimeout.String()
	}

	if cfg.Static == nil {
		cfg.Static = &StaticConfig{}
	}
	if cfg.Static.Root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("cannot determine working directory for default root: %w", err)
		}
		cfg.Static.Root = wd
	}
	root, err := filepath.Abs(cfg.Static.Root)
	if err != nil {
		return fmt.Errorf("cannot make root %q absolute: %w", cfg.Static.Root, err)
	}
	cfg.Static.Root = filepath.Clean(root)
	if cfg.Static.MaxAge == nil {
		m := DefaultMaxAge
		cfg.Static.MaxAge = &m
	}
	if cfg.Static.CompressExtensions == nil {
		cfg.Static.CompressExtensions = append([]string(nil), DefaultCompressExtensions...)
	}
	if cfg.Static.DirIcon == "" {
		cfg.Static.DirIcon = DefaultDirIcon
	}
	if cfg.Static.FileIcon == "" {
		cfg.Static.FileIcon = DefaultFileIcon
	}

	if cfg.Logging == nil {
		cfg.Logging = &LoggingConfig{}
	}
	if cfg.Logging.LogLevel == "" {
		cfg.Logging.LogLevel = LogLevelInfo
	}
	if cfg.Logging.AccessLog == nil {
		cfg.Logging.AccessLog = &AccessLogConfig{}
	}
	if cfg.Logging.AccessLog.Enabled == nil {
		enabled := true
		cfg.Logging.AccessLog.Enabled = &enabled
	}
	if cfg.Logging.AccessLog.Target == "" {
		cfg.Logging.AccessLog.Target = "stdout"
	}
	if cfg.Logging.AccessLog.Format == "" {
		cfg.Logging.AccessLog.Format = "json"
	}
	if cfg.Logging.ErrorLog == nil {
		cfg.Logging.ErrorLog = &ErrorLogConfig{}
	}
	if cfg.Logging.ErrorLog.Target == "" {
		cfg.Logging.ErrorLog.Target = "stderr"
	}
	if cfg.Logging.ErrorLog.Format == "" {
		cfg.Logging.ErrorLog.Format = "json"
	}

	if cfg.Metrics == nil {
		cfg.Metrics = &MetricsConfig{}
	}
	if cfg.Metrics.Enabled == nil {
		disabled := false
		cfg.Metrics.Enabled = &disabled
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}

	if cfg.Routing == nil {
		cfg.Routing = &RoutingConfig{}
	}
	if len(cfg.Routing.Routes) == 0 {
		cfg.Routing.Routes = DefaultRoutes(cfg)
	}
	return nil
}

// DefaultRoutes mounts the static server at "/" and, when enabled, the metrics
// endpoint at its exact path.
func DefaultRoutes(cfg *Config) []Route {
	routes := []Route{{
		PathPattern: "/",
		MatchType:   MatchTypePrefix,
		HandlerType: HandlerTypeStaticFileServer,
	}}
	if cfg.MetricsEnabled() {
		routes = append(routes, Route{
			PathPattern: cfg.Metrics.Path,
			MatchType:   MatchTypeExact,
			HandlerType: HandlerTypeMetrics,
		})
	}
	return routes
}

// Validate checks a defaulted configuration.
func Validate(cfg *Config) error {
	if cfg.Server == nil || cfg.Static == nil || cfg.Logging == nil || cfg.Metrics == nil || cfg.Routing == nil {
		return &ConfigError{Message: "configuration has not been defaulted"}
	}

	if port := *cfg.Server.Port; port < 0 || port > 65535 {
		return &ConfigError{Message: fmt.Sprintf("server.port %d out of range", port)}
	}
	if cfg.Server.MaxConnections < 0 {
		return &ConfigError{Message: "server.max_connections cannot be negative"}
	}
	if d, err := time.ParseDuration(cfg.Server.GracefulShutdownTimeout); err != nil {
		return &ConfigError{Message: "server.graceful_shutdown_timeout is not a duration", Err: err}
	} else if d < 0 {
		return &ConfigError{Message: "server.graceful_shutdown_timeout cannot be negative"}
	}

	fi, err := os.Stat(cfg.Static.Root)
	if err != nil {
		return &ConfigError{Message: fmt.Sprintf("static.root %q is not accessible", cfg.Static.Root), Err: err}
	}
	if !fi.IsDir() {
		return &ConfigError{Message: fmt.Sprintf("static.root %q is not a directory", cfg.Static.Root)}
	}
	if *cfg.Static.MaxAge < 0 {
		return &ConfigError{Message: "static.max_age cannot be negative"}
	}
	for _, ext := range cfg.Static.CompressExtensions {
		if ext == "" || strings.ContainsAny(ext, "./") {
			return &ConfigError{Message: fmt.Sprintf("static.compress entry %q must be a bare extension like \"html\"", ext)}
		}
	}
	for ext, mimeType := range cfg.Static.MimeTypes {
		if !strings.HasPrefix(ext, ".") {
			return &ConfigError{Message: fmt.Sprintf("static.mime_types key %q must start with a '.'", ext)}
		}
		if mimeType == "" {
			return &ConfigError{Message: fmt.Sprintf("static.mime_types value for %q cannot be empty", ext)}
		}
	}

	switch cfg.Logging.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
	default:
		return &ConfigError{Message: fmt.Sprintf("logging.log_level %q is not one of DEBUG, INFO, WARNING, ERROR", cfg.Logging.LogLevel)}
	}
	if err := validateTarget("logging.access_log", cfg.Logging.AccessLog.Target, cfg.Logging.AccessLog.Format); err != nil {
		return err
	}
	if err := validateTarget("logging.error_log", cfg.Logging.ErrorLog.Target, cfg.Logging.ErrorLog.Format); err != nil {
		return err
	}
	for _, p := range cfg.Logging.AccessLog.TrustedProxies {
		p = strings.TrimSpace(p)
		if strings.Contains(p, "/") {
			if _, _, err := net.ParseCIDR(p); err != nil {
				return &ConfigError{Message: fmt.Sprintf("logging.access_log.trusted_proxies entry %q is not a CIDR", p), Err: err}
			}
		} else if net.ParseIP(p) == nil {
			return &ConfigError{Message: fmt.Sprintf("logging.access_log.trusted_proxies entry %q is not an IP", p)}
		}
	}

	if !strings.HasPrefix(cfg.Metrics.Path, "/") || cfg.Metrics.Path == "/" {
		return &ConfigError{Message: fmt.Sprintf("metrics.path %q must be an absolute path other than \"/\"", cfg.Metrics.Path)}
	}

	for i, r := range cfg.Routing.Routes {
		if !strings.HasPrefix(r.PathPattern, "/") {
			return &ConfigError{Message: fmt.Sprintf("routing.routes[%d].path_pattern %q must start with '/'", i, r.PathPattern)}
		}
		if r.MatchType != MatchTypeExact && r.MatchType != MatchTypePrefix {
			return &ConfigError{Message: fmt.Sprintf("routing.routes[%d].match_type %q must be Exact or Prefix", i, r.MatchType)}
		}
		if r.HandlerType == "" {
			return &ConfigError{Message: fmt.Sprintf("routing.routes[%d].handler_type cannot be empty", i)}
		}
	}
	return nil
}

func validateTarget(section, target, format string) error {
	if IsFilePath(target) && !filepath.IsAbs(target) {
		return &ConfigError{Message: fmt.Sprintf("%s.target %q must be stdout, stderr or an absolute path", section, target)}
	}
	if format != "json" && format != "console" {
		return &ConfigError{Message: fmt.Sprintf("%s.format %q must be json or console", section, format)}
	}
	return nil
}
