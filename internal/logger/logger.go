package logger

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"example.com/anywhere/internal/config"
)

// LogFields carries structured key/value pairs attached to a log entry.
type LogFields map[string]interface{}

// parsedProxiesContainer holds pre-parsed trusted proxy IP addresses and CIDR blocks.
type parsedProxiesContainer struct {
	cidrs []*net.IPNet
	ips   []net.IP
}

// AccessLogger writes one entry per completed request.
type AccessLogger struct {
	mu            sync.Mutex
	zl            zerolog.Logger
	config        config.AccessLogConfig
	output        io.WriteCloser
	parsedProxies parsedProxiesContainer
}

// ErrorLogger writes leveled diagnostic messages.
type ErrorLogger struct {
	mu     sync.Mutex
	zl     zerolog.Logger
	config config.ErrorLogConfig
	output io.WriteCloser
}

// Logger is a general logger that contains specific loggers for access and errors.
type Logger struct {
	accessLog *AccessLogger
	errorLog  *ErrorLogger
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// NewLogger creates and configures a new Logger instance.
func NewLogger(cfg *config.LoggingConfig) (*Logger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging configuration cannot be nil")
	}

	errCfg := config.ErrorLogConfig{Target: "stderr", Format: "json"}
	if cfg.ErrorLog != nil {
		errCfg = *cfg.ErrorLog
	}
	errorOutput, err := openTarget(errCfg.Target, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to open error log: %w", err)
	}

	l := &Logger{
		errorLog: &ErrorLogger{
			zl:     newZerolog(errorOutput, errCfg.Format).Level(toZerologLevel(cfg.LogLevel)),
			config: errCfg,
			output: errorOutput,
		},
	}

	if cfg.AccessLog != nil && (cfg.AccessLog.Enabled == nil || *cfg.AccessLog.Enabled) {
		parsedProxies, errP := preParseTrustedProxies(cfg.AccessLog.TrustedProxies)
		if errP != nil {
			l.CloseLogFiles()
			return nil, fmt.Errorf("failed to parse trusted proxies for access log: %w", errP)
		}
		accessOutput, errOpen := openTarget(cfg.AccessLog.Target, os.Stdout)
		if errOpen != nil {
			l.CloseLogFiles()
			return nil, fmt.Errorf("failed to open access log: %w", errOpen)
		}
		l.accessLog = &AccessLogger{
			zl:            newZerolog(accessOutput, cfg.AccessLog.Format),
			config:        *cfg.AccessLog,
			output:        accessOutput,
			parsedProxies: parsedProxies,
		}
	}

	return l, nil
}

// NewDiscardLogger returns a Logger that drops everything.
func NewDiscardLogger() *Logger {
	return &Logger{
		errorLog: &ErrorLogger{
			zl:     zerolog.Nop(),
			config: config.ErrorLogConfig{Target: "discard"},
			output: nopCloser{io.Discard},
		},
	}
}

// New builds a Logger writing error entries to errOut and, when accessOut is
// non-nil, access entries to accessOut. Both use the JSON format.
func New(level config.LogLevel, errOut, accessOut io.Writer) *Logger {
	l := &Logger{
		errorLog: &ErrorLogger{
			zl:     newZerolog(errOut, "json").Level(toZerologLevel(level)),
			config: config.ErrorLogConfig{Target: "writer", Format: "json"},
			output: nopCloser{errOut},
		},
	}
	if accessOut != nil {
		l.accessLog = &AccessLogger{
			zl:     newZerolog(accessOut, "json"),
			config: config.AccessLogConfig{Target: "writer", Format: "json"},
			output: nopCloser{accessOut},
		}
	}
	return l
}

func openTarget(target string, std *os.File) (io.WriteCloser, error) {
	switch target {
	case "":
		return std, nil
	case "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	f, err := os.OpenFile(target, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", target, err)
	}
	return f, nil
}

func newZerolog(w io.Writer, format string) zerolog.Logger {
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: true}
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

func toZerologLevel(level config.LogLevel) zerolog.Level {
	switch level {
	case config.LogLevelDebug:
		return zerolog.DebugLevel
	case config.LogLevelWarning:
		return zerolog.WarnLevel
	case config.LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// preParseTrustedProxies converts string representations of IPs and CIDRs
// into net.IP and *net.IPNet objects for efficient checking.
func preParseTrustedProxies(proxyStrings []string) (parsedProxiesContainer, error) {
	var container parsedProxiesContainer
	for _, pStr := range proxyStrings {
		pStr = strings.TrimSpace(pStr)
		if pStr == "" {
			continue
		}
		if strings.Contains(pStr, "/") {
			_, ipNet, err := net.ParseCIDR(pStr)
			if err != nil {
				return parsedProxiesContainer{}, fmt.Errorf("invalid CIDR string in trusted_proxies '%s': %w", pStr, err)
			}
			container.cidrs = append(container.cidrs, ipNet)
			continue
		}
		ip := net.ParseIP(pStr)
		if ip == nil {
			return parsedProxiesContainer{}, fmt.Errorf("invalid IP string in trusted_proxies '%s'", pStr)
		}
		container.ips = append(container.ips, ip)
	}
	return container, nil
}

func isIPTrusted(ip net.IP, trustedProxies parsedProxiesContainer) bool {
	if ip == nil {
		return false
	}
	for _, trustedCIDR := range trustedProxies.cidrs {
		if trustedCIDR.Contains(ip) {
			return true
		}
	}
	for _, trustedIP := range trustedProxies.ips {
		if trustedIP.Equal(ip) {
			return true
		}
	}
	return false
}

// getRealClientIP determines the client's address. When realIPHeaderName is
// set, the header is walked right to left and the first address that is not a
// trusted proxy wins. A malformed entry falls back to the direct peer.
func getRealClientIP(remoteAddr string, headers http.Header, realIPHeaderName string, trustedProxies parsedProxiesContainer) string {
	directPeerIP := remoteAddr
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		directPeerIP = host
	} else if ip := net.ParseIP(remoteAddr); ip != nil {
		directPeerIP = ip.String()
	}

	if realIPHeaderName == "" {
		return directPeerIP
	}
	headerValue := headers.Get(realIPHeaderName)
	if headerValue == "" {
		return directPeerIP
	}

	ipsInHeader := strings.Split(headerValue, ",")
	for i := len(ipsInHeader) - 1; i >= 0; i-- {
		ipStr := strings.TrimSpace(ipsInHeader[i])
		if ipStr == "" {
			continue
		}
		ip := net.ParseIP(ipStr)
		if ip == nil {
			return directPeerIP
		}
		if !isIPTrusted(ip, trustedProxies) {
			return ipStr
		}
	}
	return directPeerIP
}

// AccessEntry describes a completed request.
type AccessEntry struct {
	Status          int
	ResponseBytes   int64
	Duration        time.Duration
	ContentEncoding string
}

// LogAccess writes an access log entry for req.
func (al *AccessLogger) LogAccess(req *http.Request, entry AccessEntry) {
	if al == nil {
		return
	}

	_, clientPort, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		clientPort = "0"
	}
	realIPHeaderName := ""
	if al.config.RealIPHeader != nil {
		realIPHeaderName = *al.config.RealIPHeader
	}

	al.mu.Lock()
	defer al.mu.Unlock()

	ev := al.zl.Log().
		Str("remote_addr", getRealClientIP(req.RemoteAddr, req.Header, realIPHeaderName, al.parsedProxies)).
		Str("remote_port", clientPort).
		Str("protocol", req.Proto).
		Str("method", req.Method).
		Str("uri", req.RequestURI).
		Int("status", entry.Status).
		Int64("resp_bytes", entry.ResponseBytes).
		Int64("duration_ms", entry.Duration.Milliseconds())
	if entry.ContentEncoding != "" {
		ev = ev.Str("content_encoding", entry.ContentEncoding)
	}
	if ua := req.UserAgent(); ua != "" {
		ev = ev.Str("user_agent", ua)
	}
	if ref := req.Referer(); ref != "" {
		ev = ev.Str("referer", ref)
	}
	ev.Send()
}

// LogError writes an entry at the given level if it passes the configured threshold.
func (el *ErrorLogger) LogError(level config.LogLevel, msg string, fields LogFields) {
	if el == nil {
		return
	}
	el.mu.Lock()
	defer el.mu.Unlock()

	ev := el.zl.WithLevel(toZerologLevel(level))
	if ev == nil {
		return
	}
	if len(fields) > 0 {
		ev = ev.Fields(map[string]interface{}(fields))
	}
	ev.Msg(msg)
}

func (l *Logger) Info(msg string, fields LogFields) {
	l.errorLog.LogError(config.LogLevelInfo, msg, fields)
}

func (l *Logger) Error(msg string, fields LogFields) {
	l.errorLog.LogError(config.LogLevelError, msg, fields)
}

func (l *Logger) Debug(msg string, fields LogFields) {
	l.errorLog.LogError(config.LogLevelDebug, msg, fields)
}

func (l *Logger) Warn(msg string, fields LogFields) {
	l.errorLog.LogError(config.LogLevelWarning, msg, fields)
}

// Access records a completed request. It is a no-op when access logging is disabled.
func (l *Logger) Access(req *http.Request, entry AccessEntry) {
	l.accessLog.LogAccess(req, entry)
}

// AccessEnabled reports whether access entries are written anywhere.
func (l *Logger) AccessEnabled() bool {
	return l.accessLog != nil
}

// CloseLogFiles closes any open log files. Standard streams are left open.
func (l *Logger) CloseLogFiles() error {
	var firstErr error
	if l.accessLog != nil {
		l.accessLog.mu.Lock()
		if err := closeIfFile(l.accessLog.output); err != nil && firstErr == nil {
			firstErr = err
		}
		l.accessLog.mu.Unlock()
	}
	if l.errorLog != nil {
		l.errorLog.mu.Lock()
		if err := closeIfFile(l.errorLog.output); err != nil && firstErr == nil {
			firstErr = err
		}
		l.errorLog.mu.Unlock()
	}
	return firstErr
}

func closeIfFile(w io.WriteCloser) error {
	f, ok := w.(*os.File)
	if !ok || f == os.Stdout || f == os.Stderr {
		return nil
	}
	return f.Close()
}

// ReopenLogFiles closes and reopens file-based targets, for SIGHUP-driven log rotation.
func (l *Logger) ReopenLogFiles() error {
	if l.errorLog != nil && config.IsFilePath(l.errorLog.config.Target) {
		el := l.errorLog
		el.mu.Lock()
		newFile, err := reopen(el.output, el.config.Target)
		if err == nil {
			el.output = newFile
			el.zl = newZerolog(newFile, el.config.Format).Level(el.zl.GetLevel())
		}
		el.mu.Unlock()
		if err != nil {
			return fmt.Errorf("failed to reopen error log: %w", err)
		}
	}
	if l.accessLog != nil && config.IsFilePath(l.accessLog.config.Target) {
		al := l.accessLog
		al.mu.Lock()
		newFile, err := reopen(al.output, al.config.Target)
		if err == nil {
			al.output = newFile
			al.zl = newZerolog(newFile, al.config.Format)
		}
		al.mu.Unlock()
		if err != nil {
			return fmt.Errorf("failed to reopen access log: %w", err)
		}
	}
	return nil
}

func reopen(old io.WriteCloser, path string) (*os.File, error) {
	_ = closeIfFile(old)
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
}
