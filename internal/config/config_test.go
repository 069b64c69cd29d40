package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTempFile creates a file with the given content and extension in a test-scoped directory.
func writeTempFile(t *testing.T, content string, ext string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-config"+ext)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}
	return path
}

// checkErrorContains checks if the error is not nil and its message contains the expected substring.
func checkErrorContains(t *testing.T, err error, expectedSubstring string) {
	t.Helper()
	if err == nil {
		t.Fatalf("Expected an error containing %q, but got nil", expectedSubstring)
	}
	if !strings.Contains(err.Error(), expectedSubstring) {
		t.Fatalf("Expected error message to contain %q, but got: %v", expectedSubstring, err)
	}
}

func intPtr(i int) *int    { return &i }
func boolPtr(b bool) *bool { return &b }

func TestLoadConfig_EmptyPath(t *testing.T) {
	_, err := LoadConfig("")
	checkErrorContains(t, err, "configuration file path cannot be empty")
}

func TestLoadConfig_NonExistentFile(t *testing.T) {
	_, err := LoadConfig("non_existent_file.json")
	checkErrorContains(t, err, "failed to read configuration file")

	var ce *ConfigError
	require.True(t, errors.As(err, &ce))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLoadConfig_ValidJSON(t *testing.T) {
	root := t.TempDir()
	content := `{"server": {"port": 8080}, "static": {"root": "` + filepath.ToSlash(root) + `", "max_age": 30}}`
	path := writeTempFile(t, content, ".json")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed for valid JSON: %v", err)
	}
	if *cfg.Server.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", *cfg.Server.Port)
	}
	if cfg.Static.Root != root {
		t.Errorf("Expected root %q, got %q", root, cfg.Static.Root)
	}
	if got := cfg.Static.MaxAgeDuration(); got != 30*time.Second {
		t.Errorf("Expected max age 30s, got %v", got)
	}
}

func TestLoadConfig_ValidTOML(t *testing.T) {
	root := t.TempDir()
	content := `
[server]
host = "0.0.0.0"
port = 8081

[static]
root = "` + filepath.ToSlash(root) + `"
compress = ["html", "txt"]

[static.mime_types]
".foo" = "application/x-foo"

[metrics]
enabled = true
path = "/stats"
`
	path := writeTempFile(t, content, ".toml")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8081", cfg.Address())
	assert.Equal(t, []string{"html", "txt"}, cfg.Static.CompressExtensions)
	assert.Equal(t, "application/x-foo", cfg.Static.MimeTypes[".foo"])
	assert.True(t, cfg.MetricsEnabled())
	assert.Equal(t, []Route{
		{PathPattern: "/", MatchType: MatchTypePrefix, HandlerType: HandlerTypeStaticFileServer},
		{PathPattern: "/stats", MatchType: MatchTypeExact, HandlerType: HandlerTypeMetrics},
	}, cfg.Routing.Routes)
}

func TestLoadConfig_ValidYAML(t *testing.T) {
	root := t.TempDir()
	content := "static:\n  root: " + filepath.ToSlash(root) + "\n  dir_icon: dir\nlogging:\n  log_level: DEBUG\n"
	path := writeTempFile(t, content, ".yaml")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "dir", cfg.Static.DirIcon)
	assert.Equal(t, DefaultFileIcon, cfg.Static.FileIcon)
	assert.Equal(t, LogLevelDebug, cfg.Logging.LogLevel)
}

func TestLoadConfig_AutoDetect(t *testing.T) {
	root := filepath.ToSlash(t.TempDir())
	tests := []struct {
		name    string
		content string
	}{
		{"json", `{"static": {"root": "` + root + `"}, "server": {"port": 1234}}`},
		{"toml", "[static]\nroot = \"" + root + "\"\n[server]\nport = 1234\n"},
		{"yaml", "static:\n  root: " + root + "\nserver:\n  port: 1234\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeTempFile(t, tc.content, ".conf")
			cfg, err := LoadConfig(path)
			require.NoError(t, err)
			assert.Equal(t, 1234, *cfg.Server.Port)
		})
	}
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	path := writeTempFile(t, `{"server": `, ".json")
	_, err := LoadConfig(path)
	checkErrorContains(t, err, "failed to parse configuration file")
}

func TestLoadConfig_UnknownJSONField(t *testing.T) {
	path := writeTempFile(t, `{"servre": {}}`, ".json")
	_, err := LoadConfig(path)
	checkErrorContains(t, err, "failed to parse configuration file")
}

func TestLoadConfig_RelativeRootResolvedAgainstConfigDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "public"), 0o755))
	path := filepath.Join(dir, "anywhere.toml")
	require.NoError(t, os.WriteFile(path, []byte("[static]\nroot = \"public\"\nmime_types_path = \"mime.json\"\n"), 0o644))

	cfg, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "public"), cfg.Static.Root)
	assert.Equal(t, filepath.Join(dir, "mime.json"), cfg.Static.MimeTypesPath)
}

func TestApplyDefaults_EmptyConfig(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, ApplyDefaults(cfg))

	wd, err := os.Getwd()
	require.NoError(t, err)

	assert.Equal(t, DefaultHost, cfg.Server.Host)
	assert.Equal(t, DefaultPort, *cfg.Server.Port)
	assert.Equal(t, wd, cfg.Static.Root)
	assert.Equal(t, 600*time.Second, cfg.Static.MaxAgeDuration())
	assert.Equal(t, []string{"html", "js", "css", "md"}, cfg.Static.CompressExtensions)
	assert.Equal(t, DefaultDirIcon, cfg.Static.DirIcon)
	assert.Equal(t, LogLevelInfo, cfg.Logging.LogLevel)
	assert.True(t, *cfg.Logging.AccessLog.Enabled)
	assert.Equal(t, "stdout", cfg.Logging.AccessLog.Target)
	assert.Equal(t, "stderr", cfg.Logging.ErrorLog.Target)
	assert.False(t, cfg.MetricsEnabled())
	assert.Equal(t, DefaultGracefulShutdownTimeout, cfg.Server.ShutdownTimeout())
	assert.Len(t, cfg.Routing.Routes, 1)
	assert.NoError(t, Validate(cfg))
}

func TestApplyDefaults_KeepsExplicitZeroes(t *testing.T) {
	cfg := &Config{
		Server: &ServerConfig{Port: intPtr(0)},
		Static: &StaticConfig{MaxAge: intPtr(0), CompressExtensions: []string{}},
	}
	require.NoError(t, ApplyDefaults(cfg))
	assert.Equal(t, 0, *cfg.Server.Port)
	assert.Equal(t, time.Duration(0), cfg.Static.MaxAgeDuration())
	assert.Empty(t, cfg.Static.CompressExtensions)
}

func TestValidate(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"port out of range", func(c *Config) { c.Server.Port = intPtr(70000) }, "server.port"},
		{"negative max connections", func(c *Config) { c.Server.MaxConnections = -1 }, "max_connections"},
		{"bad shutdown timeout", func(c *Config) { c.Server.GracefulShutdownTimeout = "soon" }, "graceful_shutdown_timeout"},
		{"missing root", func(c *Config) { c.Static.Root = filepath.Join(root, "nope") }, "not accessible"},
		{"root is a file", func(c *Config) { c.Static.Root = file }, "not a directory"},
		{"negative max age", func(c *Config) { c.Static.MaxAge = intPtr(-1) }, "max_age"},
		{"dotted compress ext", func(c *Config) { c.Static.CompressExtensions = []string{".html"} }, "static.compress"},
		{"mime key without dot", func(c *Config) { c.Static.MimeTypes = map[string]string{"txt": "text/plain"} }, "must start with a '.'"},
		{"empty mime value", func(c *Config) { c.Static.MimeTypes = map[string]string{".txt": ""} }, "cannot be empty"},
		{"bad log level", func(c *Config) { c.Logging.LogLevel = "TRACE" }, "log_level"},
		{"relative log file", func(c *Config) { c.Logging.ErrorLog.Target = "logs/error.log" }, "absolute path"},
		{"bad log format", func(c *Config) { c.Logging.AccessLog.Format = "xml" }, "format"},
		{"bad proxy", func(c *Config) { c.Logging.AccessLog.TrustedProxies = []string{"10.0.0.0/33"} }, "trusted_proxies"},
		{"bad proxy ip", func(c *Config) { c.Logging.AccessLog.TrustedProxies = []string{"not-an-ip"} }, "trusted_proxies"},
		{"metrics at root", func(c *Config) { c.Metrics.Path = "/" }, "metrics.path"},
		{"bad route match type", func(c *Config) {
			c.Routing.Routes = []Route{{PathPattern: "/", MatchType: "Regex", HandlerType: HandlerTypeStaticFileServer}}
		}, "match_type"},
		{"relative route", func(c *Config) {
			c.Routing.Routes = []Route{{PathPattern: "static", MatchType: MatchTypePrefix, HandlerType: HandlerTypeStaticFileServer}}
		}, "path_pattern"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{Static: &StaticConfig{Root: root}}
			require.NoError(t, ApplyDefaults(cfg))
			tc.mutate(cfg)
			err := Validate(cfg)
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			checkErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestValidate_NotDefaulted(t *testing.T) {
	checkErrorContains(t, Validate(&Config{}), "has not been defaulted")
}

func TestConfig_TOMLRoundTrip(t *testing.T) {
	root := t.TempDir()
	cfg := &Config{
		Static:  &StaticConfig{Root: root},
		Metrics: &MetricsConfig{Enabled: boolPtr(true)},
	}
	require.NoError(t, ApplyDefaults(cfg))

	var sb strings.Builder
	require.NoError(t, toml.NewEncoder(&sb).Encode(cfg))
	path := writeTempFile(t, sb.String(), ".toml")

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Address(), loaded.Address())
	assert.Equal(t, cfg.Routing.Routes, loaded.Routing.Routes)
	assert.Equal(t, cfg.Static.Root, loaded.Static.Root)
}

func TestIsFilePath(t *testing.T) {
	assert.False(t, IsFilePath("stdout"))
	assert.False(t, IsFilePath("stderr"))
	assert.False(t, IsFilePath(""))
	assert.True(t, IsFilePath("/var/log/anywhere.log"))
}
