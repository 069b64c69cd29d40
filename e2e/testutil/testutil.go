// Package testutil runs a fully wired server over loopback for end-to-end
// tests and provides request/response matchers.
package testutil

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"example.com/anywhere/internal/app"
	"example.com/anywhere/internal/config"
	"example.com/anywhere/internal/logger"
)

// TestRequest models an HTTP request for E2E testing.
type TestRequest struct {
	Method  string
	Path    string // sent verbatim on the request line, so it may contain "..".
	Headers http.Header
}

// HeaderMatcher maps header names to exact expected values. An empty value
// asserts the header is absent.
type HeaderMatcher map[string]string

// BodyMatcher defines a way to match the response body.
type BodyMatcher interface {
	Match(body []byte) (bool, string) // match status and a description of the mismatch
}

// ExactBodyMatcher matches the body exactly.
type ExactBodyMatcher struct {
	ExpectedBody []byte
}

// Match implements BodyMatcher.
func (m *ExactBodyMatcher) Match(body []byte) (bool, string) {
	if bytes.Equal(m.ExpectedBody, body) {
		return true, ""
	}
	return false, fmt.Sprintf("bodies do not match exactly. Expected: %q, Got: %q", m.ExpectedBody, body)
}

// StringContainsBodyMatcher checks that the body contains every substring.
type StringContainsBodyMatcher struct {
	Substrings []string
}

// Match implements BodyMatcher.
func (m *StringContainsBodyMatcher) Match(body []byte) (bool, string) {
	for _, s := range m.Substrings {
		if !bytes.Contains(body, []byte(s)) {
			return false, fmt.Sprintf("body does not contain substring: %q. Body: %q", s, body)
		}
	}
	return true, ""
}

// ExpectedResponse models the expected outcome of a request.
type ExpectedResponse struct {
	StatusCode   int
	Headers      HeaderMatcher
	BodyMatcher  BodyMatcher
	ExpectNoBody bool
}

// ActualResponse stores what the server sent. Body is exactly the bytes on
// the wire; the client never decompresses it.
type ActualResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// ServerInstance is a running in-process server.
type ServerInstance struct {
	App     *app.App
	Config  *config.Config
	Address string // host:port actually bound
	Access  *SyncBuffer
	ErrLog  *SyncBuffer

	cancel  context.CancelFunc
	runDone chan error
	once    sync.Once
}

// SyncBuffer is a bytes.Buffer safe for concurrent writers.
type SyncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *SyncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *SyncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// WriteTempConfig encodes cfg as json, toml or yaml into dir and returns the
// file path.
func WriteTempConfig(dir string, cfg *config.Config, format string) (string, error) {
	var data []byte
	var err error
	switch format {
	case "json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	case "toml":
		var buf bytes.Buffer
		err = toml.NewEncoder(&buf).Encode(cfg)
		data = buf.Bytes()
	case "yaml":
		data, err = yaml.Marshal(cfg)
	default:
		return "", fmt.Errorf("unsupported config format %q", format)
	}
	if err != nil {
		return "", fmt.Errorf("failed to encode %s config: %w", format, err)
	}
	path := filepath.Join(dir, "anywhere."+format)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// WriteTree creates files under root; keys ending in "/" create directories.
func WriteTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		full := filepath.Join(root, filepath.FromSlash(name))
		if strings.HasSuffix(name, "/") {
			require.NoError(t, os.MkdirAll(full, 0o755))
			continue
		}
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
}

// StartTestServer defaults and validates cfg, binds a loopback port and
// serves until the test ends.
func StartTestServer(t *testing.T, cfg *config.Config) *ServerInstance {
	t.Helper()
	if cfg.Server == nil {
		cfg.Server = &config.ServerConfig{}
	}
	port := 0
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = &port
	require.NoError(t, config.ApplyDefaults(cfg))
	require.NoError(t, config.Validate(cfg))

	inst := &ServerInstance{Config: cfg, Access: &SyncBuffer{}, ErrLog: &SyncBuffer{}, runDone: make(chan error, 1)}
	lg := logger.New(config.LogLevelDebug, inst.ErrLog, inst.Access)

	a, err := app.New(cfg, lg)
	require.NoError(t, err)
	inst.App = a

	ctx, cancel := context.WithCancel(context.Background())
	inst.cancel = cancel
	l, err := a.Server.Listen(ctx)
	require.NoError(t, err)
	inst.Address = l.Addr().String()

	go func() { inst.runDone <- a.Server.Run(ctx) }()
	t.Cleanup(func() {
		if err := inst.Stop(); err != nil {
			t.Errorf("server stop: %v", err)
		}
	})
	return inst
}

// Stop shuts the server down and waits for Run to return.
func (s *ServerInstance) Stop() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		select {
		case err = <-s.runDone:
		case <-time.After(10 * time.Second):
			err = fmt.Errorf("server at %s did not stop", s.Address)
		}
	})
	return err
}

// Do sends req over a fresh connection with a hand-written HTTP/1.1 request
// line, so paths reach the server without client-side cleaning.
func (s *ServerInstance) Do(req TestRequest) (ActualResponse, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	conn, err := net.DialTimeout("tcp", s.Address, 5*time.Second)
	if err != nil {
		return ActualResponse{}, err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\nHost: %s\r\nConnection: close\r\n", method, req.Path, s.Address)
	for name, values := range req.Headers {
		for _, v := range values {
			fmt.Fprintf(&b, "%s: %s\r\n", name, v)
		}
	}
	b.WriteString("\r\n")
	if _, err := io.WriteString(conn, b.String()); err != nil {
		return ActualResponse{}, err
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), &http.Request{Method: method})
	if err != nil {
		return ActualResponse{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ActualResponse{}, err
	}
	return ActualResponse{StatusCode: resp.StatusCode, Headers: resp.Header, Body: body}, nil
}

// AssertResponse checks actual against expected.
func AssertResponse(t *testing.T, actual ActualResponse, expected ExpectedResponse) {
	t.Helper()
	if expected.StatusCode != 0 && actual.StatusCode != expected.StatusCode {
		t.Errorf("status: expected %d, got %d (body %q)", expected.StatusCode, actual.StatusCode, actual.Body)
	}
	for name, want := range expected.Headers {
		got := actual.Headers.Get(name)
		if want == "" && got != "" {
			t.Errorf("header %s: expected absent, got %q", name, got)
		} else if want != "" && got != want {
			t.Errorf("header %s: expected %q, got %q", name, want, got)
		}
	}
	if expected.ExpectNoBody {
		if len(actual.Body) != 0 {
			t.Errorf("expected no body, got %q", actual.Body)
		}
		return
	}
	if expected.BodyMatcher != nil {
		if ok, msg := expected.BodyMatcher.Match(actual.Body); !ok {
			t.Error(msg)
		}
	}
}
