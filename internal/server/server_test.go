package server

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/anywhere/internal/config"
	"example.com/anywhere/internal/logger"
)

func intPtr(i int) *int { return &i }

// syncBuffer guards a bytes.Buffer written by server goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Server: &config.ServerConfig{Port: intPtr(0), GracefulShutdownTimeout: "2s"},
		Static: &config.StaticConfig{Root: t.TempDir()},
	}
	require.NoError(t, config.ApplyDefaults(cfg))
	return cfg
}

func TestHandlerRegistry(t *testing.T) {
	reg := NewHandlerRegistry()
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	require.NoError(t, reg.Register("A", func(*config.Config, *logger.Logger) (http.Handler, error) { return ok, nil }))
	assert.ErrorContains(t, reg.Register("A", func(*config.Config, *logger.Logger) (http.Handler, error) { return ok, nil }), "already registered")
	assert.Error(t, reg.Register("B", nil))
	require.NoError(t, reg.Register("Nil", func(*config.Config, *logger.Logger) (http.Handler, error) { return nil, nil }))

	_, found := reg.GetFactory("A")
	assert.True(t, found)

	h, err := reg.CreateHandler("A", nil, logger.NewDiscardLogger())
	require.NoError(t, err)
	assert.NotNil(t, h)

	_, err = reg.CreateHandler("A", nil, nil)
	assert.ErrorContains(t, err, "logger cannot be nil")

	_, err = reg.CreateHandler("Missing", nil, logger.NewDiscardLogger())
	assert.ErrorContains(t, err, "no handler factory registered")

	_, err = reg.CreateHandler("Nil", nil, logger.NewDiscardLogger())
	assert.ErrorContains(t, err, "nil handler")

	reg.ClearFactories()
	_, found = reg.GetFactory("A")
	assert.False(t, found)
}

func TestServer_NewServer_NilArgs(t *testing.T) {
	cfg := newTestConfig(t)
	lg := logger.NewDiscardLogger()
	h := http.NotFoundHandler()

	_, err := NewServer(nil, lg, h)
	assert.Error(t, err)
	_, err = NewServer(cfg, nil, h)
	assert.Error(t, err)
	_, err = NewServer(cfg, lg, nil)
	assert.Error(t, err)
}

func TestServer_ServeAndShutdown(t *testing.T) {
	cfg := newTestConfig(t)
	var access syncBuffer
	lg := logger.New(config.LogLevelError, io.Discard, &access)

	srv, err := NewServer(cfg, lg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "identity")
		_, _ = io.WriteString(w, "hi")
	}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	l, err := srv.Listen(ctx)
	require.NoError(t, err)
	assert.Equal(t, l.Addr(), srv.Addr())

	runErr := make(chan error, 1)
	go func() { runErr <- srv.Run(ctx) }()

	resp, err := http.Get("http://" + l.Addr().String() + "/hello")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "hi", string(body))

	cancel()
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	<-srv.Done()

	_, err = net.DialTimeout("tcp", l.Addr().String(), 200*time.Millisecond)
	assert.Error(t, err, "listener must be closed after shutdown")

	logged := access.String()
	assert.Contains(t, logged, `"uri":"/hello"`)
	assert.Contains(t, logged, `"status":200`)
	assert.Contains(t, logged, `"resp_bytes":2`)
}

func TestServer_ListenAddressInUse(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	cfg := newTestConfig(t)
	_, port, _ := net.SplitHostPort(occupied.Addr().String())
	cfg.Server.Host = "127.0.0.1"
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	cfg.Server.Port = &p

	srv, err := NewServer(cfg, logger.NewDiscardLogger(), http.NotFoundHandler())
	require.NoError(t, err)
	assert.Error(t, srv.Serve(context.Background()))
}

func TestServer_PanicRecovery(t *testing.T) {
	cfg := newTestConfig(t)
	var errLog, access syncBuffer
	lg := logger.New(config.LogLevelError, &errLog, &access)

	srv, err := NewServer(cfg, lg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	}))
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set("Accept", "application/json")
	srv.httpServer.Handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "application/json; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.Contains(t, errLog.String(), "kaboom")
	assert.Contains(t, access.String(), `"status":500`)
}

func TestServer_PanicAfterHeadersKeepsStatusForLog(t *testing.T) {
	cfg := newTestConfig(t)
	var access syncBuffer
	lg := logger.New(config.LogLevelError, io.Discard, &access)

	srv, err := NewServer(cfg, lg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		panic("late")
	}))
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/late", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(access.String(), `"status":500`))
}

func TestBaseURL(t *testing.T) {
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9527}
	assert.Equal(t, "http://127.0.0.1:9527", BaseURL(addr, "127.0.0.1"))
	assert.Equal(t, "http://localhost:9527", BaseURL(addr, "localhost"))
	assert.Equal(t, "http://127.0.0.1:9527", BaseURL(addr, ""))
	assert.Equal(t, "http://[::1]:8080", BaseURL(&net.TCPAddr{IP: net.IPv6loopback, Port: 8080}, ""))
}
