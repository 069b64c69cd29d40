package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strconv"
	"sync"
	"syscall"
	"time"

	"example.com/anywhere/internal/config"
	"example.com/anywhere/internal/logger"
	"example.com/anywhere/internal/util"
)

// Server manages the HTTP server lifecycle: the listening socket, request
// middleware, log reopening and graceful shutdown.
type Server struct {
	cfg     *config.Config
	log     *logger.Logger
	handler http.Handler

	mu         sync.Mutex
	listener   net.Listener
	httpServer *http.Server

	doneChan chan struct{}
}

// NewServer wires handler behind the access log and panic recovery
// middleware.
func NewServer(cfg *config.Config, lg *logger.Logger, handler http.Handler) (*Server, error) {
	if cfg == nil || cfg.Server == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if lg == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	s := &Server{
		cfg:      cfg,
		log:      lg,
		handler:  handler,
		doneChan: make(chan struct{}),
	}
	s.httpServer = &http.Server{
		Handler:           s.wrap(handler),
		ReadHeaderTimeout: 30 * time.Second,
	}
	return s, nil
}

// Listen opens the listening socket: an inherited one when started through
// socket activation, otherwise a new one on the configured address.
func (s *Server) Listen(ctx context.Context) (net.Listener, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener, nil
	}

	l, err := util.InheritedListener(s.cfg.Server.MaxConnections)
	switch {
	case err == nil:
		s.log.Info("Using inherited listener", logger.LogFields{"localAddr": l.Addr().String()})
	case errors.Is(err, util.ErrNoInheritedListeners):
		l, err = util.CreateListener(ctx, "tcp", s.cfg.Address(), s.cfg.Server.MaxConnections)
		if err != nil {
			return nil, err
		}
		s.log.Info("Successfully created new listener", logger.LogFields{
			"address":   s.cfg.Address(),
			"localAddr": l.Addr().String(),
		})
	default:
		return nil, fmt.Errorf("error using inherited listener: %w", err)
	}
	s.listener = l
	return l, nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until Shutdown. It calls Listen if needed and
// returns nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context) error {
	l, err := s.Listen(ctx)
	if err != nil {
		return err
	}
	defer close(s.doneChan)

	err = s.httpServer.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and waits for in-flight requests,
// bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down server", logger.LogFields{})
	err := s.httpServer.Shutdown(ctx)
	if err != nil {
		s.log.Warn("Graceful shutdown did not complete, closing remaining connections", logger.LogFields{"error": err.Error()})
		_ = s.httpServer.Close()
	}
	return err
}

// Done is closed once Serve has returned.
func (s *Server) Done() <-chan struct{} {
	return s.doneChan
}

// Run serves until SIGINT or SIGTERM (or ctx cancellation), then shuts down
// within the configured graceful_shutdown_timeout. SIGHUP reopens log files.
func (s *Server) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	serveErr := make(chan error, 1)
	go func() { serveErr <- s.Serve(ctx) }()

	for {
		select {
		case err := <-serveErr:
			return err
		case <-ctx.Done():
			return s.shutdownWithTimeout(serveErr)
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				s.log.Info("Received SIGHUP, reopening log files", logger.LogFields{})
				if err := s.log.ReopenLogFiles(); err != nil {
					s.log.Error("Failed to reopen log files", logger.LogFields{"error": err.Error()})
				}
				continue
			}
			s.log.Info("Received signal, initiating graceful shutdown", logger.LogFields{"signal": sig.String()})
			return s.shutdownWithTimeout(serveErr)
		}
	}
}

func (s *Server) shutdownWithTimeout(serveErr <-chan error) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout())
	defer cancel()
	shutdownErr := s.Shutdown(ctx)
	if err := <-serveErr; err != nil {
		return err
	}
	return shutdownErr
}

// statusRecorder captures what the handler sent, for access logs.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int64
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	n, err := r.ResponseWriter.Write(p)
	r.bytes += int64(n)
	return n, err
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// wrap adds panic recovery and access logging.
func (s *Server) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}
				s.log.Error("Panic while serving request", logger.LogFields{
					"path":  req.URL.Path,
					"panic": fmt.Sprint(p),
					"stack": string(debug.Stack()),
				})
				if !rec.wroteHeader {
					SendDefaultErrorResponse(rec, http.StatusInternalServerError, req, "", s.log)
				} else {
					rec.status = http.StatusInternalServerError
				}
			}

			s.log.Access(req, logger.AccessEntry{
				Status:          rec.status,
				ResponseBytes:   rec.bytes,
				Duration:        time.Since(start),
				ContentEncoding: rec.Header().Get("Content-Encoding"),
			})
		}()

		next.ServeHTTP(rec, req)
	})
}

// BaseURL renders the address clients should use, for the startup banner.
func BaseURL(addr net.Addr, fallbackHost string) string {
	host, port := fallbackHost, ""
	if tcp, ok := addr.(*net.TCPAddr); ok {
		port = strconv.Itoa(tcp.Port)
		if fallbackHost == "" {
			host = tcp.IP.String()
		}
	}
	return "http://" + net.JoinHostPort(host, port)
}
