// Package app assembles the handlers, router and server from a validated
// configuration.
package app

import (
	"fmt"
	"net/http"

	"example.com/anywhere/internal/config"
	"example.com/anywhere/internal/handlers/staticfileserver"
	"example.com/anywhere/internal/logger"
	"example.com/anywhere/internal/metrics"
	"example.com/anywhere/internal/router"
	"example.com/anywhere/internal/server"
)

// App is a fully wired, not yet listening, server.
type App struct {
	Server *server.Server
	// Handler is the router behind the metrics middleware, without the
	// server's access log and recovery layer.
	Handler http.Handler
	Router  *router.Router
	Metrics *metrics.Metrics
}

// NewRegistry registers the built-in handler types. m may be nil when
// metrics are disabled.
func NewRegistry(m *metrics.Metrics, opts ...staticfileserver.Option) (*server.HandlerRegistry, error) {
	registry := server.NewHandlerRegistry()

	err := registry.Register(config.HandlerTypeStaticFileServer, func(cfg *config.Config, lg *logger.Logger) (http.Handler, error) {
		handlerOpts := opts
		if m != nil {
			handlerOpts = append([]staticfileserver.Option{staticfileserver.WithRecorder(m)}, opts...)
		}
		return staticfileserver.New(cfg.Static, lg, handlerOpts...)
	})
	if err != nil {
		return nil, err
	}

	err = registry.Register(config.HandlerTypeMetrics, func(cfg *config.Config, lg *logger.Logger) (http.Handler, error) {
		if m == nil {
			return nil, fmt.Errorf("metrics route configured but metrics are disabled")
		}
		return m.Handler(), nil
	})
	if err != nil {
		return nil, err
	}
	return registry, nil
}

// New wires everything for cfg, which must be defaulted and validated.
func New(cfg *config.Config, lg *logger.Logger, opts ...staticfileserver.Option) (*App, error) {
	var m *metrics.Metrics
	if cfg.MetricsEnabled() {
		m = metrics.New()
	}

	registry, err := NewRegistry(m, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to register handlers: %w", err)
	}

	rtr, err := router.NewRouter(cfg, registry, lg)
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	var handler http.Handler = rtr
	if m != nil {
		handler = m.Middleware(rtr)
	}

	srv, err := server.NewServer(cfg, lg, handler)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}
	return &App{Server: srv, Handler: handler, Router: rtr, Metrics: m}, nil
}
