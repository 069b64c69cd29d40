package router

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"example.com/anywhere/internal/config"
	"example.com/anywhere/internal/logger"
	"example.com/anywhere/internal/server"
)

// Router holds the routing table and dispatches requests.
type Router struct {
	// exactRoutes is keyed by PathPattern.
	exactRoutes map[string]*MatchedRoute

	// prefixRoutes is sorted by PathPattern length, longest first.
	prefixRoutes []*MatchedRoute

	log *logger.Logger
}

// MatchedRoute pairs a route with the handler built for it.
type MatchedRoute struct {
	Handler http.Handler
	Route   config.Route
}

// NewRouter builds one handler per route through the registry. Routes are
// assumed to have passed config validation. A factory failure aborts
// construction so that misconfiguration surfaces at startup.
func NewRouter(cfg *config.Config, registry *server.HandlerRegistry, lg *logger.Logger) (*Router, error) {
	if cfg == nil || cfg.Routing == nil {
		return nil, fmt.Errorf("routing configuration cannot be nil")
	}
	if registry == nil {
		return nil, fmt.Errorf("handler registry cannot be nil")
	}
	if lg == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	r := &Router{
		exactRoutes: make(map[string]*MatchedRoute),
		log:         lg,
	}

	for _, route := range cfg.Routing.Routes {
		handler, err := registry.CreateHandler(route.HandlerType, cfg, lg)
		if err != nil {
			lg.Error("Failed to create handler for route", logger.LogFields{
				"pattern":     route.PathPattern,
				"handlerType": route.HandlerType,
				"error":       err.Error(),
			})
			return nil, fmt.Errorf("route %q: %w", route.PathPattern, err)
		}
		matched := &MatchedRoute{Handler: handler, Route: route}
		switch route.MatchType {
		case config.MatchTypeExact:
			r.exactRoutes[route.PathPattern] = matched
		case config.MatchTypePrefix:
			r.prefixRoutes = append(r.prefixRoutes, matched)
		default:
			return nil, fmt.Errorf("route %q: unknown match type %q", route.PathPattern, route.MatchType)
		}
	}

	sort.SliceStable(r.prefixRoutes, func(i, j int) bool {
		return len(r.prefixRoutes[i].Route.PathPattern) > len(r.prefixRoutes[j].Route.PathPattern)
	})
	return r, nil
}

// FindRoute matches path against the table. Exact matches take precedence
// over prefix matches; among prefixes the longest wins. Returns nil when
// nothing matches.
func (r *Router) FindRoute(path string) *MatchedRoute {
	if matched, ok := r.exactRoutes[path]; ok {
		return matched
	}
	for _, matched := range r.prefixRoutes {
		if strings.HasPrefix(path, matched.Route.PathPattern) {
			return matched
		}
	}
	return nil
}

// ServeHTTP dispatches to the matched handler or answers 404.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	matched := r.FindRoute(req.URL.Path)
	if matched == nil {
		r.log.Info("No route matched for request", logger.LogFields{
			"path": req.URL.Path,
		})
		server.SendDefaultErrorResponse(w, http.StatusNotFound, req, "The requested resource was not found.", r.log)
		return
	}
	matched.Handler.ServeHTTP(w, req)
}
