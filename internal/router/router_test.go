package router

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/anywhere/internal/config"
	"example.com/anywhere/internal/logger"
	"example.com/anywhere/internal/server"
)

// mockHandler writes its id so tests can see which route served a request.
type mockHandler struct {
	id string
}

func (mh *mockHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_, _ = io.WriteString(w, mh.id)
}

func newTestRegistry(t *testing.T) *server.HandlerRegistry {
	t.Helper()
	reg := server.NewHandlerRegistry()
	for _, id := range []string{"root", "static", "staticImages", "exactStatic", "metrics"} {
		id := id
		require.NoError(t, reg.Register(id, func(*config.Config, *logger.Logger) (http.Handler, error) {
			return &mockHandler{id: id}, nil
		}))
	}
	require.NoError(t, reg.Register("broken", func(*config.Config, *logger.Logger) (http.Handler, error) {
		return nil, errors.New("cannot build")
	}))
	return reg
}

func routesConfig(routes ...config.Route) *config.Config {
	return &config.Config{Routing: &config.RoutingConfig{Routes: routes}}
}

func serve(t *testing.T, r http.Handler, target, accept string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestRouter_Precedence(t *testing.T) {
	cfg := routesConfig(
		config.Route{PathPattern: "/", MatchType: config.MatchTypePrefix, HandlerType: "root"},
		config.Route{PathPattern: "/static/", MatchType: config.MatchTypePrefix, HandlerType: "static"},
		config.Route{PathPattern: "/static/images/", MatchType: config.MatchTypePrefix, HandlerType: "staticImages"},
		config.Route{PathPattern: "/static/exact", MatchType: config.MatchTypeExact, HandlerType: "exactStatic"},
		config.Route{PathPattern: "/metrics", MatchType: config.MatchTypeExact, HandlerType: "metrics"},
	)
	r, err := NewRouter(cfg, newTestRegistry(t), logger.NewDiscardLogger())
	require.NoError(t, err)

	tests := []struct {
		path string
		want string
	}{
		{"/", "root"},
		{"/index.html", "root"},
		{"/static/app.js", "static"},
		{"/static/", "static"},
		{"/static", "root"},
		{"/static/images/logo.png", "staticImages"},
		{"/static/exact", "exactStatic"},
		{"/static/exact/more", "static"},
		{"/metrics", "metrics"},
		{"/metrics/x", "root"},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			matched := r.FindRoute(tc.path)
			require.NotNil(t, matched)
			assert.Equal(t, tc.want, matched.Route.HandlerType)

			rr := serve(t, r, tc.path, "")
			assert.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, tc.want, rr.Body.String())
		})
	}
}

func TestRouter_NoMatch(t *testing.T) {
	cfg := routesConfig(config.Route{PathPattern: "/static/", MatchType: config.MatchTypePrefix, HandlerType: "static"})
	r, err := NewRouter(cfg, newTestRegistry(t), logger.NewDiscardLogger())
	require.NoError(t, err)

	assert.Nil(t, r.FindRoute("/other"))

	rr := serve(t, r, "/other", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "text/html; charset=utf-8", rr.Header().Get("Content-Type"))

	rr = serve(t, r, "/other", "application/json")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "application/json; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), `"status_code":404`)
}

func TestNewRouter_Errors(t *testing.T) {
	reg := newTestRegistry(t)
	lg := logger.NewDiscardLogger()

	_, err := NewRouter(nil, reg, lg)
	assert.Error(t, err)
	_, err = NewRouter(routesConfig(), nil, lg)
	assert.Error(t, err)
	_, err = NewRouter(routesConfig(), reg, nil)
	assert.Error(t, err)

	_, err = NewRouter(routesConfig(config.Route{PathPattern: "/", MatchType: config.MatchTypePrefix, HandlerType: "broken"}), reg, lg)
	assert.ErrorContains(t, err, "cannot build")

	_, err = NewRouter(routesConfig(config.Route{PathPattern: "/", MatchType: config.MatchTypePrefix, HandlerType: "unregistered"}), reg, lg)
	assert.ErrorContains(t, err, "no handler factory registered")

	_, err = NewRouter(routesConfig(config.Route{PathPattern: "/", MatchType: "Regex", HandlerType: "root"}), reg, lg)
	assert.ErrorContains(t, err, "unknown match type")
}

func TestNewRouter_PassesFullConfigToFactories(t *testing.T) {
	cfg := routesConfig(config.Route{PathPattern: "/", MatchType: config.MatchTypePrefix, HandlerType: "capture"})
	cfg.Static = &config.StaticConfig{Root: "/srv"}

	var seen *config.Config
	reg := server.NewHandlerRegistry()
	require.NoError(t, reg.Register("capture", func(c *config.Config, _ *logger.Logger) (http.Handler, error) {
		seen = c
		return http.NotFoundHandler(), nil
	}))

	_, err := NewRouter(cfg, reg, logger.NewDiscardLogger())
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.Equal(t, "/srv", seen.Static.Root)
}
