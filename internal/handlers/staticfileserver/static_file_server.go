package staticfileserver

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"example.com/anywhere/internal/config"
	"example.com/anywhere/internal/logger"
)

// Outcome classifies how a request was answered.
type Outcome string

const (
	OutcomeFile        Outcome = "file"
	OutcomeDirectory   Outcome = "directory"
	OutcomeNotModified Outcome = "not_modified"
	OutcomeNotFound    Outcome = "not_found"
	OutcomeError       Outcome = "error"
)

// Recorder receives one observation per request. bodyBytes counts bytes read
// from disk for files, rendered bytes for listings.
type Recorder interface {
	ObserveStatic(outcome Outcome, encoding Encoding, bodyBytes int64)
}

// StaticFileServer serves a directory tree over HTTP.
type StaticFileServer struct {
	root         string
	log          *logger.Logger
	mimeResolver *MimeTypeResolver
	freshness    *FreshnessEvaluator
	compression  *CompressionNegotiator
	lister       *DirectoryLister
	render       Renderer
	recorder     Recorder
	now          func() time.Time
}

// Option customizes a StaticFileServer.
type Option func(*StaticFileServer)

// WithRenderer replaces the built-in HTML listing renderer.
func WithRenderer(r Renderer) Option {
	return func(s *StaticFileServer) {
		if r != nil {
			s.render = r
		}
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *StaticFileServer) { s.recorder = r }
}

// WithClock overrides time.Now for Expires and listing ages.
func WithClock(now func() time.Time) Option {
	return func(s *StaticFileServer) {
		if now != nil {
			s.now = now
		}
	}
}

// New builds a handler for cfg, which must already be defaulted and validated.
func New(cfg *config.StaticConfig, lg *logger.Logger, opts ...Option) (*StaticFileServer, error) {
	if cfg == nil {
		return nil, errors.New("StaticFileServer: static configuration is nil")
	}
	if lg == nil {
		lg = logger.NewDiscardLogger()
	}

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("StaticFileServer: cannot resolve root %q: %w", cfg.Root, err)
	}

	mimeResolver, err := NewMimeTypeResolver(cfg)
	if err != nil {
		lg.Error("Failed to initialize MimeTypeResolver for StaticFileServer", logger.LogFields{
			"error": err.Error(),
		})
		return nil, fmt.Errorf("StaticFileServer: %w", err)
	}

	s := &StaticFileServer{
		root:         filepath.Clean(root),
		log:          lg,
		mimeResolver: mimeResolver,
		compression:  NewCompressionNegotiator(cfg.CompressExtensions),
		render:       RenderHTML,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.freshness = NewFreshnessEvaluator(cfg.MaxAgeDuration(), s.now)
	s.lister = NewDirectoryLister(cfg.DirIcon, cfg.FileIcon, s.now)
	return s, nil
}

// Root returns the absolute directory being served.
func (s *StaticFileServer) Root() string { return s.root }

// ResolvePath maps a URL path onto the filesystem. The result is cleaned and
// must lie within the root; otherwise ErrOutsideRoot is returned together
// with the path the request pointed at.
func (s *StaticFileServer) ResolvePath(urlPath string) (string, error) {
	resolved := filepath.Join(s.root, filepath.FromSlash(urlPath))
	rel, err := filepath.Rel(s.root, resolved)
	if err != nil {
		return resolved, err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return resolved, ErrOutsideRoot
	}
	return resolved, nil
}

func (s *StaticFileServer) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	resolved, err := s.ResolvePath(req.URL.Path)
	if err != nil {
		if errors.Is(err, ErrOutsideRoot) {
			s.log.Warn("StaticFileServer: Attempt to access path outside root (Path Traversal)", logger.LogFields{
				"requested_path": req.URL.Path,
				"resolved_path":  resolved,
				"root":           s.root,
			})
		}
		s.fail(w, req, &ResolutionError{Path: resolved, Err: err})
		return
	}

	fi, err := os.Stat(resolved)
	if err != nil {
		s.fail(w, req, &ResolutionError{Path: resolved, Err: err})
		return
	}

	switch {
	case fi.Mode().IsRegular():
		s.serveFile(w, req, resolved, fi)
	case fi.IsDir():
		s.serveDirectory(w, req, resolved)
	default:
		s.fail(w, req, &ResolutionError{Path: resolved, Err: ErrUnsupportedFileType})
	}
}

func (s *StaticFileServer) serveFile(w http.ResponseWriter, req *http.Request, filePath string, fi os.FileInfo) {
	h := w.Header()
	if s.freshness.Evaluate(fi, req.Header, h) {
		s.log.Debug("StaticFileServer: Sending 304 Not Modified", logger.LogFields{
			"path": filePath,
			"etag": h.Get("ETag"),
		})
		w.WriteHeader(http.StatusNotModified)
		s.observe(OutcomeNotModified, EncodingIdentity, 0)
		return
	}

	f, err := os.Open(filePath)
	if err != nil {
		s.fail(w, req, &ResolutionError{Path: filePath, Err: err})
		return
	}
	defer f.Close()

	h.Set("Content-Type", s.mimeResolver.GetMimeType(filePath))
	out, enc := s.compression.Negotiate(w, filePath, req.Header, h)
	if enc == EncodingIdentity {
		h.Set("Content-Length", strconv.FormatInt(fi.Size(), 10))
	}
	w.WriteHeader(http.StatusOK)

	if req.Method == http.MethodHead {
		s.observe(OutcomeFile, enc, 0)
		return
	}

	n, copyErr := io.Copy(out, f)
	closeErr := out.Close()
	if copyErr != nil || closeErr != nil {
		// The client most likely went away; the status is already on the wire.
		s.log.Debug("StaticFileServer: Stopped streaming file", logger.LogFields{
			"path":          filePath,
			"bytes_written": n,
			"error":         errors.Join(copyErr, closeErr).Error(),
		})
	}
	s.observe(OutcomeFile, enc, n)
}

func (s *StaticFileServer) serveDirectory(w http.ResponseWriter, req *http.Request, dirPath string) {
	listing, err := s.lister.List(dirPath, req.URL.Path)
	if err != nil {
		s.fail(w, req, &ResolutionError{Path: dirPath, Err: err})
		return
	}

	body, err := s.render(listing)
	if err != nil {
		s.log.Error("StaticFileServer: Failed to render directory listing", logger.LogFields{
			"path":  dirPath,
			"error": err.Error(),
		})
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		s.observe(OutcomeError, EncodingIdentity, 0)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	if req.Method != http.MethodHead {
		_, _ = w.Write(body)
	}
	s.observe(OutcomeDirectory, EncodingIdentity, int64(len(body)))
}

func (s *StaticFileServer) fail(w http.ResponseWriter, req *http.Request, resErr *ResolutionError) {
	s.log.Info("StaticFileServer: Path could not be resolved", logger.LogFields{
		"uri":   req.URL.Path,
		"path":  resErr.Path,
		"error": resErr.Err.Error(),
	})
	writeResolutionError(w, resErr)
	s.observe(OutcomeNotFound, EncodingIdentity, 0)
}

func (s *StaticFileServer) observe(outcome Outcome, enc Encoding, n int64) {
	if s.recorder != nil {
		s.recorder.ObserveStatic(outcome, enc, n)
	}
}
