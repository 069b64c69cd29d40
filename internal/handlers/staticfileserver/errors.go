package staticfileserver

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

// ErrOutsideRoot is returned when a request path resolves outside the root.
var ErrOutsideRoot = errors.New("path resolves outside the served root")

// ErrUnsupportedFileType is returned for entries that are neither regular
// files nor directories (sockets, devices, pipes).
var ErrUnsupportedFileType = errors.New("unsupported file type")

// ResolutionError is the single failure category of the handler: any probe,
// open or directory read error for a resolved path.
type ResolutionError struct {
	Path string
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("%s is not a directory or file\n%v", e.Path, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// writeResolutionError answers 404 with a plain-text body naming the path and
// the underlying error. Validator headers set earlier in the request are dropped.
func writeResolutionError(w http.ResponseWriter, resErr *ResolutionError) {
	h := w.Header()
	for _, name := range []string{"Expires", "Cache-Control", "Last-Modified", "ETag", "Content-Encoding", "Vary"} {
		h.Del(name)
	}
	body := resErr.Error()
	h.Set("Content-Type", "text/plain")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(body))
}
