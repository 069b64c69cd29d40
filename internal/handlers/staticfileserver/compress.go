package staticfileserver

import (
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

// Encoding is a content coding chosen for a response.
type Encoding string

const (
	EncodingIdentity Encoding = ""
	EncodingGzip     Encoding = "gzip"
	EncodingDeflate  Encoding = "deflate"
)

// CompressionNegotiator picks a content coding for compressible files and
// wraps the response writer with the matching compressor.
type CompressionNegotiator struct {
	extensions map[string]struct{}
}

// NewCompressionNegotiator accepts extensions without the leading dot
// ("html", "js"). Matching is case-insensitive.
func NewCompressionNegotiator(extensions []string) *CompressionNegotiator {
	set := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			set[ext] = struct{}{}
		}
	}
	return &CompressionNegotiator{extensions: set}
}

// Compressible reports whether filePath's extension is in the configured set.
func (n *CompressionNegotiator) Compressible(filePath string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filePath), "."))
	if ext == "" {
		return false
	}
	_, ok := n.extensions[ext]
	return ok
}

// ChooseEncoding inspects an Accept-Encoding value. Quality values are
// ignored: gzip wins whenever it is listed, deflate is the fallback.
func ChooseEncoding(acceptEncoding string) Encoding {
	if acceptEncoding == "" {
		return EncodingIdentity
	}
	var sawDeflate bool
	for _, part := range strings.Split(acceptEncoding, ",") {
		token := part
		if i := strings.IndexByte(token, ';'); i >= 0 {
			token = token[:i]
		}
		switch strings.ToLower(strings.TrimSpace(token)) {
		case "gzip":
			return EncodingGzip
		case "deflate":
			sawDeflate = true
		}
	}
	if sawDeflate {
		return EncodingDeflate
	}
	return EncodingIdentity
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// Negotiate returns the writer the file body should be copied into. For a
// compressed response it sets Content-Encoding and Vary on respHeader and
// the caller must Close the returned writer to flush the trailer. For an
// identity response Close is a no-op.
func (n *CompressionNegotiator) Negotiate(w io.Writer, filePath string, reqHeader, respHeader http.Header) (io.WriteCloser, Encoding) {
	if !n.Compressible(filePath) {
		return nopWriteCloser{w}, EncodingIdentity
	}

	enc := ChooseEncoding(reqHeader.Get("Accept-Encoding"))
	switch enc {
	case EncodingGzip:
		respHeader.Set("Content-Encoding", string(EncodingGzip))
		respHeader.Add("Vary", "Accept-Encoding")
		return gzip.NewWriter(w), enc
	case EncodingDeflate:
		// HTTP "deflate" is the zlib format (RFC 1950), not a raw deflate stream.
		respHeader.Set("Content-Encoding", string(EncodingDeflate))
		respHeader.Add("Vary", "Accept-Encoding")
		return zlib.NewWriter(w), enc
	}
	return nopWriteCloser{w}, EncodingIdentity
}
