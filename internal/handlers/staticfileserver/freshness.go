package staticfileserver

import (
	"fmt"
	"io/fs"
	"net/http"
	"strconv"
	"time"
)

// Validators are the cache validators derived from a file's metadata.
type Validators struct {
	LastModified string
	ETag         string
}

// NewValidators derives validators from size and modification time only.
// The ETag is deterministic and never a content hash.
func NewValidators(fi fs.FileInfo) Validators {
	mtime := fi.ModTime()
	return Validators{
		LastModified: mtime.UTC().Format(http.TimeFormat),
		ETag:         fmt.Sprintf("\"%d-%d\"", fi.Size(), mtime.Unix()),
	}
}

// FreshnessEvaluator sets caching headers and decides whether a client's
// cached copy can be reused.
type FreshnessEvaluator struct {
	maxAge time.Duration
	now    func() time.Time
}

// NewFreshnessEvaluator returns an evaluator advertising maxAge. A nil now
// defaults to time.Now.
func NewFreshnessEvaluator(maxAge time.Duration, now func() time.Time) *FreshnessEvaluator {
	if now == nil {
		now = time.Now
	}
	return &FreshnessEvaluator{maxAge: maxAge, now: now}
}

// Evaluate always writes Expires, Cache-Control, Last-Modified and ETag to
// respHeader, then reports whether the request's conditional headers prove
// the client copy fresh.
//
// Both If-Modified-Since and If-None-Match must be present and both must
// equal the current validators exactly. A request carrying only one of them
// is served as a first visit. This is stricter than RFC 7232, where
// If-None-Match alone is authoritative.
func (e *FreshnessEvaluator) Evaluate(fi fs.FileInfo, reqHeader, respHeader http.Header) bool {
	v := NewValidators(fi)
	seconds := int64(e.maxAge / time.Second)

	respHeader.Set("Expires", e.now().Add(e.maxAge).UTC().Format(http.TimeFormat))
	respHeader.Set("Cache-Control", "public,max-age="+strconv.FormatInt(seconds, 10))
	respHeader.Set("Last-Modified", v.LastModified)
	respHeader.Set("ETag", v.ETag)

	ifModifiedSince := reqHeader.Get("If-Modified-Since")
	ifNoneMatch := reqHeader.Get("If-None-Match")

	if ifModifiedSince == "" || ifNoneMatch == "" {
		return false
	}
	if ifModifiedSince != v.LastModified {
		return false
	}
	if ifNoneMatch != v.ETag {
		return false
	}
	return true
}
