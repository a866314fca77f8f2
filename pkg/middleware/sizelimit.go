package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
)

const (
	// DefaultMaxRequestSize is the default maximum request body size (1MB).
	// Webhook payloads from the supported platforms are far smaller.
	DefaultMaxRequestSize = 1 * 1024 * 1024

	// MaxRequestSizeHeader is the header name for max request size
	MaxRequestSizeHeader = "X-Max-Request-Size"
)

// RequestSizeLimiter limits the size of request bodies
type RequestSizeLimiter struct {
	maxSize int64
}

// NewRequestSizeLimiter creates a new request size limiter
// maxSize is in bytes. If 0, uses DefaultMaxRequestSize
func NewRequestSizeLimiter(maxSize int64) *RequestSizeLimiter {
	if maxSize <= 0 {
		maxSize = DefaultMaxRequestSize
	}
	return &RequestSizeLimiter{
		maxSize: maxSize,
	}
}

// MaxSize returns the configured limit in bytes
func (rsl *RequestSizeLimiter) MaxSize() int64 {
	return rsl.maxSize
}

// Middleware returns an HTTP middleware that enforces request size limits.
// Reads past the limit fail with *http.MaxBytesError.
func (rsl *RequestSizeLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > rsl.maxSize {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			_, _ = w.Write([]byte(`{"error":"request_too_large","message":"Request body exceeds ` + strconv.FormatInt(rsl.maxSize, 10) + ` bytes"}`))
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, rsl.maxSize)
		w.Header().Set(MaxRequestSizeHeader, strconv.FormatInt(rsl.maxSize, 10))

		next.ServeHTTP(w, r)
	})
}

// jsonEscape returns s escaped for embedding inside a JSON string literal
func jsonEscape(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return string(b[1 : len(b)-1])
}
