package middleware

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// DefaultBodyLimit bounds JSON request bodies.
const DefaultBodyLimit int64 = 1 << 20

// BodyLimit caps request bodies at defaultLimit, except attachment uploads
// (POST to a path ending in /attachments) which may carry up to uploadLimit.
// The multipart envelope counts towards the limit.
func BodyLimit(defaultLimit, uploadLimit int64) echo.MiddlewareFunc {
	if defaultLimit <= 0 {
		defaultLimit = DefaultBodyLimit
	}
	if uploadLimit < defaultLimit {
		uploadLimit = defaultLimit
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}

			limit := defaultLimit
			if isUpload(req) {
				limit = uploadLimit
			}

			// Content-Length allows early rejection; the wrapped reader
			// catches bodies that lie about it or omit it.
			if req.ContentLength > limit {
				return tooLarge(limit)
			}
			req.Body = &limitedReadCloser{ReadCloser: req.Body, remaining: limit, limit: limit}
			return next(c)
		}
	}
}

func isUpload(req *http.Request) bool {
	return req.Method == http.MethodPost && strings.HasSuffix(strings.TrimSuffix(req.URL.Path, "/"), "/attachments")
}

func tooLarge(limit int64) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
		fmt.Sprintf("request body exceeds maximum allowed size of %d bytes", limit))
}

type limitedReadCloser struct {
	io.ReadCloser
	remaining int64
	limit     int64
	exceeded  bool
}

func (r *limitedReadCloser) Read(p []byte) (n int, err error) {
	if r.exceeded {
		return 0, tooLarge(r.limit)
	}

	// One byte past the limit is enough to detect overflow.
	toRead := int64(len(p))
	if toRead > r.remaining+1 {
		toRead = r.remaining + 1
	}

	n, err = r.ReadCloser.Read(p[:toRead])
	r.remaining -= int64(n)

	if r.remaining < 0 {
		r.exceeded = true
		return 0, tooLarge(r.limit)
	}
	return n, err
}
