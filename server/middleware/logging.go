package middleware

import (
	"net/http"
	"time"

	"github.com/kbukum/meshgate/logger"
)

// RequestLogger returns middleware that logs every request with method,
// path, status code, and duration. Requests for which skip returns true are
// served without a log line; proxied traffic is skipped because the
// dispatcher logs it with route and upstream details.
func RequestLogger(log *logger.Logger, skip func(path string) bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip != nil && skip(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			tw := newTrackingWriter(w)
			next.ServeHTTP(tw, r)

			fields := map[string]interface{}{
				"method":             r.Method,
				"path":               r.URL.Path,
				logger.FieldStatus:   tw.status,
				"bytes":              tw.bytes,
				logger.FieldDuration: time.Since(start).Milliseconds(),
			}
			logByStatus(log.WithContext(r.Context()), fields, tw.status)
		})
	}
}

// logByStatus logs request fields at the appropriate level based on HTTP status code.
func logByStatus(log *logger.Logger, fields map[string]interface{}, status int) {
	switch {
	case status >= 500:
		log.Error("request completed", fields)
	case status >= 400:
		log.Warn("request completed", fields)
	default:
		log.Debug("request completed", fields)
	}
}
