package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/kbukum/meshgate/logger"
)

// HeaderRequestID is the request id header, forwarded upstream unchanged.
const HeaderRequestID = "X-Request-Id"

// RequestID makes sure every request carries an X-Request-Id, echoes it on
// the response and stores it in the request context for logging.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(HeaderRequestID)
			if id == "" {
				id = uuid.New().String()
				r.Header.Set(HeaderRequestID, id)
			}
			w.Header().Set(HeaderRequestID, id)
			next.ServeHTTP(w, r.WithContext(logger.ContextWithRequestID(r.Context(), id)))
		})
	}
}
