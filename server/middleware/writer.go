package middleware

import "net/http"

// trackingWriter records the final status and body size of a response.
// Informational 1xx headers (100 Continue, 103 Early Hints) pass through
// without counting as the response.
type trackingWriter struct {
	http.ResponseWriter
	status  int
	bytes   int64
	started bool
}

func newTrackingWriter(w http.ResponseWriter) *trackingWriter {
	return &trackingWriter{ResponseWriter: w, status: http.StatusOK}
}

func (tw *trackingWriter) WriteHeader(code int) {
	if !tw.started && code >= 200 {
		tw.status, tw.started = code, true
	}
	tw.ResponseWriter.WriteHeader(code)
}

func (tw *trackingWriter) Write(b []byte) (int, error) {
	tw.started = true
	n, err := tw.ResponseWriter.Write(b)
	tw.bytes += int64(n)
	return n, err
}

// Flush keeps streamed upstream bodies flowing through the middleware chain.
func (tw *trackingWriter) Flush() {
	tw.started = true
	_ = http.NewResponseController(tw.ResponseWriter).Flush()
}

// Unwrap lets http.ResponseController reach deadlines and hijacking on the
// server's writer.
func (tw *trackingWriter) Unwrap() http.ResponseWriter {
	return tw.ResponseWriter
}
