package middleware

import (
	"net/http"
	"time"
)

// HTTPRecorder receives per-request metrics.
type HTTPRecorder interface {
	RecordHTTPRequest(method, path string, status int, duration time.Duration, bytes int64)
	IncrementActiveConnections()
	DecrementActiveConnections()
}

// MetricsMiddleware records request counts, latency and response size by
// route template so path parameters do not explode label cardinality.
func MetricsMiddleware(rec HTTPRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec.IncrementActiveConnections()
			defer rec.DecrementActiveConnections()

			rw := wrapResponseWriter(w)
			next.ServeHTTP(rw, r)

			route := routeTemplate(r)
			if route == "" {
				route = "unmatched"
			}
			rec.RecordHTTPRequest(r.Method, route, rw.statusCode, time.Since(start), rw.bytesWritten)
		})
	}
}
