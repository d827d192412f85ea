package middleware

import (
	"net/http"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/metrics"
	"github.com/go-chi/chi/v5"
)

// RequestLog logs method, path and duration of every request and records it
// in the HTTP metrics under the matched route pattern.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := wrap(w)
		defer logger.DeferLogDuration("http "+r.Method+" "+r.URL.Path, start)()
		next.ServeHTTP(rw, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		metrics.ObserveHTTP(r.Method, route, rw.status, start)
		if rw.status >= http.StatusInternalServerError {
			logger.Warnf("http %s %s status=%d user=%s", r.Method, route, rw.status, GetUserID(r.Context()))
		}
	})
}
