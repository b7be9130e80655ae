// Package middleware provides the HTTP middleware stack of the search API:
// request ids, Prometheus metrics, timeouts, CORS and per-client rate
// limiting.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/metrics"
)

// Metrics records request count, latency and in-flight requests. Paths are
// reduced to a fixed set of route labels so scanners and ids cannot grow
// the label space.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.HTTPRequestsInFlight.Inc()
			defer m.HTTPRequestsInFlight.Dec()

			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)

			route := routeLabel(r.URL.Path)
			m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.Status())).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// routes lists the label for every served path. A trailing "/{id}" matches
// one numeric segment.
var routes = []string{
	"/api/search",
	"/api/lists",
	"/api/lists/{id}",
	"/api/repositories/{id}",
	"/api/stats",
	"/api/db-version",
	"/api/cache/stats",
	"/api/analytics",
	"/api/webhook",
	"/health/live",
	"/health/ready",
}

func routeLabel(path string) string {
	path = strings.TrimSuffix(path, "/")
	for _, route := range routes {
		prefix, isParam := strings.CutSuffix(route, "/{id}")
		if !isParam {
			if path == route {
				return route
			}
			continue
		}
		id, ok := strings.CutPrefix(path, prefix+"/")
		if !ok || strings.Contains(id, "/") {
			continue
		}
		if _, err := strconv.ParseInt(id, 10, 64); err == nil {
			return route
		}
	}
	return "other"
}

// statusWriter captures the status code written by the handler.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	if sw.status == 0 {
		sw.status = code
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if sw.status == 0 {
		sw.status = http.StatusOK
	}
	return sw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (sw *statusWriter) Unwrap() http.ResponseWriter { return sw.ResponseWriter }

func (sw *statusWriter) Status() int {
	if sw.status == 0 {
		return http.StatusOK
	}
	return sw.status
}
