// metrics.go — Prometheus HTTP метрики Notas Fadex.
// nf_http_requests_total, nf_http_request_duration_seconds.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nf_http_requests_total",
			Help: "Общее количество HTTP-запросов к Notas Fadex",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nf_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к Notas Fadex в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware записывает количество и длительность запросов по endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			path := normalizePath(r.URL.Path)

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// dynamicRoutes — префиксы путей с идентификатором и их шаблоны.
// Порядок важен: более длинные префиксы раньше.
var dynamicRoutes = []struct {
	prefix   string
	template string
	// suffixes — допустимые хвосты после идентификатора
	suffixes []string
}{
	{"/api/v1/notes/", "/api/v1/notes/{id}", []string{"/history", "/resend"}},
	{"/api/v1/users/", "/api/v1/users/{id}", []string{"/role", "/permissions/{permission}"}},
	{"/api/download/", "/api/download/{fileId}", nil},
	{"/attest/", "/attest/{token}", nil},
}

// staticRoutes — пути без параметров.
var staticRoutes = map[string]bool{
	"/health/live":                true,
	"/health/ready":               true,
	"/metrics":                    true,
	"/api/openapi.json":           true,
	"/api/public/notes":           true,
	"/api/public/attest":          true,
	"/api/public/reject":          true,
	"/api/cron/check-expirations": true,
	"/api/cron/send-reminders":    true,
	"/auth/login":                 true,
	"/auth/callback":              true,
	"/auth/logout":                true,
	"/api/v1/notes":               true,
	"/api/v1/notes/export":        true,
	"/api/v1/me":                  true,
	"/api/v1/users":               true,
	"/api/v1/settings":            true,
	"/api/v1/idp/status":          true,
}

// normalizePath заменяет идентификаторы и токены на шаблоны,
// ограничивая кардинальность меток и скрывая токены аттестации.
// /api/v1/notes/0b6c.../history → /api/v1/notes/{id}/history
func normalizePath(path string) string {
	if staticRoutes[path] {
		return path
	}
	for _, route := range dynamicRoutes {
		rest, ok := strings.CutPrefix(path, route.prefix)
		if !ok || rest == "" {
			continue
		}
		_, tail, hasTail := strings.Cut(rest, "/")
		if !hasTail {
			return route.template
		}
		tail = "/" + tail
		for _, suffix := range route.suffixes {
			if suffix == tail || (strings.HasSuffix(suffix, "{permission}") &&
				strings.HasPrefix(tail, strings.TrimSuffix(suffix, "{permission}"))) {
				return route.template + suffix
			}
		}
		return route.template + "/*"
	}
	return "other"
}
