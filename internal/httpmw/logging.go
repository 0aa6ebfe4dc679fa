package httpmw

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/classpulse/classpulse/internal/log"
)

// WithLogger annotates the request context with a logger carrying the
// request id so handlers get correlated log lines for free.
func WithLogger(base log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			logger := base
			if id := RequestIDFromContext(ctx); id != "" {
				logger = logger.With("request_id", id)
			}
			next.ServeHTTP(w, r.WithContext(log.WithContext(ctx, logger)))
		})
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *loggingResponseWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *loggingResponseWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// AccessLog emits one structured line per completed request.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w}
		next.ServeHTTP(lw, r)

		ctx := r.Context()
		status := lw.status
		if status == 0 {
			status = http.StatusOK
		}

		route := r.URL.Path
		if rc := chi.RouteContext(ctx); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}

		kv := []any{
			"method", r.Method,
			"route", route,
			"path", r.URL.Path,
			"status", status,
			"bytes", lw.bytes,
			"duration_ms", float64(time.Since(start).Microseconds()) / 1000.0,
		}
		if ip := ClientIPFromContext(ctx); ip != "" {
			kv = append(kv, "client_ip", ip)
		}
		if ua := r.UserAgent(); ua != "" {
			kv = append(kv, "user_agent", ua)
		}

		logger := log.FromContext(ctx)
		if status >= 500 {
			logger.Error(ctx, nil, "http request", kv...)
		} else {
			logger.Info(ctx, "http request", kv...)
		}
	})
}
