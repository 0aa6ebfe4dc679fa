// Package httpserver assembles the public listener: router, middleware
// chain, and server lifecycle. main() owns startup order and shutdown.
package httpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/classpulse/classpulse/internal/httpmw"
	"github.com/classpulse/classpulse/internal/log"
	"github.com/classpulse/classpulse/internal/opshttp"
	"github.com/classpulse/classpulse/internal/probe"
	"github.com/classpulse/classpulse/internal/xerrors"
)

type Options struct {
	Logger log.Logger
	Port   int

	// APIRoutes mounts application endpoints on the router.
	APIRoutes func(chi.Router)

	Health    probe.Probe
	Readiness probe.Probe

	// MetricsMW instruments requests; nil disables instrumentation.
	MetricsMW func(http.Handler) http.Handler

	// FloodMW is the per-IP rate limit middleware; nil disables it.
	FloodMW func(http.Handler) http.Handler

	// CORSOrigins is the allowed origin list; empty disables CORS.
	CORSOrigins []string

	ClientIPOpts httpmw.ClientIPOptions

	// MaxBodyBytes caps request bodies, 0 uses the default.
	MaxBodyBytes int64

	// EnableTracing wraps the handler in otelhttp spans.
	EnableTracing bool

	// OnPanic is invoked after recovered handler panics.
	OnPanic func(r *http.Request)
}

const defaultMaxBodyBytes = 16 * 1024

// NewHandler builds the public HTTP handler with routes and middleware.
func NewHandler(opts *Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}

	r := chi.NewRouter()

	r.Use(middleware.Compress(5, "application/json", "text/plain"))
	r.Use(httpmw.AccessLog)

	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	r.Use(httpmw.MaxBody(maxBody))

	// liveness for simple uptime checks; kube-style probes live alongside
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if opts.Health != nil {
		r.Get("/-/healthy", opshttp.HealthzHandler(opts.Health))
	}
	if opts.Readiness != nil {
		r.Get("/-/ready", opshttp.ReadyzHandler(opts.Readiness))
	}

	if opts.APIRoutes != nil {
		opts.APIRoutes(r)
	}

	// wrap outward from the router; outermost middleware listed last
	var h http.Handler = r

	h = httpmw.WithLogger(logger)(h)

	if opts.MetricsMW != nil {
		h = opts.MetricsMW(h)
	}

	if opts.EnableTracing {
		h = otelhttp.NewHandler(
			h,
			"http.server",
			otelhttp.WithFilter(func(r *http.Request) bool {
				p := r.URL.Path
				return p != "/health" && p != "/-/healthy" && p != "/-/ready"
			}),
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
			otelhttp.WithPublicEndpointFn(func(r *http.Request) bool { return true }),
		)
	}

	if opts.FloodMW != nil {
		h = opts.FloodMW(h)
	}

	// client IP must resolve before the flood limiter keys on it
	h = httpmw.ClientIPWithOptions(opts.ClientIPOpts)(h)

	if len(opts.CORSOrigins) > 0 {
		h = httpmw.CORS(opts.CORSOrigins)(h)
	}

	h = httpmw.RequestID("X-Request-Id")(h)
	h = httpmw.Recover(logger, opts.OnPanic)(h)
	h = httpmw.SecurityHeaders(h)

	return h
}

// Server timeout defaults, shared with the admin listener.
const (
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20
)

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}
}

// Start runs the public HTTP server. Returns stop(ctx) for graceful
// shutdown.
func Start(ctx context.Context, opts *Options) (func(context.Context) error, error) {
	port := opts.Port
	if port == 0 {
		port = 8080
	}
	addr := fmt.Sprintf(":%d", port)

	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}

	srv := NewServer(addr, NewHandler(opts))

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "could not listen on addr=%v", addr)
	}

	go func() {
		logger.Info(ctx, "http server listening", "addr", addr)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, err, "http server error")
		}
	}()

	var once sync.Once
	stop := func(sctx context.Context) (retErr error) {
		once.Do(func() {
			logger.Info(sctx, "http server shutting down")
			c, cancel := context.WithTimeout(sctx, 5*time.Second)
			defer cancel()
			retErr = srv.Shutdown(c)
		})
		return retErr
	}
	return stop, nil
}
