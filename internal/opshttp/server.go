// Package opshttp runs the admin listener: metrics, health probes, and
// optional pprof, kept off the public port.
package opshttp

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/classpulse/classpulse/internal/log"
	"github.com/classpulse/classpulse/internal/probe"
	"github.com/classpulse/classpulse/internal/xerrors"
)

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      probe.Probe
	Readiness   probe.Probe
}

// Start runs the admin HTTP server with /metrics, /-/healthy, /-/ready and
// pprof debug endpoints. Returns stop(ctx) for graceful shutdown.
func Start(ctx context.Context, logger log.Logger, opts Options) (func(context.Context) error, error) {
	port := opts.Port
	if port == 0 {
		port = 9000
	}
	addr := fmt.Sprintf(":%d", port)

	mux := http.NewServeMux()
	mux.Handle("/-/healthy", HealthzHandler(opts.Health))
	mux.Handle("/-/ready", ReadyzHandler(opts.Readiness))

	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics)
	}

	if opts.EnablePprof {
		RegisterPprof(mux)
	} else {
		mux.HandleFunc("/debug/pprof/", func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		})
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "could not listen on admin addr=%v", addr)
	}

	go func() {
		logger.Info(ctx, "admin http server listening", "addr", addr)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, err, "admin http server error")
		}
	}()

	var once sync.Once
	stop := func(sctx context.Context) (retErr error) {
		once.Do(func() {
			logger.Info(sctx, "admin http server shutting down")
			c, cancel := context.WithTimeout(sctx, 5*time.Second)
			defer cancel()
			retErr = srv.Shutdown(c)
		})
		return retErr
	}
	return stop, nil
}
