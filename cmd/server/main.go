package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/classpulse/classpulse/internal/askhttp"
	"github.com/classpulse/classpulse/internal/asklimit"
	"github.com/classpulse/classpulse/internal/cfg"
	"github.com/classpulse/classpulse/internal/httpserver"
	"github.com/classpulse/classpulse/internal/log"
	"github.com/classpulse/classpulse/internal/metrics"
	"github.com/classpulse/classpulse/internal/opshttp"
	"github.com/classpulse/classpulse/internal/otelx"
	"github.com/classpulse/classpulse/internal/probe"
	"github.com/classpulse/classpulse/internal/prof"
	"github.com/classpulse/classpulse/internal/ratelimit"
	v "github.com/classpulse/classpulse/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	cfg.FillFromEnv(flag.CommandLine, "CLASSPULSE_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	lg, err := log.New(log.Options{
		App:        v.AppName,
		Version:    vi.Version,
		Level:      lvl,
		JsonFormat: conf.LogJSON,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"go_version", vi.GoVersion,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"max_questions", conf.MaxQuestions,
		"window_minutes", conf.WindowMinutes,
		"cooldown_minutes", conf.CooldownMinutes,
		"history_retention", conf.HistoryRetention,
		"sweep_interval", conf.SweepInterval,
		"enable_pprof", conf.EnablePprof,
		"enable_tracing", conf.EnableTracing,
		"enable_pyroscope", conf.EnablePyroscope,
	)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "server",
			"version":   vi.Version,
		},
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	// Insecure because the collector is expected on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:  conf.EnableTracing,
		Endpoint: conf.OTLPEndpoint,
		Insecure: true,
		Sample:   conf.TraceSample,
		Service:  v.AppName,
		Version:  vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	m := metrics.New()
	m.SetBuildInfoFromVersion("server", vi)

	// per-student question limiter; hooks feed metrics and the audit log
	limiter := asklimit.New(ctx,
		asklimit.WithLimits(conf.MaxQuestions, conf.Window(), conf.Cooldown()),
		asklimit.WithRetention(conf.HistoryRetention),
		asklimit.WithSweepInterval(conf.SweepInterval),
		asklimit.WithOnRateLimited(func(id string) {
			m.IncQuestionRejected("rate_limited")
			m.IncStudentBlocked()
			L.Warn(ctx, "student rate limited", "student_id", id)
		}),
		asklimit.WithOnBlockedAttempt(func(id string) {
			m.IncQuestionRejected("blocked")
		}),
		asklimit.WithOnSweep(func(students int) {
			m.IncHistorySweep()
			m.SetStudentsTracked(students)
		}),
	)

	api := askhttp.NewAPI(limiter, L,
		askhttp.WithOnResult(func(res asklimit.Result) {
			m.IncQuestionSubmitted(string(res.AlertLevel))
		}),
	)

	var gate probe.ShutdownGate
	readiness := probe.All(gate.Probe())

	flood := ratelimit.New(ctx,
		ratelimit.WithRate(conf.FloodRPS, conf.FloodBurst),
		ratelimit.WithOnDenied(func(ip string) {
			m.IncFloodDenied()
		}),
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "flood limit triggered", "ip", ip)
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncFloodCapacity()
			L.Warn(ctx, "flood limiter at capacity, new ips pass untracked until eviction")
		}),
	)

	apiHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:      L,
		Port:        conf.HTTPPort,
		APIRoutes:   api.RegisterRoutes,
		Health:      probe.Static(true, ""),
		Readiness:   readiness,
		MetricsMW:   m.Middleware,
		FloodMW:     flood.Middleware,
		CORSOrigins: conf.Origins(),
		OnPanic: func(_ *http.Request) {
			m.IncHttpPanic()
		},
		EnableTracing: conf.EnableTracing,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start http listener")
		os.Exit(1)
	}
	defer func() { _ = apiHTTPStop(context.Background()) }()

	opsHTTPStop, err := opshttp.Start(ctx, L, opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      probe.Static(true, ""),
		Readiness:   readiness,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start admin http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	L.Info(context.Background(), "shutdown signal received")

	// fail readiness first so load balancers stop routing before we close
	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed, draining in-flight requests")

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(5 * time.Second):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	if err := apiHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "admin http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}
	stopProf()

	L.Info(context.Background(), "shutdown complete")
}

func notifySystemd() error {
	// systemd sets NOTIFY_SOCKET when started with Type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	conn.Write([]byte("READY=1"))
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
