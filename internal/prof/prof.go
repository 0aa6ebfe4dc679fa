// Package prof starts continuous profiling with pyroscope when enabled.
package prof

import (
	"context"
	"runtime"

	"github.com/grafana/pyroscope-go"

	"github.com/classpulse/classpulse/internal/log"
	"github.com/classpulse/classpulse/internal/xerrors"
)

type Options struct {
	Enabled              bool
	AppName              string
	ServerAddress        string
	TenantID             string
	Tags                 map[string]string
	ProfileMutexFraction int
	BlockProfileRate     int
}

// Start begins profiling and returns a stop func. Disabled profiling
// returns a no-op stop and no error.
func Start(ctx context.Context, opts Options) (func(), error) {
	logger := log.FromContext(ctx)

	if !opts.Enabled {
		logger.Info(ctx, "pyroscope disabled")
		return func() {}, nil
	}

	if opts.ServerAddress == "" {
		err := xerrors.Newf("invalid pyroscope server address (%q)", opts.ServerAddress)
		logger.Error(ctx, err, "pyroscope options")
		return func() {}, err
	}

	if opts.ProfileMutexFraction > 0 {
		runtime.SetMutexProfileFraction(opts.ProfileMutexFraction)
	}
	if opts.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(opts.BlockProfileRate)
	}

	cfg := pyroscope.Config{
		ApplicationName: opts.AppName,
		ServerAddress:   opts.ServerAddress,
		Tags:            opts.Tags,
	}
	if opts.TenantID != "" {
		cfg.TenantID = opts.TenantID
	}
	cfg.ProfileTypes = []pyroscope.ProfileType{
		pyroscope.ProfileCPU,
		pyroscope.ProfileAllocObjects,
		pyroscope.ProfileAllocSpace,
		pyroscope.ProfileInuseObjects,
		pyroscope.ProfileInuseSpace,
		pyroscope.ProfileGoroutines,
		pyroscope.ProfileMutexCount,
		pyroscope.ProfileMutexDuration,
		pyroscope.ProfileBlockCount,
		pyroscope.ProfileBlockDuration,
	}

	profiler, err := pyroscope.Start(cfg)
	if err != nil {
		logger.Error(ctx, err, "pyroscope start failed",
			"server_address", opts.ServerAddress,
			"app_name", opts.AppName,
		)
		return func() {}, err
	}

	logger.Info(ctx, "pyroscope started",
		"server_address", opts.ServerAddress,
		"app_name", opts.AppName,
	)

	return func() {
		profiler.Stop()
		logger.Info(context.Background(), "pyroscope stopped")
	}, nil
}
