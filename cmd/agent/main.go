package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/KimMachineGun/automemlimit"
	_ "go.uber.org/automaxprocs"

	"github.com/trainwatch/trainwatch-agent/internal/agent"
	"github.com/trainwatch/trainwatch-agent/internal/config"
	"github.com/trainwatch/trainwatch-agent/internal/device"
	"github.com/trainwatch/trainwatch-agent/internal/emitter"
	"github.com/trainwatch/trainwatch-agent/internal/errors"
	"github.com/trainwatch/trainwatch-agent/internal/health"
	"github.com/trainwatch/trainwatch-agent/internal/monitor"
	"github.com/trainwatch/trainwatch-agent/internal/observability"
	"github.com/trainwatch/trainwatch-agent/internal/sink"
)

func main() {
	// 1. Load and validate config.
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// 2. Create context with signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		slog.Info("shutdown signal received", "signal", sig)
		cancel()
	}()

	slog.Info("trainwatch-agent starting",
		"version", cfg.AgentVersion,
		"run_id", cfg.RunID,
		"rank", cfg.Rank,
		"sink", cfg.SinkKind,
		"sample_interval", cfg.SampleInterval,
	)

	// 3. Create shared infrastructure.
	metrics := observability.NewMetrics()
	errCollector := errors.NewErrorCollector(errors.RealClock{})

	// 4. Bind the device runtime.
	rt, err := buildDeviceRuntime(cfg)
	if err != nil {
		slog.Error("failed to bind device runtime", "error", err)
		os.Exit(1)
	}

	// 5. Create the device memory monitor.
	mon, err := monitor.New(ctx, rt, errCollector)
	if err != nil {
		slog.Error("failed to create device memory monitor", "error", err)
		os.Exit(1)
	}

	// 6. Build the sink and emitter.
	em, err := buildEmitter(cfg, metrics, errCollector)
	if err != nil {
		slog.Error("failed to initialize metric sink", "error", err)
		os.Exit(1)
	}

	// 7. Host-side sampler (best effort).
	host, err := agent.NewHostSampler()
	if err != nil {
		slog.Warn("host sampler unavailable, continuing without host metrics", "error", err)
		host = nil
	}

	// 8. Create the runner.
	runner := agent.NewRunner(&cfg, mon, em, host, metrics)

	// 9. Start health server.
	healthSrv := health.NewServer(cfg.HealthPort, metrics, runner, runner, errCollector, cfg.DebugEndpoints)
	if err := healthSrv.Start(); err != nil {
		slog.Error("failed to start health server", "error", err)
		os.Exit(1)
	}

	// 10. Run the sampling loop (blocks until the context is canceled).
	if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("sampling loop exited with error", "error", err)
	}

	// 11. Graceful shutdown: flush the emitter before tearing down.
	if err := em.Close(); err != nil {
		slog.Error("emitter close error", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := healthSrv.Stop(shutdownCtx); err != nil {
		slog.Error("health server shutdown error", "error", err)
	}

	slog.Info("trainwatch-agent stopped")
}

// buildDeviceRuntime binds the device runtime selected by config.
func buildDeviceRuntime(cfg config.Config) (device.Runtime, error) {
	switch cfg.DeviceRuntime {
	case config.RuntimeNVML:
		return device.NewNVMLRuntime(cfg.DeviceIndex)
	default:
		client := &http.Client{Timeout: 10 * time.Second}
		return device.NewAllocStatsRuntime(client, cfg.AllocStatsEndpoint, cfg.DeviceIndex)
	}
}

// buildEmitter constructs the configured sink chain and wraps it in a
// MetricEmitter. With the sink disabled, no sink resource is opened and the
// emitter is a permanent no-op.
func buildEmitter(cfg config.Config, metrics *observability.Metrics, errCollector *errors.ErrorCollector) (*emitter.MetricEmitter, error) {
	if !cfg.Enabled() {
		return emitter.New(nil, cfg.Namespace, false), nil
	}

	var backend sink.Backend
	switch cfg.SinkKind {
	case config.SinkHTTP:
		b, err := sink.NewHTTPBackend(&cfg, metrics, errCollector)
		if err != nil {
			return nil, sinkInitError(cfg.SinkKind, err)
		}
		backend = b
	default:
		dir := sink.RunDir(cfg.DumpDir, time.Now(), cfg.Rank)
		b, err := sink.NewFileBackend(dir)
		if err != nil {
			return nil, sinkInitError(cfg.SinkKind, err)
		}
		slog.Info("metric sink active", "dir", dir)
		backend = b
	}

	queue := sink.NewQueue(backend, cfg.QueueDepth, metrics, errCollector)
	return emitter.New(queue, cfg.Namespace, true), nil
}

func sinkInitError(kind string, err error) error {
	return &errors.AgentError{
		Code:      errors.ErrSinkInitFailed,
		Message:   "failed to initialize " + kind + " sink: " + err.Error(),
		Component: "sink",
		Timestamp: time.Now().Unix(),
		Err:       err,
	}
}
