package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/szibis/sensu-relay/internal/buffer"
	"github.com/szibis/sensu-relay/internal/config"
	"github.com/szibis/sensu-relay/internal/exporter"
	"github.com/szibis/sensu-relay/internal/health"
	"github.com/szibis/sensu-relay/internal/logging"
	"github.com/szibis/sensu-relay/internal/metric"
	"github.com/szibis/sensu-relay/internal/receiver"
	"github.com/szibis/sensu-relay/internal/stats"
	"github.com/szibis/sensu-relay/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.ParseFlags()

	if cfg.ShowHelp {
		config.PrintUsage()
		os.Exit(0)
	}

	if cfg.ShowVersion {
		config.PrintVersion()
		os.Exit(0)
	}

	if cfg.ValidateOnly {
		result := config.ValidateFile(cfg.ConfigFile)
		fmt.Println(result.JSON())
		if !result.Valid {
			os.Exit(1)
		}
		os.Exit(0)
	}

	if err := cfg.Validate(); err != nil {
		logging.Fatal("invalid configuration", logging.F("error", err.Error()))
	}

	logging.SetLevel(cfg.Level())
	logging.SetResource(map[string]string{
		"service.name":    telemetry.ServiceName,
		"service.version": config.Version(),
	})

	if err := run(cfg); err != nil {
		logging.Fatal("sensu-relay stopped with error", logging.F("error", err.Error()))
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	setMemoryLimit(cfg.MemoryLimitRatio)

	tel, err := telemetry.Start(ctx, cfg.TelemetryConfig())
	if err != nil {
		return fmt.Errorf("start telemetry: %w", err)
	}
	if hook := tel.LogHook(); hook != nil {
		logging.SetHook(hook)
		logging.Info("OTLP telemetry enabled", logging.F(
			"endpoint", cfg.TelemetryEndpoint,
			"protocol", cfg.TelemetryProtocol,
		))
	}
	defer func() {
		logging.SetHook(nil)
		if err := tel.Shutdown(context.Background()); err != nil {
			logging.Warn("telemetry shutdown failed", logging.F("error", err.Error()))
		}
	}()

	conn, err := exporter.New(cfg.ConnConfig())
	if err != nil {
		return fmt.Errorf("create collector connection: %w", err)
	}
	// A failed first connect is not fatal; the dispatcher reconnects on flush.
	conn.Connect(ctx)

	dispatcher, err := buffer.NewDispatcher(cfg.DispatcherConfig(), conn, metric.JSONLineEncoder{})
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("create dispatcher: %w", err)
	}

	statsCollector := stats.NewCollector()
	prometheus.MustRegister(statsCollector)

	runner := buffer.NewRunner(dispatcher, cfg.FlushInterval, cfg.QueueSize,
		buffer.WithObserver(statsCollector.Observe))

	// The runner outlives the signal context so it can drain after the
	// receivers have stopped.
	runnerCtx, stopRunner := context.WithCancel(context.Background())
	defer stopRunner()
	go runner.Start(runnerCtx)

	checker := health.New()
	checker.RegisterReadiness("collector", health.ConnectedCheck(conn))

	var tcpReceiver *receiver.TCPReceiver
	if cfg.TCPListenAddr != "" {
		tcpReceiver = receiver.NewTCP(cfg.TCPReceiverConfig(), runner)
	}
	var httpReceiver *receiver.HTTPReceiver
	if cfg.HTTPListenAddr != "" {
		httpReceiver = receiver.NewHTTP(cfg.HTTPReceiverConfig(), runner)
	}

	admin := &http.Server{
		Addr:              cfg.StatsAddr,
		Handler:           adminMux(checker),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	if tcpReceiver != nil {
		g.Go(tcpReceiver.Start)
	}
	if httpReceiver != nil {
		g.Go(httpReceiver.Start)
	}
	if cfg.StatsAddr != "" {
		g.Go(func() error {
			logging.Info("stats endpoint started", logging.F("addr", cfg.StatsAddr, "path", "/metrics"))
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("stats server: %w", err)
			}
			return nil
		})
	}
	if cfg.StatsLogInterval > 0 {
		g.Go(func() error {
			statsCollector.StartPeriodicLogging(gctx, cfg.StatsLogInterval)
			return nil
		})
	}

	logging.Info("sensu-relay started", logging.F(
		"version", config.Version(),
		"collector", conn.Config().Address(),
		"protocol", string(conn.Config().Protocol),
		"connected", conn.Connected(),
		"tcp_addr", cfg.TCPListenAddr,
		"http_addr", cfg.HTTPListenAddr,
		"stats_addr", cfg.StatsAddr,
		"batch_size", cfg.BatchSize,
	))

	<-gctx.Done()
	logging.Info("shutting down")
	checker.SetShuttingDown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if tcpReceiver != nil {
		if err := tcpReceiver.Stop(shutdownCtx); err != nil {
			logging.Warn("tcp receiver stop failed", logging.F("error", err.Error()))
		}
	}
	if httpReceiver != nil {
		if err := httpReceiver.Stop(shutdownCtx); err != nil {
			logging.Warn("http receiver stop failed", logging.F("error", err.Error()))
		}
	}

	stopRunner()
	select {
	case <-runner.Done():
	case <-shutdownCtx.Done():
		logging.Warn("runner did not finish before shutdown timeout")
	}

	if err := admin.Shutdown(shutdownCtx); err != nil {
		logging.Warn("stats server stop failed", logging.F("error", err.Error()))
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logging.Info("shutdown complete")
	return nil
}

func adminMux(checker *health.Checker) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/live", checker.LiveHandler())
	mux.HandleFunc("/ready", checker.ReadyHandler())
	return mux
}

// setMemoryLimit sets GOMEMLIMIT from the cgroup limit, falling back to
// system memory. An explicit GOMEMLIMIT env var wins.
func setMemoryLimit(ratio float64) {
	if ratio <= 0 {
		return
	}
	limit, err := memlimit.SetGoMemLimitWithOpts(
		memlimit.WithRatio(ratio),
		memlimit.WithProvider(memlimit.ApplyFallback(memlimit.FromCgroup, memlimit.FromSystem)),
	)
	if err != nil {
		logging.Warn("could not set memory limit", logging.F("error", err.Error()))
		return
	}
	if limit > 0 {
		logging.Info("memory limit set", logging.F("limit_bytes", limit, "ratio", ratio))
	}
}
