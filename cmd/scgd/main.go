// Command scgd runs a service bus node: the demo employee services, an optional NATS bridge and
// gossip-based discovery, with health, metrics and pool state served over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-metrics"
	mprom "github.com/hashicorp/go-metrics/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/next-trace/scg-service-core/adapters/memberlist"
	"github.com/next-trace/scg-service-core/adapters/nats"
	"github.com/next-trace/scg-service-core/internal/config"
	"github.com/next-trace/scg-service-core/internal/employee"
	"github.com/next-trace/scg-service-core/internal/telemetry"
	"github.com/next-trace/scg-service-core/servicebus"
)

func main() {
	path := flag.String("config", os.Getenv("SCG_CONFIG"), "path to a YAML config file")
	flag.Parse()

	if err := run(*path); err != nil {
		fmt.Fprintln(os.Stderr, "scgd:", err)
		os.Exit(1)
	}
}

func run(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	logger := cfg.Logger(os.Stderr)
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	sink, err := mprom.NewPrometheusSinkFrom(mprom.PrometheusOpts{
		Expiration: time.Minute,
		Registerer: reg,
	})
	if err != nil {
		return fmt.Errorf("metrics sink: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sys, cleanup, err := build(cfg, logger, sink)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := sys.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           newRouter(sys, reg, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)

	go func() {
		logger.Info("http listening", "addr", cfg.HTTP.Addr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", telemetry.LabelError.L(err))
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	return errors.Join(srv.Shutdown(sctx), sys.Shutdown(sctx))
}

// build wires the System with everything cfg enables. The returned cleanup releases
// connections the System does not own.
func build(cfg config.Config, logger *slog.Logger, sink metrics.MetricSink) (*servicebus.System, func(), error) {
	sys := servicebus.New(cfg.SystemOptions(logger, sink)...)
	cleanup := func() {}

	if _, err := employee.Register(sys, cfg.Queue.BatchSize, logger); err != nil {
		return nil, nil, fmt.Errorf("register employee services: %w", err)
	}

	if cfg.NATS.Enabled() {
		bridge, closeConn, err := nats.NewWithNATS(cfg.NATSClient(), cfg.NATS.Channels, cfg.NATSOptions(logger, sink)...)
		if err != nil {
			return nil, nil, err
		}

		cleanup = closeConn

		if err := sys.AddBridge(bridge); err != nil {
			closeConn()
			return nil, nil, err
		}

		if cfg.NATS.Import {
			if err := bridge.Import(sys, cfg.NATS.Channels...); err != nil {
				closeConn()
				return nil, nil, fmt.Errorf("nats import: %w", err)
			}
		}

		logger.Info("nats bridge ready", "url", cfg.NATS.URL, "channels", cfg.NATS.Channels, "import", cfg.NATS.Import)
	}

	if cfg.Gossip.Enabled {
		w := memberlist.New(cfg.Membership(), sys.Pools(), memberlist.WithLogger(logger))
		if err := sys.AddService(w); err != nil {
			cleanup()
			return nil, nil, err
		}
	}

	return sys, cleanup, nil
}
