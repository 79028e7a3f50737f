package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"carestore/config"
	"carestore/dispatch"
	"carestore/persist"
	"carestore/server"
	"carestore/store"
	"carestore/version"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "carestore:", err)
		os.Exit(2)
	}
	if cfg.ShowVersion {
		fmt.Println(version.String())
		return
	}
	if err := run(cfg); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	logger.Info("starting", "version", version.String(), "gateway", cfg.Gateway)

	ctx := context.Background()
	gw, err := persist.Open(ctx, persist.Options{
		Backend:     cfg.Gateway,
		DataDir:     cfg.DataDir,
		Fsync:       cfg.Fsync,
		PostgresDSN: cfg.PostgresDSN,
		Logger:      logger.With("component", "persist"),
	})
	if err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	defer gw.Close()

	st := store.New(gw, cfg.SessionBuckets, logger.With("component", "store"))
	st.SetGatewayTimeout(cfg.GatewayTimeout)
	if err := st.Load(ctx); err != nil {
		return err
	}

	var reg *prometheus.Registry
	if cfg.MetricsAddr != "" {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	opts := dispatch.Options{Logger: logger.With("component", "dispatch"), Version: version.String()}
	if reg != nil {
		opts.Registerer = reg
	}
	disp, err := dispatch.New(st, opts)
	if err != nil {
		return err
	}

	var metricsSrv *http.Server
	if reg != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("metrics listening", "addr", cfg.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", "error", err)
			}
		}()
	}

	srv := server.New(cfg, disp, logger.With("component", "server"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		sig := <-sigCh
		logger.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("shutdown", "error", err)
		}
		if metricsSrv != nil {
			metricsSrv.Shutdown(ctx)
		}
	}()

	if err := srv.ListenAndServe(); err != nil {
		return err
	}
	// Serve returns as soon as the listener closes; keep the gateway open
	// until connections have drained.
	<-drained
	logger.Info("stopped")
	return nil
}
