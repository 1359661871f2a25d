// failoverd — Primary/Secondary failover coordination core for a batch-job
// server cluster.
package main

import (
	"flag"
	"fmt"
	nethttp "net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rfdonnelly/failoverd/internal/config"
	"github.com/rfdonnelly/failoverd/internal/events"
	"github.com/rfdonnelly/failoverd/internal/failover"
	"github.com/rfdonnelly/failoverd/internal/logging"
	"github.com/rfdonnelly/failoverd/internal/metrics"
)

func main() {
	configPath := flag.String("config", "/etc/failoverd/config.toml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Server.LogLevel, os.Stdout)
	logger.Info("failoverd starting", "config", *configPath, "role", cfg.Server.Role)
	metrics.ServerStartTime.Set(float64(time.Now().Unix()))

	bus := events.NewBus(1000, logger)
	go bus.Start()
	defer bus.Stop()

	if cfg.Server.MetricsListen != "" {
		mux := nethttp.NewServeMux()
		mux.Handle("GET /metrics", promhttp.Handler())
		go func() {
			if err := nethttp.ListenAndServe(cfg.Server.MetricsListen, mux); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		logger.Info("metrics listening", "addr", cfg.Server.MetricsListen)
	}

	for _, dir := range []string{
		filepath.Join(cfg.Failover.HomePath, "server_priv"),
		filepath.Join(cfg.Failover.HomePath, "spool"),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Error("failed to create required directory", "dir", dir, "error", err)
			os.Exit(1)
		}
	}

	hostname, err := os.Hostname()
	if err != nil {
		logger.Error("failed to determine hostname", "error", err)
		os.Exit(1)
	}

	hostID, err := failover.LocalHostID()
	if err != nil {
		logger.Error("failed to derive host identifier", "error", err)
		os.Exit(1)
	}

	deps := failover.Deps{
		HomePath:  cfg.Failover.HomePath,
		SpoolPath: filepath.Join(cfg.Failover.HomePath, "spool"),
		Hostname:  hostname,
		HostID:    hostID,
		Logger:    logger,
		Bus:       bus,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal, exiting", "signal", sig.String())
		os.Exit(0)
	}()

	switch cfg.Server.Role {
	case "primary":
		os.Exit(runPrimary(cfg, deps))
	case "secondary":
		os.Exit(runSecondary(cfg, deps))
	default:
		logger.Error("unreachable: config validation should have rejected this role", "role", cfg.Server.Role)
		os.Exit(1)
	}
}

// runPrimary implements the Primary startup sequence from spec §4.6: if a
// Secondary-active marker is present, first ask the Secondary to step
// back before binding the control-channel listener.
func runPrimary(cfg *config.Config, deps failover.Deps) int {
	switch failover.TakeoverFromSecondary(cfg, deps) {
	case failover.TakeoverFailed:
		return failover.TakeoverFailed
	}

	p := failover.NewPrimary(cfg, deps)
	if err := p.Listen(); err != nil {
		deps.Logger.Error("failed to open control-channel listener", "error", err)
		return 1
	}
	deps.Logger.Info("primary listening", "addr", cfg.Failover.PrimaryHost)
	return p.Run()
}

func runSecondary(cfg *config.Config, deps failover.Deps) int {
	s := failover.NewSecondary(cfg, deps)
	return s.Run()
}
