// Command kvsd-server runs the KVS server: it ingests batch job files
// from a directory, serves interactive subscribing clients over named
// pipes, and periodically snapshots state to disk.
//
// Usage:
//
//	kvsd-server <jobs_dir> <max_backups> <max_threads> <server_fifo_name>
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"kvsd/internal/admission"
	"kvsd/internal/config"
	"kvsd/internal/dispatcher"
	"kvsd/internal/jobrunner"
	"kvsd/internal/logging"
	"kvsd/internal/metrics"
	"kvsd/internal/session"
	"kvsd/internal/snapshot"
	"kvsd/internal/store"
)

func main() {
	if len(os.Args) >= 2 && os.Args[1] == snapshot.ChildFlag {
		runSnapshotChild(os.Args[2:])
		return
	}

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "kvsd-server:", err)
		os.Exit(1)
	}
}

// runSnapshotChild is the re-exec entry point for the fork-safe
// backup protocol (see internal/snapshot). It is never invoked
// directly by an operator.
func runSnapshotChild(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "kvsd-server: snapshot child requires exactly one destination path")
		os.Exit(1)
	}
	if err := snapshot.RunChild(args[0]); err != nil {
		fmt.Fprintln(os.Stderr, "kvsd-server: snapshot child:", err)
		os.Exit(1)
	}
}

func run() error {
	jobsDir, maxBackups, maxThreads, serverFifoName, err := parseArgs(os.Args[1:])
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: logging.Format(cfg.LogFormat)})
	audit := logging.NewAudit(&logger)
	cfg.LogFields(logger)

	metricsReg, promReg := metrics.NewRegistry()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	table := store.NewTable()
	sessions := session.NewRegistry(table, metricsReg)
	connectLimiter := admission.NewConnectLimiter(cfg.ConnectRatePerSec, cfg.ConnectBurst)
	backups := admission.NewBackupAdmission(maxBackups)

	disp := dispatcher.New(serverFifoName, sessions, connectLimiter, logger, audit, metricsReg)

	if cfg.MetricsEnabled {
		go runMetricsServer(cfg.MetricsAddr, promReg, logger)
	}

	dispatcherDone := make(chan error, 1)
	go func() {
		dispatcherDone <- disp.Run(ctx)
	}()

	runner := jobrunner.New(jobsDir, table, maxThreads, backups, logger, audit, metricsReg)
	if err := runner.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("job runner exited with error")
	}

	logger.Info().Msg("job ingestion complete, serving subscribing clients until signalled")
	<-ctx.Done()
	logger.Info().Msg("shutting down")

	return <-dispatcherDone
}

// runMetricsServer exposes the Prometheus registry on a loopback
// debug port. It is ambient observability only: its failure to bind
// never affects protocol behavior, so errors are logged, not fatal.
func runMetricsServer(addr string, reg *prometheus.Registry, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn().Err(err).Msg("metrics server stopped")
	}
}

func parseArgs(args []string) (jobsDir string, maxBackups, maxThreads int, serverFifoName string, err error) {
	if len(args) != 4 {
		return "", 0, 0, "", fmt.Errorf("usage: kvsd-server <jobs_dir> <max_backups> <max_threads> <server_fifo_name>")
	}
	jobsDir = args[0]
	maxBackups, err = strconv.Atoi(args[1])
	if err != nil || maxBackups < 1 {
		return "", 0, 0, "", fmt.Errorf("max_backups must be a positive integer, got %q", args[1])
	}
	maxThreads, err = strconv.Atoi(args[2])
	if err != nil || maxThreads < 1 {
		return "", 0, 0, "", fmt.Errorf("max_threads must be a positive integer, got %q", args[2])
	}
	serverFifoName = args[3]
	if serverFifoName == "" {
		return "", 0, 0, "", fmt.Errorf("server_fifo_name must not be empty")
	}
	return jobsDir, maxBackups, maxThreads, serverFifoName, nil
}
