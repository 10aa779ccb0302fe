// Command master is the ocxcloud master server entrypoint: it wires the
// failure detector, the prepared-operations table, the transaction
// recovery pool, the admin API/event hub, and the Prometheus exposition
// endpoint into one process, and runs until asked to stop.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ocx/backend/internal/adminapi"
	"github.com/ocx/backend/internal/clock"
	"github.com/ocx/backend/internal/config"
	"github.com/ocx/backend/internal/failuredetector"
	"github.com/ocx/backend/internal/logstore"
	"github.com/ocx/backend/internal/metrics"
	"github.com/ocx/backend/internal/netio"
	"github.com/ocx/backend/internal/objectmanager"
	"github.com/ocx/backend/internal/preparedops"
	"github.com/ocx/backend/internal/recovery"
	"github.com/ocx/backend/internal/rng"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("master: no .env file found, continuing with process environment")
	}

	cfg := config.Get()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	logger.Info("master: starting", "env", cfg.Server.Env, "selfLocator", cfg.FailureDetector.SelfLocator)

	log, err := logstore.New(logstore.Config(cfg.LogStore))
	if err != nil {
		logger.Error("master: failed to open log store", "error", err)
		os.Exit(1)
	}
	defer log.Close()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		log = logstore.Instrument(cfg.LogStore.Backend, log, m)
	}

	objMgr := objectmanager.NewInMemory()

	contacter := recovery.NewLoggingContacter(logger)
	recoveryPool := recovery.NewPool(contacter, cfg.Recovery.WorkerCount, logger)
	defer recoveryPool.Shutdown()
	if m != nil {
		recoveryPool.SetMetrics(m)
	}

	ops := preparedops.New(log, recoveryPool, time.Duration(cfg.PreparedOps.TxTimeoutMicros)*time.Microsecond, logger)
	if m != nil {
		ops.SetMetrics(m)
	}
	if err := ops.RegrabLocksAfterRecovery(context.Background(), objMgr); err != nil {
		logger.Error("master: failed to regrab locks after recovery", "error", err)
		os.Exit(1)
	}

	fdCfg := failuredetector.Config{
		SelfLocator:        cfg.FailureDetector.SelfLocator,
		ListenLocator:      cfg.FailureDetector.ListenLocator,
		CoordinatorLocator: cfg.FailureDetector.CoordinatorLocator,
		LocatorPreference:  cfg.FailureDetector.LocatorPreference,
		ProbeInterval:      time.Duration(cfg.FailureDetector.ProbeIntervalMicros) * time.Microsecond,
		Timeout:            time.Duration(cfg.FailureDetector.TimeoutMicros) * time.Microsecond,
		MaxDatagramBytes:   cfg.FailureDetector.MaxDatagramBytes,
	}
	fd, err := failuredetector.New(fdCfg, netio.NewRealNet(), clock.NewReal(), rng.NewReal(), logger)
	if err != nil {
		logger.Error("master: failed to start failure detector", "error", err)
		os.Exit(1)
	}
	if m != nil {
		fd.SetMetrics(m)
	}

	var adminSrv *adminapi.Server
	if cfg.AdminAPI.Enabled {
		adminSrv = adminapi.New(fd, ops, recoveryPool, logger)
		fd.SetEventPublisher(adminSrv.Hub())
		ops.SetEventPublisher(adminSrv.Hub())
		recoveryPool.SetEventPublisher(adminSrv.Hub())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go fd.Run(ctx)

	var adminHTTP, metricsHTTP *http.Server
	if adminSrv != nil {
		adminHTTP = &http.Server{Addr: cfg.AdminAPI.ListenAddr, Handler: adminSrv.Router()}
		go func() {
			logger.Info("master: admin API listening", "addr", cfg.AdminAPI.ListenAddr)
			if err := adminHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("master: admin API server failed", "error", err)
			}
		}()
	}
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsHTTP = &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}
		go func() {
			logger.Info("master: metrics endpoint listening", "addr", cfg.Metrics.ListenAddr)
			if err := metricsHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("master: metrics server failed", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("master: shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	if adminHTTP != nil {
		if err := adminHTTP.Shutdown(shutdownCtx); err != nil {
			logger.Warn("master: admin API shutdown error", "error", err)
		}
	}
	if metricsHTTP != nil {
		if err := metricsHTTP.Shutdown(shutdownCtx); err != nil {
			logger.Warn("master: metrics server shutdown error", "error", err)
		}
	}

	logger.Info("master: stopped")
}
