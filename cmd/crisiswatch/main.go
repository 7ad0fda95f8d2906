package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deusflow/crisiswatch/internal/app"
	"github.com/deusflow/crisiswatch/internal/config"
	"github.com/deusflow/crisiswatch/internal/logger"
	"github.com/deusflow/crisiswatch/internal/metrics"
)

func main() {
	log := logger.Init()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	if cfg.EnableMonitoring {
		go startMonitoringServer(ctx, cfg.MonitoringPort, newMonitoringRouter(m, reg))
	}

	a, err := app.New(ctx, cfg, m, log)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	logger.Info("crisiswatch starting", "poll_interval", cfg.PollInterval, "debug", cfg.Debug)
	if err := a.Run(ctx); err != nil {
		logger.Error("run failed", "error", err)
		os.Exit(1)
	}
	logger.Info("crisiswatch stopped")
}

func newMonitoringRouter(m *metrics.Metrics, g prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", healthHandler(m))
	r.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return r
}

func startMonitoringServer(ctx context.Context, port string, h http.Handler) {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("starting monitoring server", "port", port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("monitoring server error", "error", err)
	}
}

func healthHandler(m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := m.GetStats()

		status := "ok"
		w.Header().Set("Content-Type", "application/json")
		if healthy, _ := stats["is_healthy"].(bool); !healthy {
			status = "error"
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		response := map[string]interface{}{
			"status":        status,
			"last_run":      stats["last_run_time"],
			"last_run_sent": stats["last_run_sent"],
			"last_error":    stats["last_error"],
		}
		json.NewEncoder(w).Encode(response)
	}
}
