package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"label-settlement-go/internal/common"
	"label-settlement-go/internal/config"
	"label-settlement-go/internal/listener"
	"label-settlement-go/internal/models"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx, cancel := context.WithCancel(models.WithActor(context.Background(), models.Actor{Source: "listener"}))
	defer cancel()

	zap.L().Info("Starting settlement inbox listener")

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	if err := services.ApiService.HealthCheck(ctx); err != nil {
		zap.L().Fatal("Health check failed", zap.Error(err))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := services.ApiService.HealthCheck(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{Addr: cfg.Listener.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		zap.L().Info("Serving metrics", zap.String("addr", cfg.Listener.MetricsAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Error("Metrics server failed", zap.Error(err))
		}
	}()

	l := listener.NewInboxListener(listener.InboxListenerConfig{
		Processor:       services.Reconciler,
		Metrics:         services.Metrics,
		InboxDir:        cfg.Listener.InboxDir,
		PollingInterval: cfg.Listener.PollingInterval,
		CleanupInterval: cfg.Listener.CleanupInterval,
	})
	if err := l.Start(ctx); err != nil {
		zap.L().Fatal("Failed to start listener", zap.Error(err))
	}

	zap.L().Info("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	zap.L().Info("Shutdown signal received, stopping listener...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		l.Stop()
		close(done)
	}()

	select {
	case <-done:
		zap.L().Info("Listener stopped gracefully")
	case <-shutdownCtx.Done():
		zap.L().Warn("Forced shutdown after timeout")
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("Metrics server shutdown", zap.Error(err))
	}
}
