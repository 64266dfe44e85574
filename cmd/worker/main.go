// Package main runs the headless worker: task consumer, calendar sync, status polling,
// bot wake-ups and retry promotion. Metrics are served on METRICS_ADDR when set.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-webinar/meetbot/config"
	"github.com/aura-webinar/meetbot/internal/app"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, "worker", logger)
	if err != nil {
		logger.Fatal("init", zap.Error(err))
	}
	defer a.Close()

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done, err := a.StartBackground(workerCtx)
	if err != nil {
		logger.Fatal("background jobs", zap.Error(err))
	}
	logger.Info("worker started")

	var metricsSrv *http.Server
	if addr := os.Getenv("METRICS_ADDR"); addr != "" {
		metricsSrv = &http.Server{Addr: addr, Handler: promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{})}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		logger.Warn("background jobs did not stop in time")
	}
	if metricsSrv != nil {
		_ = metricsSrv.Close()
	}
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
