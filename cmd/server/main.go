// Package main runs the meeting bot HTTP server (vendor webhook, meeting API, metrics) with
// the task worker and cron jobs embedded, and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

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
	a, err := app.New(ctx, cfg, "server", logger)
	if err != nil {
		logger.Fatal("init", zap.Error(err))
	}
	defer a.Close()

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      a.Router(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background worker (task consumer + cron) unless a separate worker process runs it
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	var workerDone <-chan struct{}
	if cfg.Server.EmbedWorker {
		workerDone, err = a.StartBackground(workerCtx)
		if err != nil {
			logger.Fatal("background jobs", zap.Error(err))
		}
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if workerDone != nil {
		select {
		case <-workerDone:
		case <-shutdownCtx.Done():
			logger.Warn("background jobs did not stop in time")
		}
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
