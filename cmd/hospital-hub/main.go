package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"sehat-saathi/internal/config"
	"sehat-saathi/internal/database"
	"sehat-saathi/internal/hub"
	"sehat-saathi/internal/logging"
	"sehat-saathi/internal/realtime"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadConfig()
	logger := logging.New(logging.Options{
		File:      cfg.LogFile,
		Level:     cfg.LogLevel,
		Format:    cfg.LogFormat,
		ToConsole: cfg.LogToConsole,
		Service:   "hospital-hub",
	})
	defer logger.Sync()

	logger.Info("Starting hospital hub...")
	logConfiguration(cfg, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	repo, err := database.Open(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer repo.Close()

	publisher, err := realtime.NewPublisher(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize realtime publisher", zap.Error(err))
	}
	defer publisher.Close()

	svc := hub.NewService(repo, publisher, logger)

	scheduler, err := svc.StartHousekeeping(cfg.HousekeepingSpec, cfg.Retention)
	if err != nil {
		logger.Fatal("Failed to schedule housekeeping", zap.Error(err))
	}
	defer scheduler.Stop()

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              cfg.HubListenAddr,
		Handler:           hub.SetupRouter(svc, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("🚀 Hub listening", zap.String("addr", cfg.HubListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, stopping hub...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server did not shut down cleanly", zap.Error(err))
	}

	stats := svc.Stats()
	logger.Info("Hub stopped. Exiting.",
		zap.Uint64("emergencies", stats.Emergencies),
		zap.Uint64("published", stats.Published),
		zap.Uint64("publish_failures", stats.Failed),
	)
}

func logConfiguration(cfg *config.Config, logger *zap.Logger) {
	logger.Info("--- Hub Configuration ---",
		zap.String("listen_addr", cfg.HubListenAddr),
		zap.String("db_driver", cfg.DBDriver),
		zap.String("realtime_backend", cfg.RealtimeBackend),
		zap.String("mqtt_broker", cfg.MQTTBroker),
		zap.String("redis_addr", cfg.RedisAddr),
		zap.String("kafka_brokers", cfg.KafkaBrokers),
		zap.String("housekeeping_spec", cfg.HousekeepingSpec),
		zap.Duration("retention", cfg.Retention),
		zap.Bool("mqtt_password_set", cfg.MQTTPassword != ""),
		zap.Bool("redis_password_set", cfg.RedisPassword != ""),
	)
}
