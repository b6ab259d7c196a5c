package main

import (
	"log"

	"shopfront/chatsync/internal/server"
	"shopfront/chatsync/pkg/config"
	"shopfront/chatsync/pkg/logger"
	"shopfront/chatsync/shared/observability"
)

func main() {
	cfg := config.Get()

	appLogger := logger.New(logger.Config{
		Level: cfg.Logging.Level,
		JSON:  cfg.Logging.Format == "json",
	})
	logger.SetGlobal(appLogger)

	if cfg.Metrics.Enabled {
		shutdown := observability.SetupTracing("chatmock")
		defer shutdown()
		observability.SetupPrometheusMetrics(cfg.Metrics.Port)
	}

	srv := server.New(appLogger, nil)
	appLogger.Info("mock chat backend listening", "port", cfg.MockServer.Port)
	if err := srv.Router().Run(":" + cfg.MockServer.Port); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
