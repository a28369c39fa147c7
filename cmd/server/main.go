package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/ignatzorin/yodo-backend/internal/app"
	"github.com/ignatzorin/yodo-backend/internal/config"
	"github.com/ignatzorin/yodo-backend/internal/logger"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	if cfg.Env == "development" {
		logger.Init("debug")
		logger.SetTextFormatter()
	} else {
		logger.Init("info")
	}

	application, err := app.New(ctx, cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("main: не удалось собрать приложение")
	}
	defer application.Close()

	if err := application.Migrate(ctx); err != nil {
		logger.Log.WithError(err).Fatal("main: ошибка миграций")
	}

	if err := application.Run(ctx); err != nil {
		logger.Log.WithError(err).Error("main: сервер завершился с ошибкой")
		return
	}
	logger.Log.Info("main: сервер остановлен")
}
