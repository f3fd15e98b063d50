package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/escrow-backend/internal/config"
	"github.com/ignatzorin/escrow-backend/internal/db"
	"github.com/ignatzorin/escrow-backend/internal/events"
	"github.com/ignatzorin/escrow-backend/internal/logger"
	"github.com/ignatzorin/escrow-backend/internal/repository"
	"github.com/ignatzorin/escrow-backend/internal/service"
	"github.com/ignatzorin/escrow-backend/internal/sweeper"
)

// Воркер — внешний триггер автовыплаты: планировщик периодически ставит
// задачу прохода, обработчик выплачивает просроченные заказы.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("worker: ошибка загрузки конфигурации: %v", err)
	}

	logLevel := "info"
	if cfg.Env == "development" {
		logLevel = "debug"
		logger.Init(logLevel)
		logger.SetTextFormatter()
	} else {
		logger.Init(logLevel)
	}

	dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("worker: ошибка подключения к базе: %v", err)
	}
	defer safeClose(dbConn)

	orderRepo := repository.NewOrderRepository(dbConn)
	settingsRepo := repository.NewSettingsRepository(dbConn)
	statsRepo := repository.NewStatsRepository(dbConn)

	// Воркеру hub недоступен: уведомления о автовыплате пользователи
	// увидят при следующем запросе заказа, trust-статистика пишется в базу.
	dispatcher := events.NewDispatcher(nil, statsRepo)
	settingsService := service.NewSettingsService(settingsRepo)
	sweepService := service.NewSweepService(orderRepo, settingsService, dispatcher)

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	scheduler := asynq.NewScheduler(redisOpt, nil)
	interval := "@every " + cfg.SweepInterval.String()
	if _, err := scheduler.Register(interval, asynq.NewTask(sweeper.TaskAutoRelease, nil)); err != nil {
		log.Fatalf("worker: не удалось зарегистрировать расписание: %v", err)
	}
	if err := scheduler.Start(); err != nil {
		log.Fatalf("worker: не удалось запустить планировщик: %v", err)
	}
	defer scheduler.Shutdown()

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 2,
	})
	processor := sweeper.NewProcessor(sweepService)

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	log.Printf("worker: планировщик автовыплат запущен, интервал %s", cfg.SweepInterval)

	if err := server.Run(processor.Handler()); err != nil {
		log.Printf("worker: остановлен с ошибкой: %v", err)
		os.Exit(1)
	}
}

// safeClose закрывает соединение с базой.
func safeClose(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		log.Printf("worker: ошибка закрытия базы: %v", err)
	}
}
