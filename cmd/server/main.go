package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/escrow-backend/internal/config"
	"github.com/ignatzorin/escrow-backend/internal/db"
	"github.com/ignatzorin/escrow-backend/internal/events"
	"github.com/ignatzorin/escrow-backend/internal/gateway"
	httpHandlers "github.com/ignatzorin/escrow-backend/internal/http/handlers"
	httpRouter "github.com/ignatzorin/escrow-backend/internal/http/router"
	"github.com/ignatzorin/escrow-backend/internal/logger"
	"github.com/ignatzorin/escrow-backend/internal/repository"
	"github.com/ignatzorin/escrow-backend/internal/service"
	"github.com/ignatzorin/escrow-backend/internal/storage"
	"github.com/ignatzorin/escrow-backend/internal/ws"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	// Инициализация логгера
	logLevel := "info"
	if cfg.Env == "development" {
		logLevel = "debug"
		logger.Init(logLevel)
		logger.SetTextFormatter()
	} else {
		logger.Init(logLevel)
	}

	// Подключение к базе и миграции.
	dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("main: ошибка подключения к базе: %v", err)
	}
	defer safeClose(dbConn)

	if err := db.RunMigrations(ctx, dbConn, cfg.MigrationsPath); err != nil {
		log.Fatalf("main: ошибка миграций: %v", err)
	}

	// Вспомогательная инфраструктура.
	tokenManager := service.NewTokenManager(cfg.JWTSecret, cfg.JWTAccessTTL)

	artifactStorage, err := storage.New(storage.Config{
		Endpoint:      cfg.S3Endpoint,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		UseSSL:        cfg.S3UseSSL,
		Region:        cfg.S3Region,
		PreviewBucket: cfg.PreviewBucket,
		FinalBucket:   cfg.FinalBucket,
		PresignTTL:    cfg.PresignTTL,
		MaxUploadMB:   cfg.MaxUploadSizeMB,
	})
	if err != nil {
		log.Fatalf("main: не удалось подготовить хранилище артефактов: %v", err)
	}
	if err := artifactStorage.EnsureBuckets(ctx); err != nil {
		log.Fatalf("main: не удалось подготовить корзины хранилища: %v", err)
	}

	paymentGateway := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayAPIKey, cfg.GatewayTimeout)

	// Репозитории.
	orderRepo := repository.NewOrderRepository(dbConn)
	gigRepo := repository.NewGigRepository(dbConn)
	intentRepo := repository.NewIntentRepository(dbConn)
	settingsRepo := repository.NewSettingsRepository(dbConn)
	statsRepo := repository.NewStatsRepository(dbConn)

	// Вебсокеты и доставка событий.
	hub := ws.NewHub(ctx)
	go hub.Run()
	dispatcher := events.NewDispatcher(hub, statsRepo)

	// Сервисы.
	settingsService := service.NewSettingsService(settingsRepo)
	escrowService := service.NewEscrowService(orderRepo, settingsService, dispatcher)
	milestoneService := service.NewMilestoneService(orderRepo, settingsService, dispatcher)
	disputeService := service.NewDisputeService(orderRepo, dispatcher)
	accessService := service.NewAccessService(orderRepo, artifactStorage)
	sweepService := service.NewSweepService(orderRepo, settingsService, dispatcher)
	paymentService := service.NewPaymentService(intentRepo, gigRepo, paymentGateway, escrowService)

	// HTTP хэндлеры.
	escrowHandler := httpHandlers.NewEscrowHandler(escrowService, settingsService)
	milestoneHandler := httpHandlers.NewMilestoneHandler(milestoneService, settingsService)
	disputeHandler := httpHandlers.NewDisputeHandler(disputeService, settingsService)
	paymentHandler := httpHandlers.NewPaymentHandler(paymentService, settingsService)
	deliverableHandler := httpHandlers.NewDeliverableHandler(accessService, artifactStorage)
	adminHandler := httpHandlers.NewAdminHandler(sweepService)
	wsHandler := httpHandlers.NewWSHandler(hub, tokenManager)
	healthHandler := httpHandlers.NewHealthHandler(dbConn)

	// Роутер.
	engine := httpRouter.SetupRouter(cfg, escrowHandler, milestoneHandler, disputeHandler,
		paymentHandler, deliverableHandler, adminHandler, wsHandler, healthHandler, tokenManager)

	server := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: engine,
	}

	// Завершаем сервер при получении сигнала.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("main: ошибка остановки http сервера: %v", err)
		}
	}()

	log.Printf("main: HTTP сервер запущен на порту %s", cfg.HTTPPort)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("main: сервер завершился с ошибкой: %v", err)
	}
}

// safeClose закрывает соединение с базой.
func safeClose(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		log.Printf("main: ошибка закрытия базы: %v", err)
	}
}
