package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"

	"github.com/Arakas181/ML-HUB-sub000/config"
	"github.com/Arakas181/ML-HUB-sub000/db"
	"github.com/Arakas181/ML-HUB-sub000/handlers"
	"github.com/Arakas181/ML-HUB-sub000/live"
	"github.com/Arakas181/ML-HUB-sub000/repositories"
	api "github.com/Arakas181/ML-HUB-sub000/routes"
	"github.com/Arakas181/ML-HUB-sub000/services"
	"github.com/Arakas181/ML-HUB-sub000/storage"
)

const tokenSweepInterval = 1 * time.Hour // Как часто чистим просроченные токены приглашений

func main() {
	// Настройка логгера
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("configuration loaded", slog.Int("port", cfg.ServerPort))

	// Подключение к базе данных
	dbConn, err := db.Connect(cfg.DatabaseURL, 5*time.Second)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Error("failed to close database connection", slog.Any("error", err))
		} else {
			logger.Info("database connection closed")
		}
	}()
	logger.Info("database connection established")

	// Инициализация загрузчика файлов (Cloudflare R2)
	cloudflareUploader, err := storage.NewCloudflareR2Uploader(storage.CloudflareR2UploaderConfig{
		AccountID:       cfg.R2AccountID,
		AccessKeyID:     cfg.R2AccessKeyID,
		SecretAccessKey: cfg.R2SecretAccessKey,
		BucketName:      cfg.R2BucketName,
		PublicBaseURL:   cfg.R2PublicBaseURL,
	})
	if err != nil {
		logger.Error("failed to initialize Cloudflare R2 uploader", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Cloudflare R2 uploader initialized")

	// Инициализация WebSocket Hub
	wsHub := live.NewHub(logger)
	go wsHub.Run()
	logger.Info("WebSocket Hub started")

	// Инициализация репозиториев
	txManager := repositories.NewTxManager(dbConn)
	userRepo := repositories.NewPostgresUserRepository(dbConn)
	tournamentRepo := repositories.NewPostgresTournamentRepository(dbConn)
	registrationRepo := repositories.NewPostgresRegistrationRepository(dbConn)
	memberRepo := repositories.NewPostgresMemberRepository(dbConn)
	checkinRepo := repositories.NewPostgresCheckInRepository(dbConn)
	logger.Info("Repositories initialized")

	// Инициализация сервисов
	emailService := services.NewEmailService(cfg)
	tournamentService := services.NewTournamentService(tournamentRepo)
	inviteService := services.NewInviteService(
		txManager,
		tournamentRepo,
		registrationRepo,
		memberRepo,
		userRepo,
		emailService,
		wsHub,
		logger,
	)
	registrationService := services.NewRegistrationService(
		txManager,
		tournamentRepo,
		registrationRepo,
		memberRepo,
		inviteService,
		cloudflareUploader,
		wsHub,
		logger,
	)
	checkInService := services.NewCheckInService(tournamentRepo, memberRepo, checkinRepo, wsHub, logger)
	seedingService := services.NewSeedingService(txManager, tournamentRepo, registrationRepo, wsHub, logger, nil)
	logger.Info("Services initialized")

	// Запуск фоновой чистки просроченных токенов приглашений
	go func() {
		ticker := time.NewTicker(tokenSweepInterval)
		defer ticker.Stop()
		logger.Info("invite token sweep scheduler started", slog.Duration("interval", tokenSweepInterval))

		// Один прогон сразу на старте, дальше по тикеру
		if cleared, err := inviteService.SweepExpiredTokens(context.Background()); err != nil {
			logger.Error("sweep: initial run failed", slog.Any("error", err))
		} else if cleared > 0 {
			logger.Info("sweep: expired invite tokens cleared", slog.Int64("count", cleared))
		}

		for range ticker.C {
			cleared, err := inviteService.SweepExpiredTokens(context.Background())
			if err != nil {
				logger.Error("sweep: periodic run failed", slog.Any("error", err))
				continue
			}
			if cleared > 0 {
				logger.Info("sweep: expired invite tokens cleared", slog.Int64("count", cleared))
			}
		}
	}()

	// Инициализация обработчиков HTTP
	tournamentHandler := handlers.NewTournamentHandler(tournamentService)
	registrationHandler := handlers.NewRegistrationHandler(registrationService)
	inviteHandler := handlers.NewInviteHandler(inviteService)
	checkInHandler := handlers.NewCheckInHandler(checkInService)
	seedingHandler := handlers.NewSeedingHandler(seedingService)
	webSocketHandler := handlers.NewWebSocketHandler(wsHub, tournamentService, logger)
	logger.Info("HTTP handlers initialized")

	// Настройка маршрутизатора
	router := chi.NewRouter()
	api.SetupRoutes(
		router,
		cfg.JWTSecretKey,
		tournamentHandler,
		registrationHandler,
		inviteHandler,
		checkInHandler,
		seedingHandler,
		webSocketHandler,
	)
	logger.Info("Routes configured")

	// Настройка и запуск HTTP-сервера
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("address", server.Addr))
		serverErrors <- server.ListenAndServe()
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		} else {
			logger.Info("server stopped gracefully")
		}
	case sig := <-quit:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancelShutdown()

		logger.Info("shutting down server", slog.Duration("timeout", 15*time.Second))
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", slog.Any("error", err))
			if closeErr := server.Close(); closeErr != nil {
				logger.Error("failed to force close server", slog.Any("error", closeErr))
			}
			os.Exit(1)
		} else {
			logger.Info("server shutdown complete")
		}
	}
	logger.Info("application exited")
}
