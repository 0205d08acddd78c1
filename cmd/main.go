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

	"github.com/teamhub/teamhub/config"
	"github.com/teamhub/teamhub/db"
	"github.com/teamhub/teamhub/handlers"
	"github.com/teamhub/teamhub/realtime"
	"github.com/teamhub/teamhub/repositories"
	api "github.com/teamhub/teamhub/routes"
	"github.com/teamhub/teamhub/services"
	"github.com/teamhub/teamhub/storage"
	_ "github.com/lib/pq"
)

const expireSweepInterval = time.Hour // как часто гасятся просроченные приглашения

func main() {
	// Настройка логгера
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

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

	// Инициализация загрузчика файлов (Cloudflare R2), опционален
	var uploader storage.FileUploader
	if cfg.R2AccountID != "" {
		uploader, err = storage.NewCloudflareR2Uploader(storage.CloudflareR2UploaderConfig{
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
	} else {
		logger.Info("R2 not configured, avatar uploads disabled")
	}

	// Инициализация WebSocket Hub и реестра присутствия
	presence := realtime.NewPresenceRegistry()
	wsHub := realtime.NewHub(presence, logger)
	go wsHub.Run()
	logger.Info("WebSocket Hub started")

	// Инициализация репозиториев
	userRepo := repositories.NewPostgresUserRepository(dbConn)
	teamRepo := repositories.NewPostgresTeamRepository(dbConn)
	inviteRepo := repositories.NewPostgresInviteRepository(dbConn)
	notificationRepo := repositories.NewPostgresNotificationRepository(dbConn)
	logger.Info("Repositories initialized")

	// Почта опциональна: без SMTP приглашения уходят только в live-канал.
	var emailService *services.EmailService
	if cfg.SMTPHost != "" {
		emailService = services.NewEmailService(cfg)
		logger.Info("email service initialized", slog.String("host", cfg.SMTPHost))
	} else {
		logger.Info("SMTP not configured, invite emails disabled")
	}

	// Инициализация сервисов
	authService := services.NewAuthService(userRepo)
	userService := services.NewUserService(userRepo, uploader)
	notificationService := services.NewNotificationService(notificationRepo, wsHub, logger)
	teamService := services.NewTeamService(teamRepo, userRepo, inviteRepo, uploader, notificationService, logger)
	inviteService := services.NewInviteService(inviteRepo, teamRepo, userRepo, notificationService, emailService, cfg.PublicURL, logger)
	logger.Info("Services initialized")

	// Планировщик перевода просроченных приглашений в expired
	go func() {
		ticker := time.NewTicker(expireSweepInterval)
		defer ticker.Stop()
		logger.Info("invite expiry sweep scheduler started", slog.Duration("interval", expireSweepInterval))

		// Первый проход сразу на старте, дальше по тикеру
		if n, err := inviteService.ExpireSweep(context.Background()); err != nil {
			logger.Error("expire sweep: initial run failed", slog.Any("error", err))
		} else if n > 0 {
			logger.Info("expire sweep: invites expired", slog.Int64("count", n))
		}

		for range ticker.C {
			n, err := inviteService.ExpireSweep(context.Background())
			if err != nil {
				logger.Error("expire sweep: periodic run failed", slog.Any("error", err))
				continue
			}
			if n > 0 {
				logger.Info("expire sweep: invites expired", slog.Int64("count", n))
			}
		}
	}()

	// Инициализация обработчиков HTTP
	routerHandlers := api.Handlers{
		Auth:         handlers.NewAuthHandler(authService, cfg.JWTSecretKey),
		User:         handlers.NewUserHandler(userService),
		Team:         handlers.NewTeamHandler(teamService),
		Invite:       handlers.NewInviteHandler(inviteService),
		Notification: handlers.NewNotificationHandler(notificationService),
		Realtime:     handlers.NewRealtimeHandler(notificationService),
		WebSocket:    handlers.NewWebSocketHandler(wsHub, cfg.JWTSecretKey, logger),
	}
	logger.Info("HTTP handlers initialized")

	// Настройка маршрутизатора
	router := api.InitRoutes(routerHandlers, cfg.JWTSecretKey, cfg.CORSOrigin)
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
