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
	httpHandlers "github.com/ignatzorin/escrow-backend/internal/http/handlers"
	httpRouter "github.com/ignatzorin/escrow-backend/internal/http/router"
	"github.com/ignatzorin/escrow-backend/internal/logger"
	"github.com/ignatzorin/escrow-backend/internal/provider"
	"github.com/ignatzorin/escrow-backend/internal/repository"
	"github.com/ignatzorin/escrow-backend/internal/service"
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

	tokenManager := service.NewTokenManager(cfg.JWTSecret)

	// Провайдеры платежей: регистрируются только настроенные.
	var registered []provider.Provider
	if cfg.ChapaSecretKey != "" {
		registered = append(registered, provider.NewChapaProvider(
			cfg.ChapaSecretKey, cfg.ChapaWebhookSecret,
			cfg.ChapaCallbackURL, cfg.ChapaReturnURL, cfg.ProviderTimeout))
	}
	if cfg.StripeSecretKey != "" {
		registered = append(registered, provider.NewStripeProvider(
			cfg.StripeSecretKey, cfg.StripeWebhookSecret,
			cfg.StripeCurrency, cfg.StripeCheckoutBase, cfg.ProviderTimeout))
	}
	if len(registered) == 0 {
		log.Printf("main: WARNING - платёжные провайдеры не настроены, денежные операции будут отклоняться")
	}
	providers := provider.NewRegistry(registered...)

	// Репозитории.
	escrowRepo := repository.NewEscrowRepository(dbConn)
	paymentRepo := repository.NewPaymentRepository(dbConn)
	webhookRepo := repository.NewWebhookRepository(dbConn)
	projectRepo := repository.NewProjectRepository(dbConn)
	userRepo := repository.NewUserRepository(dbConn)
	payoutMethodRepo := repository.NewPayoutMethodRepository(dbConn)

	// Сервисы.
	fundingService := service.NewFundingService(escrowRepo, paymentRepo, projectRepo, userRepo, providers, cfg.CommissionRate)
	releaseService := service.NewReleaseService(escrowRepo, paymentRepo, projectRepo, payoutMethodRepo, providers, cfg.CommissionRate)
	refundService := service.NewRefundService(escrowRepo, paymentRepo, projectRepo, providers)
	disputeService := service.NewDisputeService(escrowRepo, projectRepo)
	escrowService := service.NewEscrowService(escrowRepo, paymentRepo, projectRepo)
	payoutMethodService := service.NewPayoutMethodService(payoutMethodRepo, providers)
	webhookService := service.NewWebhookService(escrowRepo, webhookRepo, projectRepo, providers)

	// Вебсокеты: стороны сделки получают события escrow в реальном времени.
	hub := ws.NewHub()
	go hub.Run()
	webhookService.SetNotifier(hub)

	// HTTP хэндлеры.
	paymentHandler := httpHandlers.NewPaymentHandler(fundingService)
	escrowHandler := httpHandlers.NewEscrowHandler(escrowService, releaseService, refundService, disputeService)
	webhookHandler := httpHandlers.NewWebhookHandler(webhookService)
	payoutMethodHandler := httpHandlers.NewPayoutMethodHandler(payoutMethodService, providers)
	wsHandler := httpHandlers.NewWSHandler(hub, tokenManager)
	healthHandler := httpHandlers.NewHealthHandler(dbConn, providers)

	// Роутер.
	engine := httpRouter.SetupRouter(cfg, paymentHandler, escrowHandler, webhookHandler, payoutMethodHandler, wsHandler, healthHandler, tokenManager)

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
