package router

import (
	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/escrow-backend/internal/config"
	"github.com/ignatzorin/escrow-backend/internal/http/handlers"
	"github.com/ignatzorin/escrow-backend/internal/http/middleware"
	"github.com/ignatzorin/escrow-backend/internal/service"
)

func SetupRouter(
	cfg *config.Config,
	paymentHandler *handlers.PaymentHandler,
	escrowHandler *handlers.EscrowHandler,
	webhookHandler *handlers.WebhookHandler,
	payoutMethodHandler *handlers.PayoutMethodHandler,
	wsHandler *handlers.WSHandler,
	healthHandler *handlers.HealthHandler,
	tokenManager *service.TokenManager,
) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", healthHandler.Health)

	api := r.Group("/api")

	// Вебхуки публичны: аутентификацией служит подпись тела.
	// Rate limit защищает от перебора подписи.
	webhookRateLimit := middleware.RateLimitMiddleware(cfg.RateLimitLimit, cfg.RateLimitPeriod)
	api.POST("/webhooks/:provider", webhookRateLimit, webhookHandler.Handle)

	api.GET("/ws", wsHandler.Handle)

	// Защищённые маршруты
	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(tokenManager))
	{
		protected.POST("/payments/funding/initiate", paymentHandler.InitiateFunding)
		protected.POST("/payments/funding/verify", paymentHandler.VerifyFunding)

		protected.GET("/escrow", escrowHandler.List)
		protected.GET("/escrow/:id", middleware.UUIDValidator("id"), escrowHandler.Get)
		protected.POST("/escrow/:id/release", middleware.UUIDValidator("id"), escrowHandler.Release)
		protected.POST("/escrow/:id/refund", middleware.UUIDValidator("id"), escrowHandler.Refund)
		protected.POST("/escrow/:id/lock", middleware.UUIDValidator("id"), escrowHandler.Lock)
		protected.POST("/escrow/:id/unlock", middleware.UUIDValidator("id"), escrowHandler.Unlock)
		protected.GET("/projects/:id/escrow", middleware.UUIDValidator("id"), escrowHandler.GetByProject)

		protected.POST("/payout-methods", payoutMethodHandler.Create)
		protected.GET("/payout-methods", payoutMethodHandler.List)
		protected.POST("/payout-methods/:id/default", middleware.UUIDValidator("id"), payoutMethodHandler.SetDefault)
		protected.GET("/banks", payoutMethodHandler.GetBanks)
	}

	return r
}
