package router

import (
	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"

	"github.com/ignatzorin/yodo-backend/internal/config"
	"github.com/ignatzorin/yodo-backend/internal/http/handlers"
	"github.com/ignatzorin/yodo-backend/internal/http/middleware"
	"github.com/ignatzorin/yodo-backend/internal/logger"
	"github.com/ignatzorin/yodo-backend/internal/models"
)

// Handlers набор хэндлеров, которые монтирует роутер.
type Handlers struct {
	Health       *handlers.HealthHandler
	Payment      *handlers.PaymentHandler
	Order        *handlers.OrderHandler
	Notification *handlers.NotificationHandler
	WS           *handlers.WSHandler
}

func SetupRouter(
	cfg *config.Config,
	h Handlers,
	tokens middleware.TokenParser,
	limiterStore limiter.Store,
) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	// По умолчанию gin доверяет X-Forwarded-For от любого адреса,
	// а по ClientIP проверяется allow-list уведомлений ЮKassa.
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		logger.Component("router").WithError(err).Warn("trusted proxies rejected, forwarded headers ignored")
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", h.Health.Health)

	api := r.Group("/api")

	// Уведомления ЮKassa приходят без JWT, проверка в WebhookService.Verify.
	webhookLimit := middleware.RateLimitMiddleware(limiterStore, 10*cfg.RateLimitLimit, cfg.RateLimitPeriod, middleware.ByClientIP)
	api.POST("/payments/webhook", webhookLimit, h.Payment.Webhook)

	api.GET("/ws", h.WS.Handle)

	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(tokens))
	{
		createLimit := middleware.RateLimitMiddleware(limiterStore, cfg.RateLimitLimit, cfg.RateLimitPeriod, middleware.ByUser)

		protected.POST("/payments/create", createLimit, h.Payment.CreatePayment)
		protected.GET("/payments/balance", h.Payment.GetBalance)
		protected.GET("/payments/transactions", h.Payment.ListTransactions)
		protected.GET("/payments/:id", h.Payment.GetPayment)
		protected.POST("/payments/:id/capture", h.Payment.CapturePayment)
		protected.POST("/payments/:id/refund", h.Payment.RefundPayment)

		protected.POST("/orders", createLimit, h.Order.CreateOrder)
		protected.GET("/orders/my", h.Order.ListMyOrders)
		protected.GET("/orders/specialist", h.Order.ListAssignedOrders)
		protected.GET("/orders/:id", middleware.UUIDValidator("id"), h.Order.GetOrder)
		protected.POST("/orders/:id/accept", middleware.UUIDValidator("id"), h.Order.AcceptOrder)
		protected.POST("/orders/:id/start", middleware.UUIDValidator("id"), h.Order.StartOrder)
		protected.POST("/orders/:id/cancel", middleware.UUIDValidator("id"), h.Order.CancelOrder)
		protected.GET("/orders/:id/payments", middleware.UUIDValidator("id"), h.Payment.ListOrderPayments)

		protected.GET("/notifications", h.Notification.ListNotifications)
		protected.PUT("/notifications/:id/read", middleware.UUIDValidator("id"), h.Notification.MarkAsRead)
	}

	admin := api.Group("/admin")
	admin.Use(middleware.AuthMiddleware(tokens), middleware.RequireRole(models.RoleAdmin))
	{
		admin.POST("/payments/:id/reconcile", h.Payment.ReconcilePayment)
	}

	return r
}
