package router

import (
	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/escrow-backend/internal/config"
	"github.com/ignatzorin/escrow-backend/internal/http/handlers"
	"github.com/ignatzorin/escrow-backend/internal/http/middleware"
	"github.com/ignatzorin/escrow-backend/internal/service"
)

// SetupRouter собирает все маршруты API.
func SetupRouter(
	cfg *config.Config,
	escrowHandler *handlers.EscrowHandler,
	milestoneHandler *handlers.MilestoneHandler,
	disputeHandler *handlers.DisputeHandler,
	paymentHandler *handlers.PaymentHandler,
	deliverableHandler *handlers.DeliverableHandler,
	adminHandler *handlers.AdminHandler,
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

	api.GET("/ws", wsHandler.Handle)

	auth := middleware.AuthMiddleware(tokenManager)

	payments := api.Group("/payments")
	paymentRateLimit := middleware.RateLimitMiddleware(cfg.RateLimitLimit, cfg.RateLimitPeriod)
	payments.Use(paymentRateLimit)
	{
		payments.POST("/intents", auth, paymentHandler.CreateIntent)
		payments.POST("/confirm", auth, paymentHandler.Confirm)
		// Колбэк шлюза приходит без пользовательского токена.
		payments.POST("/webhook", paymentHandler.Webhook)
	}

	escrow := api.Group("/escrow")
	escrow.Use(auth)
	{
		escrow.GET("/orders/my", escrowHandler.ListMy)
		escrow.POST("/uploads", deliverableHandler.Upload)

		orders := escrow.Group("/orders/:id")
		orders.Use(middleware.UUIDValidator("id"))
		{
			orders.GET("", escrowHandler.Get)
			orders.POST("/submit", escrowHandler.SubmitWork)
			orders.POST("/reset", escrowHandler.ResetSubmission)
			orders.POST("/approve", escrowHandler.ApproveWork)
			orders.POST("/revision", escrowHandler.RequestRevision)
			orders.POST("/dispute", escrowHandler.OpenDispute)
			orders.POST("/dispute/evidence", disputeHandler.AddEvidence)
			orders.GET("/deliverables/:deliverableId/:class", middleware.UUIDValidator("deliverableId"), deliverableHandler.Resolve)

			orders.POST("/milestones", milestoneHandler.Create)
			orders.POST("/milestones/:position/submit", milestoneHandler.Submit)
			orders.POST("/milestones/:position/approve", milestoneHandler.Approve)
			orders.POST("/milestones/:position/revision", milestoneHandler.RequestRevision)
		}
	}

	admin := api.Group("/admin")
	admin.Use(auth, middleware.RequireAdmin())
	{
		admin.POST("/escrow/sweep", adminHandler.Sweep)
		admin.POST("/disputes/:id/review", middleware.UUIDValidator("id"), disputeHandler.StartReview)
		admin.POST("/disputes/:id/resolve", middleware.UUIDValidator("id"), disputeHandler.Resolve)
	}

	return r
}
