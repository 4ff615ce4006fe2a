package handler

import (
	"adledger/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func SetupRouter(h *Handler, cfg *config.Config, logger zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware(logger))
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())

	r.GET("/health", h.Health)

	api := r.Group("/api/v1")
	api.Use(RateLimitMiddleware(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst))

	webhooks := api.Group("/webhooks", WebhookAuthMiddleware(cfg.Auth.WebhookSecret))
	{
		webhooks.POST("/payments", h.PaymentWebhook)
	}

	authed := api.Group("", AuthMiddleware(cfg.Auth.JWTSecret, logger))
	{
		ledger := authed.Group("/ledger")
		{
			ledger.GET("/balance", h.GetBalance)
			ledger.GET("/transactions", h.ListTransactions)
		}

		campaigns := authed.Group("/campaigns")
		{
			campaigns.POST("", h.CreateCampaign)
			campaigns.GET("", h.ListCampaigns)
			campaigns.GET("/:id", h.GetCampaign)
			campaigns.DELETE("/:id", h.DeleteCampaign)
			campaigns.POST("/:id/cancel", h.CancelCampaign)
			campaigns.POST("/:id/resubmit", h.ResubmitCampaign)
		}

		admin := authed.Group("/admin", RequireRole(RoleAdmin))
		{
			admin.POST("/campaigns/:id/review", h.ReviewCampaign)
			admin.POST("/campaigns/:id/approve", h.ApproveCampaign)
			admin.POST("/campaigns/:id/reject", h.RejectCampaign)
			admin.POST("/ledger/adjustments", h.RecordAdjustment)
		}
	}

	return r
}
