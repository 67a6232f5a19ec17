package router

import (
	"net/http"
	"time"

	"spark/config"
	"spark/internal/handler"
	"spark/internal/middleware"
	"spark/internal/repository"
	"spark/internal/service"
	"spark/internal/ws"
	"spark/pkg/payment"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the collaborators the HTTP surface is built from.
type Deps struct {
	Engine        *service.Engine
	Hub           *ws.Hub
	Users         repository.UserStore
	Notifications repository.NotificationStore
	Audit         repository.AuditStore
	Gateway       payment.Verifier
	Limiter       *middleware.InMemoryRateLimiter
}

func Setup(cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	// Skip gin.Logger() to reduce log noise; use gin.Default() if you need request logging
	limiter := d.Limiter
	if limiter == nil {
		limiter = middleware.NewInMemoryRateLimiter(cfg.Server.RateLimit, time.Minute)
	}

	likeHandler := handler.NewLikeHandler(d.Engine.Likes)
	connHandler := handler.NewConnectionHandler(d.Engine.Conns)
	notifHandler := handler.NewNotificationHandler(d.Notifications, d.Users)
	auditStore := d.Audit
	if auditStore == nil {
		auditStore = repository.NewMemAuditStore()
	}
	paymentHandler := handler.NewPaymentHandler(d.Engine.Reconciler, d.Gateway, &cfg.Payment, auditStore)
	adminHandler := handler.NewAdminHandler(d.Engine.Sweeper, d.Engine.Pricing, auditStore)

	authMw := middleware.AuthRequired(&cfg.JWT)
	rateMw := middleware.RateLimit(limiter)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws/events", ws.UpgradeEventsWS(&cfg.JWT, d.Hub, connHandler.Dispatch))

	api := r.Group("/api/v1")
	{
		api.POST("/webhooks/payment", rateMw, paymentHandler.Webhook)

		authed := api.Group("")
		authed.Use(authMw, rateMw)

		authed.PUT("/likes", likeHandler.SetLikes)

		conns := authed.Group("/connections")
		{
			conns.POST("/requests/:user_id", connHandler.Request)
			conns.POST("/requests/:user_id/accept", connHandler.Accept)
			conns.POST("/requests/:user_id/reject", connHandler.Reject)
			conns.POST("/requests/:user_id/expire", connHandler.Expire)
			conns.POST("/:user_id/cancel", connHandler.Cancel)
			conns.POST("/purchase", paymentHandler.Purchase)
		}

		authed.POST("/block/:user_id", connHandler.Block)
		authed.DELETE("/block/:user_id", connHandler.Unblock)

		me := authed.Group("/me")
		{
			me.GET("/requesters", connHandler.Requesters)
			me.GET("/connections", connHandler.Connections)
			me.GET("/can-send-request", connHandler.CanSendRequest)
			me.GET("/relationships", connHandler.Relationships)
			me.GET("/transactions", paymentHandler.Transactions)
			me.GET("/notifications", notifHandler.List)
			me.PUT("/notifications/:id/read", notifHandler.MarkRead)
			me.POST("/device-token", notifHandler.SetDeviceToken)
		}

		authed.POST("/payments/verify", paymentHandler.Verify)

		admin := authed.Group("/admin")
		admin.Use(middleware.AdminRequired())
		{
			admin.POST("/sweep", adminHandler.Sweep)
			admin.POST("/sweep/:user_id", adminHandler.RepairUser)
			admin.GET("/audit", adminHandler.AuditLog)
			admin.GET("/settings", adminHandler.GetSettings)
			admin.PUT("/settings/connection-price", adminHandler.SetConnectionPrice)
		}
	}
	return r
}
