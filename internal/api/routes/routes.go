package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/dmcommerce/internal/api/handlers"
	"github.com/yoockh/dmcommerce/internal/api/middleware"
)

type Deps struct {
	Health  *handlers.HealthHandler
	Webhook *handlers.WebhookHandler
	Catalog *handlers.CatalogHandler
	// Metrics serves the Prometheus scrape; nil leaves /metrics unrouted.
	Metrics http.Handler

	WebhookSecret string
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	r.GET("/ping", d.Health.Ping)
	r.GET("/healthz", d.Health.Health)
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics))
	}

	// Protected routes (service key)
	svc := r.Group("/")
	svc.Use(middleware.RequireServiceKey(d.WebhookSecret))
	svc.POST("/webhook", d.Webhook.Receive)
	if d.Catalog != nil {
		svc.POST("/catalog/invalidate", d.Catalog.Invalidate)
	}
}
