package app

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

func wireRouter(handlers Handlers, mw Middleware) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(mw.CORS)
	r.Use(otelgin.Middleware("schoolhub-backend"))
	r.Use(mw.TraceContext)
	r.Use(mw.RequestLog)

	r.GET("/healthz", handlers.Health.HealthCheck)

	api := r.Group("/api")
	{
		docs := api.Group("/documents")
		{
			docs.POST("", handlers.Document.Upload)
			docs.GET("", handlers.Document.List)
			docs.GET("/:id", handlers.Document.Get)
			// Callback target for the indexing service; the poll sweep covers
			// deliveries that never arrive.
			docs.POST("/webhook", handlers.Document.Webhook)
			docs.POST("/sync", handlers.Document.Sync)
		}
	}

	return r
}
