package handlers

import (
	"github.com/gin-gonic/gin"

	"passport-sync-service/internal/middleware"
)

// HandlerSet groups the HTTP handlers served by the service
type HandlerSet struct {
	Connections   *ConnectionHandler
	Connectors    *ConnectorHandler
	FieldMappings *FieldMappingHandler
	Syncs         *SyncHandler
	Progress      *ProgressHandler
	Webhooks      *WebhookHandler
}

// RegisterV1Routes mounts the brand-scoped API
func RegisterV1Routes(v1 *gin.RouterGroup, h *HandlerSet) {
	// Connector schemas are not brand data
	connectors := v1.Group("/connectors")
	{
		connectors.GET("", h.Connectors.List)
		connectors.GET("/:slug/fields", h.Connectors.Fields)
	}

	scoped := v1.Group("")
	scoped.Use(middleware.RequireBrandID())

	connections := scoped.Group("/connections")
	{
		connections.GET("", h.Connections.List)
		connections.POST("", h.Connections.Create)
		connections.GET("/:id", h.Connections.Get)
		connections.PATCH("/:id", h.Connections.Update)
		connections.DELETE("/:id", h.Connections.Delete)
		connections.POST("/:id/test", h.Connections.TestConnection)

		connections.GET("/:id/field-mappings", h.FieldMappings.List)
		connections.PUT("/:id/field-mappings", h.FieldMappings.BatchSet)
		connections.PATCH("/:id/field-mappings/:fieldKey", h.FieldMappings.SetField)

		connections.POST("/:id/sync", h.Syncs.Trigger)
		connections.GET("/:id/sync/status", h.Syncs.Status)
		connections.GET("/:id/sync/history", h.Syncs.History)
	}

	jobs := scoped.Group("/sync/jobs")
	{
		jobs.GET("/:jobId", h.Syncs.GetJob)
		jobs.GET("/:jobId/logs", h.Syncs.GetJobLogs)
		jobs.GET("/:jobId/report", h.Syncs.ExportReport)
		jobs.POST("/:jobId/cancel", h.Syncs.Cancel)
	}

	scoped.GET("/sync/events", h.Progress.Events)
	scoped.GET("/sync/ws", h.Progress.WebSocket)
}

// RegisterWebhookRoutes mounts provider callbacks, which authenticate by signature
func RegisterWebhookRoutes(r gin.IRouter, h *HandlerSet) {
	webhooks := r.Group("/webhooks")
	{
		webhooks.POST("/shopify", h.Webhooks.HandleShopifyWebhook)
	}
}
