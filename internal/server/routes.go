package server

import (
	"github.com/contextiq/backend/internal/server/middleware"
	"github.com/contextiq/backend/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	// Connector webhooks enqueue for the background worker. Connectors
	// authenticate with the master API key.
	e.POST("/webhooks/:source", routes.WebhookHandler, middleware.AuthMiddleware)

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Ingestion routes
	apiRoutes.POST("/ingest", routes.IngestEventsHandler)

	// Retrieval routes
	apiRoutes.POST("/search", routes.SearchHandler)

	// Task routes
	apiRoutes.GET("/tasks", routes.GetTasksHandler)
	apiRoutes.PATCH("/tasks/:id", routes.UpdateTaskStatusHandler)

	// Channel routes
	apiRoutes.GET("/channels/:channel/events", routes.GetChannelEventsHandler)

	// Analytics routes
	apiRoutes.GET("/sentiment/stats", routes.GetSentimentHandler)
	apiRoutes.GET("/analytics/silos", routes.GetKnowledgeSilosHandler)
	apiRoutes.GET("/analytics/influencers", routes.GetInfluencersHandler)
	apiRoutes.GET("/analytics/interactions", routes.GetInteractionsHandler)
	apiRoutes.POST("/graph/query", routes.GraphQueryHandler, middleware.RequireAdmin)

	// Admin maintenance routes
	apiRoutes.DELETE("/sources/:source/vectors", routes.DeleteSourceVectorsHandler, middleware.RequireAdmin)
	apiRoutes.GET("/archive/:source", routes.ListArchivedEventsHandler, middleware.RequireAdmin)
	apiRoutes.GET("/archive/:source/:id", routes.GetArchivedEventHandler, middleware.RequireAdmin)
}
