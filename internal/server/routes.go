package server

import (
	"net/http"

	"github.com/OFFIS-RIT/reqtrace/internal/server/middleware"
	"github.com/OFFIS-RIT/reqtrace/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Model routes
	apiRoutes.GET("/models", routes.GetModelsHandler)
	apiRoutes.GET("/models/:id/coverage", routes.GetCoverageHandler)
	apiRoutes.GET("/models/:id/matches", routes.GetMatchesHandler)
	apiRoutes.POST("/models/:id/runs", routes.CreateRunHandler)
	apiRoutes.GET("/models/:id/exports", routes.GetExportsHandler)
	apiRoutes.DELETE("/models/:id/exports", routes.DeleteExportsHandler)

	// Trace routes
	apiRoutes.GET("/trace", routes.GetTraceHandler)
	apiRoutes.GET("/trace/graph", routes.GetTraceGraphHandler)
	apiRoutes.POST("/trace/graph/export", routes.ExportTraceGraphHandler)
}
