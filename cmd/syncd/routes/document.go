package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/linkvault/syncd/cmd/syncd/container"
	"github.com/linkvault/syncd/cmd/syncd/handlers"
)

// RegisterDocumentRoutes registers the document read surface
func RegisterDocumentRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewDocumentHandler(c.SnapshotService, c.Components.Logger)

	document := e.Group("/api/v1/document")
	{
		document.GET("", h.GetDocument)  // GET /api/v1/document
		document.GET("/tags", h.GetTags) // GET /api/v1/document/tags
	}
}
