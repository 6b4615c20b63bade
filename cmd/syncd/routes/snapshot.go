package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/linkvault/syncd/cmd/syncd/container"
	"github.com/linkvault/syncd/cmd/syncd/handlers"
)

// RegisterSnapshotRoutes registers snapshot inspection and triggering
func RegisterSnapshotRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewSnapshotHandler(c.SnapshotService, c.SnapshotRepo, c.Components.Logger)

	snapshots := e.Group("/api/v1/snapshots")
	{
		snapshots.POST("", h.CreateSnapshot) // POST /api/v1/snapshots
		snapshots.GET("", h.ListSnapshots)   // GET /api/v1/snapshots
	}
}
