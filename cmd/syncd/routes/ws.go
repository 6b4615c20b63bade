package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/linkvault/syncd/cmd/syncd/container"
	"github.com/linkvault/syncd/cmd/syncd/handlers"
)

// RegisterSyncRoutes registers the websocket sync endpoint
func RegisterSyncRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewWSHandler(
		c.Hub,
		c.OpLogService,
		c.SyncStateRepo,
		c.SnapshotService,
		c.Components.Config.Sync,
		c.Components.Logger,
	)

	e.GET("/ws", h.Sync) // GET /ws
}
