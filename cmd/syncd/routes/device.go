package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/linkvault/syncd/cmd/syncd/container"
	"github.com/linkvault/syncd/cmd/syncd/handlers"
)

// RegisterDeviceRoutes registers per-device sync progress reporting
func RegisterDeviceRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewDeviceHandler(c.SyncStateRepo, c.Hub, c.Components.Logger)

	e.GET("/api/v1/sync/devices", h.ListDevices) // GET /api/v1/sync/devices
}
