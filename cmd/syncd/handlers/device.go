package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/linkvault/syncd/cmd/syncd/middleware"
	"github.com/linkvault/syncd/cmd/syncd/repository"
	syncpkg "github.com/linkvault/syncd/cmd/syncd/sync"
	"github.com/linkvault/syncd/common/logger"
	"github.com/linkvault/syncd/common/models"
)

// DeviceHandler reports per-device sync progress
type DeviceHandler struct {
	syncStates *repository.SyncStateRepository
	hub        *syncpkg.Hub
	log        *logger.Logger
}

// NewDeviceHandler creates a new device handler
func NewDeviceHandler(syncStates *repository.SyncStateRepository, hub *syncpkg.Hub, log *logger.Logger) *DeviceHandler {
	return &DeviceHandler{
		syncStates: syncStates,
		hub:        hub,
		log:        log,
	}
}

// ListDevices lists every device that has synced this account, with its
// cursor and the number of connections currently online
// GET /api/v1/sync/devices
func (h *DeviceHandler) ListDevices(c echo.Context) error {
	accountID, err := middleware.RequireAccountID(c)
	if err != nil {
		return err
	}

	states, err := h.syncStates.ListByAccount(c.Request().Context(), accountID)
	if err != nil {
		h.log.Error("device list failed", "account_id", accountID, "error", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"error": "devices temporarily unavailable",
		})
	}

	if states == nil {
		states = []models.SyncState{}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"devices": states,
		"online":  h.hub.DeviceCount(accountID),
	})
}
