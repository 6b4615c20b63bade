package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/linkvault/syncd/cmd/syncd/middleware"
	"github.com/linkvault/syncd/cmd/syncd/repository"
	"github.com/linkvault/syncd/cmd/syncd/service"
	"github.com/linkvault/syncd/common/logger"
	"github.com/linkvault/syncd/common/models"
)

// SnapshotHandler exposes snapshot inspection and manual triggering
type SnapshotHandler struct {
	snapshots *service.SnapshotService
	snapRepo  *repository.SnapshotRepository
	log       *logger.Logger
}

// NewSnapshotHandler creates a new snapshot handler
func NewSnapshotHandler(snapshots *service.SnapshotService, snapRepo *repository.SnapshotRepository, log *logger.Logger) *SnapshotHandler {
	return &SnapshotHandler{
		snapshots: snapshots,
		snapRepo:  snapRepo,
		log:       log,
	}
}

// CreateSnapshot forces a snapshot regardless of the backlog threshold
// POST /api/v1/snapshots
func (h *SnapshotHandler) CreateSnapshot(c echo.Context) error {
	accountID, err := middleware.RequireAccountID(c)
	if err != nil {
		return err
	}

	snap, err := h.snapshots.Materialize(c.Request().Context(), accountID)
	if err != nil {
		if errors.Is(err, models.ErrSnapshotMaterialization) {
			h.log.Warn("manual snapshot failed", "account_id", accountID, "error", err)
			return c.JSON(http.StatusConflict, map[string]interface{}{
				"error": err.Error(),
			})
		}
		h.log.Error("manual snapshot failed", "account_id", accountID, "error", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"error": "snapshot temporarily unavailable",
		})
	}

	return c.JSON(http.StatusCreated, snap)
}

// ListSnapshots lists the account's snapshots, newest first
// GET /api/v1/snapshots
func (h *SnapshotHandler) ListSnapshots(c echo.Context) error {
	accountID, err := middleware.RequireAccountID(c)
	if err != nil {
		return err
	}

	snaps, err := h.snapRepo.ListByAccount(c.Request().Context(), accountID)
	if err != nil {
		h.log.Error("snapshot list failed", "account_id", accountID, "error", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"error": "snapshots temporarily unavailable",
		})
	}

	if snaps == nil {
		snaps = []models.Snapshot{}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"snapshots": snaps,
	})
}
