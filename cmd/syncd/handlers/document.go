package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/linkvault/syncd/cmd/syncd/middleware"
	"github.com/linkvault/syncd/cmd/syncd/service"
	"github.com/linkvault/syncd/common/logger"
)

// DocumentHandler serves read-only views of the materialized document
type DocumentHandler struct {
	snapshots *service.SnapshotService
	log       *logger.Logger
}

// NewDocumentHandler creates a new document handler
func NewDocumentHandler(snapshots *service.SnapshotService, log *logger.Logger) *DocumentHandler {
	return &DocumentHandler{
		snapshots: snapshots,
		log:       log,
	}
}

// GetDocument returns the account's current document
// GET /api/v1/document
func (h *DocumentHandler) GetDocument(c echo.Context) error {
	accountID, err := middleware.RequireAccountID(c)
	if err != nil {
		return err
	}

	doc, lastOpID, err := h.snapshots.LoadDocument(c.Request().Context(), accountID)
	if err != nil {
		h.log.Error("document load failed", "account_id", accountID, "error", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"error": "document temporarily unavailable",
		})
	}

	doc.MaterializePaths()

	return c.JSON(http.StatusOK, map[string]interface{}{
		"bookmarks":    doc.Bookmarks(),
		"folders":      doc.Folders(),
		"entity_count": doc.EntityCount(),
		"last_op_id":   lastOpID,
	})
}

// GetTags returns the account's tag usage counts
// GET /api/v1/document/tags
func (h *DocumentHandler) GetTags(c echo.Context) error {
	accountID, err := middleware.RequireAccountID(c)
	if err != nil {
		return err
	}

	doc, _, err := h.snapshots.LoadDocument(c.Request().Context(), accountID)
	if err != nil {
		h.log.Error("document load failed", "account_id", accountID, "error", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"error": "document temporarily unavailable",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"tags": doc.TagCounts(),
	})
}
