package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/linkvault/syncd/cmd/syncd/middleware"
	"github.com/linkvault/syncd/cmd/syncd/service"
	syncpkg "github.com/linkvault/syncd/cmd/syncd/sync"
	"github.com/linkvault/syncd/common/config"
	"github.com/linkvault/syncd/common/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Device clients connect from arbitrary origins
		return true
	},
}

// WSHandler upgrades sync connections and hands them to the hub
type WSHandler struct {
	hub       *syncpkg.Hub
	oplog     *service.OpLogService
	cursors   syncpkg.CursorTracker
	snapshots *service.SnapshotService
	cfg       config.SyncConfig
	log       *logger.Logger
}

// NewWSHandler creates a new websocket handler
func NewWSHandler(
	hub *syncpkg.Hub,
	oplog *service.OpLogService,
	cursors syncpkg.CursorTracker,
	snapshots *service.SnapshotService,
	cfg config.SyncConfig,
	log *logger.Logger,
) *WSHandler {
	return &WSHandler{
		hub:       hub,
		oplog:     oplog,
		cursors:   cursors,
		snapshots: snapshots,
		cfg:       cfg,
		log:       log,
	}
}

// Sync upgrades the connection and runs the device's sync session
// GET /ws
func (h *WSHandler) Sync(c echo.Context) error {
	accountID, err := middleware.RequireAccountID(c)
	if err != nil {
		return err
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "account_id", accountID, "error", err)
		return nil
	}

	h.log.Info("sync connection opened",
		"account_id", accountID, "remote", c.Request().RemoteAddr)

	client := syncpkg.NewClient(
		h.hub,
		conn,
		accountID,
		h.oplog,
		h.cursors,
		h.snapshots,
		h.cfg.CatchupBatchSize,
		h.cfg.SendBuffer,
		h.log,
	)

	// The session owns the connection from here; Run blocks until the
	// device disconnects
	client.Run(c.Request().Context())
	return nil
}
