package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/linkvault/syncd/cmd/syncd/service"
	"github.com/linkvault/syncd/common/logger"
	"github.com/linkvault/syncd/common/models"
	"github.com/linkvault/syncd/common/protocol"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed for the device to send its handshake
	handshakeWait = 10 * time.Second

	// Time allowed to read the next pong or data frame from the peer
	pongWait = 30 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 25 * time.Second

	// Maximum frame size allowed from a device
	maxMessageSize = 64 * 1024
)

var errConnClosed = errors.New("connection closed")

// OperationLog is the append and read surface the session needs
type OperationLog interface {
	Append(ctx context.Context, accountID, originDevice string, op *models.Operation) (*service.AppendResult, error)
	OperationsSince(ctx context.Context, accountID, cursor string, limit int) ([]models.Operation, error)
	Backlog(ctx context.Context, accountID, cursor string) (int, error)
}

// CursorTracker persists per-device delivery progress
type CursorTracker interface {
	Upsert(ctx context.Context, accountID, deviceID, lastOpID string) error
}

// Snapshotter triggers threshold-based snapshot checks
type Snapshotter interface {
	MaybeSnapshot(ctx context.Context, accountID string)
}

// outbound is one frame queued for delivery. opID, when set, advances the
// device cursor once the frame is on the wire.
type outbound struct {
	data []byte
	opID string
}

// Client is one device's sync session: handshake, catch-up stream, then
// live bidirectional operation exchange
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	accountID string
	deviceID  string

	// Server-side catch-up position; touched only by Run
	cursor string

	send    chan outbound
	control chan outbound
	done    chan struct{}

	live    atomic.Bool
	lagging atomic.Bool

	oplog     OperationLog
	cursors   CursorTracker
	snapshots Snapshotter
	batchSize int
	log       *logger.Logger
}

// NewClient creates a new sync session for an upgraded connection
func NewClient(
	hub *Hub,
	conn *websocket.Conn,
	accountID string,
	oplog OperationLog,
	cursors CursorTracker,
	snapshots Snapshotter,
	batchSize int,
	sendBuffer int,
	log *logger.Logger,
) *Client {
	return &Client{
		hub:       hub,
		conn:      conn,
		accountID: accountID,
		send:      make(chan outbound, sendBuffer),
		control:   make(chan outbound, 4),
		done:      make(chan struct{}),
		oplog:     oplog,
		cursors:   cursors,
		snapshots: snapshots,
		batchSize: batchSize,
		log:       log.WithAccountID(accountID),
	}
}

// Run drives the session to completion: handshake, register, catch-up,
// then the live read loop. Returns when the device disconnects or the
// session is terminated.
func (c *Client) Run(ctx context.Context) {
	defer c.conn.Close()

	if err := c.handshake(); err != nil {
		c.log.Warn("handshake failed", "error", err)
		return
	}
	c.log = c.log.WithDeviceID(c.deviceID)

	c.hub.register <- c
	defer func() { c.hub.unregister <- c }()

	go c.writePump()

	connected := protocol.Connected{Type: protocol.MsgConnected, DeviceCount: c.hub.DeviceCount(c.accountID)}
	if err := c.enqueue(ctx, outbound{data: protocol.MustEncode(connected)}); err != nil {
		return
	}

	if err := c.catchup(ctx); err != nil {
		c.log.Warn("catch-up aborted", "error", err)
		return
	}

	c.readLoop(ctx)
}

// handshake reads and validates the device's opening frame
func (c *Client) handshake() error {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(handshakeWait))

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read handshake: %w", err)
	}

	var hs protocol.Handshake
	if err := json.Unmarshal(data, &hs); err != nil || hs.Type != protocol.MsgHandshake {
		return fmt.Errorf("expected handshake frame")
	}
	if hs.DeviceID == "" {
		return fmt.Errorf("handshake missing device id")
	}

	c.deviceID = hs.DeviceID
	c.cursor = hs.Cursor

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	return nil
}

// catchup streams every operation accepted after the device's cursor, in
// acceptance order, then flips the session live
func (c *Client) catchup(ctx context.Context) error {
	backlog, err := c.oplog.Backlog(ctx, c.accountID, c.cursor)
	if err != nil {
		return err
	}

	begin := protocol.CatchupBegin{Type: protocol.MsgCatchupBegin, EstimatedCount: backlog}
	if err := c.enqueue(ctx, outbound{data: protocol.MustEncode(begin)}); err != nil {
		return err
	}

	if err := c.stream(ctx); err != nil {
		return err
	}

	// Go live before the final pass: operations accepted in between are
	// picked up here and may also arrive via fan-out. Duplicates are
	// harmless; applying an operation twice changes nothing.
	c.live.Store(true)
	if err := c.stream(ctx); err != nil {
		return err
	}

	end := protocol.CatchupEnd{Type: protocol.MsgCatchupEnd, Cursor: c.cursor}
	return c.enqueue(ctx, outbound{data: protocol.MustEncode(end)})
}

// stream pages through the log from the session cursor until it drains
func (c *Client) stream(ctx context.Context) error {
	for {
		ops, err := c.oplog.OperationsSince(ctx, c.accountID, c.cursor, c.batchSize)
		if err != nil {
			return err
		}
		if len(ops) == 0 {
			return nil
		}

		for i := range ops {
			data, err := protocol.EncodeOperation(&ops[i])
			if err != nil {
				return err
			}
			if err := c.enqueue(ctx, outbound{data: data, opID: ops[i].OpID}); err != nil {
				return err
			}
		}

		c.cursor = ops[len(ops)-1].OpID
		if len(ops) < c.batchSize {
			return nil
		}
	}
}

// readLoop handles live frames from the device until disconnect
func (c *Client) readLoop(ctx context.Context) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket error", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		msgType, err := protocol.PeekType(data)
		if err != nil {
			c.sendError(ctx, err.Error())
			continue
		}

		switch msgType {
		case protocol.MsgOperation:
			var msg protocol.OperationMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				c.sendError(ctx, "unparseable operation frame")
				continue
			}
			if terminal := c.handleOperation(ctx, &msg.Operation); terminal {
				return
			}

		case protocol.MsgHandshake:
			c.sendError(ctx, "session already established")

		default:
			c.log.Debug("ignoring frame", "frame_type", msgType)
		}
	}
}

// handleOperation appends one device-submitted operation. Returns true
// when the session must end.
func (c *Client) handleOperation(ctx context.Context, op *models.Operation) bool {
	res, err := c.oplog.Append(ctx, c.accountID, c.deviceID, op)

	switch {
	case errors.Is(err, models.ErrSequenceGap):
		// The device's local state diverged from the log. No repair is
		// possible on this session; it must resync from its cursor.
		c.log.Warn("sequence gap, ordering resync", "error", err)
		resync := protocol.ResyncRequired{Type: protocol.MsgResyncRequired, Reason: protocol.ReasonSequenceGap}
		c.enqueue(ctx, outbound{data: protocol.MustEncode(resync)})
		return true

	case errors.Is(err, models.ErrMalformedOperation):
		c.log.Warn("malformed operation rejected", "error", err)
		c.sendError(ctx, err.Error())
		return false

	case err != nil:
		c.log.Error("append failed", "error", err)
		c.sendError(ctx, "temporarily unable to accept operations")
		return true
	}

	ack := protocol.Ack{Type: protocol.MsgAck, ContentHash: op.ContentHash, OpID: res.OpID}
	if err := c.enqueue(ctx, outbound{data: protocol.MustEncode(ack)}); err != nil {
		return true
	}

	if res.Status == service.Accepted {
		c.snapshots.MaybeSnapshot(ctx, c.accountID)
	}

	return false
}

// enqueue queues one frame for delivery, blocking until there is room.
// Fails fast once the writer has shut down.
func (c *Client) enqueue(ctx context.Context, out outbound) error {
	select {
	case c.send <- out:
		return nil
	case <-c.done:
		return errConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) sendError(ctx context.Context, message string) {
	c.enqueue(ctx, outbound{data: protocol.MustEncode(protocol.ErrorMsg{Type: protocol.MsgError, Message: message})})
}

// markLagging flips the session to notify-only: the device gets one
// resync notice and no further operations. Called by the hub when the
// send buffer overflows.
func (c *Client) markLagging() {
	if c.lagging.Swap(true) {
		return
	}
	resync := protocol.ResyncRequired{Type: protocol.MsgResyncRequired, Reason: protocol.ReasonLagging}
	select {
	case c.control <- outbound{data: protocol.MustEncode(resync)}:
	default:
	}
}

// writePump pumps queued frames to the connection and keeps it alive
// with pings
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(c.done)
		c.conn.Close()
	}()

	for {
		select {
		case out, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, out.data); err != nil {
				return
			}
			c.advanceCursor(out.opID)

			// Drain queued frames as separate text frames
			n := len(c.send)
			for i := 0; i < n; i++ {
				out, ok := <-c.send
				if !ok {
					c.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, out.data); err != nil {
					return
				}
				c.advanceCursor(out.opID)
			}

		case out := <-c.control:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, out.data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// advanceCursor records that everything up to opID is on the wire. The
// upsert is forward-only, so late or reordered writes cannot move the
// cursor backwards.
func (c *Client) advanceCursor(opID string) {
	if opID == "" {
		return
	}
	if err := c.cursors.Upsert(context.Background(), c.accountID, c.deviceID, opID); err != nil {
		c.log.Warn("cursor advance failed", "op_id", opID, "error", err)
	}
}
