package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/linkvault/syncd/common/document"
	"github.com/linkvault/syncd/common/logger"
	"github.com/linkvault/syncd/common/models"
	"github.com/linkvault/syncd/common/protocol"
)

// ErrResyncRequired is returned when the server orders a resync. Loop
// branches on the reason: a sequence gap invalidates the local send
// state, lagging only means missed deliveries and the session
// reconnects with its outbox intact.
var ErrResyncRequired = errors.New("server ordered a resync")

// ErrSequenceUnknown is returned by Mutate between a sequence-gap resync
// and the recovery catch-up that re-derives the actor's sequence number.
var ErrSequenceUnknown = errors.New("sequence unknown until resync completes")

// ResyncError carries the server's resync reason.
// Matches ErrResyncRequired under errors.Is.
type ResyncError struct {
	Reason string
}

func (e *ResyncError) Error() string {
	return fmt.Sprintf("server ordered a resync: %s", e.Reason)
}

func (e *ResyncError) Is(target error) bool { return target == ErrResyncRequired }

const readWait = 60 * time.Second

// Config describes one device's sync endpoint and resume state
type Config struct {
	// ServerURL is the websocket endpoint, e.g. ws://localhost:8080/ws
	ServerURL string
	AccountID string
	DeviceID  string

	// Cursor is the resume point from local storage; empty on first sync
	Cursor string

	// LastSequence is the device's last used sequence number
	LastSequence uint64

	Logger *logger.Logger
}

// Session is one device's replica: a local document, an outbox of
// unacknowledged operations, and a connection that streams both ways.
// Mutations work offline; the outbox flushes on (re)connect.
type Session struct {
	cfg Config

	mu      sync.Mutex
	doc     *document.Document
	cursor  string
	seq     uint64
	outbox  []models.Operation
	conn    *websocket.Conn
	online  bool
	reached bool

	// seqKnown is false between a sequence-gap resync and the recovery
	// catch-up; serverSeq tracks the highest own-actor sequence echoed
	// by the server, which becomes the new seq when recovery completes
	seqKnown  bool
	serverSeq uint64

	writeMu sync.Mutex
}

// NewSession creates a session resuming from the config's cursor and
// sequence number
func NewSession(cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = logger.New("info", "text")
	}
	return &Session{
		cfg:      cfg,
		doc:      document.New(),
		cursor:   cfg.Cursor,
		seq:      cfg.LastSequence,
		seqKnown: true,
	}
}

// Mutate records one local change: it is applied to the local document
// immediately, queued in the outbox, and sent right away when online.
func (s *Session) Mutate(m models.FieldMutation) (*models.Operation, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if !s.seqKnown {
		s.mu.Unlock()
		return nil, ErrSequenceUnknown
	}
	s.seq++
	op := models.Operation{
		ActorID:        s.cfg.DeviceID,
		SequenceNumber: s.seq,
		Payload:        m,
		CreatedAt:      time.Now().UTC(),
	}
	hash, err := op.ComputeHash()
	if err != nil {
		s.seq--
		s.mu.Unlock()
		return nil, err
	}
	op.ContentHash = hash

	s.doc.Apply(&op)
	s.outbox = append(s.outbox, op)
	online := s.online
	s.mu.Unlock()

	if online {
		if err := s.sendOperation(&op); err != nil {
			// Still in the outbox; the next flush retries it
			s.cfg.Logger.Warn("operation send failed, queued", "content_hash", op.ContentHash, "error", err)
		}
	}

	return &op, nil
}

// Run connects, hands the server the cursor, folds the catch-up stream
// into the local document, flushes the outbox and then follows live
// fan-out. Blocks until disconnect, resync order or context cancel.
func (s *Session) Run(ctx context.Context) error {
	header := http.Header{"X-Account-ID": []string{s.cfg.AccountID}}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.ServerURL, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.cfg.ServerURL, err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(readWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(10*time.Second))
	})

	s.mu.Lock()
	s.conn = conn
	cursor := s.cursor
	s.mu.Unlock()

	hs := protocol.Handshake{Type: protocol.MsgHandshake, DeviceID: s.cfg.DeviceID, Cursor: cursor}
	if err := s.writeFrame(protocol.MustEncode(hs)); err != nil {
		return fmt.Errorf("send handshake: %w", err)
	}

	defer func() {
		s.mu.Lock()
		s.online = false
		s.conn = nil
		s.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("connection lost: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(readWait))

		frameType, err := protocol.PeekType(data)
		if err != nil {
			s.cfg.Logger.Warn("dropping unparseable frame", "error", err)
			continue
		}

		if err := s.handleFrame(frameType, data); err != nil {
			return err
		}
	}
}

// handleFrame folds one server frame into the session
func (s *Session) handleFrame(frameType string, data []byte) error {
	switch frameType {
	case protocol.MsgConnected:
		s.mu.Lock()
		s.reached = true
		s.mu.Unlock()

	case protocol.MsgCatchupBegin:
		var begin protocol.CatchupBegin
		if err := json.Unmarshal(data, &begin); err == nil && begin.EstimatedCount > 0 {
			s.cfg.Logger.Info("catching up", "estimated", begin.EstimatedCount)
		}

	case protocol.MsgOperation:
		var msg protocol.OperationMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			s.cfg.Logger.Warn("dropping unparseable operation", "error", err)
			return nil
		}
		s.applyRemote(&msg.Operation)

	case protocol.MsgCatchupEnd:
		var end protocol.CatchupEnd
		if err := json.Unmarshal(data, &end); err != nil {
			return fmt.Errorf("unparseable catchup end: %w", err)
		}
		s.mu.Lock()
		if end.Cursor > s.cursor {
			s.cursor = end.Cursor
		}
		if !s.seqKnown {
			// Recovery catch-up replayed the full log; the highest
			// own-actor sequence echoed back is the server's truth
			s.seq = s.serverSeq
			s.seqKnown = true
		}
		s.online = true
		pending := append([]models.Operation(nil), s.outbox...)
		s.mu.Unlock()

		// Caught up; replay anything accepted locally while offline
		for i := range pending {
			if err := s.sendOperation(&pending[i]); err != nil {
				return fmt.Errorf("flush outbox: %w", err)
			}
		}

	case protocol.MsgAck:
		var ack protocol.Ack
		if err := json.Unmarshal(data, &ack); err != nil {
			return nil
		}
		s.dropFromOutbox(ack.ContentHash)

	case protocol.MsgResyncRequired:
		var resync protocol.ResyncRequired
		json.Unmarshal(data, &resync)
		s.cfg.Logger.Warn("resync ordered", "reason", resync.Reason)
		return &ResyncError{Reason: resync.Reason}

	case protocol.MsgError:
		var errMsg protocol.ErrorMsg
		if err := json.Unmarshal(data, &errMsg); err == nil {
			s.cfg.Logger.Warn("server rejected frame", "message", errMsg.Message)
		}
	}

	return nil
}

// applyRemote folds one replicated operation into the local document.
// The device's own operations come back during catch-up; applying them
// again is a no-op, and they double as acknowledgements.
func (s *Session) applyRemote(op *models.Operation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc.Apply(op)
	if op.OpID > s.cursor {
		s.cursor = op.OpID
	}
	if op.ActorID == s.cfg.DeviceID {
		if op.SequenceNumber > s.serverSeq {
			s.serverSeq = op.SequenceNumber
		}
		s.removeOutboxLocked(op.ContentHash)
	}
}

// Loop runs the session with reconnects under the given policy. Returns
// when the context is canceled or the policy gives up.
func (s *Session) Loop(ctx context.Context, policy RetryPolicy) error {
	attempt := 1
	for {
		err := s.Run(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var resync *ResyncError
		if errors.As(err, &resync) && resync.Reason != protocol.ReasonLagging {
			// The actor's sequence history is unusable; rebuild the
			// replica from the log. Lagging only means the server dropped
			// deliveries: the outbox stays and re-flushes after the next
			// catch-up, where hash dedup absorbs any re-sends.
			s.Reset()
		}

		s.mu.Lock()
		if s.reached {
			attempt = 1
			s.reached = false
		}
		s.mu.Unlock()

		wait, ok := policy.Next(attempt)
		if !ok {
			return err
		}
		attempt++

		s.cfg.Logger.Info("reconnecting", "attempt", attempt, "wait", wait, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Snapshot returns an independent copy of the local document
func (s *Session) Snapshot() (*document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

// Cursor returns the resume point to persist locally
func (s *Session) Cursor() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// LastSequence returns the device's last used sequence number
func (s *Session) LastSequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Pending returns the number of unacknowledged operations
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outbox)
}

// Reset discards local send state after a sequence-gap resync: the
// outbox and replica are dropped, the cursor rewinds to the log start,
// and the sequence counter is re-derived from the device's own
// operations echoed during the next catch-up.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbox = nil
	s.doc = document.New()
	s.cursor = ""
	s.serverSeq = 0
	s.seqKnown = false
}

func (s *Session) dropFromOutbox(contentHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeOutboxLocked(contentHash)
}

func (s *Session) removeOutboxLocked(contentHash string) {
	for i, op := range s.outbox {
		if op.ContentHash == contentHash {
			s.outbox = append(s.outbox[:i], s.outbox[i+1:]...)
			return
		}
	}
}

func (s *Session) sendOperation(op *models.Operation) error {
	data, err := protocol.EncodeOperation(op)
	if err != nil {
		return err
	}
	return s.writeFrame(data)
}

func (s *Session) writeFrame(data []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errors.New("not connected")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}
