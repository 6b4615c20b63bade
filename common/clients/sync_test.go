package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/linkvault/syncd/common/models"
	"github.com/linkvault/syncd/common/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSession() *Session {
	return NewSession(Config{
		ServerURL: "ws://localhost:8080/ws",
		AccountID: "acct-1",
		DeviceID:  "device-a",
	})
}

func TestMutate_OfflineQueuesAndAppliesLocally(t *testing.T) {
	s := testSession()

	entity, err := NewEntity(models.KindBookmark, "bm-1",
		map[string]string{"url": "https://example.com", "title": "Example"}, 1000)
	require.NoError(t, err)

	op, err := s.Mutate(entity)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), op.SequenceNumber)
	assert.NotEmpty(t, op.ContentHash)
	assert.Equal(t, 1, s.Pending())

	doc, err := s.Snapshot()
	require.NoError(t, err)
	bm, ok := doc.Bookmark("bm-1")
	require.True(t, ok)
	assert.Equal(t, "Example", bm.Title)
}

func TestMutate_SequenceNumbersAreGapFree(t *testing.T) {
	s := testSession()

	for i := 1; i <= 3; i++ {
		op, err := s.Mutate(AddTag("bm-1", "golang", int64(1000+i)))
		require.NoError(t, err)
		assert.Equal(t, uint64(i), op.SequenceNumber)
	}
	assert.Equal(t, uint64(3), s.LastSequence())
}

func TestMutate_InvalidMutationDoesNotBurnSequence(t *testing.T) {
	s := testSession()

	_, err := s.Mutate(models.FieldMutation{
		EntityKind: models.KindBookmark,
		EntityID:   "bm-1",
		Op:         models.MutationSet,
		Field:      "color",
		Value:      json.RawMessage(`"red"`),
		LogicalTS:  1000,
	})
	require.ErrorIs(t, err, models.ErrMalformedOperation)
	assert.Equal(t, uint64(0), s.LastSequence())
	assert.Zero(t, s.Pending())
}

func TestHandleFrame_RemoteOperationAdvancesCursor(t *testing.T) {
	s := testSession()

	op := models.Operation{
		OpID:           "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		ActorID:        "device-b",
		SequenceNumber: 1,
		Payload: models.FieldMutation{
			EntityKind: models.KindBookmark,
			EntityID:   "bm-9",
			Op:         models.MutationEntity,
			Value:      json.RawMessage(`{"url":"https://other.example","title":"Theirs"}`),
			LogicalTS:  2000,
		},
	}
	data, err := protocol.EncodeOperation(&op)
	require.NoError(t, err)

	require.NoError(t, s.handleFrame(protocol.MsgOperation, data))
	assert.Equal(t, op.OpID, s.Cursor())

	doc, err := s.Snapshot()
	require.NoError(t, err)
	_, ok := doc.Bookmark("bm-9")
	assert.True(t, ok)
}

func TestHandleFrame_OwnEchoClearsOutbox(t *testing.T) {
	s := testSession()

	local, err := s.Mutate(AddTag("bm-1", "golang", 1000))
	require.NoError(t, err)
	require.Equal(t, 1, s.Pending())

	// Catch-up replays the device's own operation, now with an op id
	echo := *local
	echo.OpID = "01ARZ3NDEKTSV4RRFFQ69G5FAV"
	data, err := protocol.EncodeOperation(&echo)
	require.NoError(t, err)

	require.NoError(t, s.handleFrame(protocol.MsgOperation, data))
	assert.Zero(t, s.Pending())
	assert.Equal(t, echo.OpID, s.Cursor())
}

func TestHandleFrame_AckClearsOutbox(t *testing.T) {
	s := testSession()

	op, err := s.Mutate(AddTag("bm-1", "golang", 1000))
	require.NoError(t, err)

	ack := protocol.Ack{Type: protocol.MsgAck, ContentHash: op.ContentHash, OpID: "op-1"}
	require.NoError(t, s.handleFrame(protocol.MsgAck, protocol.MustEncode(ack)))
	assert.Zero(t, s.Pending())
}

func TestHandleFrame_CatchupEndSetsCursorAndOnline(t *testing.T) {
	s := testSession()

	end := protocol.CatchupEnd{Type: protocol.MsgCatchupEnd, Cursor: "01ARZ3NDEKTSV4RRFFQ69G5FAV"}
	require.NoError(t, s.handleFrame(protocol.MsgCatchupEnd, protocol.MustEncode(end)))
	assert.Equal(t, end.Cursor, s.Cursor())
}

func TestHandleFrame_ResyncDropsSession(t *testing.T) {
	s := testSession()

	resync := protocol.ResyncRequired{Type: protocol.MsgResyncRequired, Reason: protocol.ReasonSequenceGap}
	err := s.handleFrame(protocol.MsgResyncRequired, protocol.MustEncode(resync))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrResyncRequired))

	var resyncErr *ResyncError
	require.ErrorAs(t, err, &resyncErr)
	assert.Equal(t, protocol.ReasonSequenceGap, resyncErr.Reason)
}

func TestMutate_BlockedUntilRecoveryCatchupCompletes(t *testing.T) {
	s := testSession()

	_, err := s.Mutate(AddTag("bm-1", "golang", 1000))
	require.NoError(t, err)

	s.Reset()
	assert.Zero(t, s.Pending())
	assert.Equal(t, "", s.Cursor())

	// No sequence number can be minted until the server has echoed the
	// actor's history back
	_, err = s.Mutate(AddTag("bm-1", "rust", 1001))
	require.ErrorIs(t, err, ErrSequenceUnknown)

	// An empty log re-derives to sequence zero
	end := protocol.CatchupEnd{Type: protocol.MsgCatchupEnd, Cursor: ""}
	require.NoError(t, s.handleFrame(protocol.MsgCatchupEnd, protocol.MustEncode(end)))

	op, err := s.Mutate(AddTag("bm-1", "rust", 1002))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), op.SequenceNumber)
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// scriptedServer runs one script per accepted connection, numbered from 1
func scriptedServer(t *testing.T, script func(n int, conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	var upgrader websocket.Upgrader
	var conns int32
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		script(int(atomic.AddInt32(&conns, 1)), conn)
	}))
}

func TestLoop_LaggingResyncKeepsUndeliveredOperations(t *testing.T) {
	srv := scriptedServer(t, func(_ int, conn *websocket.Conn) {
		if _, _, err := conn.ReadMessage(); err != nil { // handshake
			return
		}
		resync := protocol.ResyncRequired{Type: protocol.MsgResyncRequired, Reason: protocol.ReasonLagging}
		conn.WriteMessage(websocket.TextMessage, protocol.MustEncode(resync))
	})
	defer srv.Close()

	s := NewSession(Config{ServerURL: wsURL(srv), AccountID: "acct-1", DeviceID: "device-a"})
	op, err := s.Mutate(AddTag("bm-1", "golang", 1000))
	require.NoError(t, err)

	policy := RetryPolicy{MaxAttempts: 1, Backoff: func(int) time.Duration { return 0 }}
	err = s.Loop(context.Background(), policy)
	require.ErrorIs(t, err, ErrResyncRequired)

	// The server never received the operation: it stays queued for the
	// next flush and the sequence counter does not restart
	assert.Equal(t, 1, s.Pending())
	assert.Equal(t, op.SequenceNumber, s.LastSequence())
}

func TestLoop_SequenceGapResyncRederivesSequence(t *testing.T) {
	// The device resumes claiming sequence 3 while the log only holds
	// 1..2 for it: the server orders a resync and the session rebuilds
	// from the log start
	recovered := make(chan struct{})
	var resumeCursor atomic.Value

	srv := scriptedServer(t, func(n int, conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if n == 1 {
			resync := protocol.ResyncRequired{Type: protocol.MsgResyncRequired, Reason: protocol.ReasonSequenceGap}
			conn.WriteMessage(websocket.TextMessage, protocol.MustEncode(resync))
			return
		}

		var hs protocol.Handshake
		json.Unmarshal(data, &hs)
		resumeCursor.Store(hs.Cursor)

		hello := protocol.Connected{Type: protocol.MsgConnected, DeviceCount: 1}
		conn.WriteMessage(websocket.TextMessage, protocol.MustEncode(hello))

		for seq := uint64(1); seq <= 2; seq++ {
			echo := models.Operation{
				OpID:           fmt.Sprintf("01ARZ3NDEKTSV4RRFFQ69G5FA%d", seq),
				ActorID:        "device-a",
				SequenceNumber: seq,
				Payload: models.FieldMutation{
					EntityKind: models.KindBookmark,
					EntityID:   "bm-1",
					Op:         models.MutationSet,
					Field:      "title",
					Value:      json.RawMessage(fmt.Sprintf(`"v%d"`, seq)),
					LogicalTS:  int64(1000 + seq),
				},
			}
			frame, _ := protocol.EncodeOperation(&echo)
			conn.WriteMessage(websocket.TextMessage, frame)
		}

		end := protocol.CatchupEnd{Type: protocol.MsgCatchupEnd, Cursor: "01ARZ3NDEKTSV4RRFFQ69G5FA2"}
		conn.WriteMessage(websocket.TextMessage, protocol.MustEncode(end))
		close(recovered)

		// Hold the connection open for the session's next operations
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	s := NewSession(Config{
		ServerURL:    wsURL(srv),
		AccountID:    "acct-1",
		DeviceID:     "device-a",
		Cursor:       "01ARZ3NDEKTSV4RRFFQ69G5FA2",
		LastSequence: 3,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loopDone := make(chan error, 1)
	go func() {
		loopDone <- s.Loop(ctx, RetryPolicy{Backoff: func(int) time.Duration { return 0 }})
	}()

	<-recovered
	require.Eventually(t, func() bool { return s.LastSequence() == 2 }, 2*time.Second, 10*time.Millisecond)

	// The recovery handshake started from the log's beginning
	assert.Equal(t, "", resumeCursor.Load())

	// New mutations continue from the server's sequence, not the stale one
	op, err := s.Mutate(AddTag("bm-1", "golang", 2000))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), op.SequenceNumber)

	cancel()
	srv.CloseClientConnections()
	<-loopDone
}
