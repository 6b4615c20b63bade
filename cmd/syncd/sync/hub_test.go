package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/linkvault/syncd/cmd/syncd/service"
	"github.com/linkvault/syncd/common/logger"
	"github.com/linkvault/syncd/common/models"
	"github.com/linkvault/syncd/common/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() *logger.Logger {
	return logger.New("error", "json")
}

type fakeCursors struct {
	mu      sync.Mutex
	upserts []string
}

func (f *fakeCursors) Upsert(_ context.Context, _, deviceID, lastOpID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, deviceID+"@"+lastOpID)
	return nil
}

type fakeSnapshotter struct{}

func (fakeSnapshotter) MaybeSnapshot(context.Context, string) {}

// fakeLog serves a fixed, ordered operation list
type fakeLog struct {
	ops       []models.Operation
	appendRes *service.AppendResult
	appendErr error
}

func (f *fakeLog) Append(_ context.Context, _, _ string, _ *models.Operation) (*service.AppendResult, error) {
	return f.appendRes, f.appendErr
}

func (f *fakeLog) OperationsSince(_ context.Context, _, cursor string, limit int) ([]models.Operation, error) {
	var out []models.Operation
	for _, op := range f.ops {
		if op.OpID > cursor {
			out = append(out, op)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeLog) Backlog(_ context.Context, _, cursor string) (int, error) {
	count := 0
	for _, op := range f.ops {
		if op.OpID > cursor {
			count++
		}
	}
	return count, nil
}

func newTestClient(t *testing.T, hub *Hub, account, device string, oplog OperationLog, buffer int) *Client {
	t.Helper()
	c := NewClient(hub, nil, account, oplog, &fakeCursors{}, fakeSnapshotter{}, 3, buffer, testLog())
	c.deviceID = device
	c.live.Store(true)
	return c
}

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub(testLog())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	return hub, cancel
}

func registerAndWait(t *testing.T, hub *Hub, c *Client) {
	t.Helper()
	hub.register <- c
	require.Eventually(t, func() bool {
		return hub.DeviceCount(c.accountID) > 0
	}, time.Second, time.Millisecond)
}

func opEvent(account, origin, opID string) *Event {
	return &Event{
		AccountID:    account,
		OriginDevice: origin,
		Data:         []byte(fmt.Sprintf(`{"type":"operation","op_id":%q}`, opID)),
		OpID:         opID,
	}
}

func TestHub_BroadcastSkipsOriginDevice(t *testing.T) {
	hub, cancel := startHub(t)
	defer cancel()

	origin := newTestClient(t, hub, "acct-1", "device-a", nil, 8)
	other := newTestClient(t, hub, "acct-1", "device-b", nil, 8)
	hub.register <- origin
	registerAndWait(t, hub, other)

	hub.broadcast <- opEvent("acct-1", "device-a", "op-1")

	select {
	case out := <-other.send:
		assert.Equal(t, "op-1", out.opID)
	case <-time.After(time.Second):
		t.Fatal("other device never received the operation")
	}

	select {
	case <-origin.send:
		t.Fatal("origin device must not receive its own operation")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_BroadcastIsolatesAccounts(t *testing.T) {
	hub, cancel := startHub(t)
	defer cancel()

	mine := newTestClient(t, hub, "acct-1", "device-b", nil, 8)
	theirs := newTestClient(t, hub, "acct-2", "device-c", nil, 8)
	hub.register <- mine
	registerAndWait(t, hub, theirs)

	hub.broadcast <- opEvent("acct-1", "device-a", "op-1")

	select {
	case <-mine.send:
	case <-time.After(time.Second):
		t.Fatal("same-account device never received the operation")
	}

	select {
	case <-theirs.send:
		t.Fatal("operation leaked across accounts")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_OverflowFlipsToLaggingWithOneNotice(t *testing.T) {
	hub, cancel := startHub(t)
	defer cancel()

	slow := newTestClient(t, hub, "acct-1", "device-b", nil, 1)
	registerAndWait(t, hub, slow)

	// Second and third sends overflow the one-slot buffer
	for i := 1; i <= 3; i++ {
		hub.broadcast <- opEvent("acct-1", "device-a", fmt.Sprintf("op-%d", i))
	}

	require.Eventually(t, func() bool {
		return slow.lagging.Load()
	}, time.Second, time.Millisecond)

	select {
	case out := <-slow.control:
		var resync protocol.ResyncRequired
		require.NoError(t, json.Unmarshal(out.data, &resync))
		assert.Equal(t, protocol.MsgResyncRequired, resync.Type)
		assert.Equal(t, protocol.ReasonLagging, resync.Reason)
	case <-time.After(time.Second):
		t.Fatal("lagging device never got a resync notice")
	}

	// Only the notice, exactly once
	select {
	case <-slow.control:
		t.Fatal("expected a single resync notice")
	default:
	}

	// Lagging devices get no further operations
	drained := len(slow.send)
	hub.broadcast <- opEvent("acct-1", "device-a", "op-4")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, drained, len(slow.send))
}

func TestHub_BroadcastSkipsNotYetLiveClients(t *testing.T) {
	hub, cancel := startHub(t)
	defer cancel()

	catchingUp := newTestClient(t, hub, "acct-1", "device-b", nil, 8)
	catchingUp.live.Store(false)
	registerAndWait(t, hub, catchingUp)

	hub.broadcast <- opEvent("acct-1", "device-a", "op-1")

	select {
	case <-catchingUp.send:
		t.Fatal("catch-up client must not receive live fan-out")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_UnregisterRemovesClient(t *testing.T) {
	hub, cancel := startHub(t)
	defer cancel()

	c := newTestClient(t, hub, "acct-1", "device-a", nil, 8)
	registerAndWait(t, hub, c)
	assert.Equal(t, 1, hub.ConnectionCount())

	hub.unregister <- c
	require.Eventually(t, func() bool {
		return hub.DeviceCount("acct-1") == 0
	}, time.Second, time.Millisecond)
	assert.Equal(t, 0, hub.ConnectionCount())

	// The hub closed the send channel
	_, ok := <-c.send
	assert.False(t, ok)
}
