package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/linkvault/syncd/common/models"
)

// Message types on the sync socket
const (
	// MsgHandshake is the device's first frame: identity plus cursor
	MsgHandshake = "handshake"

	// MsgConnected acknowledges the handshake
	MsgConnected = "connected"

	// MsgCatchupBegin precedes the catch-up stream
	MsgCatchupBegin = "catchup_begin"

	// MsgOperation carries one operation, in either direction
	MsgOperation = "operation"

	// MsgCatchupEnd marks the end of catch-up; the connection is live
	MsgCatchupEnd = "catchup_end"

	// MsgAck confirms acceptance of a device-submitted operation
	MsgAck = "ack"

	// MsgResyncRequired orders the device to re-handshake. A sequence
	// gap additionally invalidates its local send state; lagging only
	// means missed deliveries and the outbox survives the reconnect
	MsgResyncRequired = "resync_required"

	// MsgError reports a rejected frame without ending the session
	MsgError = "error"
)

// Resync reasons
const (
	ReasonSequenceGap = "sequence_gap"
	ReasonLagging     = "lagging"
)

// Handshake is sent by the device immediately after connecting.
// An empty cursor means the device has never synced.
type Handshake struct {
	Type     string `json:"type"`
	DeviceID string `json:"device_id"`
	Cursor   string `json:"cursor"`
}

// Connected is the server's handshake reply
type Connected struct {
	Type        string `json:"type"`
	DeviceCount int    `json:"device_count"`
}

// CatchupBegin announces the catch-up stream and its estimated size
type CatchupBegin struct {
	Type           string `json:"type"`
	EstimatedCount int    `json:"estimated_count"`
}

// OperationMsg carries one operation. Server-sent operations include the
// acceptance id; device-sent ones do not have it yet.
type OperationMsg struct {
	Type      string           `json:"type"`
	Operation models.Operation `json:"operation"`
}

// CatchupEnd carries the cursor the device should persist
type CatchupEnd struct {
	Type   string `json:"type"`
	Cursor string `json:"cursor"`
}

// Ack confirms one device-submitted operation. Sent for fresh accepts and
// for duplicate re-submissions alike; the device clears its outbox entry
// either way.
type Ack struct {
	Type        string `json:"type"`
	ContentHash string `json:"content_hash"`
	OpID        string `json:"op_id"`
}

// ResyncRequired orders a full resync
type ResyncRequired struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// ErrorMsg reports a rejected frame
type ErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// PeekType reads just the type discriminator of an incoming frame
func PeekType(data []byte) (string, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", fmt.Errorf("unparseable frame: %w", err)
	}
	if head.Type == "" {
		return "", fmt.Errorf("frame missing type")
	}
	return head.Type, nil
}

// EncodeOperation wraps one operation in its frame
func EncodeOperation(op *models.Operation) ([]byte, error) {
	return json.Marshal(OperationMsg{Type: MsgOperation, Operation: *op})
}

// MustEncode marshals a frame that cannot fail
func MustEncode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
