package sync

import (
	"context"
	"sync"

	"github.com/linkvault/syncd/common/logger"
)

// Hub maintains active sync connections and fans accepted operations out
// to the other devices of the same account
type Hub struct {
	// Map: account id → []*Client
	connections map[string][]*Client
	mutex       sync.RWMutex

	// Channel for registering clients
	register chan *Client

	// Channel for unregistering clients
	unregister chan *Client

	// Channel for fanning out accepted operations
	broadcast chan *Event

	log *logger.Logger
}

// Event is one accepted operation ready for fan-out
type Event struct {
	AccountID    string
	OriginDevice string

	// Pre-encoded operation frame
	Data []byte

	// Acceptance id, used to advance device cursors on delivery
	OpID string
}

// NewHub creates a new Hub instance
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		connections: make(map[string][]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Event, 256),
		log:         log,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("hub started")

	for {
		select {
		case <-ctx.Done():
			h.log.Info("hub stopping")
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case event := <-h.broadcast:
			h.broadcastToAccount(event)
		}
	}
}

// registerClient adds a client to the hub
func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.connections[client.accountID] = append(h.connections[client.accountID], client)
	h.log.Info("client registered",
		"account_id", client.accountID,
		"device_id", client.deviceID,
		"devices_for_account", len(h.connections[client.accountID]),
	)
}

// unregisterClient removes a client from the hub
func (h *Hub) unregisterClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	clients := h.connections[client.accountID]
	for i, c := range clients {
		if c == client {
			h.connections[client.accountID] = append(clients[:i], clients[i+1:]...)
			close(client.send)

			if len(h.connections[client.accountID]) == 0 {
				delete(h.connections, client.accountID)
			}

			h.log.Info("client unregistered",
				"account_id", client.accountID,
				"device_id", client.deviceID,
				"devices_for_account", len(h.connections[client.accountID]),
			)
			break
		}
	}
}

// broadcastToAccount sends an operation to every live device of the
// account except the one that submitted it.
//
// A device whose send buffer is full is flipped to lagging: it gets one
// resync notice and no further operations on this connection. Its cursor
// stays put, so a reconnect resumes exactly where delivery stopped.
func (h *Hub) broadcastToAccount(event *Event) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := h.connections[event.AccountID]
	if len(clients) == 0 {
		return
	}

	for _, client := range clients {
		if client.deviceID == event.OriginDevice {
			continue
		}
		if !client.live.Load() || client.lagging.Load() {
			continue
		}

		select {
		case client.send <- outbound{data: event.Data, opID: event.OpID}:
		default:
			h.log.Warn("client send buffer full, flipping to lagging",
				"account_id", client.accountID, "device_id", client.deviceID)
			client.markLagging()
		}
	}
}

// DeviceCount returns the number of connections for one account
func (h *Hub) DeviceCount(accountID string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return len(h.connections[accountID])
}

// ConnectionCount returns the total number of active connections
func (h *Hub) ConnectionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	count := 0
	for _, clients := range h.connections {
		count += len(clients)
	}
	return count
}
