package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/linkvault/syncd/common/logger"
	"github.com/linkvault/syncd/common/models"
	"github.com/linkvault/syncd/common/protocol"
	redisclient "github.com/linkvault/syncd/common/redis"
	"github.com/redis/go-redis/v9"
)

// Channel format: sync:events:{account_id}
const eventChannelPrefix = "sync:events:"

// wireEvent is the cross-node fan-out payload
type wireEvent struct {
	OriginDevice string           `json:"origin_device"`
	Operation    models.Operation `json:"operation"`
}

// Propagator publishes accepted operations to the account's event
// channel so every node fans them out to its own connections
type Propagator struct {
	redis *redisclient.Client
}

// NewPropagator creates a new Propagator instance
func NewPropagator(redisClient *redisclient.Client) *Propagator {
	return &Propagator{redis: redisClient}
}

// PublishOperation implements service.Publisher
func (p *Propagator) PublishOperation(ctx context.Context, accountID, originDevice string, op *models.Operation) error {
	payload, err := json.Marshal(wireEvent{OriginDevice: originDevice, Operation: *op})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.redis.PublishEvent(ctx, eventChannelPrefix+accountID, string(payload))
}

// Subscriber listens to Redis PubSub and forwards accepted operations
// to the hub
type Subscriber struct {
	redis *redis.Client
	hub   *Hub
	log   *logger.Logger
}

// NewSubscriber creates a new Subscriber instance
func NewSubscriber(redisClient *redis.Client, hub *Hub, log *logger.Logger) *Subscriber {
	return &Subscriber{
		redis: redisClient,
		hub:   hub,
		log:   log,
	}
}

// Start begins listening to the account event channels. Blocks until the
// context is canceled.
func (s *Subscriber) Start(ctx context.Context) error {
	pubsub := s.redis.PSubscribe(ctx, eventChannelPrefix+"*")
	defer pubsub.Close()

	// Wait for confirmation that subscription was successful
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to event channels: %w", err)
	}

	s.log.Info("event subscriber started", "pattern", eventChannelPrefix+"*")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("event subscriber stopping")
			return nil

		case msg := <-ch:
			if msg == nil {
				continue
			}
			s.dispatch(msg.Channel, []byte(msg.Payload))
		}
	}
}

// dispatch parses one pubsub message and hands it to the hub
func (s *Subscriber) dispatch(channel string, payload []byte) {
	accountID := strings.TrimPrefix(channel, eventChannelPrefix)
	if accountID == "" || accountID == channel {
		s.log.Warn("invalid event channel", "channel", channel)
		return
	}

	var event wireEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		s.log.Warn("undecodable event payload", "channel", channel, "error", err)
		return
	}

	data, err := protocol.EncodeOperation(&event.Operation)
	if err != nil {
		s.log.Warn("event re-encode failed", "channel", channel, "error", err)
		return
	}

	s.hub.broadcast <- &Event{
		AccountID:    accountID,
		OriginDevice: event.OriginDevice,
		Data:         data,
		OpID:         event.Operation.OpID,
	}
}
