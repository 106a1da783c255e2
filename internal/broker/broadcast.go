package broker

import (
	"context"
	"encoding/json"
	"time"

	"auction-service/internal/models"
	"auction-service/internal/util"
	"auction-service/internal/ws"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Broadcaster delivers state-change events to every connected viewer of
// this instance and, when the shared topic is configured, publishes the
// same serialized payload for other instances to re-broadcast. The
// producer may be nil: the broadcaster then degrades to single-process
// delivery, which is never an error.
type Broadcaster struct {
	hub        *ws.Hub
	producer   *Producer
	instanceID string
	logger     *zap.Logger
}

// NewBroadcaster creates a broadcaster; producer may be nil
func NewBroadcaster(hub *ws.Hub, producer *Producer, instanceID string) *Broadcaster {
	if instanceID == "" {
		instanceID = uuid.New().String()
	}
	return &Broadcaster{
		hub:        hub,
		producer:   producer,
		instanceID: instanceID,
		logger:     util.GetLogger(),
	}
}

// InstanceID returns the origin tag stamped on outgoing events
func (b *Broadcaster) InstanceID() string {
	return b.instanceID
}

// Emit fans an event out to all local sessions and to the shared topic.
// All failures are best-effort: the state change that produced the event
// has already committed.
func (b *Broadcaster) Emit(ctx context.Context, eventType, auctionID string, payload interface{}) {
	event := b.envelope(eventType, auctionID, "", payload)
	raw, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("Failed to marshal broadcast event", zap.String("type", eventType), zap.Error(err))
		return
	}

	b.hub.Broadcast(raw)
	b.publish(ctx, auctionID, raw)
}

// Notify delivers an addressed notify event to one user's sessions on
// every instance
func (b *Broadcaster) Notify(ctx context.Context, userID, innerType string, payload interface{}) {
	event := b.envelope(models.EventNotify, "", userID, map[string]interface{}{
		"type":    innerType,
		"payload": payload,
	})
	raw, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("Failed to marshal notify event", zap.String("type", innerType), zap.Error(err))
		return
	}

	b.hub.SendToUser(userID, raw)
	b.publish(ctx, userID, raw)
}

func (b *Broadcaster) envelope(eventType, auctionID, userID string, payload interface{}) models.BroadcastEvent {
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	return models.BroadcastEvent{
		EventID:   uuid.New().String(),
		Type:      eventType,
		AuctionID: auctionID,
		UserID:    userID,
		Payload:   raw,
		Origin:    b.instanceID,
		At:        time.Now().UTC(),
	}
}

func (b *Broadcaster) publish(ctx context.Context, key string, raw []byte) {
	if b.producer == nil {
		return
	}
	if err := b.producer.Publish(ctx, key, raw); err != nil {
		util.BroadcastPublishFailures.Inc()
		b.logger.Warn("Failed to publish broadcast event to shared topic", zap.Error(err))
	}
}

// HandleRelayMessage re-broadcasts locally any event another instance
// published to the shared topic. Own-origin events are skipped; the hub
// already delivered them.
func (b *Broadcaster) HandleRelayMessage(ctx context.Context, raw []byte) error {
	var event models.BroadcastEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		b.logger.Warn("Dropping malformed event from shared topic", zap.Error(err))
		return nil
	}

	if event.Origin == b.instanceID {
		return nil
	}

	if event.Type == models.EventNotify && event.UserID != "" {
		b.hub.SendToUser(event.UserID, raw)
		return nil
	}

	b.hub.Broadcast(raw)
	return nil
}
