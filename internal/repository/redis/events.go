package redis

import (
	"context"

	"go.uber.org/zap"
)

// Placement event types.
const (
	EventPlacementDecided = "placement.decided"
	EventPlacementFailed  = "placement.failed"
)

// pubSub is the subset of Cache used to emit and follow events.
type pubSub interface {
	Publish(ctx context.Context, channel string, event Event) error
	Subscribe(ctx context.Context, channels ...string) <-chan Event
}

// PlacementEvents publishes placement decisions on a Redis channel.
type PlacementEvents struct {
	pub     pubSub
	channel string
	logger  *zap.Logger
}

// NewPlacementEvents creates a publisher for the given channel.
func NewPlacementEvents(pub pubSub, channel string, logger *zap.Logger) *PlacementEvents {
	return &PlacementEvents{
		pub:     pub,
		channel: channel,
		logger:  logger.With(zap.String("component", "placement-events")),
	}
}

// PublishPlacement emits one decision. ok selects the event type; payload is
// the response sent to the caller.
func (p *PlacementEvents) PublishPlacement(ctx context.Context, requestID string, ok bool, payload interface{}) error {
	eventType := EventPlacementDecided
	if !ok {
		eventType = EventPlacementFailed
	}

	err := p.pub.Publish(ctx, p.channel, Event{
		Type:       eventType,
		ResourceID: requestID,
		Data:       payload,
	})
	if err != nil {
		p.logger.Warn("Failed to publish placement event",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// Watch streams the decisions published on the channel, from any replica,
// until ctx is done.
func (p *PlacementEvents) Watch(ctx context.Context) <-chan Event {
	p.logger.Debug("Watching placement events", zap.String("channel", p.channel))
	return p.pub.Subscribe(ctx, p.channel)
}
