package cache

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/phuslu/log"

	"trade-insight/realtime"
)

// EventsChannel is the Redis channel shared by every server instance
const EventsChannel = "trade-insight:events"

// EventRelay mirrors progress events between server instances over Redis
// pub/sub, so a client connected to one instance sees runs started on another.
type EventRelay struct {
	redis   *RedisClient
	channel string
	origin  string
}

type relayedEvent struct {
	Origin string         `json:"origin"`
	Event  realtime.Event `json:"event"`
}

func NewEventRelay(redis *RedisClient, channel string) *EventRelay {
	if channel == "" {
		channel = EventsChannel
	}
	return &EventRelay{redis: redis, channel: channel, origin: uuid.NewString()}
}

// Forward publishes a local event for the other instances
func (e *EventRelay) Forward(ctx context.Context, ev realtime.Event) error {
	return e.redis.Publish(ctx, e.channel, relayedEvent{Origin: e.origin, Event: ev})
}

// Run delivers events published by other instances until ctx is done
func (e *EventRelay) Run(ctx context.Context, deliver func(realtime.Event)) error {
	sub := e.redis.Subscribe(ctx, e.channel)
	if sub == nil {
		return ErrNotInitialized
	}
	defer sub.Close()

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			e.handle([]byte(msg.Payload), deliver)
		}
	}
}

// handle decodes one channel message and drops this instance's own events
func (e *EventRelay) handle(payload []byte, deliver func(realtime.Event)) bool {
	var re relayedEvent
	if err := json.Unmarshal(payload, &re); err != nil {
		log.Debug().Err(err).Str("channel", e.channel).Msg("Ignoring malformed relayed event")
		return false
	}
	if re.Origin == e.origin || re.Event.Type == "" {
		return false
	}
	deliver(re.Event)
	return true
}
