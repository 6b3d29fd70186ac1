package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// topic is the single watermill topic all task events are published on.
const topic = "darkroom.tasks"

// Bus is an in-process Sink backed by a watermill gochannel pub/sub. Events
// published while nobody is subscribed are dropped.
type Bus struct {
	pubsub *gochannel.GoChannel
	log    *zap.Logger
}

// NewBus creates a Bus. A nil logger disables logging.
func NewBus(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	pubsub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            64,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		watermill.NopLogger{},
	)
	return &Bus{pubsub: pubsub, log: log}
}

// Emit publishes evt to every current subscriber.
func (b *Bus) Emit(ctx context.Context, evt Event) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		b.log.Error("events: marshal", zap.String("kind", string(evt.Kind)), zap.Error(err))
		return
	}

	msg := message.NewMessage(evt.ID, payload)
	msg.Metadata.Set("kind", string(evt.Kind))
	msg.Metadata.Set("task_id", evt.TaskID)
	msg.SetContext(ctx)

	if err := b.pubsub.Publish(topic, msg); err != nil {
		b.log.Warn("events: publish", zap.String("kind", string(evt.Kind)),
			zap.String("task_id", evt.TaskID), zap.Error(err))
	}
}

// Subscribe returns a channel that receives every event published after the
// call. The channel is closed when ctx is cancelled or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, error) {
	msgs, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("events: subscribe: %w", err)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		for msg := range msgs {
			var evt Event
			if err := json.Unmarshal(msg.Payload, &evt); err != nil {
				b.log.Warn("events: decode", zap.String("uuid", msg.UUID), zap.Error(err))
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() error {
	if err := b.pubsub.Close(); err != nil {
		return fmt.Errorf("events: close: %w", err)
	}
	return nil
}
