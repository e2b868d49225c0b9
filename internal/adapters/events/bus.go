// Package events fans session events out to every surface watching an owner's sessions.
package events

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/PabloGalante/chatlog/internal/domain"
	"github.com/PabloGalante/chatlog/internal/observability"
)

const topicPrefix = "chatlog.sessions."

// Bus publishes domain.SessionEvent values on one watermill topic per owner.
type Bus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     watermill.LoggerAdapter
}

var _ domain.EventPublisher = &Bus{}

func topicForOwner(owner domain.UserID) string {
	return topicPrefix + string(owner)
}

func defaultLogger() watermill.LoggerAdapter {
	return observability.NewWatermillLogger(observability.WithFields("subsystem", "events"))
}

// NewMemoryBus keeps events inside the process (gochannel). Late subscribers miss earlier events.
// Publish returns once every subscriber has taken the event, so one publisher's events arrive
// in publish order.
func NewMemoryBus() *Bus {
	logger := defaultLogger()
	ps := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            64,
		BlockPublishUntilSubscriberAck: true,
	}, logger)
	return &Bus{publisher: ps, subscriber: ps, logger: logger}
}

// NewRedisBus shares events between API replicas through Redis Streams. The subscriber
// has no consumer group, so every replica sees every event.
func NewRedisBus(client *redis.Client) (*Bus, error) {
	logger := defaultLogger()
	marshaler := rstream.DefaultMarshallerUnmarshaller{}

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "redis event bus: publisher")
	}

	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:       client,
		Unmarshaller: marshaler,
	}, logger)
	if err != nil {
		_ = pub.Close()
		return nil, errors.Wrap(err, "redis event bus: subscriber")
	}
	return &Bus{publisher: pub, subscriber: sub, logger: logger}, nil
}

func (b *Bus) PublishSessionEvent(ctx context.Context, ev domain.SessionEvent) error {
	if ev.OwnerID == "" {
		return errors.New("session event without owner")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "encode session event")
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("event_type", string(ev.Type))
	msg.Metadata.Set("session_id", string(ev.SessionID))
	msg.SetContext(ctx)

	if err := b.publisher.Publish(topicForOwner(ev.OwnerID), msg); err != nil {
		return errors.Wrap(err, "publish session event")
	}
	return nil
}

// Subscribe streams owner's events until ctx is done. The channel is closed afterwards.
func (b *Bus) Subscribe(ctx context.Context, owner domain.UserID) (<-chan domain.SessionEvent, error) {
	if strings.TrimSpace(string(owner)) == "" {
		return nil, domain.E(domain.KindUnauthorized, "events.subscribe", "owner is required")
	}
	msgs, err := b.subscriber.Subscribe(ctx, topicForOwner(owner))
	if err != nil {
		return nil, errors.Wrap(err, "subscribe session events")
	}

	out := make(chan domain.SessionEvent, 16)
	go func() {
		defer close(out)
		for msg := range msgs {
			var ev domain.SessionEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				b.logger.Error("failed to decode session event", err, watermill.LogFields{"message_uuid": msg.UUID})
				msg.Ack()
				continue
			}
			select {
			case out <- ev:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out, nil
}

func (b *Bus) Close() error {
	var firstErr error
	if err := b.publisher.Close(); err != nil {
		firstErr = err
	}
	if b.subscriber != nil && any(b.subscriber) != any(b.publisher) {
		if err := b.subscriber.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
