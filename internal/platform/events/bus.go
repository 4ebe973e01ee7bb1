// Package events carries domain events between components over watermill.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Topic is the single topic all domain events are published on.
const Topic = "odyssey.domain"

const (
	typeMetadataKey      = "event_type"
	aggregateMetadataKey = "aggregate_id"
)

// Event is the envelope delivered to handlers.
type Event struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	AggregateID string          `json:"aggregateId"`
	OccurredAt  time.Time       `json:"occurredAt"`
	Payload     json.RawMessage `json:"payload"`
}

// Handler processes one event. Handler errors are logged; delivery is at most once.
type Handler func(ctx context.Context, event Event) error

// Bus publishes and dispatches events through a watermill publisher/subscriber pair.
type Bus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     *slog.Logger
	clock      func() time.Time

	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewGoChannelBus builds an in-process bus. buffer sizes the subscriber output channel.
func NewGoChannelBus(logger *slog.Logger, buffer int64) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            buffer,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		watermill.NewSlogLogger(logger),
	)
	return NewBus(pubSub, pubSub, logger)
}

// NewBus wraps an arbitrary watermill publisher and subscriber.
func NewBus(pub message.Publisher, sub message.Subscriber, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		publisher:  pub,
		subscriber: sub,
		logger:     logger,
		clock:      func() time.Time { return time.Now().UTC() },
		handlers:   make(map[string][]Handler),
	}
}

// Publish encodes payload and emits it under eventType.
func (b *Bus) Publish(ctx context.Context, eventType, aggregateID string, payload any) error {
	if b == nil {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("events: encode %s: %w", eventType, err)
	}
	event := Event{
		ID:          watermill.NewULID(),
		Type:        eventType,
		AggregateID: aggregateID,
		OccurredAt:  b.clock(),
		Payload:     body,
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: encode envelope: %w", err)
	}

	msg := message.NewMessage(event.ID, raw)
	msg.Metadata.Set(typeMetadataKey, eventType)
	msg.Metadata.Set(aggregateMetadataKey, aggregateID)
	msg.SetContext(ctx)
	return b.publisher.Publish(Topic, msg)
}

// Handle registers handler for eventType. Use "*" to receive every event.
func (b *Bus) Handle(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Start subscribes to the topic and dispatches in the background until ctx is
// cancelled or the subscriber closes. Events published before Start are not seen.
func (b *Bus) Start(ctx context.Context) error {
	messages, err := b.subscriber.Subscribe(ctx, Topic)
	if err != nil {
		return fmt.Errorf("events: subscribe: %w", err)
	}

	go func() {
		for msg := range messages {
			b.dispatch(ctx, msg)
		}
	}()
	return nil
}

func (b *Bus) dispatch(ctx context.Context, msg *message.Message) {
	var event Event
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		b.logger.Warn("events: drop undecodable message", slog.String("message_id", msg.UUID), slog.Any("error", err))
		msg.Ack()
		return
	}

	b.mu.RLock()
	handlers := append(append([]Handler(nil), b.handlers[event.Type]...), b.handlers["*"]...)
	b.mu.RUnlock()

	var errs []error
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		b.logger.Error("events: handler failed", slog.String("event_type", event.Type), slog.String("aggregate_id", event.AggregateID), slog.Any("error", err))
	}
	msg.Ack()
}

// Close releases the publisher and subscriber.
func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	if err := b.publisher.Close(); err != nil {
		return err
	}
	if same, ok := b.publisher.(message.Subscriber); ok && same == b.subscriber {
		return nil
	}
	return b.subscriber.Close()
}
