package messaging

import (
	"context"
	"time"
)

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

// Publisher defines the interface for publishing messages
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload interface{}) error
}

// Message is the envelope every published event travels in.
type Message struct {
	Type       string      `json:"type"`
	Payload    interface{} `json:"payload"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// BrokerPublisher publishes typed messages onto a single broker channel.
type BrokerPublisher struct {
	broker  Broker
	channel string
	now     func() time.Time
}

func NewBrokerPublisher(broker Broker, channel string) *BrokerPublisher {
	return &BrokerPublisher{broker: broker, channel: channel, now: time.Now}
}

func (p *BrokerPublisher) Publish(ctx context.Context, eventType string, payload interface{}) error {
	return p.broker.Publish(ctx, p.channel, Message{
		Type:       eventType,
		Payload:    payload,
		OccurredAt: p.now().UTC(),
	})
}

// NopPublisher drops every message.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, interface{}) error { return nil }
