package messaging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBroker struct {
	channel string
	message interface{}
}

func (b *recordingBroker) Publish(_ context.Context, channel string, message interface{}) error {
	b.channel, b.message = channel, message
	return nil
}

func (b *recordingBroker) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (b *recordingBroker) Close() error { return nil }

func TestBrokerPublisherWrapsPayload(t *testing.T) {
	broker := &recordingBroker{}
	pub := NewBrokerPublisher(broker, "outreach.events")

	require.NoError(t, pub.Publish(context.Background(), "enrollment.cancelled", map[string]string{"reason": "bounced"}))

	assert.Equal(t, "outreach.events", broker.channel)
	msg, ok := broker.message.(Message)
	require.True(t, ok)
	assert.Equal(t, "enrollment.cancelled", msg.Type)
	assert.False(t, msg.OccurredAt.IsZero())
}
