package datasource

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bishopdynamics/NetbootStudioV2/internal/platform/pubsub"
)

// fakeBus is an in-process Bus: Publish invokes every Subscribe'd handler
// for the topic synchronously, standing in for the real websocket broker
// in unit tests.
type fakeBus struct {
	mu       sync.Mutex
	handlers map[string][]pubsub.Handler
	sent     []pubsub.Envelope
}

func newFakeBus() *fakeBus { return &fakeBus{handlers: make(map[string][]pubsub.Handler)} }

func (b *fakeBus) Publish(ctx context.Context, topic string, content interface{}) error {
	raw, err := json.Marshal(content)
	if err != nil {
		return err
	}
	env := pubsub.Envelope{Topic: topic, Content: raw}

	b.mu.Lock()
	b.sent = append(b.sent, env)
	handlers := append([]pubsub.Handler(nil), b.handlers[topic]...)
	b.mu.Unlock()

	for _, h := range handlers {
		h(ctx, env)
	}
	return nil
}

func (b *fakeBus) Subscribe(topic string, handler pubsub.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
	return nil
}

func (b *fakeBus) publishCount(topic string, kind messageKind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, env := range b.sent {
		if env.Topic != topic {
			continue
		}
		var msg wireMessage
		if err := json.Unmarshal(env.Content, &msg); err == nil && msg.Kind == kind {
			n++
		}
	}
	return n
}

func TestProviderDeduplicatesIdenticalSamples(t *testing.T) {
	bus := newFakeBus()
	sample := []int{1, 2, 3}

	p := NewProvider("tasks", time.Hour, func(ctx context.Context) (interface{}, error) {
		return sample, nil
	}, bus, nil)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop(context.Background())

	p.tick(context.Background())
	p.tick(context.Background())

	require.Equal(t, 1, bus.publishCount(pubsub.DataSourceTopic("tasks"), kindNewValue))
}

func TestProviderPublishesOnChange(t *testing.T) {
	bus := newFakeBus()
	value := 1

	p := NewProvider("clients", time.Hour, func(ctx context.Context) (interface{}, error) {
		return value, nil
	}, bus, nil)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop(context.Background())

	p.tick(context.Background())
	value = 2
	p.tick(context.Background())

	require.Equal(t, 2, bus.publishCount(pubsub.DataSourceTopic("clients"), kindNewValue))
}

func TestConsumerMirrorsProviderAndReceivesOnRequest(t *testing.T) {
	bus := newFakeBus()
	value := map[string]int{"count": 7}

	p := NewProvider("stage4", time.Hour, func(ctx context.Context) (interface{}, error) {
		return value, nil
	}, bus, nil)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop(context.Background())

	var seen []json.RawMessage
	consumer, err := NewConsumer("stage4", bus, func(raw json.RawMessage) {
		seen = append(seen, raw)
	})
	require.NoError(t, err)

	require.NoError(t, consumer.Request(context.Background()))

	require.Len(t, seen, 1)
	last, ok := consumer.Value()
	require.True(t, ok)
	require.JSONEq(t, `{"count":7}`, string(last))
}
