package datasource

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/bishopdynamics/NetbootStudioV2/internal/platform/pubsub"
)

// ChangeHandler is invoked whenever a Consumer observes a new or current
// value; raw is the data source's JSON-encoded value.
type ChangeHandler func(raw json.RawMessage)

// Consumer mirrors a single data source's last seen value locally. It
// never polls (§4.3): the bus delivers both new_value and current_value
// messages, and Consumer just updates its cache and calls the optional
// change handler.
type Consumer struct {
	name string
	bus  Bus

	mu      sync.RWMutex
	last    json.RawMessage
	haveAny bool
	onChange ChangeHandler
}

// NewConsumer subscribes to name's topic immediately; onChange may be nil.
func NewConsumer(name string, bus Bus, onChange ChangeHandler) (*Consumer, error) {
	c := &Consumer{name: name, bus: bus, onChange: onChange}
	if err := bus.Subscribe(pubsub.DataSourceTopic(name), c.handle); err != nil {
		return nil, err
	}
	return c, nil
}

// Value returns the last mirrored value and whether one has been seen yet.
func (c *Consumer) Value() (json.RawMessage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last, c.haveAny
}

// Request asks the provider to (re-)publish its current value; the result
// arrives asynchronously through the normal subscription, same as
// new_value traffic (§4.3 "Consumers may request the current value at any
// time via request").
func (c *Consumer) Request(ctx context.Context) error {
	return c.bus.Publish(ctx, pubsub.DataSourceTopic(c.name), wireMessage{Kind: kindRequest})
}

func (c *Consumer) handle(ctx context.Context, env pubsub.Envelope) {
	var msg wireMessage
	if err := json.Unmarshal(env.Content, &msg); err != nil {
		return
	}
	if msg.Kind != kindNewValue && msg.Kind != kindCurrentValue {
		return
	}

	c.mu.Lock()
	c.last = msg.Value
	c.haveAny = true
	c.mu.Unlock()

	if c.onChange != nil {
		c.onChange(msg.Value)
	}
}
