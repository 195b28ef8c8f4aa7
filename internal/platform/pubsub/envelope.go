// Package pubsub implements the Pub/Sub Bus (C1, §4.1, §6.3): a thin client
// over a TLS-secured, username/password authenticated topic broker. The
// wire transport is a websocket (the reference project declares
// gorilla/websocket but never uses it; this is where it earns its keep),
// but the envelope shape, self-echo suppression, and at-most-once delivery
// contract follow the reference project's pg-notify event bus
// (handlers-map-plus-mutex, background receive loop, reconnect-on-drop).
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Well-known topics (§4.1).
const (
	TopicAPIRequest    = "api_request"
	TopicAPIResponse   = "api_response"
	TopicClientManager = "NetbootStudio/ClientManager"
	TopicTaskStatus    = "NetbootStudio/TaskStatus"
	dataSourceTopicFmt = "NetbootStudio/DataSources/%s"
)

// DataSourceTopic returns the topic name a named data source publishes and
// is requested on (§4.3).
func DataSourceTopic(name string) string {
	return fmt.Sprintf(dataSourceTopicFmt, name)
}

// Envelope is the message shape every topic carries (§4.1): UTF-8 JSON,
// immutable ID once set, sender used to suppress self-echo.
type Envelope struct {
	ID      string          `json:"id"`
	Sender  string          `json:"sender"`
	Origin  string          `json:"origin,omitempty"`
	Target  string          `json:"target,omitempty"`
	Topic   string          `json:"topic"`
	Content json.RawMessage `json:"content"`
}

// Handler receives envelopes delivered on a subscribed topic. Handlers run
// on the client's single receive goroutine; a handler that blocks delays
// delivery to every other subscriber on the same client, so handlers should
// hand work off (channel, goroutine) rather than do it inline.
type Handler func(ctx context.Context, env Envelope)

// newEnvelope builds an Envelope with the given topic/content, stamping a
// fresh ID and the client's sender tag.
func newEnvelope(sender, topic string, content interface{}) (Envelope, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:      uuid.NewString(),
		Sender:  sender,
		Topic:   topic,
		Content: raw,
	}, nil
}

// receiveDeadline bounds how long a client waits for the broker handshake
// to complete before giving up and retrying.
const receiveDeadline = 10 * time.Second
