package dispatcher

import (
	"context"
	"encoding/json"

	"github.com/bishopdynamics/NetbootStudioV2/internal/platform/lifecycle"
	"github.com/bishopdynamics/NetbootStudioV2/internal/platform/pubsub"
	"github.com/bishopdynamics/NetbootStudioV2/pkg/logger"
)

// BusClient is the subset of *pubsub.Client the broker origin needs.
type BusClient interface {
	Subscribe(topic string, handler pubsub.Handler) error
	Publish(ctx context.Context, topic string, content interface{}) error
}

// Broker is the "broker" origin of §4.7: it subscribes to api_request,
// dispatches each envelope's content, and republishes the decorated
// response on api_response. Grounded on NSMessageProcessor.handle's
// broker branch, which wraps the response in a fresh NSMessage on the
// same reply topic rather than returning an HTTP response body.
type Broker struct {
	dispatcher *Dispatcher
	bus        BusClient
	log        *logger.Logger
}

var _ lifecycle.Service = (*Broker)(nil)

// NewBroker binds a Dispatcher to a bus client for the broker origin.
func NewBroker(d *Dispatcher, bus BusClient, log *logger.Logger) *Broker {
	if log == nil {
		log = logger.NewDefault("dispatcher-broker")
	}
	return &Broker{dispatcher: d, bus: bus, log: log}
}

func (b *Broker) Name() string { return "dispatcher-broker" }

func (b *Broker) Start(ctx context.Context) error {
	return b.bus.Subscribe(pubsub.TopicAPIRequest, b.handleEnvelope)
}

func (b *Broker) Stop(ctx context.Context) error {
	return nil
}

func (b *Broker) handleEnvelope(ctx context.Context, env pubsub.Envelope) {
	var req Request
	if err := json.Unmarshal(env.Content, &req); err != nil {
		b.log.WithField("error", err).Warn("dispatcher-broker: malformed request envelope")
		return
	}

	resp := b.dispatcher.DispatchFrom(ctx, req, OriginBroker)

	if err := b.bus.Publish(ctx, pubsub.TopicAPIResponse, resp); err != nil {
		b.log.WithField("error", err).Warn("dispatcher-broker: publish response failed")
	}
}
