package datasource

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/bishopdynamics/NetbootStudioV2/internal/platform/lifecycle"
	"github.com/bishopdynamics/NetbootStudioV2/internal/platform/pubsub"
	"github.com/bishopdynamics/NetbootStudioV2/pkg/logger"
)

// SampleFunc is a parameterless sampling function (§4.3): a provider calls
// it once per tick and JSON-encodes the result.
type SampleFunc func(ctx context.Context) (interface{}, error)

// Provider is the publishing half of a data source: on each tick it
// samples, compares the encoding to the last published one, and publishes
// a new_value message only when it differs (Testable Property 4). It also
// answers `request` messages with the last sampled value, without waiting
// for the next tick.
type Provider struct {
	name     string
	interval time.Duration
	sample   SampleFunc
	bus      Bus
	log      *logger.Logger

	mu       sync.Mutex
	lastEnc  []byte
	lastOK   bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  bool
}

var _ lifecycle.Service = (*Provider)(nil)

// NewProvider constructs a Provider for name, sampled every interval.
// Registering a second Provider for the same name is caller error (§4.3
// "at most one provider per data-source name; unchecked multi-provider
// behavior is undefined") — this package does not detect it.
func NewProvider(name string, interval time.Duration, sample SampleFunc, bus Bus, log *logger.Logger) *Provider {
	if log == nil {
		log = logger.NewDefault("datasource-" + name)
	}
	return &Provider{name: name, interval: interval, sample: sample, bus: bus, log: log}
}

func (p *Provider) Name() string { return "datasource-provider-" + p.name }

func (p *Provider) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.mu.Unlock()

	if err := p.bus.Subscribe(pubsub.DataSourceTopic(p.name), p.handleMessage); err != nil {
		return err
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				p.tick(runCtx)
			}
		}
	}()

	return nil
}

func (p *Provider) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.wg.Wait()
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Provider) tick(ctx context.Context) {
	value, err := p.sample(ctx)
	if err != nil {
		p.log.WithField("error", err).WithField("source", p.name).Warn("datasource sample failed")
		return
	}
	p.publishIfChanged(ctx, value, kindNewValue)
}

// publishIfChanged encodes value and compares it to the last published
// encoding; it publishes and records the new encoding only on a difference
// (Testable Property 4: two identical successive samples publish exactly
// once).
func (p *Provider) publishIfChanged(ctx context.Context, value interface{}, kind messageKind) {
	encoded, err := json.Marshal(value)
	if err != nil {
		p.log.WithField("error", err).WithField("source", p.name).Warn("datasource encode failed")
		return
	}

	p.mu.Lock()
	changed := !p.lastOK || !sameEncoding(p.lastEnc, encoded)
	if changed {
		p.lastEnc = encoded
		p.lastOK = true
	}
	p.mu.Unlock()

	if !changed && kind == kindNewValue {
		return
	}

	msg := wireMessage{Kind: kind, Value: encoded}
	if err := p.bus.Publish(ctx, pubsub.DataSourceTopic(p.name), msg); err != nil {
		p.log.WithField("error", err).WithField("source", p.name).Warn("datasource publish failed")
	}
}

// handleMessage answers `request` messages with the last sampled value
// (§4.3 "Responds to request messages with a current_value"). If no
// sample has completed yet, it forces one.
func (p *Provider) handleMessage(ctx context.Context, env pubsub.Envelope) {
	var msg wireMessage
	if err := json.Unmarshal(env.Content, &msg); err != nil || msg.Kind != kindRequest {
		return
	}

	p.mu.Lock()
	enc, ok := p.lastEnc, p.lastOK
	p.mu.Unlock()

	if !ok {
		value, err := p.sample(ctx)
		if err != nil {
			p.log.WithField("error", err).WithField("source", p.name).Warn("datasource on-demand sample failed")
			return
		}
		p.publishIfChanged(ctx, value, kindCurrentValue)
		return
	}

	out := wireMessage{Kind: kindCurrentValue, Value: enc}
	if err := p.bus.Publish(ctx, pubsub.DataSourceTopic(p.name), out); err != nil {
		p.log.WithField("error", err).WithField("source", p.name).Warn("datasource respond failed")
	}
}
