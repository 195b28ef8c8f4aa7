package clientstore

import (
	"context"
	"sync"
	"time"

	"github.com/bishopdynamics/NetbootStudioV2/internal/metrics"
	"github.com/bishopdynamics/NetbootStudioV2/internal/platform/lifecycle"
	"github.com/bishopdynamics/NetbootStudioV2/internal/platform/pubsub"
	"github.com/bishopdynamics/NetbootStudioV2/pkg/logger"
)

// Updater publishes the "client store updated, reload" signal (§4.1's
// NetbootStudio/ClientManager topic; §4.2 "every mutation publishes an
// update signal on the client-manager topic").
type Updater interface {
	Publish(ctx context.Context, topic string, content interface{}) error
}

// updateSignal is the content body published on NetbootStudio/ClientManager.
type updateSignal struct {
	MAC    string `json:"mac"`
	Reason string `json:"reason"`
}

// ExpiryTicker drives Store.ListWithExpiryTick on a ≈1 Hz cadence (§4.2).
// Grounded on the teacher's `automation.Scheduler` (ticker loop implementing
// lifecycle.Service, started/stopped under a mutex-guarded cancel func).
type ExpiryTicker struct {
	store    Store
	bus      Updater
	log      *logger.Logger
	metrics  *metrics.Metrics
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

var _ lifecycle.Service = (*ExpiryTicker)(nil)
var _ lifecycle.DescriptorProvider = (*ExpiryTicker)(nil)

// NewExpiryTicker creates a lifecycle-managed expiry driver. bus may be nil
// in tests that don't care about the update signal.
func NewExpiryTicker(store Store, bus Updater, log *logger.Logger) *ExpiryTicker {
	if log == nil {
		log = logger.NewDefault("client-expiry-ticker")
	}
	return &ExpiryTicker{store: store, bus: bus, log: log, metrics: metrics.Global(), interval: time.Second}
}

func (t *ExpiryTicker) Name() string { return "client-expiry-ticker" }

func (t *ExpiryTicker) Descriptor() lifecycle.Descriptor {
	return lifecycle.Descriptor{Name: t.Name(), Component: "clientstore", Capabilities: []string{"expiry"}}
}

func (t *ExpiryTicker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.running = true
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				t.tick(runCtx)
			}
		}
	}()

	t.log.Info("client expiry ticker started")
	return nil
}

func (t *ExpiryTicker) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	cancel := t.cancel
	t.running = false
	t.cancel = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	t.log.Info("client expiry ticker stopped")
	return nil
}

func (t *ExpiryTicker) tick(ctx context.Context) {
	tickCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	mutated, err := t.store.ListWithExpiryTick(tickCtx, time.Now())
	if err != nil {
		t.log.WithField("error", err).Warn("client expiry tick failed")
		return
	}

	for _, c := range mutated {
		t.metrics.RecordClientExpired(string(c.State.StateExpirationAction))
		t.metrics.RecordClientStateTransition(string(c.State.State))
		if t.bus == nil {
			continue
		}
		if err := t.bus.Publish(tickCtx, pubsub.TopicClientManager, updateSignal{MAC: c.MAC, Reason: "expiry"}); err != nil {
			t.log.WithField("error", err).WithField("mac", c.MAC).Warn("publish client-manager update failed")
		}
	}
}
