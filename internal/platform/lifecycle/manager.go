package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Manager owns the start/stop lifecycle of every registered Service. It
// starts services in registration order and stops them in reverse order; if
// a Start call fails, already-started services are unwound before the error
// is returned.
type Manager struct {
	mu        sync.Mutex
	services  []Service
	started   bool
	startOnce sync.Once
	stopOnce  sync.Once
	descr     []DescriptorProvider
}

// NewManager creates an empty lifecycle manager.
func NewManager() *Manager {
	return &Manager{services: make([]Service, 0)}
}

// Register appends svc to the lifecycle queue. Registering after Start
// returns an error.
func (m *Manager) Register(svc Service) error {
	if svc == nil {
		return fmt.Errorf("lifecycle: cannot register a nil service")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("lifecycle: service %q registered after manager start", svc.Name())
	}

	m.services = append(m.services, svc)
	if d, ok := svc.(DescriptorProvider); ok {
		m.descr = append(m.descr, d)
	}
	return nil
}

// Start starts every registered service in order. On failure, it stops the
// services that had already started, in reverse order, before returning.
func (m *Manager) Start(ctx context.Context) error {
	var startErr error
	m.startOnce.Do(func() {
		m.mu.Lock()
		m.started = true
		services := append([]Service(nil), m.services...)
		m.mu.Unlock()

		for idx, svc := range services {
			if err := svc.Start(ctx); err != nil {
				startErr = fmt.Errorf("lifecycle: start %s: %w", svc.Name(), err)
				for i := idx - 1; i >= 0; i-- {
					_ = services[i].Stop(ctx)
				}
				break
			}
		}
	})
	return startErr
}

// Stop stops every registered service in reverse order. Idempotent; returns
// the first error encountered, if any.
func (m *Manager) Stop(ctx context.Context) error {
	var stopErr error
	m.stopOnce.Do(func() {
		m.mu.Lock()
		services := append([]Service(nil), m.services...)
		m.mu.Unlock()

		for i := len(services) - 1; i >= 0; i-- {
			if err := services[i].Stop(ctx); err != nil && stopErr == nil {
				stopErr = fmt.Errorf("lifecycle: stop %s: %w", services[i].Name(), err)
			}
		}
	})
	return stopErr
}

// Descriptors returns a deterministically sorted snapshot of registered
// service descriptors, for a system-status surface.
func (m *Manager) Descriptors() []Descriptor {
	m.mu.Lock()
	providers := append([]DescriptorProvider(nil), m.descr...)
	m.mu.Unlock()

	out := make([]Descriptor, 0, len(providers))
	for _, p := range providers {
		out = append(out, p.Descriptor())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
