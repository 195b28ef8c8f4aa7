// Package lifecycle provides the Service interface and Manager that every
// long-running NetbootStudioV2 component (bus, client store expiry ticker,
// DHCP sniffer, TFTP server, task workers, dispatcher) is started and
// stopped through.
package lifecycle

import "context"

// Service represents a lifecycle-managed component. Every long-running
// component in the core implements this so the Manager can start and stop
// all of them deterministically.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Descriptor optionally describes a service's role for introspection
// endpoints (system status).
type Descriptor struct {
	Name         string
	Component    string
	Capabilities []string
}

// DescriptorProvider is implemented by services that want to advertise a
// Descriptor.
type DescriptorProvider interface {
	Descriptor() Descriptor
}
