package clientstore

import (
	"context"
	"time"
)

// Store is the Client Store's public operation set (§4.2). Postgres and
// in-memory implementations satisfy it; the expiry ticker and the
// dispatcher's client-mutator handlers depend only on this interface.
type Store interface {
	Exists(ctx context.Context, mac string) (bool, error)

	// Create seeds a new client from dhcpInfo using settingsSeed (a
	// Config already populated from global settings per §3.2), with
	// initial state "dhcp". Fails with ErrAlreadyExists if mac is present;
	// create is idempotent-fail so two racing discovers for the same MAC
	// collapse to a single record (§5).
	Create(ctx context.Context, mac string, arch Arch, dhcpInfo interface{}, settingsSeed Config) (Client, error)

	Get(ctx context.Context, mac string) (Client, error)
	List(ctx context.Context) ([]Client, error)

	SetConfig(ctx context.Context, mac string, cfg Config) error
	SetInfo(ctx context.Context, mac string, info Info) error
	SetIP(ctx context.Context, mac string, ip string) error
	SetHostname(ctx context.Context, mac string, hostname string) error
	SetArch(ctx context.Context, mac string, arch Arch) error
	Delete(ctx context.Context, mac string) error

	// SetState replaces the entire state blob using the per-state defaults
	// table unless overridden (§4.2).
	SetState(ctx context.Context, mac string, state State, overrides *StateOverrides) error

	// ListWithExpiryTick applies expiration actions to every client whose
	// state_expiration has passed, and returns the clients that were
	// mutated this tick (§4.2).
	ListWithExpiryTick(ctx context.Context, now time.Time) ([]Client, error)
}
