package clientstore

import (
	"context"
	"errors"
	"time"

	"github.com/bishopdynamics/NetbootStudioV2/pkg/logger"
)

// RetryingStore wraps a Store and retries operations that fail with an
// error other than one of this package's sentinel errors (not-found,
// already-exists, invalid-state): those are considered definitive rather
// than transient (§7). Persistent failures are logged and returned to the
// caller unchanged so the dispatcher can surface status=500 (§4.2).
type RetryingStore struct {
	inner Store
	log   *logger.Logger
	cfg   retryConfig
}

var _ Store = (*RetryingStore)(nil)

// NewRetryingStore wraps inner with the default bounded backoff policy.
func NewRetryingStore(inner Store, log *logger.Logger) *RetryingStore {
	return &RetryingStore{inner: inner, log: log, cfg: defaultRetryConfig()}
}

func isTransientStoreError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrInvalidState):
		return false
	default:
		return true
	}
}

func (r *RetryingStore) call(ctx context.Context, op string, fn func() error) error {
	err := withRetry(ctx, r.cfg, isTransientStoreError, fn)
	if err != nil && isTransientStoreError(err) {
		r.log.WithField("op", op).WithField("error", err).Error("clientstore: operation failed after retries")
	}
	return err
}

func (r *RetryingStore) Exists(ctx context.Context, mac string) (bool, error) {
	var out bool
	err := r.call(ctx, "exists", func() error {
		var innerErr error
		out, innerErr = r.inner.Exists(ctx, mac)
		return innerErr
	})
	return out, err
}

func (r *RetryingStore) Create(ctx context.Context, mac string, arch Arch, dhcpInfo interface{}, seed Config) (Client, error) {
	var out Client
	err := r.call(ctx, "create", func() error {
		var innerErr error
		out, innerErr = r.inner.Create(ctx, mac, arch, dhcpInfo, seed)
		return innerErr
	})
	return out, err
}

func (r *RetryingStore) Get(ctx context.Context, mac string) (Client, error) {
	var out Client
	err := r.call(ctx, "get", func() error {
		var innerErr error
		out, innerErr = r.inner.Get(ctx, mac)
		return innerErr
	})
	return out, err
}

func (r *RetryingStore) List(ctx context.Context) ([]Client, error) {
	var out []Client
	err := r.call(ctx, "list", func() error {
		var innerErr error
		out, innerErr = r.inner.List(ctx)
		return innerErr
	})
	return out, err
}

func (r *RetryingStore) SetConfig(ctx context.Context, mac string, cfg Config) error {
	return r.call(ctx, "set_config", func() error { return r.inner.SetConfig(ctx, mac, cfg) })
}

func (r *RetryingStore) SetInfo(ctx context.Context, mac string, info Info) error {
	return r.call(ctx, "set_info", func() error { return r.inner.SetInfo(ctx, mac, info) })
}

func (r *RetryingStore) SetIP(ctx context.Context, mac string, ip string) error {
	return r.call(ctx, "set_ip", func() error { return r.inner.SetIP(ctx, mac, ip) })
}

func (r *RetryingStore) SetHostname(ctx context.Context, mac string, hostname string) error {
	return r.call(ctx, "set_hostname", func() error { return r.inner.SetHostname(ctx, mac, hostname) })
}

func (r *RetryingStore) SetArch(ctx context.Context, mac string, arch Arch) error {
	return r.call(ctx, "set_arch", func() error { return r.inner.SetArch(ctx, mac, arch) })
}

func (r *RetryingStore) Delete(ctx context.Context, mac string) error {
	return r.call(ctx, "delete", func() error { return r.inner.Delete(ctx, mac) })
}

func (r *RetryingStore) SetState(ctx context.Context, mac string, state State, overrides *StateOverrides) error {
	return r.call(ctx, "set_state", func() error { return r.inner.SetState(ctx, mac, state, overrides) })
}

func (r *RetryingStore) ListWithExpiryTick(ctx context.Context, now time.Time) ([]Client, error) {
	var out []Client
	err := r.call(ctx, "list_with_expiry_tick", func() error {
		var innerErr error
		out, innerErr = r.inner.ListWithExpiryTick(ctx, now)
		return innerErr
	})
	return out, err
}
