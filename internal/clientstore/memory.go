package clientstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Memory is a thread-safe in-memory Store, used in unit tests (cmd/netbootd
// always runs against PostgresStore). Modeled directly on the teacher's
// `internal/app/storage.Memory` (map + sync.RWMutex + clone-on-read).
type Memory struct {
	mu      sync.RWMutex
	clients map[string]Client
	order   []string // insertion order, for List()
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory client store.
func NewMemory() *Memory {
	return &Memory{clients: make(map[string]Client)}
}

func cloneClient(c Client) Client {
	b, _ := json.Marshal(c)
	var out Client
	_ = json.Unmarshal(b, &out)
	return out
}

func (m *Memory) Exists(_ context.Context, mac string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.clients[mac]
	return ok, nil
}

func (m *Memory) Create(_ context.Context, mac string, arch Arch, dhcpInfo interface{}, seed Config) (Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.clients[mac]; exists {
		return Client{}, ErrAlreadyExists
	}

	dhcpRaw, err := json.Marshal(dhcpInfo)
	if err != nil {
		return Client{}, err
	}

	st, err := newStateInfo(time.Now(), StateDHCP, nil)
	if err != nil {
		return Client{}, err
	}

	c := Client{
		MAC:      mac,
		IP:       "0.0.0.0",
		Hostname: "unknown",
		Arch:     arch,
		Info:     Info{DHCP: dhcpRaw},
		Config:   seed,
		State:    st,
	}

	m.clients[mac] = c
	m.order = append(m.order, mac)
	return cloneClient(c), nil
}

func (m *Memory) Get(_ context.Context, mac string) (Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[mac]
	if !ok {
		return Client{}, ErrNotFound
	}
	return cloneClient(c), nil
}

func (m *Memory) List(_ context.Context) ([]Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Client, 0, len(m.order))
	for _, mac := range m.order {
		if c, ok := m.clients[mac]; ok {
			out = append(out, cloneClient(c))
		}
	}
	return out, nil
}

func (m *Memory) mutate(mac string, fn func(*Client) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[mac]
	if !ok {
		return ErrNotFound
	}
	if err := fn(&c); err != nil {
		return err
	}
	m.clients[mac] = c
	return nil
}

func (m *Memory) SetConfig(_ context.Context, mac string, cfg Config) error {
	return m.mutate(mac, func(c *Client) error { c.Config = cfg; return nil })
}

func (m *Memory) SetInfo(_ context.Context, mac string, info Info) error {
	return m.mutate(mac, func(c *Client) error { c.Info = info; return nil })
}

func (m *Memory) SetIP(_ context.Context, mac string, ip string) error {
	return m.mutate(mac, func(c *Client) error { c.IP = ip; return nil })
}

func (m *Memory) SetHostname(_ context.Context, mac string, hostname string) error {
	return m.mutate(mac, func(c *Client) error { c.Hostname = hostname; return nil })
}

func (m *Memory) SetArch(_ context.Context, mac string, arch Arch) error {
	return m.mutate(mac, func(c *Client) error { c.Arch = arch; return nil })
}

func (m *Memory) Delete(_ context.Context, mac string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[mac]; !ok {
		return ErrNotFound
	}
	delete(m.clients, mac)
	for i, v := range m.order {
		if v == mac {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) SetState(_ context.Context, mac string, state State, overrides *StateOverrides) error {
	st, err := newStateInfo(time.Now(), state, overrides)
	if err != nil {
		return err
	}
	return m.mutate(mac, func(c *Client) error { c.State = st; return nil })
}

// ListWithExpiryTick implements §4.2's expiry-driven transitions.
func (m *Memory) ListWithExpiryTick(_ context.Context, now time.Time) ([]Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var mutated []Client
	for _, mac := range m.order {
		c := m.clients[mac]
		changed, err := applyExpiry(&c, now)
		if err != nil {
			return nil, err
		}
		if changed {
			m.clients[mac] = c
			mutated = append(mutated, cloneClient(c))
		}
	}

	sort.SliceStable(mutated, func(i, j int) bool { return mutated[i].MAC < mutated[j].MAC })
	return mutated, nil
}

// applyExpiry mutates c in place per §4.2's per-action rules, returning
// whether it changed anything this tick.
func applyExpiry(c *Client, now time.Time) (bool, error) {
	changed := false

	if c.State.State == StateComplete && c.Config.BootImageOnce {
		c.Config.BootImage = "standby_loop"
		c.Config.BootImageOnce = false
		changed = true
	}

	if c.State.StateExpiration == "" || c.State.StateExpiration == ExpirationNone {
		return changed, nil
	}

	expiresAt, err := time.Parse(time.RFC3339, c.State.StateExpiration)
	if err != nil {
		return changed, nil // parse failure: log-and-continue per §7, not fatal
	}
	if !now.After(expiresAt) {
		return changed, nil
	}

	priorText := c.State.StateText
	switch c.State.StateExpirationAction {
	case ActionComplete:
		st, err := newStateInfo(now, StateComplete, nil)
		if err != nil {
			return changed, err
		}
		c.State = st
	case ActionInactive:
		st, err := newStateInfo(now, StateInactive, nil)
		if err != nil {
			return changed, err
		}
		c.State = st
	case ActionError:
		st, err := newStateInfo(now, StateError, nil)
		if err != nil {
			return changed, err
		}
		st.ErrorShort = "Timeout: " + priorText
		c.State = st
	case ActionNone, "":
		return changed, nil
	}
	return true, nil
}
