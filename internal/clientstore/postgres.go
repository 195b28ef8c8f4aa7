package clientstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

// PostgresStore implements Store against the single `clients` table (§6.5):
// mac, ip, arch, hostname, info, config, state, all columns text. Modeled
// on `internal/app/storage/postgres/store.go`'s JSON-marshal-to-text-column
// round-trip, using sqlx for named-parameter scans.
type PostgresStore struct {
	db *sqlx.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an already-open, already-migrated database handle.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// clientRow mirrors the clients table's text columns before JSON decoding.
type clientRow struct {
	MAC      string `db:"mac"`
	IP       string `db:"ip"`
	Arch     string `db:"arch"`
	Hostname string `db:"hostname"`
	Info     string `db:"info"`
	Config   string `db:"config"`
	State    string `db:"state"`
}

func (r clientRow) toClient() (Client, error) {
	c := Client{MAC: r.MAC, IP: r.IP, Hostname: r.Hostname, Arch: Arch(r.Arch)}
	if err := json.Unmarshal([]byte(r.Info), &c.Info); err != nil {
		return Client{}, err
	}
	if err := json.Unmarshal([]byte(r.Config), &c.Config); err != nil {
		return Client{}, err
	}
	if err := json.Unmarshal([]byte(r.State), &c.State); err != nil {
		return Client{}, err
	}
	return c, nil
}

func toRow(c Client) (clientRow, error) {
	infoJSON, err := json.Marshal(c.Info)
	if err != nil {
		return clientRow{}, err
	}
	configJSON, err := json.Marshal(c.Config)
	if err != nil {
		return clientRow{}, err
	}
	stateJSON, err := json.Marshal(c.State)
	if err != nil {
		return clientRow{}, err
	}
	return clientRow{
		MAC: c.MAC, IP: c.IP, Arch: string(c.Arch), Hostname: c.Hostname,
		Info: string(infoJSON), Config: string(configJSON), State: string(stateJSON),
	}, nil
}

func (s *PostgresStore) Exists(ctx context.Context, mac string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT count(*) FROM clients WHERE mac = $1`, mac)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PostgresStore) Create(ctx context.Context, mac string, arch Arch, dhcpInfo interface{}, seed Config) (Client, error) {
	dhcpRaw, err := json.Marshal(dhcpInfo)
	if err != nil {
		return Client{}, err
	}
	st, err := newStateInfo(time.Now(), StateDHCP, nil)
	if err != nil {
		return Client{}, err
	}

	c := Client{
		MAC: mac, IP: "0.0.0.0", Hostname: "unknown", Arch: arch,
		Info: Info{DHCP: dhcpRaw}, Config: seed, State: st,
	}
	row, err := toRow(c)
	if err != nil {
		return Client{}, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (mac, ip, arch, hostname, info, config, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (mac) DO NOTHING
	`, row.MAC, row.IP, row.Arch, row.Hostname, row.Info, row.Config, row.State)
	if err != nil {
		return Client{}, err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return Client{}, err
	}

	// ON CONFLICT DO NOTHING makes Create idempotent-fail for racing
	// discovers on the same MAC (§5): the loser inserts no row and must
	// still observe ErrAlreadyExists rather than silently overwrite the
	// winner's row.
	existing, err := s.Get(ctx, mac)
	if err != nil {
		return Client{}, err
	}
	if inserted == 0 {
		return existing, ErrAlreadyExists
	}
	return existing, nil
}

func (s *PostgresStore) Get(ctx context.Context, mac string) (Client, error) {
	var row clientRow
	err := s.db.GetContext(ctx, &row, `SELECT mac, ip, arch, hostname, info, config, state FROM clients WHERE mac = $1`, mac)
	if errors.Is(err, sql.ErrNoRows) {
		return Client{}, ErrNotFound
	}
	if err != nil {
		return Client{}, err
	}
	return row.toClient()
}

func (s *PostgresStore) List(ctx context.Context) ([]Client, error) {
	var rows []clientRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT mac, ip, arch, hostname, info, config, state FROM clients ORDER BY mac`); err != nil {
		return nil, err
	}
	out := make([]Client, 0, len(rows))
	for _, r := range rows {
		c, err := r.toClient()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *PostgresStore) updateColumn(ctx context.Context, mac, column string, value string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE clients SET `+column+` = $2 WHERE mac = $1`, mac, value)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetConfig(ctx context.Context, mac string, cfg Config) error {
	b, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return s.updateColumn(ctx, mac, "config", string(b))
}

func (s *PostgresStore) SetInfo(ctx context.Context, mac string, info Info) error {
	b, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return s.updateColumn(ctx, mac, "info", string(b))
}

func (s *PostgresStore) SetIP(ctx context.Context, mac string, ip string) error {
	return s.updateColumn(ctx, mac, "ip", ip)
}

func (s *PostgresStore) SetHostname(ctx context.Context, mac string, hostname string) error {
	return s.updateColumn(ctx, mac, "hostname", hostname)
}

func (s *PostgresStore) SetArch(ctx context.Context, mac string, arch Arch) error {
	return s.updateColumn(ctx, mac, "arch", string(arch))
}

func (s *PostgresStore) Delete(ctx context.Context, mac string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM clients WHERE mac = $1`, mac)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetState(ctx context.Context, mac string, state State, overrides *StateOverrides) error {
	st, err := newStateInfo(time.Now(), state, overrides)
	if err != nil {
		return err
	}
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.updateColumn(ctx, mac, "state", string(b))
}

// ListWithExpiryTick loads every row, applies §4.2's expiry rules in Go
// (keeping the rule table in one place, shared with Memory), and writes
// back only the rows that changed.
func (s *PostgresStore) ListWithExpiryTick(ctx context.Context, now time.Time) ([]Client, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	var mutated []Client
	for i := range all {
		c := all[i]
		changed, err := applyExpiry(&c, now)
		if err != nil {
			return nil, err
		}
		if !changed {
			continue
		}
		row, err := toRow(c)
		if err != nil {
			return nil, err
		}
		if _, err := s.db.ExecContext(ctx, `
			UPDATE clients SET config = $2, state = $3 WHERE mac = $1
		`, row.MAC, row.Config, row.State); err != nil {
			return nil, err
		}
		mutated = append(mutated, c)
	}
	return mutated, nil
}
