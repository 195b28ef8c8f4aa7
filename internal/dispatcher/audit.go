package dispatcher

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// PostgresSettingsAudit persists every set_settings call to the
// settings_audit table, grounded on the reference project's
// internal/app/httpapi/audit.go postgresAuditSink (a best-effort sink
// that a service wraps its mutation path with).
type PostgresSettingsAudit struct {
	db *sqlx.DB
}

var _ SettingsAuditRecorder = (*PostgresSettingsAudit)(nil)

// NewPostgresSettingsAudit wraps an already-open, already-migrated
// database handle.
func NewPostgresSettingsAudit(db *sqlx.DB) *PostgresSettingsAudit {
	return &PostgresSettingsAudit{db: db}
}

func (a *PostgresSettingsAudit) Record(ctx context.Context, oldValue, newValue string) error {
	if a == nil || a.db == nil {
		return nil
	}
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO settings_audit (old_value, new_value)
		VALUES ($1, $2)
	`, oldValue, newValue)
	if err != nil {
		return fmt.Errorf("settings_audit insert: %w", err)
	}
	return nil
}
