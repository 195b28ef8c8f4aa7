// Package database opens the Postgres connection the Client Store and the
// settings audit trail persist through.
package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/lib/pq"
)

// Open establishes a PostgreSQL connection using dsn, applies pool sizing
// from maxOpen/maxIdle/connMaxLifeSecs, and verifies connectivity with a
// ping. The returned *sqlx.DB must be closed by the caller.
func Open(ctx context.Context, dsn string, maxOpen, maxIdle, connMaxLifeSecs int) (*sqlx.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if connMaxLifeSecs > 0 {
		db.SetConnMaxLifetime(time.Duration(connMaxLifeSecs) * time.Second)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}
