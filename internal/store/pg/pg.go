// Package pg provides the Postgres persistence layer. Slice-valued fields
// (scopes, filters, sectors) are stored as jsonb so the column shape follows
// the wire shape.
package pg

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const pgErrUniqueViolation = "23505"

// Store owns the connection pool and exposes one sub-store per aggregate.
type Store struct {
	db *sql.DB

	Invites      *InviteStore
	Applications *ApplicationStore
	Audit        *AuditStore
}

// Open connects to Postgres and wires the sub-stores.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return wrap(db), nil
}

// Wrap builds a Store over an existing connection (used by tests).
func Wrap(db *sql.DB) *Store { return wrap(db) }

func wrap(db *sql.DB) *Store {
	return &Store{
		db:           db,
		Invites:      &InviteStore{db: db},
		Applications: &ApplicationStore{db: db},
		Audit:        &AuditStore{db: db},
	}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func marshalStrings(values []string) ([]byte, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("marshal string list: %w", err)
	}
	return data, nil
}

func unmarshalStrings(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode string list: %w", err)
	}
	return out, nil
}
