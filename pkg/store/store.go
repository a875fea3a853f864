// Package store implements the persistence layer: the per-session event log
// with dense monotonic sequencing, session lifecycle, and rule loading.
package store

import (
	stdsql "database/sql"
	"encoding/binary"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Store runs raw SQL over a pgx-backed connection pool.
type Store struct {
	db *stdsql.DB
}

// New creates a Store on top of an open connection pool.
func New(db *stdsql.DB) *Store {
	return &Store{db: db}
}

// sessionLockKey folds a session UUID into the signed 64-bit keyspace of
// pg_advisory_xact_lock: xor of the two halves, masked to 63 bits.
func sessionLockKey(id uuid.UUID) int64 {
	hi := binary.BigEndian.Uint64(id[0:8])
	lo := binary.BigEndian.Uint64(id[8:16])
	return int64((hi ^ lo) & (1<<63 - 1))
}

// isUniqueViolation reports whether err is a PostgreSQL unique-constraint
// violation on the named constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}
