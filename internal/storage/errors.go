package storage

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrDuplicate is returned when an insert loses to one of the jobs
// uniqueness constraints. Callers treat it as a duplicate signal, not
// a failure: the constraints are the durable backstop for dedup.
var ErrDuplicate = errors.New("storage: duplicate")

// ErrRunInProgress is returned when a run is started while another run
// is still in the running state.
var ErrRunInProgress = errors.New("storage: a run is already in progress")

// isUniqueViolation reports whether err is a Postgres unique_violation,
// optionally on a specific constraint or index name.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
