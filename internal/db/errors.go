package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the scheduler reacts to.
const (
	CodeForeignKeyViolation  = "23503"
	CodeUniqueViolation      = "23505"
	CodeExclusionViolation   = "23P01"
	CodeLockNotAvailable     = "55P03"
	CodeDeadlockDetected     = "40P01"
	CodeSerializationFailure = "40001"
	CodeQueryCanceled        = "57014"
)

// Constraint names declared in migrations/000001_scheduling.up.sql.
const (
	ConstraintSlotNoOverlap      = "slots_no_overlap"
	ConstraintOneLiveBookingSlot = "bookings_one_live_per_slot"
	ConstraintOneActiveWalkIn    = "bookings_one_active_walk_in"
)

func pgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// IsConstraintViolation reports whether err is a violation with the given
// SQLSTATE code on the named constraint. An empty constraint matches any.
func IsConstraintViolation(err error, code, constraint string) bool {
	pgErr, ok := pgError(err)
	if !ok || pgErr.Code != code {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// IsTransient reports whether err is contention the caller may retry:
// lock timeouts, deadlocks, serialization failures and statement timeouts.
func IsTransient(err error) bool {
	pgErr, ok := pgError(err)
	if !ok {
		return false
	}
	switch pgErr.Code {
	case CodeLockNotAvailable, CodeDeadlockDetected, CodeSerializationFailure, CodeQueryCanceled:
		return true
	}
	return false
}
