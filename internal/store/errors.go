package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned by single-row lookups that match nothing.
	ErrNotFound = errors.New("not found")

	// ErrDataIntegrity is returned when a write would break a table invariant.
	ErrDataIntegrity = errors.New("data integrity violation")

	// ErrUniqueViolation is returned when a write collides with an existing key.
	ErrUniqueViolation = errors.New("unique constraint violation")

	// ErrBusy marks transient contention: pool exhaustion, serialization
	// failures and deadlocks. Safe to retry.
	ErrBusy = errors.New("store busy")

	// ErrLocked marks a lock wait that exceeded lock_timeout. Safe to retry.
	ErrLocked = errors.New("store locked")

	// ErrCommit wraps a failed COMMIT. The scope's writes are lost.
	ErrCommit = errors.New("commit failed")
)

// Kind classifies store errors for retry and reporting decisions.
type Kind int

const (
	KindNone Kind = iota
	KindNotFound
	KindUniqueViolation
	KindBusy
	KindLocked
	KindDataIntegrity
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNotFound:
		return "not_found"
	case KindUniqueViolation:
		return "unique_violation"
	case KindBusy:
		return "busy"
	case KindLocked:
		return "locked"
	case KindDataIntegrity:
		return "data_integrity"
	default:
		return "other"
	}
}

// PostgreSQL SQLSTATE codes the store reacts to.
const (
	codeUniqueViolation      = "23505"
	codeNotNullViolation     = "23502"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeQueryCanceled        = "57014"
)

// Classify maps err to a Kind. Context errors are never retryable; sentinel
// errors win over SQLSTATE codes.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindOther
	case errors.Is(err, ErrNotFound), errors.Is(err, pgx.ErrNoRows):
		return KindNotFound
	case errors.Is(err, ErrUniqueViolation):
		return KindUniqueViolation
	case errors.Is(err, ErrBusy):
		return KindBusy
	case errors.Is(err, ErrLocked):
		return KindLocked
	case errors.Is(err, ErrDataIntegrity):
		return KindDataIntegrity
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return KindUniqueViolation
		case codeSerializationFailure, codeDeadlockDetected, codeQueryCanceled:
			return KindBusy
		case codeLockNotAvailable:
			return KindLocked
		case codeNotNullViolation, codeForeignKeyViolation, codeCheckViolation:
			return KindDataIntegrity
		}
	}
	return KindOther
}

// IsRetryable reports whether err is transient writer contention. A failed
// COMMIT is never retryable, whatever its cause.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrCommit) {
		return false
	}
	switch Classify(err) {
	case KindBusy, KindLocked:
		return true
	}
	return false
}

// IsUniqueViolation reports whether err is a unique-constraint violation.
func IsUniqueViolation(err error) bool {
	return Classify(err) == KindUniqueViolation
}

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool {
	return Classify(err) == KindNotFound
}

// notFound converts pgx.ErrNoRows into ErrNotFound and leaves other errors unchanged.
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
