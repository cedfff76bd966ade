// source: locks.sql

package database

import (
	"context"
)

const setLocalLockTimeout = `-- name: SetLocalLockTimeout :exec
SELECT set_config('lock_timeout', $1, true)
`

// SetLocalLockTimeout applies lock_timeout (e.g. "2000ms") to the current transaction only.
func (q *Queries) SetLocalLockTimeout(ctx context.Context, timeout string) error {
	_, err := q.db.Exec(ctx, setLocalLockTimeout, timeout)
	return err
}

const advisoryXactLock = `-- name: AdvisoryXactLock :exec
SELECT pg_advisory_xact_lock($1)
`

// AdvisoryXactLock blocks until the transaction-scoped advisory lock is held
// or lock_timeout expires.
func (q *Queries) AdvisoryXactLock(ctx context.Context, key int64) error {
	_, err := q.db.Exec(ctx, advisoryXactLock, key)
	return err
}
