package database

import (
	"context"
)

const resetAccounts = `-- name: ResetAccounts :execrows
DELETE FROM accounts
`

func (q *Queries) ResetAccounts(ctx context.Context) (int64, error) {
	result, err := q.db.Exec(ctx, resetAccounts)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const resetTerms = `-- name: ResetTerms :execrows
DELETE FROM terms
`

func (q *Queries) ResetTerms(ctx context.Context) (int64, error) {
	result, err := q.db.Exec(ctx, resetTerms)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
