// source: terms.sql

package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const createTerm = `-- name: CreateTerm :one
INSERT INTO terms (id, label, is_active, created_at, updated_at)
VALUES ($1, $2, FALSE, $3, $3)
RETURNING id, label, is_active, created_at, updated_at
`

type CreateTermParams struct {
	ID        pgtype.UUID
	Label     string
	CreatedAt string
}

func (q *Queries) CreateTerm(ctx context.Context, arg CreateTermParams) (Term, error) {
	row := q.db.QueryRow(ctx, createTerm, arg.ID, arg.Label, arg.CreatedAt)
	var i Term
	err := row.Scan(&i.ID, &i.Label, &i.IsActive, &i.CreatedAt, &i.UpdatedAt)
	return i, err
}

const getTerm = `-- name: GetTerm :one
SELECT id, label, is_active, created_at, updated_at FROM terms
WHERE id = $1
`

func (q *Queries) GetTerm(ctx context.Context, id pgtype.UUID) (Term, error) {
	row := q.db.QueryRow(ctx, getTerm, id)
	var i Term
	err := row.Scan(&i.ID, &i.Label, &i.IsActive, &i.CreatedAt, &i.UpdatedAt)
	return i, err
}

const getTermByLabel = `-- name: GetTermByLabel :one
SELECT id, label, is_active, created_at, updated_at FROM terms
WHERE label = $1
`

func (q *Queries) GetTermByLabel(ctx context.Context, label string) (Term, error) {
	row := q.db.QueryRow(ctx, getTermByLabel, label)
	var i Term
	err := row.Scan(&i.ID, &i.Label, &i.IsActive, &i.CreatedAt, &i.UpdatedAt)
	return i, err
}

const getActiveTerm = `-- name: GetActiveTerm :one
SELECT id, label, is_active, created_at, updated_at FROM terms
WHERE is_active
`

func (q *Queries) GetActiveTerm(ctx context.Context) (Term, error) {
	row := q.db.QueryRow(ctx, getActiveTerm)
	var i Term
	err := row.Scan(&i.ID, &i.Label, &i.IsActive, &i.CreatedAt, &i.UpdatedAt)
	return i, err
}

const listTerms = `-- name: ListTerms :many
SELECT id, label, is_active, created_at, updated_at FROM terms
ORDER BY created_at DESC, label
`

func (q *Queries) ListTerms(ctx context.Context) ([]Term, error) {
	rows, err := q.db.Query(ctx, listTerms)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Term
	for rows.Next() {
		var i Term
		if err := rows.Scan(&i.ID, &i.Label, &i.IsActive, &i.CreatedAt, &i.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const clearActiveTerms = `-- name: ClearActiveTerms :exec
UPDATE terms SET is_active = FALSE, updated_at = $1
WHERE is_active
`

func (q *Queries) ClearActiveTerms(ctx context.Context, updatedAt string) error {
	_, err := q.db.Exec(ctx, clearActiveTerms, updatedAt)
	return err
}

const activateTerm = `-- name: ActivateTerm :execrows
UPDATE terms SET is_active = TRUE, updated_at = $2
WHERE id = $1
`

func (q *Queries) ActivateTerm(ctx context.Context, id pgtype.UUID, updatedAt string) (int64, error) {
	result, err := q.db.Exec(ctx, activateTerm, id, updatedAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
