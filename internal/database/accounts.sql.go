// source: accounts.sql

package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const createAccount = `-- name: CreateAccount :one
INSERT INTO accounts (
    id, school_id, first_name, middle_name, last_name, gender,
    course, department, position, major, year_level, is_active, last_seen_term
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
)
RETURNING id, school_id, first_name, middle_name, last_name, gender, course, department, position, major, year_level, is_active, last_seen_term
`

type CreateAccountParams struct {
	ID           pgtype.UUID
	SchoolID     string
	FirstName    pgtype.Text
	MiddleName   pgtype.Text
	LastName     pgtype.Text
	Gender       pgtype.Int2
	Course       pgtype.Text
	Department   pgtype.Text
	Position     pgtype.Text
	Major        pgtype.Text
	YearLevel    pgtype.Text
	IsActive     bool
	LastSeenTerm pgtype.UUID
}

func (q *Queries) CreateAccount(ctx context.Context, arg CreateAccountParams) (Account, error) {
	row := q.db.QueryRow(ctx, createAccount,
		arg.ID,
		arg.SchoolID,
		arg.FirstName,
		arg.MiddleName,
		arg.LastName,
		arg.Gender,
		arg.Course,
		arg.Department,
		arg.Position,
		arg.Major,
		arg.YearLevel,
		arg.IsActive,
		arg.LastSeenTerm,
	)
	var i Account
	err := scanAccount(row, &i)
	return i, err
}

const updateAccount = `-- name: UpdateAccount :one
UPDATE accounts SET
    first_name     = COALESCE($2, first_name),
    middle_name    = COALESCE($3, middle_name),
    last_name      = COALESCE($4, last_name),
    gender         = COALESCE($5, gender),
    course         = COALESCE($6, course),
    department     = COALESCE($7, department),
    position       = COALESCE($8, position),
    major          = COALESCE($9, major),
    year_level     = COALESCE($10, year_level),
    is_active      = COALESCE($11, is_active),
    last_seen_term = COALESCE($12, last_seen_term)
WHERE id = $1
RETURNING id, school_id, first_name, middle_name, last_name, gender, course, department, position, major, year_level, is_active, last_seen_term
`

// UpdateAccountParams uses NULL (Valid=false) for "leave unchanged".
type UpdateAccountParams struct {
	ID           pgtype.UUID
	FirstName    pgtype.Text
	MiddleName   pgtype.Text
	LastName     pgtype.Text
	Gender       pgtype.Int2
	Course       pgtype.Text
	Department   pgtype.Text
	Position     pgtype.Text
	Major        pgtype.Text
	YearLevel    pgtype.Text
	IsActive     pgtype.Bool
	LastSeenTerm pgtype.UUID
}

func (q *Queries) UpdateAccount(ctx context.Context, arg UpdateAccountParams) (Account, error) {
	row := q.db.QueryRow(ctx, updateAccount,
		arg.ID,
		arg.FirstName,
		arg.MiddleName,
		arg.LastName,
		arg.Gender,
		arg.Course,
		arg.Department,
		arg.Position,
		arg.Major,
		arg.YearLevel,
		arg.IsActive,
		arg.LastSeenTerm,
	)
	var i Account
	err := scanAccount(row, &i)
	return i, err
}

const getAccount = `-- name: GetAccount :one
SELECT id, school_id, first_name, middle_name, last_name, gender, course, department, position, major, year_level, is_active, last_seen_term
FROM accounts
WHERE id = $1
`

func (q *Queries) GetAccount(ctx context.Context, id pgtype.UUID) (Account, error) {
	row := q.db.QueryRow(ctx, getAccount, id)
	var i Account
	err := scanAccount(row, &i)
	return i, err
}

const getAccountBySchoolID = `-- name: GetAccountBySchoolID :one
SELECT id, school_id, first_name, middle_name, last_name, gender, course, department, position, major, year_level, is_active, last_seen_term
FROM accounts
WHERE school_id = $1
`

func (q *Queries) GetAccountBySchoolID(ctx context.Context, schoolID string) (Account, error) {
	row := q.db.QueryRow(ctx, getAccountBySchoolID, schoolID)
	var i Account
	err := scanAccount(row, &i)
	return i, err
}

const listAccountsPage = `-- name: ListAccountsPage :many
SELECT id, school_id, first_name, middle_name, last_name, gender, course, department, position, major, year_level, is_active, last_seen_term
FROM accounts
WHERE ($1::uuid IS NULL OR last_seen_term = $1)
ORDER BY school_id
LIMIT $2 OFFSET $3
`

type ListAccountsPageParams struct {
	TermID pgtype.UUID
	Limit  int32
	Offset int32
}

func (q *Queries) ListAccountsPage(ctx context.Context, arg ListAccountsPageParams) ([]Account, error) {
	return q.queryAccounts(ctx, listAccountsPage, arg.TermID, arg.Limit, arg.Offset)
}

const countAccounts = `-- name: CountAccounts :one
SELECT count(*) FROM accounts
WHERE ($1::uuid IS NULL OR last_seen_term = $1)
`

func (q *Queries) CountAccounts(ctx context.Context, termID pgtype.UUID) (int64, error) {
	row := q.db.QueryRow(ctx, countAccounts, termID)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const searchAccounts = `-- name: SearchAccounts :many
SELECT id, school_id, first_name, middle_name, last_name, gender, course, department, position, major, year_level, is_active, last_seen_term
FROM accounts
WHERE school_id ILIKE $1 ESCAPE '\'
   OR first_name ILIKE $1 ESCAPE '\'
   OR middle_name ILIKE $1 ESCAPE '\'
   OR last_name ILIKE $1 ESCAPE '\'
ORDER BY school_id
LIMIT $2
`

// SearchAccounts expects pattern to be a complete ILIKE pattern.
func (q *Queries) SearchAccounts(ctx context.Context, pattern string, limit int32) ([]Account, error) {
	return q.queryAccounts(ctx, searchAccounts, pattern, limit)
}

const listAccounts = `-- name: ListAccounts :many
SELECT id, school_id, first_name, middle_name, last_name, gender, course, department, position, major, year_level, is_active, last_seen_term
FROM accounts
ORDER BY school_id
`

func (q *Queries) ListAccounts(ctx context.Context) ([]Account, error) {
	return q.queryAccounts(ctx, listAccounts)
}

// EachAccount streams accounts in school_id order without buffering the table.
func (q *Queries) EachAccount(ctx context.Context, fn func(Account) error) error {
	rows, err := q.db.Query(ctx, listAccounts)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var i Account
		if err := scanAccount(rows, &i); err != nil {
			return err
		}
		if err := fn(i); err != nil {
			return err
		}
	}
	return rows.Err()
}

const listAccountsBySchoolIDs = `-- name: ListAccountsBySchoolIDs :many
SELECT id, school_id, first_name, middle_name, last_name, gender, course, department, position, major, year_level, is_active, last_seen_term
FROM accounts
WHERE school_id = ANY($1::text[])
ORDER BY school_id
`

func (q *Queries) ListAccountsBySchoolIDs(ctx context.Context, schoolIds []string) ([]Account, error) {
	return q.queryAccounts(ctx, listAccountsBySchoolIDs, schoolIds)
}

const listAccountIDsBySchoolIDs = `-- name: ListAccountIDsBySchoolIDs :many
SELECT id, school_id FROM accounts
WHERE school_id = ANY($1::text[])
`

type ListAccountIDsBySchoolIDsRow struct {
	ID       pgtype.UUID
	SchoolID string
}

func (q *Queries) ListAccountIDsBySchoolIDs(ctx context.Context, schoolIds []string) ([]ListAccountIDsBySchoolIDsRow, error) {
	rows, err := q.db.Query(ctx, listAccountIDsBySchoolIDs, schoolIds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ListAccountIDsBySchoolIDsRow
	for rows.Next() {
		var i ListAccountIDsBySchoolIDsRow
		if err := rows.Scan(&i.ID, &i.SchoolID); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deactivateAccountsNotIn = `-- name: DeactivateAccountsNotIn :execrows
UPDATE accounts SET is_active = FALSE
WHERE is_active AND school_id <> ALL($1::text[])
`

func (q *Queries) DeactivateAccountsNotIn(ctx context.Context, schoolIds []string) (int64, error) {
	result, err := q.db.Exec(ctx, deactivateAccountsNotIn, schoolIds)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const activateAccountsIn = `-- name: ActivateAccountsIn :execrows
UPDATE accounts SET is_active = TRUE
WHERE NOT is_active AND school_id = ANY($1::text[])
`

func (q *Queries) ActivateAccountsIn(ctx context.Context, schoolIds []string) (int64, error) {
	result, err := q.db.Exec(ctx, activateAccountsIn, schoolIds)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const countActivation = `-- name: CountActivation :one
SELECT count(*) AS total, count(*) FILTER (WHERE is_active) AS active
FROM accounts
`

type CountActivationRow struct {
	Total  int64
	Active int64
}

func (q *Queries) CountActivation(ctx context.Context) (CountActivationRow, error) {
	row := q.db.QueryRow(ctx, countActivation)
	var i CountActivationRow
	err := row.Scan(&i.Total, &i.Active)
	return i, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner, i *Account) error {
	return row.Scan(
		&i.ID,
		&i.SchoolID,
		&i.FirstName,
		&i.MiddleName,
		&i.LastName,
		&i.Gender,
		&i.Course,
		&i.Department,
		&i.Position,
		&i.Major,
		&i.YearLevel,
		&i.IsActive,
		&i.LastSeenTerm,
	)
}

func (q *Queries) queryAccounts(ctx context.Context, sql string, args ...interface{}) ([]Account, error) {
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Account
	for rows.Next() {
		var i Account
		if err := scanAccount(rows, &i); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
