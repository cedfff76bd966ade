package database

import (
	"github.com/jackc/pgx/v5/pgtype"
)

type Account struct {
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

type Term struct {
	ID        pgtype.UUID
	Label     string
	IsActive  bool
	CreatedAt string
	UpdatedAt string
}
