package web

import (
	"context"

	"github.com/JonMunkholm/roster/internal/roster"
	"github.com/JonMunkholm/roster/internal/store"
	"github.com/google/uuid"
)

// Directory is the account and term surface the API serves outside ingest.
type Directory interface {
	Ping(ctx context.Context) error

	GetAccount(ctx context.Context, id uuid.UUID) (roster.Account, error)
	GetAccountBySchoolID(ctx context.Context, schoolID string) (roster.Account, error)
	ListAccounts(ctx context.Context, page, pageSize int, termID *uuid.UUID) (roster.Page, error)
	SearchAccounts(ctx context.Context, needle string, limit int) ([]roster.Account, error)

	ListTerms(ctx context.Context) ([]roster.Term, error)
	ActiveTerm(ctx context.Context) (roster.Term, error)
	CreateTerm(ctx context.Context, label string) (roster.Term, error)
	ActivateTerm(ctx context.Context, id uuid.UUID) error
}

// NewStoreDirectory serves a Directory from the PostgreSQL store.
func NewStoreDirectory(s *store.Store) Directory {
	return storeDirectory{s: s}
}

type storeDirectory struct {
	s *store.Store
}

func (d storeDirectory) Ping(ctx context.Context) error {
	return d.s.Pool().Ping(ctx)
}

func (d storeDirectory) GetAccount(ctx context.Context, id uuid.UUID) (roster.Account, error) {
	return d.s.Accounts().Get(ctx, id)
}

func (d storeDirectory) GetAccountBySchoolID(ctx context.Context, schoolID string) (roster.Account, error) {
	return d.s.Accounts().GetBySchoolID(ctx, schoolID)
}

func (d storeDirectory) ListAccounts(ctx context.Context, page, pageSize int, termID *uuid.UUID) (roster.Page, error) {
	return d.s.Accounts().GetPaginated(ctx, page, pageSize, termID)
}

func (d storeDirectory) SearchAccounts(ctx context.Context, needle string, limit int) ([]roster.Account, error) {
	return d.s.Accounts().Search(ctx, needle, limit)
}

func (d storeDirectory) ListTerms(ctx context.Context) ([]roster.Term, error) {
	return d.s.Terms().List(ctx)
}

func (d storeDirectory) ActiveTerm(ctx context.Context) (roster.Term, error) {
	return d.s.Terms().Active(ctx)
}

func (d storeDirectory) CreateTerm(ctx context.Context, label string) (roster.Term, error) {
	return d.s.Terms().Create(ctx, label)
}

func (d storeDirectory) ActivateTerm(ctx context.Context, id uuid.UUID) error {
	return d.s.SetActiveTerm(ctx, id)
}
