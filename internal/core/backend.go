package core

import (
	"context"

	"github.com/JonMunkholm/roster/internal/roster"
	"github.com/JonMunkholm/roster/internal/store"
	"github.com/google/uuid"
)

// TermReader resolves the term column. Lookups miss with store.ErrNotFound.
type TermReader interface {
	Get(ctx context.Context, id uuid.UUID) (roster.Term, error)
	GetByLabel(ctx context.Context, label string) (roster.Term, error)
}

// AccountReader is the read side the validator, ingester and exporter use.
type AccountReader interface {
	FindBySchoolIDs(ctx context.Context, ids []string) ([]roster.Account, error)
	LookupIDs(ctx context.Context, ids []string) (map[string]uuid.UUID, error)
	CountActivation(ctx context.Context) (roster.ActivationCounts, error)
	StreamAll(ctx context.Context, fn func(roster.Account) error) error
}

// AccountWriter is the write side available inside a writer scope.
type AccountWriter interface {
	Create(ctx context.Context, draft roster.AccountDraft) (roster.Account, error)
	Update(ctx context.Context, id uuid.UUID, patch roster.AccountPatch) (roster.Account, error)
	DeactivateAbsent(ctx context.Context, keep []string) (int64, error)
	ActivateSchoolIDs(ctx context.Context, ids []string) (int64, error)
}

// Tx is an open writer scope. It must not be shared across goroutines.
type Tx interface {
	Accounts() AccountWriter
	Savepoint(ctx context.Context, fn func(ctx context.Context) error) error
}

// Backend is everything the ingest engine needs from persistence.
type Backend interface {
	Accounts() AccountReader
	Terms() TermReader
	Write(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// NewStoreBackend adapts a PostgreSQL store to Backend.
func NewStoreBackend(s *store.Store) Backend {
	return storeBackend{s: s}
}

type storeBackend struct {
	s *store.Store
}

func (b storeBackend) Accounts() AccountReader { return b.s.Accounts() }

func (b storeBackend) Terms() TermReader { return b.s.Terms() }

func (b storeBackend) Write(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return b.s.Write(ctx, func(ctx context.Context, w *store.Writer) error {
		return fn(ctx, writerTx{w: w})
	})
}

type writerTx struct {
	w *store.Writer
}

func (t writerTx) Accounts() AccountWriter { return t.w.Accounts() }

func (t writerTx) Savepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	return t.w.Savepoint(ctx, fn)
}
