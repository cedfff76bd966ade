package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/roster/internal/database"
	"github.com/JonMunkholm/roster/internal/roster"
	"github.com/google/uuid"
)

// TermRepository reads and writes terms through a pool or a writer scope.
type TermRepository struct {
	q *database.Queries
}

func (r *TermRepository) Get(ctx context.Context, id uuid.UUID) (roster.Term, error) {
	row, err := r.q.GetTerm(ctx, pgUUID(&id))
	if err != nil {
		return roster.Term{}, notFound(err)
	}
	return toTerm(row), nil
}

func (r *TermRepository) GetByLabel(ctx context.Context, label string) (roster.Term, error) {
	row, err := r.q.GetTermByLabel(ctx, strings.TrimSpace(label))
	if err != nil {
		return roster.Term{}, notFound(err)
	}
	return toTerm(row), nil
}

// Active returns the active term, or ErrNotFound when none is active.
func (r *TermRepository) Active(ctx context.Context) (roster.Term, error) {
	row, err := r.q.GetActiveTerm(ctx)
	if err != nil {
		return roster.Term{}, notFound(err)
	}
	return toTerm(row), nil
}

func (r *TermRepository) List(ctx context.Context) ([]roster.Term, error) {
	rows, err := r.q.ListTerms(ctx)
	if err != nil {
		return nil, fmt.Errorf("list terms: %w", err)
	}
	out := make([]roster.Term, len(rows))
	for i, row := range rows {
		out[i] = toTerm(row)
	}
	return out, nil
}

// Create inserts an inactive term. Labels are unique.
func (r *TermRepository) Create(ctx context.Context, label string) (roster.Term, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return roster.Term{}, fmt.Errorf("%w: term label is blank", ErrDataIntegrity)
	}
	id := uuid.New()
	row, err := r.q.CreateTerm(ctx, database.CreateTermParams{
		ID:        pgUUID(&id),
		Label:     label,
		CreatedAt: formatTime(time.Now()),
	})
	if err != nil {
		return roster.Term{}, err
	}
	return toTerm(row), nil
}

// SetActive clears every active flag and sets the one on id. It must run in
// a writer scope so both statements commit together.
func (r *TermRepository) SetActive(ctx context.Context, id uuid.UUID) error {
	now := formatTime(time.Now())
	if err := r.q.ClearActiveTerms(ctx, now); err != nil {
		return fmt.Errorf("clear active terms: %w", err)
	}
	n, err := r.q.ActivateTerm(ctx, pgUUID(&id), now)
	if err != nil {
		return fmt.Errorf("activate term: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
