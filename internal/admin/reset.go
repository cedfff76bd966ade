// Package admin provides administrative operations for database management.
package admin

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/roster/internal/database"
	"github.com/JonMunkholm/roster/internal/store"
)

// ResetTimeout is the maximum duration for database reset operations.
const ResetTimeout = 30 * time.Second

// ResetResult counts the rows each reset step removed.
type ResetResult struct {
	Accounts int64
	Terms    int64
}

type resetStep struct {
	name  string
	fn    func(ctx context.Context) (int64, error)
	count *int64
}

// ResetAll deletes every account and, when withTerms is set, every term.
// It runs as one writer scope, so it waits for any ingest chunk in flight.
// This is a destructive operation - use with caution.
func ResetAll(ctx context.Context, s *store.Store, withTerms bool) (ResetResult, error) {
	ctx, cancel := context.WithTimeout(ctx, ResetTimeout)
	defer cancel()

	var res ResetResult
	err := s.Write(ctx, func(ctx context.Context, w *store.Writer) error {
		q := database.New(w.DB())
		steps := []resetStep{{"accounts", q.ResetAccounts, &res.Accounts}}
		// Accounts reference terms, so terms go last.
		if withTerms {
			steps = append(steps, resetStep{"terms", q.ResetTerms, &res.Terms})
		}
		return runResets(ctx, steps)
	})
	if err != nil {
		return ResetResult{}, err
	}

	slog.Warn("database reset", "accounts_deleted", res.Accounts, "terms_deleted", res.Terms)
	return res, nil
}

func runResets(ctx context.Context, steps []resetStep) error {
	for _, step := range steps {
		n, err := step.fn(ctx)
		if err != nil {
			return fmt.Errorf("reset %s: %w", step.name, err)
		}
		*step.count = n
	}
	return nil
}
