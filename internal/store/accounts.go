package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/JonMunkholm/roster/internal/database"
	"github.com/JonMunkholm/roster/internal/roster"
	"github.com/google/uuid"
)

// DefaultPageSize applies when a caller asks for a non-positive page size.
const DefaultPageSize = 50

// MaxPageSize caps page and search result sizes.
const MaxPageSize = 1000

// AccountRepository reads and writes accounts through a pool or a writer scope.
type AccountRepository struct {
	q *database.Queries
}

// Create inserts a new account. A blank school id is rejected with
// ErrDataIntegrity; a taken school id fails with a unique violation.
func (r *AccountRepository) Create(ctx context.Context, draft roster.AccountDraft) (roster.Account, error) {
	schoolID := roster.NormalizeSchoolID(draft.SchoolID)
	if schoolID == "" {
		return roster.Account{}, fmt.Errorf("%w: school_id is blank", ErrDataIntegrity)
	}

	isActive := true
	if draft.IsActive != nil {
		isActive = *draft.IsActive
	}
	id := uuid.New()

	row, err := r.q.CreateAccount(ctx, database.CreateAccountParams{
		ID:           pgUUID(&id),
		SchoolID:     schoolID,
		FirstName:    pgText(draft.FirstName),
		MiddleName:   pgText(draft.MiddleName),
		LastName:     pgText(draft.LastName),
		Gender:       pgGender(draft.Gender),
		Course:       pgText(draft.Course),
		Department:   pgText(draft.Department),
		Position:     pgText(draft.Position),
		Major:        pgText(draft.Major),
		YearLevel:    pgText(draft.YearLevel),
		IsActive:     isActive,
		LastSeenTerm: pgUUID(draft.TermRef),
	})
	if err != nil {
		return roster.Account{}, err
	}
	return toAccount(row), nil
}

// Update merges patch into the account with the given id.
func (r *AccountRepository) Update(ctx context.Context, id uuid.UUID, patch roster.AccountPatch) (roster.Account, error) {
	row, err := r.q.UpdateAccount(ctx, database.UpdateAccountParams{
		ID:           pgUUID(&id),
		FirstName:    pgText(patch.FirstName),
		MiddleName:   pgText(patch.MiddleName),
		LastName:     pgText(patch.LastName),
		Gender:       pgGender(patch.Gender),
		Course:       pgText(patch.Course),
		Department:   pgText(patch.Department),
		Position:     pgText(patch.Position),
		Major:        pgText(patch.Major),
		YearLevel:    pgText(patch.YearLevel),
		IsActive:     pgBool(patch.IsActive),
		LastSeenTerm: pgUUID(patch.LastSeenTerm),
	})
	if err != nil {
		return roster.Account{}, notFound(err)
	}
	return toAccount(row), nil
}

func (r *AccountRepository) Get(ctx context.Context, id uuid.UUID) (roster.Account, error) {
	row, err := r.q.GetAccount(ctx, pgUUID(&id))
	if err != nil {
		return roster.Account{}, notFound(err)
	}
	return toAccount(row), nil
}

func (r *AccountRepository) GetBySchoolID(ctx context.Context, schoolID string) (roster.Account, error) {
	row, err := r.q.GetAccountBySchoolID(ctx, roster.NormalizeSchoolID(schoolID))
	if err != nil {
		return roster.Account{}, notFound(err)
	}
	return toAccount(row), nil
}

// GetPaginated returns the 1-based page of accounts ordered by school id,
// optionally restricted to accounts last seen in termID.
func (r *AccountRepository) GetPaginated(ctx context.Context, page, pageSize int, termID *uuid.UUID) (roster.Page, error) {
	page, pageSize = clampPage(page, pageSize)

	rows, err := r.q.ListAccountsPage(ctx, database.ListAccountsPageParams{
		TermID: pgUUID(termID),
		Limit:  int32(pageSize),
		Offset: int32((page - 1) * pageSize),
	})
	if err != nil {
		return roster.Page{}, fmt.Errorf("list accounts: %w", err)
	}

	total, err := r.q.CountAccounts(ctx, pgUUID(termID))
	if err != nil {
		return roster.Page{}, fmt.Errorf("count accounts: %w", err)
	}

	return roster.Page{
		Accounts: toAccounts(rows),
		Page:     page,
		PageSize: pageSize,
		Total:    total,
	}, nil
}

func clampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

// Search matches needle case-insensitively against school id and names.
func (r *AccountRepository) Search(ctx context.Context, needle string, limit int) ([]roster.Account, error) {
	needle = strings.TrimSpace(needle)
	if needle == "" {
		return []roster.Account{}, nil
	}
	_, limit = clampPage(1, limit)

	rows, err := r.q.SearchAccounts(ctx, "%"+escapeLike(needle)+"%", int32(limit))
	if err != nil {
		return nil, fmt.Errorf("search accounts: %w", err)
	}
	return toAccounts(rows), nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// GetAll loads every account ordered by school id.
func (r *AccountRepository) GetAll(ctx context.Context) ([]roster.Account, error) {
	rows, err := r.q.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return toAccounts(rows), nil
}

// StreamAll calls fn for each account in school id order without buffering.
func (r *AccountRepository) StreamAll(ctx context.Context, fn func(roster.Account) error) error {
	return r.q.EachAccount(ctx, func(a database.Account) error {
		return fn(toAccount(a))
	})
}

// FindBySchoolIDs returns the accounts whose school ids appear in ids.
func (r *AccountRepository) FindBySchoolIDs(ctx context.Context, ids []string) ([]roster.Account, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.q.ListAccountsBySchoolIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	return toAccounts(rows), nil
}

// LookupIDs maps each known school id in ids to its account id.
func (r *AccountRepository) LookupIDs(ctx context.Context, ids []string) (map[string]uuid.UUID, error) {
	out := make(map[string]uuid.UUID, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.q.ListAccountIDsBySchoolIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.SchoolID] = uuid.UUID(row.ID.Bytes)
	}
	return out, nil
}

// DeactivateAbsent clears is_active on every active account whose school id
// is not in keep. It returns the number of rows changed.
func (r *AccountRepository) DeactivateAbsent(ctx context.Context, keep []string) (int64, error) {
	if keep == nil {
		keep = []string{}
	}
	return r.q.DeactivateAccountsNotIn(ctx, keep)
}

// ActivateSchoolIDs sets is_active on every inactive account in ids.
func (r *AccountRepository) ActivateSchoolIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return r.q.ActivateAccountsIn(ctx, ids)
}

// CountActivation tallies active and inactive accounts.
func (r *AccountRepository) CountActivation(ctx context.Context) (roster.ActivationCounts, error) {
	row, err := r.q.CountActivation(ctx)
	if err != nil {
		return roster.ActivationCounts{}, err
	}
	return roster.ActivationCounts{
		TotalAccounts: row.Total,
		Activated:     row.Active,
		Deactivated:   row.Total - row.Active,
	}, nil
}
