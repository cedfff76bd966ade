package web

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/JonMunkholm/roster/internal/core"
	"github.com/JonMunkholm/roster/internal/roster"
	"github.com/JonMunkholm/roster/internal/store"
	"github.com/google/uuid"
)

// fakeStore is an in-memory core.Backend and Directory for handler tests.
type fakeStore struct {
	mu       sync.Mutex
	accounts map[string]roster.Account
	terms    map[uuid.UUID]roster.Term
	pingErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts: make(map[string]roster.Account),
		terms:    make(map[uuid.UUID]roster.Term),
	}
}

func (f *fakeStore) sorted() []roster.Account {
	out := make([]roster.Account, 0, len(f.accounts))
	for _, a := range f.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SchoolID < out[j].SchoolID })
	return out
}

// core.Backend

func (f *fakeStore) Accounts() core.AccountReader { return fakeAccounts{f} }
func (f *fakeStore) Terms() core.TermReader       { return fakeTerms{f} }

func (f *fakeStore) Write(ctx context.Context, fn func(ctx context.Context, tx core.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, fakeTx{f})
}

type fakeTx struct{ f *fakeStore }

func (t fakeTx) Accounts() core.AccountWriter { return fakeAccounts{t.f} }

func (t fakeTx) Savepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeAccounts struct{ f *fakeStore }

func (a fakeAccounts) FindBySchoolIDs(_ context.Context, ids []string) ([]roster.Account, error) {
	a.f.mu.Lock()
	defer a.f.mu.Unlock()
	var out []roster.Account
	for _, id := range ids {
		if acct, ok := a.f.accounts[id]; ok {
			out = append(out, acct)
		}
	}
	return out, nil
}

func (a fakeAccounts) LookupIDs(_ context.Context, ids []string) (map[string]uuid.UUID, error) {
	a.f.mu.Lock()
	defer a.f.mu.Unlock()
	out := make(map[string]uuid.UUID)
	for _, id := range ids {
		if acct, ok := a.f.accounts[id]; ok {
			out[id] = acct.ID
		}
	}
	return out, nil
}

func (a fakeAccounts) CountActivation(context.Context) (roster.ActivationCounts, error) {
	a.f.mu.Lock()
	defer a.f.mu.Unlock()
	var c roster.ActivationCounts
	for _, acct := range a.f.accounts {
		c.TotalAccounts++
		if acct.IsActive {
			c.Activated++
		} else {
			c.Deactivated++
		}
	}
	return c, nil
}

func (a fakeAccounts) StreamAll(ctx context.Context, fn func(roster.Account) error) error {
	a.f.mu.Lock()
	all := a.f.sorted()
	a.f.mu.Unlock()
	for _, acct := range all {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(acct); err != nil {
			return err
		}
	}
	return nil
}

func (a fakeAccounts) Create(_ context.Context, d roster.AccountDraft) (roster.Account, error) {
	a.f.mu.Lock()
	defer a.f.mu.Unlock()
	if _, ok := a.f.accounts[d.SchoolID]; ok {
		return roster.Account{}, store.ErrUniqueViolation
	}
	acct := roster.Account{ID: uuid.New(), SchoolID: d.SchoolID}.Apply(d.Patch())
	a.f.accounts[d.SchoolID] = acct
	return acct, nil
}

func (a fakeAccounts) Update(_ context.Context, id uuid.UUID, p roster.AccountPatch) (roster.Account, error) {
	a.f.mu.Lock()
	defer a.f.mu.Unlock()
	for sid, acct := range a.f.accounts {
		if acct.ID == id {
			acct = acct.Apply(p)
			a.f.accounts[sid] = acct
			return acct, nil
		}
	}
	return roster.Account{}, store.ErrNotFound
}

func (a fakeAccounts) DeactivateAbsent(_ context.Context, keep []string) (int64, error) {
	a.f.mu.Lock()
	defer a.f.mu.Unlock()
	kept := make(map[string]bool, len(keep))
	for _, id := range keep {
		kept[id] = true
	}
	var n int64
	for sid, acct := range a.f.accounts {
		if !kept[sid] && acct.IsActive {
			acct.IsActive = false
			a.f.accounts[sid] = acct
			n++
		}
	}
	return n, nil
}

func (a fakeAccounts) ActivateSchoolIDs(_ context.Context, ids []string) (int64, error) {
	a.f.mu.Lock()
	defer a.f.mu.Unlock()
	var n int64
	for _, id := range ids {
		if acct, ok := a.f.accounts[id]; ok && !acct.IsActive {
			acct.IsActive = true
			a.f.accounts[id] = acct
			n++
		}
	}
	return n, nil
}

type fakeTerms struct{ f *fakeStore }

func (t fakeTerms) Get(_ context.Context, id uuid.UUID) (roster.Term, error) {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	if term, ok := t.f.terms[id]; ok {
		return term, nil
	}
	return roster.Term{}, store.ErrNotFound
}

func (t fakeTerms) GetByLabel(_ context.Context, label string) (roster.Term, error) {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	for _, term := range t.f.terms {
		if term.Label == label {
			return term, nil
		}
	}
	return roster.Term{}, store.ErrNotFound
}

// Directory

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) GetAccount(_ context.Context, id uuid.UUID) (roster.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.ID == id {
			return a, nil
		}
	}
	return roster.Account{}, store.ErrNotFound
}

func (f *fakeStore) GetAccountBySchoolID(_ context.Context, schoolID string) (roster.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.accounts[schoolID]; ok {
		return a, nil
	}
	return roster.Account{}, store.ErrNotFound
}

func (f *fakeStore) ListAccounts(_ context.Context, page, pageSize int, termID *uuid.UUID) (roster.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []roster.Account
	for _, a := range f.sorted() {
		if termID == nil || (a.LastSeenTerm != nil && *a.LastSeenTerm == *termID) {
			matched = append(matched, a)
		}
	}
	start := min((page-1)*pageSize, len(matched))
	end := min(start+pageSize, len(matched))
	return roster.Page{Accounts: matched[start:end], Page: page, PageSize: pageSize, Total: int64(len(matched))}, nil
}

func (f *fakeStore) SearchAccounts(_ context.Context, needle string, limit int) ([]roster.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []roster.Account
	for _, a := range f.sorted() {
		if strings.Contains(strings.ToLower(a.SchoolID+" "+roster.Deref(a.LastName)), strings.ToLower(needle)) {
			out = append(out, a)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) ListTerms(context.Context) ([]roster.Term, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]roster.Term, 0, len(f.terms))
	for _, t := range f.terms {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

func (f *fakeStore) ActiveTerm(context.Context) (roster.Term, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.terms {
		if t.IsActive {
			return t, nil
		}
	}
	return roster.Term{}, store.ErrNotFound
}

func (f *fakeStore) CreateTerm(_ context.Context, label string) (roster.Term, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.terms {
		if t.Label == label {
			return roster.Term{}, errors.New("duplicate key value violates unique constraint")
		}
	}
	t := roster.Term{ID: uuid.New(), Label: label}
	f.terms[t.ID] = t
	return t, nil
}

func (f *fakeStore) ActivateTerm(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.terms[id]; !ok {
		return store.ErrNotFound
	}
	for k, t := range f.terms {
		t.IsActive = k == id
		f.terms[k] = t
	}
	return nil
}
