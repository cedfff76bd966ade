package core

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/JonMunkholm/roster/internal/roster"
	"github.com/JonMunkholm/roster/internal/store"
	"github.com/google/uuid"
)

// ----------------------------------------------------------------------------
// In-memory Backend
// ----------------------------------------------------------------------------

// memBackend mirrors the store's semantics closely enough for the engine:
// one writer at a time, savepoints that undo a single row, unique school
// ids, and faults injected per school id.
type memBackend struct {
	writer sync.Mutex // serializes writer scopes

	mu       sync.Mutex
	accounts map[string]roster.Account
	terms    map[uuid.UUID]roster.Term

	// locked[id] is how many times writing id fails with ErrLocked first.
	locked map[string]int
	// broken[id] fails every write of id.
	broken map[string]error
	// busyWrites fails that many writer scopes with ErrBusy after fn ran.
	busyWrites int
	// commitErr fails every commit.
	commitErr error
	// onWrite runs at the start of each writer scope.
	onWrite func()

	writes int
}

func newMemBackend() *memBackend {
	return &memBackend{
		accounts: map[string]roster.Account{},
		terms:    map[uuid.UUID]roster.Term{},
		locked:   map[string]int{},
		broken:   map[string]error{},
	}
}

func (b *memBackend) addTerm(label string) roster.Term {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := roster.Term{ID: uuid.New(), Label: label}
	b.terms[t.ID] = t
	return t
}

func (b *memBackend) seed(schoolID string, active bool) roster.Account {
	b.mu.Lock()
	defer b.mu.Unlock()
	a := roster.Account{ID: uuid.New(), SchoolID: schoolID, IsActive: active, FirstName: roster.Text("Seed")}
	b.accounts[schoolID] = a
	return a
}

func (b *memBackend) account(schoolID string) (roster.Account, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.accounts[schoolID]
	return a, ok
}

func (b *memBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.accounts)
}

func (b *memBackend) snapshot() map[string]roster.Account {
	b.mu.Lock()
	defer b.mu.Unlock()
	return maps.Clone(b.accounts)
}

func (b *memBackend) restore(snap map[string]roster.Account) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accounts = snap
}

func (b *memBackend) Accounts() AccountReader { return memAccounts{b} }

func (b *memBackend) Terms() TermReader { return memTerms{b} }

func (b *memBackend) Write(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.writer.Lock()
	defer b.writer.Unlock()

	b.mu.Lock()
	b.writes++
	hook := b.onWrite
	b.mu.Unlock()
	if hook != nil {
		hook()
	}

	snap := b.snapshot()
	if err := fn(ctx, memTx{b}); err != nil {
		b.restore(snap)
		return err
	}

	b.mu.Lock()
	busy := b.busyWrites > 0
	if busy {
		b.busyWrites--
	}
	commitErr := b.commitErr
	b.mu.Unlock()

	switch {
	case busy:
		b.restore(snap)
		return fmt.Errorf("%w: injected", store.ErrBusy)
	case commitErr != nil:
		b.restore(snap)
		return fmt.Errorf("%w: %w", store.ErrCommit, commitErr)
	}
	return nil
}

type memTx struct{ b *memBackend }

func (t memTx) Accounts() AccountWriter { return memAccounts{t.b} }

func (t memTx) Savepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	snap := t.b.snapshot()
	if err := fn(ctx); err != nil {
		t.b.restore(snap)
		return err
	}
	return nil
}

type memAccounts struct{ b *memBackend }

// fault must be called with b.mu held.
func (a memAccounts) fault(schoolID string) error {
	if n := a.b.locked[schoolID]; n > 0 {
		a.b.locked[schoolID] = n - 1
		return fmt.Errorf("%w: injected", store.ErrLocked)
	}
	return a.b.broken[schoolID]
}

func (a memAccounts) Create(_ context.Context, d roster.AccountDraft) (roster.Account, error) {
	a.b.mu.Lock()
	defer a.b.mu.Unlock()

	id := roster.NormalizeSchoolID(d.SchoolID)
	if id == "" {
		return roster.Account{}, fmt.Errorf("%w: school_id is blank", store.ErrDataIntegrity)
	}
	if err := a.fault(id); err != nil {
		return roster.Account{}, err
	}
	if _, exists := a.b.accounts[id]; exists {
		return roster.Account{}, fmt.Errorf("create %s: %w", id, store.ErrUniqueViolation)
	}
	acct := roster.Account{ID: uuid.New(), SchoolID: id, IsActive: true}.Apply(d.Patch())
	a.b.accounts[id] = acct
	return acct, nil
}

func (a memAccounts) Update(_ context.Context, id uuid.UUID, p roster.AccountPatch) (roster.Account, error) {
	a.b.mu.Lock()
	defer a.b.mu.Unlock()

	for sid, acct := range a.b.accounts {
		if acct.ID != id {
			continue
		}
		if err := a.fault(sid); err != nil {
			return roster.Account{}, err
		}
		acct = acct.Apply(p)
		a.b.accounts[sid] = acct
		return acct, nil
	}
	return roster.Account{}, store.ErrNotFound
}

func (a memAccounts) DeactivateAbsent(_ context.Context, keep []string) (int64, error) {
	a.b.mu.Lock()
	defer a.b.mu.Unlock()

	kept := make(map[string]bool, len(keep))
	for _, id := range keep {
		kept[id] = true
	}
	var n int64
	for sid, acct := range a.b.accounts {
		if acct.IsActive && !kept[sid] {
			acct.IsActive = false
			a.b.accounts[sid] = acct
			n++
		}
	}
	return n, nil
}

func (a memAccounts) ActivateSchoolIDs(_ context.Context, ids []string) (int64, error) {
	a.b.mu.Lock()
	defer a.b.mu.Unlock()

	var n int64
	for _, id := range ids {
		if acct, ok := a.b.accounts[id]; ok && !acct.IsActive {
			acct.IsActive = true
			a.b.accounts[id] = acct
			n++
		}
	}
	return n, nil
}

func (a memAccounts) FindBySchoolIDs(_ context.Context, ids []string) ([]roster.Account, error) {
	a.b.mu.Lock()
	defer a.b.mu.Unlock()

	var out []roster.Account
	for _, id := range ids {
		if acct, ok := a.b.accounts[id]; ok {
			out = append(out, acct)
		}
	}
	return out, nil
}

func (a memAccounts) LookupIDs(_ context.Context, ids []string) (map[string]uuid.UUID, error) {
	a.b.mu.Lock()
	defer a.b.mu.Unlock()

	out := make(map[string]uuid.UUID, len(ids))
	for _, id := range ids {
		if acct, ok := a.b.accounts[id]; ok {
			out[id] = acct.ID
		}
	}
	return out, nil
}

func (a memAccounts) CountActivation(ctx context.Context) (roster.ActivationCounts, error) {
	if err := ctx.Err(); err != nil {
		return roster.ActivationCounts{}, err
	}
	a.b.mu.Lock()
	defer a.b.mu.Unlock()

	var c roster.ActivationCounts
	for _, acct := range a.b.accounts {
		c.TotalAccounts++
		if acct.IsActive {
			c.Activated++
		} else {
			c.Deactivated++
		}
	}
	return c, nil
}

func (a memAccounts) StreamAll(ctx context.Context, fn func(roster.Account) error) error {
	a.b.mu.Lock()
	all := make([]roster.Account, 0, len(a.b.accounts))
	for _, acct := range a.b.accounts {
		all = append(all, acct)
	}
	a.b.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return all[i].SchoolID < all[j].SchoolID })
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

type memTerms struct{ b *memBackend }

func (t memTerms) Get(_ context.Context, id uuid.UUID) (roster.Term, error) {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	if term, ok := t.b.terms[id]; ok {
		return term, nil
	}
	return roster.Term{}, store.ErrNotFound
}

func (t memTerms) GetByLabel(_ context.Context, label string) (roster.Term, error) {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	for _, term := range t.b.terms {
		if term.Label == label {
			return term, nil
		}
	}
	return roster.Term{}, store.ErrNotFound
}

func (t memTerms) Active(_ context.Context) (roster.Term, error) {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	for _, term := range t.b.terms {
		if term.IsActive {
			return term, nil
		}
	}
	return roster.Term{}, store.ErrNotFound
}

// activate marks id as the only active term.
func (b *memBackend) activate(id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, term := range b.terms {
		term.IsActive = k == id
		b.terms[k] = term
	}
}

// ----------------------------------------------------------------------------
// Fixtures
// ----------------------------------------------------------------------------

const rosterHeader = "student_id,first_name,middle_name,last_name,gender,is_active"

// writeRoster writes a roster file with the standard header and rows.
func writeRoster(t *testing.T, rows ...string) string {
	t.Helper()
	return writeFile(t, "roster.csv", rosterHeader+"\n"+strings.Join(rows, "\n")+"\n")
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// fastRetry keeps the attempt budget but never sleeps.
func fastRetry() RetryPolicy {
	p := DefaultRetryPolicy()
	p.Initial = 0
	p.Max = 0
	return p
}
