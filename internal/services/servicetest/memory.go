// Package servicetest provides in-memory collaborators for service and
// handler tests.
package servicetest

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ras-rm/auth-service/internal/notify"
	"github.com/ras-rm/auth-service/internal/store"
	"github.com/ras-rm/auth-service/types"
)

// Repository is an in-memory account store mirroring the Postgres
// repository's query semantics.
type Repository struct {
	mu       sync.Mutex
	nextID   int64
	accounts map[int64]types.Account

	// ListErr, when set, is returned by every population query.
	ListErr error
	// UpdateErr, when set, is returned by Update.
	UpdateErr error
	// DeleteErr maps account ids to the error DeleteMarked returns for them.
	DeleteErr map[int64]error
}

func NewRepository() *Repository {
	return &Repository{accounts: map[int64]types.Account{}, DeleteErr: map[int64]error{}}
}

// Seed stores acc as-is, assigning an id when it has none.
func (r *Repository) Seed(acc types.Account) types.Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	if acc.ID == 0 {
		r.nextID++
		acc.ID = r.nextID
	} else if acc.ID > r.nextID {
		r.nextID = acc.ID
	}
	r.accounts[acc.ID] = acc
	return acc
}

// Account returns the stored account with id.
func (r *Repository) Account(id int64) (types.Account, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[id]
	return acc, ok
}

// Len returns the number of stored accounts.
func (r *Repository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.accounts)
}

func (r *Repository) GetByUsername(ctx context.Context, username string) (types.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, acc := range r.accounts {
		if strings.EqualFold(acc.Username, username) {
			return acc, nil
		}
	}
	return types.Account{}, store.ErrNotFound
}

func (r *Repository) Create(ctx context.Context, acc types.Account) (types.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.taken(acc.Username, 0) {
		return types.Account{}, store.ErrConflict
	}
	r.nextID++
	acc.ID = r.nextID
	r.accounts[acc.ID] = acc
	return acc, nil
}

func (r *Repository) Update(ctx context.Context, acc types.Account) (types.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.UpdateErr != nil {
		return types.Account{}, r.UpdateErr
	}
	if _, ok := r.accounts[acc.ID]; !ok {
		return types.Account{}, store.ErrNotFound
	}
	if r.taken(acc.Username, acc.ID) {
		return types.Account{}, store.ErrConflict
	}
	r.accounts[acc.ID] = acc
	return acc, nil
}

func (r *Repository) ListNotificationCandidates(ctx context.Context, stage types.Stage, oldest, newest time.Time) ([]types.Account, error) {
	return r.list(func(acc types.Account) bool {
		activity := acc.LastActivity()
		return !activity.Before(oldest) && !activity.After(newest) && acc.Notification(stage) == nil
	})
}

func (r *Repository) ListDeletionCandidates(ctx context.Context, inactiveBefore, unverifiedBefore time.Time) ([]types.Account, error) {
	return r.list(func(acc types.Account) bool {
		if acc.MarkForDeletion {
			return false
		}
		return acc.LastActivity().Before(inactiveBefore) ||
			(!acc.AccountVerified && acc.AccountCreationDate.Before(unverifiedBefore))
	})
}

func (r *Repository) ListMarkedForDeletion(ctx context.Context) ([]types.Account, error) {
	return r.list(func(acc types.Account) bool { return acc.MarkForDeletion })
}

func (r *Repository) MarkForDeletion(ctx context.Context, ids []int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, id := range ids {
		acc, ok := r.accounts[id]
		if !ok {
			continue
		}
		acc.MarkForDeletion = true
		r.accounts[id] = acc
		n++
	}
	return n, nil
}

func (r *Repository) StampNotification(ctx context.Context, id int64, stage types.Stage, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[id]
	if !ok {
		return store.ErrNotFound
	}
	acc.SetNotification(stage, &at)
	r.accounts[id] = acc
	return nil
}

func (r *Repository) DeleteMarked(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.DeleteErr[id]; err != nil {
		return err
	}
	acc, ok := r.accounts[id]
	if !ok || !acc.MarkForDeletion {
		return store.ErrNotFound
	}
	delete(r.accounts, id)
	return nil
}

func (r *Repository) list(match func(types.Account) bool) ([]types.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ListErr != nil {
		return nil, r.ListErr
	}
	out := make([]types.Account, 0)
	for _, acc := range r.accounts {
		if match(acc) {
			out = append(out, acc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Repository) taken(username string, except int64) bool {
	for id, acc := range r.accounts {
		if id != except && strings.EqualFold(acc.Username, username) {
			return true
		}
	}
	return false
}

func (r *Repository) snapshot() map[int64]types.Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := make(map[int64]types.Account, len(r.accounts))
	for id, acc := range r.accounts {
		copied[id] = acc
	}
	return copied
}

func (r *Repository) restore(accounts map[int64]types.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts = accounts
}

// Transactor gives Repository commit-or-rollback semantics by restoring a
// snapshot when fn fails.
type Transactor struct {
	repo      *Repository
	Commits   int
	Rollbacks int
}

func NewTransactor(repo *Repository) *Transactor {
	return &Transactor{repo: repo}
}

func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	saved := t.repo.snapshot()
	if err := fn(ctx); err != nil {
		t.repo.restore(saved)
		t.Rollbacks++
		return err
	}
	t.Commits++
	return nil
}

// Dispatcher records dispatched notifications. Accounts listed in Fail are
// rejected with notify.ErrDeliveryError.
type Dispatcher struct {
	mu   sync.Mutex
	Sent []Dispatch
	Fail map[string]bool
}

// Dispatch is one recorded notification.
type Dispatch struct {
	Username string
	Stage    types.Stage
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{Fail: map[string]bool{}}
}

func (d *Dispatcher) Dispatch(ctx context.Context, acc types.Account, stage types.Stage) (notify.Receipt, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Fail[acc.Username] {
		return notify.Receipt{}, notify.ErrDeliveryError
	}
	d.Sent = append(d.Sent, Dispatch{Username: acc.Username, Stage: stage})
	return notify.Receipt{Stage: stage, MessageID: "msg-" + acc.Username, Sent: true}, nil
}

// ErrPartyFailure is returned by Party for accounts listed in Fail.
var ErrPartyFailure = errors.New("party service unavailable")

// Party records respondent deletions. Accounts listed in Fail are rejected.
// Each call waits Delay first and gives up when ctx is done.
type Party struct {
	mu      sync.Mutex
	Deleted []string
	Fail    map[string]bool
	Delay   time.Duration
}

func NewParty() *Party {
	return &Party{Fail: map[string]bool{}}
}

func (p *Party) DeleteRespondent(ctx context.Context, email string) error {
	if p.Delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay):
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Fail[email] {
		return ErrPartyFailure
	}
	p.Deleted = append(p.Deleted, email)
	return nil
}
