// Package account owns the lifecycle rules of a single account: login,
// lockout, verification, soft deletion and administrative overrides.
package account

import (
	"fmt"
	"strings"
	"time"

	"github.com/ras-rm/auth-service/types"
)

// DefaultMaxFailedLogins is the lockout threshold used when none is configured.
const DefaultMaxFailedLogins = 10

// Policy carries the tunable lifecycle constants.
type Policy struct {
	MaxFailedLogins int
}

// DefaultPolicy returns the production lockout policy.
func DefaultPolicy() Policy {
	return Policy{MaxFailedLogins: DefaultMaxFailedLogins}
}

// PasswordVault hashes and verifies credentials.
type PasswordVault interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, digest string) bool
}

// Machine applies state transitions to accounts. It never touches storage;
// callers persist the mutated account inside a transaction.
type Machine struct {
	policy Policy
	vault  PasswordVault
	now    func() time.Time
}

// NewMachine constructs a Machine. A nil clock defaults to time.Now in UTC.
func NewMachine(policy Policy, vault PasswordVault, now func() time.Time) *Machine {
	if policy.MaxFailedLogins < 1 {
		policy.MaxFailedLogins = DefaultMaxFailedLogins
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Machine{policy: policy, vault: vault, now: now}
}

// New builds an unverified, unlocked account with a hashed password.
func (m *Machine) New(username, plaintext string) (types.Account, error) {
	username = strings.TrimSpace(username)
	if username == "" || plaintext == "" {
		return types.Account{}, fmt.Errorf("%w: username and password are required", ErrInvalidInput)
	}
	hashed, err := m.vault.Hash(plaintext)
	if err != nil {
		return types.Account{}, err
	}
	return types.Account{
		Username:            username,
		HashedPassword:      hashed,
		AccountCreationDate: m.now(),
	}, nil
}

// Authorise checks a login attempt. The account is mutated even when an
// error is returned (failed login counting and lockout), so callers must
// persist it in both cases.
func (m *Machine) Authorise(acc *types.Account, plaintext string) error {
	if !m.vault.Verify(plaintext, acc.HashedPassword) {
		acc.FailedLogins++
		if acc.FailedLogins >= m.policy.MaxFailedLogins {
			acc.AccountLocked = true
		}
		if acc.AccountLocked {
			return ErrLocked
		}
		return ErrUnauthorized
	}
	if acc.AccountLocked {
		return ErrLocked
	}
	if !acc.AccountVerified {
		return ErrNotVerified
	}
	if acc.ForceDelete {
		return ErrDeleted
	}

	now := m.now()
	acc.FailedLogins = 0
	acc.LastLoginDate = &now
	m.clearPendingDeletion(acc)
	acc.ClearNotifications()
	return nil
}

// Update is a partial change requested through the account update endpoint.
// Nil fields are left untouched.
type Update struct {
	NewUsername     *string
	AccountVerified *bool
	Password        *string
	AccountLocked   *bool
}

// Empty reports whether the update carries no change.
func (u Update) Empty() bool {
	return u.NewUsername == nil && u.AccountVerified == nil && u.Password == nil && u.AccountLocked == nil
}

// ApplyUpdate validates u and then applies it. Nothing is mutated when
// validation fails. Uniqueness of a new username is enforced by storage.
func (m *Machine) ApplyUpdate(acc *types.Account, u Update) error {
	if u.NewUsername != nil && strings.TrimSpace(*u.NewUsername) == "" {
		return fmt.Errorf("%w: new_username is empty", ErrInvalidInput)
	}
	var hashed string
	if u.Password != nil {
		if *u.Password == "" {
			return fmt.Errorf("%w: password is empty", ErrInvalidInput)
		}
		var err error
		if hashed, err = m.vault.Hash(*u.Password); err != nil {
			return err
		}
	}

	if u.NewUsername != nil {
		acc.Username = strings.TrimSpace(*u.NewUsername)
	}
	if u.AccountVerified != nil {
		m.setVerified(acc, *u.AccountVerified)
	}
	if u.Password != nil {
		acc.HashedPassword = hashed
	}
	// Locking is only ever done by failed logins; an explicit true is ignored.
	if u.AccountLocked != nil && !*u.AccountLocked {
		m.Unlock(acc)
	}
	return nil
}

// Unlock clears the lockout and counts the account as verified.
func (m *Machine) Unlock(acc *types.Account) {
	acc.FailedLogins = 0
	acc.AccountLocked = false
	m.setVerified(acc, true)
	m.clearPendingDeletion(acc)
}

// RequestSoftDelete marks the account for deletion without removing it.
// With force set the deletion can no longer be undone by user activity.
func (m *Machine) RequestSoftDelete(acc *types.Account, force bool) {
	acc.MarkForDeletion = true
	if force {
		acc.ForceDelete = true
	}
}

// AdminPatch overrides retention fields directly. A stage present in
// Notifications with a nil value clears that stamp.
type AdminPatch struct {
	MarkForDeletion *bool
	ForceDelete     *bool
	Notifications   map[types.Stage]*time.Time
}

// Empty reports whether the patch carries no change.
func (p AdminPatch) Empty() bool {
	return p.MarkForDeletion == nil && p.ForceDelete == nil && len(p.Notifications) == 0
}

// ApplyAdminPatch applies an administrative override. It is the only
// operation allowed to clear a forced deletion.
func (m *Machine) ApplyAdminPatch(acc *types.Account, p AdminPatch) error {
	if p.Empty() {
		return fmt.Errorf("%w: patch carries no recognised field", ErrInvalidInput)
	}
	for stage := range p.Notifications {
		if !stage.Valid() {
			return fmt.Errorf("%w: %s", ErrInvalidInput, stage)
		}
	}

	if p.ForceDelete != nil {
		acc.ForceDelete = *p.ForceDelete
	}
	if p.MarkForDeletion != nil {
		acc.MarkForDeletion = *p.MarkForDeletion
	}
	for stage, at := range p.Notifications {
		acc.SetNotification(stage, at)
	}
	return nil
}

func (m *Machine) setVerified(acc *types.Account, verified bool) {
	if verified && !acc.AccountVerified {
		now := m.now()
		acc.AccountVerificationDate = &now
	}
	acc.AccountVerified = verified
}

func (m *Machine) clearPendingDeletion(acc *types.Account) {
	if !acc.ForceDelete {
		acc.MarkForDeletion = false
	}
}
