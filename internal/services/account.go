package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ras-rm/auth-service/internal/account"
	"github.com/ras-rm/auth-service/internal/logging"
	"github.com/ras-rm/auth-service/types"
)

// AccountRepository defines persistence operations for single accounts.
type AccountRepository interface {
	GetByUsername(ctx context.Context, username string) (types.Account, error)
	Create(ctx context.Context, account types.Account) (types.Account, error)
	Update(ctx context.Context, account types.Account) (types.Account, error)
}

// Transactor runs fn inside one commit-or-rollback unit. Repositories called
// with the ctx passed to fn join the transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// AccountService encapsulates account use-cases behind the HTTP API.
type AccountService struct {
	repo    AccountRepository
	tx      Transactor
	machine *account.Machine
	logger  *zap.Logger
}

// NewAccountService constructs an AccountService. A nil logger discards output.
func NewAccountService(repo AccountRepository, tx Transactor, machine *account.Machine, logger *zap.Logger) *AccountService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountService{repo: repo, tx: tx, machine: machine, logger: logger}
}

// Create stores a new unverified account. A username already taken under
// case-insensitive comparison yields store.ErrConflict.
func (s *AccountService) Create(ctx context.Context, username, password string) (types.Account, error) {
	acc, err := s.machine.New(username, password)
	if err != nil {
		return types.Account{}, err
	}

	var created types.Account
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		created, err = s.repo.Create(ctx, acc)
		return err
	})
	if err != nil {
		return types.Account{}, fmt.Errorf("create account: %w", err)
	}
	s.logger.Info("successfully created account", zap.Int64("user_id", created.ID))
	return created, nil
}

// Get returns the account registered under username.
func (s *AccountService) Get(ctx context.Context, username string) (types.Account, error) {
	return s.repo.GetByUsername(ctx, username)
}

// Update applies a partial change to the account registered under username.
func (s *AccountService) Update(ctx context.Context, username string, update account.Update) (types.Account, error) {
	return s.mutate(ctx, username, func(acc *types.Account) error {
		return s.machine.ApplyUpdate(acc, update)
	})
}

// RequestSoftDelete marks the account for deletion. With force set the mark
// can no longer be cleared by user activity.
func (s *AccountService) RequestSoftDelete(ctx context.Context, username string, force bool) error {
	_, err := s.mutate(ctx, username, func(acc *types.Account) error {
		s.machine.RequestSoftDelete(acc, force)
		return nil
	})
	return err
}

// AdministrativePatch overrides deletion flags and notification stamps.
func (s *AccountService) AdministrativePatch(ctx context.Context, username string, patch account.AdminPatch) (types.Account, error) {
	return s.mutate(ctx, username, func(acc *types.Account) error {
		return s.machine.ApplyAdminPatch(acc, patch)
	})
}

// Authorise checks a login attempt. Failed-login counting and lockout are
// committed before the authorization error is returned.
func (s *AccountService) Authorise(ctx context.Context, username, password string) error {
	logger := s.logger.With(logging.Email("obfuscated_username", username))

	var authErr error
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		acc, err := s.repo.GetByUsername(ctx, username)
		if err != nil {
			return err
		}
		authErr = s.machine.Authorise(&acc, password)
		_, err = s.repo.Update(ctx, acc)
		return err
	})
	if err != nil {
		logger.Info("unable to authorise user", zap.Error(err))
		return err
	}
	if authErr != nil {
		logger.Info("user is unauthorised", zap.String("description", authErr.Error()))
		return authErr
	}
	logger.Info("user credentials correct")
	return nil
}

func (s *AccountService) mutate(ctx context.Context, username string, apply func(*types.Account) error) (types.Account, error) {
	var updated types.Account
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		acc, err := s.repo.GetByUsername(ctx, username)
		if err != nil {
			return err
		}
		if err := apply(&acc); err != nil {
			return err
		}
		updated, err = s.repo.Update(ctx, acc)
		return err
	})
	if err != nil {
		return types.Account{}, err
	}
	s.logger.Info("successfully updated account", zap.Int64("user_id", updated.ID))
	return updated, nil
}
