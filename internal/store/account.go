package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/ras-rm/auth-service/internal/db"
	"github.com/ras-rm/auth-service/types"
)

const accountColumns = `
	id, username, hashed_password, account_verified, account_locked, failed_logins,
	account_creation_date, account_verification_date, last_login_date,
	first_notification, second_notification, third_notification,
	mark_for_deletion, force_delete`

// AccountRepository handles persistence for accounts. Every method runs on
// the transaction bound to ctx when there is one.
type AccountRepository struct {
	db *sql.DB
}

// NewAccountRepository constructs an AccountRepository backed by db.
func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// GetByUsername looks an account up, ignoring case.
func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (types.Account, error) {
	query := `SELECT ` + accountColumns + `
		FROM accounts
		WHERE LOWER(username) = LOWER($1)`
	account, err := scanAccount(db.Conn(ctx, r.db).QueryRowContext(ctx, query, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Account{}, ErrNotFound
		}
		return types.Account{}, err
	}
	return account, nil
}

func (r *AccountRepository) Create(ctx context.Context, account types.Account) (types.Account, error) {
	if account.AccountCreationDate.IsZero() {
		account.AccountCreationDate = time.Now().UTC()
	}

	const query = `
		INSERT INTO accounts (username, hashed_password, account_verified, account_locked, failed_logins, account_creation_date)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	if err := db.Conn(ctx, r.db).QueryRowContext(
		ctx,
		query,
		account.Username,
		account.HashedPassword,
		account.AccountVerified,
		account.AccountLocked,
		account.FailedLogins,
		account.AccountCreationDate,
	).Scan(&account.ID); err != nil {
		return types.Account{}, translate(err)
	}
	return account, nil
}

// Update writes every mutable column of account. The creation date is
// never rewritten.
func (r *AccountRepository) Update(ctx context.Context, account types.Account) (types.Account, error) {
	const query = `
		UPDATE accounts
		SET username = $1,
			hashed_password = $2,
			account_verified = $3,
			account_locked = $4,
			failed_logins = $5,
			account_verification_date = $6,
			last_login_date = $7,
			first_notification = $8,
			second_notification = $9,
			third_notification = $10,
			mark_for_deletion = $11,
			force_delete = $12
		WHERE id = $13`
	result, err := db.Conn(ctx, r.db).ExecContext(
		ctx,
		query,
		account.Username,
		account.HashedPassword,
		account.AccountVerified,
		account.AccountLocked,
		account.FailedLogins,
		nullTime(account.AccountVerificationDate),
		nullTime(account.LastLoginDate),
		nullTime(account.FirstNotification),
		nullTime(account.SecondNotification),
		nullTime(account.ThirdNotification),
		account.MarkForDeletion,
		account.ForceDelete,
		account.ID,
	)
	if err != nil {
		return types.Account{}, translate(err)
	}
	if err := expectRows(result); err != nil {
		return types.Account{}, err
	}
	return account, nil
}

// ListNotificationCandidates returns accounts whose last activity lies in
// [oldest, newest] and whose stamp for stage is unset.
func (r *AccountRepository) ListNotificationCandidates(ctx context.Context, stage types.Stage, oldest, newest time.Time) ([]types.Account, error) {
	column, err := notificationColumn(stage)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + accountColumns + `
		FROM accounts
		WHERE COALESCE(last_login_date, account_creation_date) BETWEEN $1 AND $2
			AND ` + column + ` IS NULL
		ORDER BY id`
	return r.list(ctx, query, oldest, newest)
}

// ListDeletionCandidates returns unmarked accounts inactive since before
// inactiveBefore, or unverified and created before unverifiedBefore.
func (r *AccountRepository) ListDeletionCandidates(ctx context.Context, inactiveBefore, unverifiedBefore time.Time) ([]types.Account, error) {
	query := `SELECT ` + accountColumns + `
		FROM accounts
		WHERE mark_for_deletion = FALSE
			AND (COALESCE(last_login_date, account_creation_date) < $1
				OR (account_verified = FALSE AND account_creation_date < $2))
		ORDER BY id`
	return r.list(ctx, query, inactiveBefore, unverifiedBefore)
}

// ListMarkedForDeletion returns every soft-deleted account.
func (r *AccountRepository) ListMarkedForDeletion(ctx context.Context) ([]types.Account, error) {
	query := `SELECT ` + accountColumns + `
		FROM accounts
		WHERE mark_for_deletion = TRUE
		ORDER BY id`
	return r.list(ctx, query)
}

// MarkForDeletion sets the soft-delete flag on the given accounts.
func (r *AccountRepository) MarkForDeletion(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	const query = `UPDATE accounts SET mark_for_deletion = TRUE WHERE id = ANY($1)`
	result, err := db.Conn(ctx, r.db).ExecContext(ctx, query, pq.Array(ids))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// StampNotification records that the stage notification was sent to one
// account.
func (r *AccountRepository) StampNotification(ctx context.Context, id int64, stage types.Stage, at time.Time) error {
	column, err := notificationColumn(stage)
	if err != nil {
		return err
	}
	query := `UPDATE accounts SET ` + column + ` = $1 WHERE id = $2`
	result, err := db.Conn(ctx, r.db).ExecContext(ctx, query, at, id)
	if err != nil {
		return err
	}
	return expectRows(result)
}

// DeleteMarked removes an account only if it is still marked for deletion.
func (r *AccountRepository) DeleteMarked(ctx context.Context, id int64) error {
	const query = `DELETE FROM accounts WHERE id = $1 AND mark_for_deletion = TRUE`
	result, err := db.Conn(ctx, r.db).ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	return expectRows(result)
}

func (r *AccountRepository) list(ctx context.Context, query string, args ...any) ([]types.Account, error) {
	rows, err := db.Conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := make([]types.Account, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return accounts, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (types.Account, error) {
	var (
		account                                     types.Account
		verifiedAt, lastLogin, first, second, third sql.NullTime
	)
	if err := row.Scan(
		&account.ID,
		&account.Username,
		&account.HashedPassword,
		&account.AccountVerified,
		&account.AccountLocked,
		&account.FailedLogins,
		&account.AccountCreationDate,
		&verifiedAt,
		&lastLogin,
		&first,
		&second,
		&third,
		&account.MarkForDeletion,
		&account.ForceDelete,
	); err != nil {
		return types.Account{}, err
	}
	account.AccountCreationDate = account.AccountCreationDate.UTC()
	account.AccountVerificationDate = timePtr(verifiedAt)
	account.LastLoginDate = timePtr(lastLogin)
	account.FirstNotification = timePtr(first)
	account.SecondNotification = timePtr(second)
	account.ThirdNotification = timePtr(third)
	return account, nil
}

func notificationColumn(stage types.Stage) (string, error) {
	switch stage {
	case types.StageFirst:
		return "first_notification", nil
	case types.StageSecond:
		return "second_notification", nil
	case types.StageThird:
		return "third_notification", nil
	default:
		return "", fmt.Errorf("unknown notification stage %s", stage)
	}
}

func expectRows(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	utc := t.Time.UTC()
	return &utc
}
