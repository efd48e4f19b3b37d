package types

import "time"

// Account represents the credentials and retention state of a respondent.
// It is the only entity owned by the service.
type Account struct {
	// ID is the surrogate key of the account.
	ID int64 `json:"id" db:"id"`

	// Username is the login identity, usually an email address.
	// Lookups are case-insensitive.
	Username string `json:"username" db:"username"`

	// HashedPassword stores the bcrypt digest of the password.
	// This field is never exposed in API responses.
	HashedPassword string `json:"-" db:"hashed_password"`

	// AccountVerified gates a successful login.
	AccountVerified bool `json:"account_verified" db:"account_verified"`

	// AccountLocked rejects authentication even with a correct password.
	AccountLocked bool `json:"account_locked" db:"account_locked"`

	// FailedLogins counts consecutive bad-password attempts.
	FailedLogins int `json:"failed_logins" db:"failed_logins"`

	// AccountCreationDate is set once when the account is created.
	AccountCreationDate time.Time `json:"account_creation_date" db:"account_creation_date"`

	// AccountVerificationDate is set when verification flips to true.
	AccountVerificationDate *time.Time `json:"account_verification_date" db:"account_verification_date"`

	// LastLoginDate is set on every successful login.
	LastLoginDate *time.Time `json:"last_login_date" db:"last_login_date"`

	// FirstNotification, SecondNotification and ThirdNotification record when the
	// due-deletion notification of that stage was last sent. Nil means not yet sent
	// for the current inactivity episode.
	FirstNotification  *time.Time `json:"first_notification" db:"first_notification"`
	SecondNotification *time.Time `json:"second_notification" db:"second_notification"`
	ThirdNotification  *time.Time `json:"third_notification" db:"third_notification"`

	// MarkForDeletion is the reversible soft-delete flag.
	MarkForDeletion bool `json:"mark_for_deletion" db:"mark_for_deletion"`

	// ForceDelete makes MarkForDeletion sticky against user activity.
	ForceDelete bool `json:"force_delete" db:"force_delete"`
}

// LastActivity returns the timestamp retention windows are measured from:
// the last login, or the creation date for accounts that never logged in.
func (a Account) LastActivity() time.Time {
	if a.LastLoginDate != nil {
		return *a.LastLoginDate
	}
	return a.AccountCreationDate
}

// Notification returns the stamp recorded for the given stage.
func (a Account) Notification(stage Stage) *time.Time {
	switch stage {
	case StageFirst:
		return a.FirstNotification
	case StageSecond:
		return a.SecondNotification
	case StageThird:
		return a.ThirdNotification
	default:
		return nil
	}
}

// SetNotification records (or clears, when at is nil) the stamp for a stage.
func (a *Account) SetNotification(stage Stage, at *time.Time) {
	switch stage {
	case StageFirst:
		a.FirstNotification = at
	case StageSecond:
		a.SecondNotification = at
	case StageThird:
		a.ThirdNotification = at
	}
}

// ClearNotifications resets all three stage stamps.
func (a *Account) ClearNotifications() {
	a.FirstNotification = nil
	a.SecondNotification = nil
	a.ThirdNotification = nil
}
