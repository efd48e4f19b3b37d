package account

import "errors"

// Authorization failures.
var (
	ErrUnauthorized = errors.New("unauthorized user credentials")
	ErrLocked       = errors.New("user account locked")
	ErrNotVerified  = errors.New("user account not verified")
	ErrDeleted      = errors.New("user account has been deleted")
)

// Validation failures. No account state is mutated when one is returned.
var (
	ErrInvalidBoolean = errors.New("invalid boolean value")
	ErrInvalidInput   = errors.New("invalid input")
)

// IsAuthorizationError reports whether err is one of the authorise() failures.
func IsAuthorizationError(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrLocked) ||
		errors.Is(err, ErrNotVerified) ||
		errors.Is(err, ErrDeleted)
}

// IsValidationError reports whether err was caused by malformed input.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidBoolean) || errors.Is(err, ErrInvalidInput)
}
