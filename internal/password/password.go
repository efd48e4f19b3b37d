// Package password hashes and verifies account credentials with bcrypt.
package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt work factor used when none is configured.
const DefaultCost = 12

// maxKeyLen is the number of password bytes bcrypt consumes.
const maxKeyLen = 72

// ErrEmptyPassword is returned when asked to hash an empty string.
var ErrEmptyPassword = errors.New("password is empty")

// Vault hashes and verifies passwords with a fixed bcrypt cost.
type Vault struct {
	cost int
}

// NewVault returns a Vault using cost, or DefaultCost when cost is out of range.
// The service takes cost from config, which never goes below DefaultCost.
func NewVault(cost int) *Vault {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	return &Vault{cost: cost}
}

// Cost returns the configured bcrypt work factor.
func (v *Vault) Cost() int {
	return v.cost
}

// Hash returns a self-describing bcrypt digest of plaintext. Only the first
// 72 bytes are significant.
func (v *Vault) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyPassword
	}
	hashed, err := bcrypt.GenerateFromPassword(key(plaintext), v.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

// Verify reports whether plaintext matches digest. A malformed digest never
// matches.
func (v *Vault) Verify(plaintext, digest string) bool {
	if plaintext == "" || digest == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), key(plaintext)) == nil
}

// key truncates plaintext to the bytes bcrypt uses, so longer passwords hash
// instead of failing.
func key(plaintext string) []byte {
	b := []byte(plaintext)
	if len(b) > maxKeyLen {
		b = b[:maxKeyLen]
	}
	return b
}
