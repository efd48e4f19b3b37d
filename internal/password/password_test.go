package password

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHashAndVerify(t *testing.T) {
	vault := NewVault(bcrypt.MinCost)

	digest, err := vault.Hash("correct horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if digest == "correct horse" {
		t.Fatalf("digest must not equal the plaintext")
	}
	if !strings.HasPrefix(digest, "$2") {
		t.Fatalf("expected bcrypt digest, got %q", digest)
	}
	if !vault.Verify("correct horse", digest) {
		t.Fatalf("expected password to verify")
	}
	if vault.Verify("wrong horse", digest) {
		t.Fatalf("expected wrong password to fail")
	}
}

func TestHashRejectsEmpty(t *testing.T) {
	vault := NewVault(bcrypt.MinCost)
	if _, err := vault.Hash(""); !errors.Is(err, ErrEmptyPassword) {
		t.Fatalf("expected ErrEmptyPassword, got %v", err)
	}
}

func TestHashLongPassword(t *testing.T) {
	vault := NewVault(bcrypt.MinCost)
	long := strings.Repeat("a", 72) + "b"

	digest, err := vault.Hash(long)
	if err != nil {
		t.Fatalf("hash 73-byte password: %v", err)
	}
	if !vault.Verify(long, digest) {
		t.Fatalf("expected long password to verify")
	}
	if !vault.Verify(long[:72], digest) {
		t.Fatalf("expected bytes past 72 to be ignored")
	}
	if vault.Verify(long[:71], digest) {
		t.Fatalf("a shorter prefix must not verify")
	}
}

func TestVerifyMalformedDigest(t *testing.T) {
	vault := NewVault(bcrypt.MinCost)
	for _, digest := range []string{"", "not-a-hash", "$2b$12$short"} {
		if vault.Verify("password", digest) {
			t.Fatalf("malformed digest %q must not verify", digest)
		}
	}
}

func TestVerifyLegacy2bDigest(t *testing.T) {
	vault := NewVault(bcrypt.MinCost)
	digest, err := vault.Hash("password")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	legacy := "$2b$" + digest[4:]
	if !vault.Verify("password", legacy) {
		t.Fatalf("expected $2b$ digest to verify")
	}
}

func TestNewVaultCost(t *testing.T) {
	if got := NewVault(0).Cost(); got != DefaultCost {
		t.Fatalf("expected default cost %d, got %d", DefaultCost, got)
	}
	if got := NewVault(13).Cost(); got != 13 {
		t.Fatalf("expected cost 13, got %d", got)
	}
}
