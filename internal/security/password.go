// Package security holds password hashing, one-time codes and code delivery
// for user logins.
package security

import (
	"errors"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
	"golang.org/x/crypto/bcrypt"
)

// Password hashing schemes.
const (
	HashBcrypt   = "bcrypt"
	HashArgon2id = "argon2id"
)

var ErrPasswordMismatch = errors.New("password does not match")

// PasswordHasher hashes new passwords with one scheme and checks hashes made
// with either.
type PasswordHasher struct {
	scheme string
}

// NewPasswordHasher returns a hasher for scheme. Empty means bcrypt.
func NewPasswordHasher(scheme string) (PasswordHasher, error) {
	switch strings.ToLower(strings.TrimSpace(scheme)) {
	case "", HashBcrypt:
		return PasswordHasher{scheme: HashBcrypt}, nil
	case HashArgon2id:
		return PasswordHasher{scheme: HashArgon2id}, nil
	default:
		return PasswordHasher{}, fmt.Errorf("unknown password hash scheme %q", scheme)
	}
}

// Scheme reports the scheme new hashes use.
func (h PasswordHasher) Scheme() string { return h.scheme }

// Hash returns an encoded hash of password.
func (h PasswordHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", errors.New("password required")
	}
	if h.scheme == HashArgon2id {
		return argon2id.CreateHash(password, argon2id.DefaultParams)
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Compare checks password against hash, picking the scheme from the hash
// prefix. A wrong password returns ErrPasswordMismatch.
func (h PasswordHasher) Compare(password, hash string) error {
	if strings.HasPrefix(hash, "$argon2id$") {
		ok, err := argon2id.ComparePasswordAndHash(password, hash)
		if err != nil {
			return err
		}
		if !ok {
			return ErrPasswordMismatch
		}
		return nil
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrPasswordMismatch
	}
	return err
}
