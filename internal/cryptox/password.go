// Package cryptox holds the password hashing used by the in-process portal
// backend.
package cryptox

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/argon2"

	"github.com/dmitrijs2005/campuskeeper/internal/common"
)

const saltSize = 16

var ErrEmptyPassword = errors.New("cryptox: empty password")

// PasswordHash is an argon2id digest together with its salt.
type PasswordHash struct {
	Salt []byte
	Key  []byte
}

// DeriveKey stretches password with salt into a 32-byte argon2id key.
func DeriveKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, 32)
}

// HashPassword derives a key for password under a fresh random salt.
func HashPassword(password []byte) (PasswordHash, error) {
	if len(password) == 0 {
		return PasswordHash{}, ErrEmptyPassword
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return PasswordHash{}, err
	}
	return PasswordHash{Salt: salt, Key: DeriveKey(password, salt)}, nil
}

// Verify reports whether password produces h. The comparison runs in
// constant time and the derived candidate is wiped afterwards.
func (h PasswordHash) Verify(password []byte) bool {
	if len(h.Key) == 0 {
		return false
	}
	candidate := DeriveKey(password, h.Salt)
	defer common.WipeByteArray(candidate)
	return subtle.ConstantTimeCompare(candidate, h.Key) == 1
}
