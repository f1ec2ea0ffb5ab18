// Package password wraps bcrypt hashing and verification with the
// fixed cost the engine uses everywhere.
package password

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Cost is the bcrypt work factor applied to every hash.
const Cost = 12

// MinLength is the minimum accepted password length in bytes.
const MinLength = 8

// ErrTooShort is returned by Hash for passwords below MinLength.
var ErrTooShort = errors.New("password too short")

// Hash derives a bcrypt hash of plain. The input is used exactly as
// provided: no trimming, no Unicode normalization.
func Hash(plain string) (string, error) {
	if len(plain) < MinLength {
		return "", ErrTooShort
	}
	h, err := bcrypt.GenerateFromPassword([]byte(plain), Cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Verify reports whether plain matches hash. The comparison cost is
// fixed by the bcrypt work factor embedded in the hash. An empty hash
// (OAuth-only account) never matches.
func Verify(plain, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
