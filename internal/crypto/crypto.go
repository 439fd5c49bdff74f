// Package crypto implements the one-way password transform and verification
// token generation.
package crypto

import (
	"github.com/gofrs/uuid/v5"
	"golang.org/x/crypto/bcrypt"
)

// HashPassword returns the stored form of a password.
func HashPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}

// VerifyPassword reports whether password matches the stored form.
func VerifyPassword(password string, stored []byte) bool {
	return bcrypt.CompareHashAndPassword(stored, []byte(password)) == nil
}

// NewToken returns an opaque, unguessable verification token.
func NewToken() (string, error) {
	u, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	return u.String(), nil
}
