package identity

import (
	"encoding/hex"
	"errors"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// BcryptHasher is the default PasswordHasher. A zero Cost uses the package
// default.
type BcryptHasher struct {
	Cost int
}

// HashPassword will generate a password hash
func (b BcryptHasher) HashPassword(password string) (string, error) {
	if b.Cost == 0 {
		return HashPassword(password)
	}
	return hashPasswordWithCost(password, b.Cost)
}

// ComparePasswordAndHash implements PasswordHasher.
func (BcryptHasher) ComparePasswordAndHash(password, hash string) error {
	return ComparePasswordAndHash(password, hash)
}

// HashPassword will generate a password hash
func HashPassword(password string) (string, error) {
	return hashPasswordWithCost(password, passwordHashCost())
}

func hashPasswordWithCost(password string, cost int) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return "", ErrPasswordHashCost.Clone().WithMetadata(map[string]any{"cost": cost})
	}

	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	return string(h), err
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func ComparePasswordAndHash(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrInvalidCredentials
		}
		return err
	}
	return nil
}

// RandomPassword returns a throwaway password for identities that must be
// created with one but should not be usable until credentials are set up.
func RandomPassword() string {
	a, b := uuid.New(), uuid.New()
	return "Aa1!" + hex.EncodeToString(a[:]) + hex.EncodeToString(b[:])
}
