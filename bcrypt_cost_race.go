//go:build race

package identity

import "golang.org/x/crypto/bcrypt"

// Race builds run the package tests with the bcrypt default cost.
func passwordHashCost() int {
	return bcrypt.DefaultCost
}
