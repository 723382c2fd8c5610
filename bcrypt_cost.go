//go:build !race

package identity

// DefaultPasswordHashCost is the bcrypt cost of HashPassword.
const DefaultPasswordHashCost = 14

func passwordHashCost() int {
	return DefaultPasswordHashCost
}
