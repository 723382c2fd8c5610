package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessClaims are the claims carried by access tokens. The subject is the
// account email.
type AccessClaims struct {
	jwt.RegisteredClaims
	AccountID string   `json:"accountId"`
	Email     string   `json:"email"`
	Roles     []string `json:"roles"`
}

// HasRole reports whether the claims carry role.
func (c *AccessClaims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Expires returns the expiry time, zero when unset.
func (c *AccessClaims) Expires() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// Principal converts validated claims into the caller principal.
func (c *AccessClaims) Principal() (Principal, error) {
	id, err := uuid.Parse(c.AccountID)
	if err != nil {
		return Principal{}, ErrTokenMalformed.Clone().WithMetadata(map[string]any{
			"claim": "accountId",
		})
	}

	email := c.Email
	if email == "" {
		email = c.Subject
	}

	return Principal{
		AccountID: id,
		Email:     email,
		Roles:     RolesFromStrings(c.Roles),
	}, nil
}
