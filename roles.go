package identity

import (
	"database/sql/driver"
	"fmt"
	"sort"
	"strings"
)

// Role is one of a fixed set of account roles.
type Role string

const (
	// RoleUser is a regular account, active from registration
	RoleUser Role = "user"
	// RoleProfessional requires administrator approval before login
	RoleProfessional Role = "professional"
	// RoleAdmin drives the activation workflow
	RoleAdmin Role = "admin"
)

// IsValid checks if the role is one of the predefined roles
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleProfessional, RoleAdmin:
		return true
	default:
		return false
	}
}

// ParseRole safely parses a string into a Role
func ParseRole(s string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(s)))
	return role, role.IsValid()
}

// GetAllRoles returns all predefined roles
func GetAllRoles() []Role {
	return []Role{RoleUser, RoleProfessional, RoleAdmin}
}

// Roles is the role set of an account. It is stored as a sorted comma
// separated list so it can be filtered with LIKE on every dialect.
type Roles []Role

// NewRoles builds a deduplicated role set.
func NewRoles(roles ...Role) Roles {
	out := make(Roles, 0, len(roles))
	for _, r := range roles {
		if r == "" || out.Has(r) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Has reports whether role is in the set.
func (rs Roles) Has(role Role) bool {
	for _, r := range rs {
		if r == role {
			return true
		}
	}
	return false
}

// Strings returns the roles as plain strings, used for token claims.
func (rs Roles) Strings() []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = string(r)
	}
	return out
}

// RolesFromStrings parses claim values, dropping unknown roles.
func RolesFromStrings(values []string) Roles {
	roles := make([]Role, 0, len(values))
	for _, v := range values {
		if r, ok := ParseRole(v); ok {
			roles = append(roles, r)
		}
	}
	return NewRoles(roles...)
}

// Value implements driver.Valuer.
func (rs Roles) Value() (driver.Value, error) {
	return strings.Join(NewRoles(rs...).Strings(), ","), nil
}

// Scan implements sql.Scanner.
func (rs *Roles) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case nil:
		*rs = Roles{}
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("roles: unsupported scan type %T", src)
	}

	parts := strings.Split(raw, ",")
	*rs = RolesFromStrings(parts)
	return nil
}

// RoleFilterPattern returns the LIKE pattern matching accounts holding role.
func RoleFilterPattern(role Role) string {
	return "%" + string(role) + "%"
}
