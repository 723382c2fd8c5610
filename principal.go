package identity

import "github.com/google/uuid"

// ActorRef identifies who or what triggered an action.
type ActorRef struct {
	ID   string
	Type string
}

const (
	ActorTypeAccount = "account"
	ActorTypeSystem  = "system"
)

// SystemActor is used for actions not driven by an authenticated caller.
var SystemActor = ActorRef{ID: "system", Type: ActorTypeSystem}

// Principal is the authenticated caller of an operation. It is built from
// validated access token claims and passed explicitly.
type Principal struct {
	AccountID uuid.UUID
	Email     string
	Roles     Roles
}

// IsAdmin reports whether the principal may drive the activation workflow.
func (p Principal) IsAdmin() bool {
	return p.Roles.Has(RoleAdmin)
}

// IsZero reports whether the principal is unauthenticated.
func (p Principal) IsZero() bool {
	return p.AccountID == uuid.Nil
}

// Actor returns the ActorRef recorded in activity events.
func (p Principal) Actor() ActorRef {
	if p.IsZero() {
		return SystemActor
	}
	return ActorRef{ID: p.AccountID.String(), Type: ActorTypeAccount}
}

// PrincipalFor builds the principal of an account, used right after login.
func PrincipalFor(account *Account) Principal {
	return Principal{
		AccountID: account.ID,
		Email:     account.Email,
		Roles:     account.Roles,
	}
}

func requireAdmin(p Principal) error {
	if p.IsZero() || !p.IsAdmin() {
		return ErrForbidden.Clone().WithMetadata(map[string]any{
			"required_role": string(RoleAdmin),
		})
	}
	return nil
}
