package identity

import (
	"context"

	"github.com/goliatone/go-identity/middleware/jwtware"
)

// ValidationListener aliases the jwtware listener so consumers can use identity helpers directly.
type ValidationListener = jwtware.ValidationListener

// ContextEnricherAdapter stores the claims and the principal they describe in
// the request context.
func ContextEnricherAdapter(c context.Context, claims jwtware.Claims) context.Context {
	accessClaims, ok := claims.(*AccessClaims)
	if !ok || accessClaims == nil {
		return c
	}

	ctx := WithClaimsContext(c, accessClaims)
	if principal, err := accessClaims.Principal(); err == nil {
		ctx = WithPrincipal(ctx, principal)
	}
	return ctx
}

// RegisterValidationListeners appends listeners to a jwtware.Config in a safe, reusable way.
func RegisterValidationListeners(cfg *jwtware.Config, listeners ...ValidationListener) {
	if cfg == nil || len(listeners) == 0 {
		return
	}
	cfg.ValidationListeners = append(cfg.ValidationListeners, listeners...)
}

// BearerValidator adapts a TokenService to the jwtware validator contract.
func BearerValidator(tokens *TokenService) jwtware.TokenValidator {
	return jwtware.TokenValidatorFunc(func(raw string) (jwtware.Claims, error) {
		claims, err := tokens.Validate(raw)
		if err != nil {
			return nil, err
		}
		return claims, nil
	})
}
