package auth0

import (
	"context"
	"encoding/json"
)

// Auth0CustomClaims holds the non registered claims of an Auth0 access token.
type Auth0CustomClaims struct {
	Scope         string         `json:"scope"`
	Permissions   []string       `json:"permissions"`
	Email         string         `json:"email"`
	EmailVerified bool           `json:"email_verified"`
	Metadata      map[string]any `json:"app_metadata"`
	Raw           map[string]any `json:"-"`
}

// Validate satisfies validator.CustomClaims.
func (c *Auth0CustomClaims) Validate(ctx context.Context) error {
	return nil
}

// ActivationStatus returns the activation status tagged on the identity, if
// the tenant adds app_metadata to access tokens.
func (c *Auth0CustomClaims) ActivationStatus() string {
	if c == nil || c.Metadata == nil {
		return ""
	}
	status, _ := c.Metadata[metaActivationStatus].(string)
	return status
}

// UnmarshalJSON captures both known and raw claims.
func (c *Auth0CustomClaims) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	type alias Auth0CustomClaims
	var decoded alias
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}

	*c = Auth0CustomClaims(decoded)
	c.Raw = raw
	return nil
}
