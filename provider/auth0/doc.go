// Package auth0 implements identity.ExternalAuthority on top of the Auth0
// management and authentication APIs.
//
// Professional identities are provisioned blocked, tagged with the local
// account id and activation status in app_metadata, and unblocked or blocked
// again as the activation workflow resolves them. Password logins use the
// resource owner password grant; the returned access token can optionally be
// verified against the tenant JWKS.
package auth0
