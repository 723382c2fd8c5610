// Package identity manages account registration, authentication and the
// activation lifecycle of professional accounts.
//
// Accounts:
//   - Account is the local record for anyone able to authenticate. Its
//     credential is a tagged variant: LocalCredential carries a bcrypt hash,
//     ExternallyManagedCredential references an identity owned by an
//     ExternalAuthority. Call sites switch on the variant instead of checking
//     for an empty hash.
//
// Registration:
//   - RegistrationCoordinator writes regular accounts in one step. Professional
//     accounts run a saga across the local store and the external authority;
//     the furthest completed step is persisted on the account and reported by
//     RegistrationFailed errors. Reconciler re-drives accounts left mid-saga.
//
// Activation:
//   - ActivationWorkflow moves professional accounts between PENDING, APPROVED
//     and REJECTED, keeping the local activation flag and the remote enabled
//     bit in step. Transitions accept before/after hooks and publish
//     ActivityEvents.
//
// Sessions:
//   - SessionManager verifies credentials, issues access tokens through
//     TokenService and rotates single-use refresh tokens. Login returns a
//     LoginResult whose Outcome distinguishes authenticated, pending approval
//     and rejected credentials.
//
// Every operation that acts on behalf of a caller takes an explicit Principal.
package identity
