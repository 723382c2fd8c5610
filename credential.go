package identity

// Credential is where an account's password lives. It is one of
// LocalCredential or ExternallyManagedCredential.
type Credential interface {
	credential()
}

// LocalCredential is a bcrypt hash stored on the account.
type LocalCredential struct {
	Hash string
}

// ExternallyManagedCredential is owned by the external authority. RemoteID may
// be empty while a registration has not linked the identity yet.
type ExternallyManagedCredential struct {
	RemoteID string
}

func (LocalCredential) credential()             {}
func (ExternallyManagedCredential) credential() {}

// Credential returns the credential variant of the account.
func (a *Account) Credential() Credential {
	if a.PasswordHash != "" {
		return LocalCredential{Hash: a.PasswordHash}
	}
	return ExternallyManagedCredential{RemoteID: a.RemoteID}
}

// SetCredential stores c on the account, clearing the other variant's field
// where it would be ambiguous.
func (a *Account) SetCredential(c Credential) {
	switch v := c.(type) {
	case LocalCredential:
		a.PasswordHash = v.Hash
	case ExternallyManagedCredential:
		a.PasswordHash = ""
		if v.RemoteID != "" {
			a.RemoteID = v.RemoteID
		}
	}
}
