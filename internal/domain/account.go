package domain

import "time"

// Account holds the identity being registered and, once the flow reaches the
// session checkpoint, the extracted credentials.
type Account struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Token     string
	CreatedAt time.Time
}

// HasCredentials reports whether the account already carries a usable session
// token. Extraction is idempotent, so this may flip to true at any transition
// after the checkpoint.
func (a *Account) HasCredentials() bool {
	return a != nil && a.Email != "" && a.Token != ""
}
