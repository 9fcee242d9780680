package domain

import (
	"fmt"
	"strings"
	"time"
)

// MailboxSession scopes inbox polling to one registration attempt. StartedAt
// anchors staleness filtering: a message older than StartedAt minus the
// configured tolerance belongs to a previous attempt at the same address and
// must never match.
type MailboxSession struct {
	Address   string
	Tag       string
	StartedAt time.Time
}

// NewMailboxSession builds a session for the given address, starting now.
func NewMailboxSession(address string) MailboxSession {
	return MailboxSession{
		Address:   address,
		StartedAt: time.Now(),
	}
}

// TaggedAddress returns the plus-addressed form (user+tag@host) when the
// session carries a sub-address tag, or the plain address otherwise.
func (s MailboxSession) TaggedAddress() string {
	if s.Tag == "" {
		return s.Address
	}

	at := strings.LastIndex(s.Address, "@")
	if at <= 0 {
		return s.Address
	}

	return fmt.Sprintf("%s+%s%s", s.Address[:at], s.Tag, s.Address[at:])
}
