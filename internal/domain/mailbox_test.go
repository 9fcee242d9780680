package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaggedAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		tag     string
		want    string
	}{
		{"no tag", "user@example.com", "", "user@example.com"},
		{"with tag", "user@example.com", "a1b2", "user+a1b2@example.com"},
		{"malformed address", "not-an-address", "a1b2", "not-an-address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := MailboxSession{Address: tt.address, Tag: tt.tag}
			assert.Equal(t, tt.want, session.TaggedAddress())
		})
	}
}
