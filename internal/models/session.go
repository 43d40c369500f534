package models

import (
	"time"

	"github.com/google/uuid"
)

// Session is the caller identity threaded explicitly through every workflow call.
type Session struct {
	UserID           uuid.UUID
	Email            string
	Role             string
	EmailConfirmedAt *time.Time
	Metadata         Metadata
}

// EmailConfirmed reports whether the backend has stamped the email as confirmed.
func (s *Session) EmailConfirmed() bool {
	return s != nil && s.EmailConfirmedAt != nil && !s.EmailConfirmedAt.IsZero()
}

// SessionFromAccount builds a Session from its account row.
func SessionFromAccount(a *Account) *Session {
	return &Session{
		UserID:           a.ID,
		Email:            a.Email,
		Role:             a.Role,
		EmailConfirmedAt: a.EmailConfirmedAt,
		Metadata:         a.Metadata,
	}
}
