package models

import (
	"time"

	"github.com/google/uuid"
)

// User is owned by the identity boundary; chat references it by id only.
// Username and Email are nullable so that placeholder accounts imported from
// historical data can exist without identifying fields.
type User struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	Username       *string    `json:"username,omitempty" db:"username"`
	Email          *string    `json:"email,omitempty" db:"email"`
	DisplayName    string     `json:"displayName" db:"display_name"`
	HashedPassword *string    `json:"-" db:"password_hash"`
	CreatedAt      time.Time  `json:"createdAt" db:"created_at"`
	LastActive     *time.Time `json:"lastActive,omitempty" db:"last_active"`
}

// IsGhost reports whether the user record carries no identifying fields.
// Activity checks live in the store; this only covers the row itself.
func (u *User) IsGhost() bool {
	return (u.Username == nil || *u.Username == "") && (u.Email == nil || *u.Email == "")
}
