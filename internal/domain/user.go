package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is an account of a customer or an employee.
type User struct {
	ID           uuid.UUID    `json:"id"`
	Email        string       `json:"email"`
	PasswordHash string       `json:"-"`
	FirstName    string       `json:"first_name"`
	LastName     string       `json:"last_name"`
	Role         Role         `json:"role"`
	Permissions  []Permission `json:"permissions"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Principal returns the identity used for authorization decisions.
func (u *User) Principal() Principal {
	return Principal{UserID: u.ID.String(), Role: u.Role, Permissions: u.Permissions}
}

type RefreshToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
	Revoked   bool
}
