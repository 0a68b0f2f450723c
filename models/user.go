package models

import (
	"time"

	"github.com/google/uuid"
)

// Role names stored in the roles table.
const (
	RoleUser    = "ROLE_USER"
	RoleManager = "ROLE_MANAGER"
	RoleAdmin   = "ROLE_ADMIN"
)

// User is an account of the ticket logger. The email doubles as the token
// subject.
type User struct {
	ID                  uuid.UUID  `json:"id" db:"id"`
	Email               string     `json:"email" db:"email"`
	PasswordHash        string     `json:"-" db:"password_hash"`
	Active              bool       `json:"active" db:"active"`
	AccountNonLocked    bool       `json:"account_non_locked" db:"account_non_locked"`
	EmailVerified       bool       `json:"email_verified" db:"email_verified"`
	MustChangePassword  bool       `json:"must_change_password" db:"must_change_password"`
	FailedLoginAttempts int        `json:"failed_login_attempts" db:"failed_login_attempts"`
	LastPasswordChange  *time.Time `json:"last_password_change,omitempty" db:"last_password_change"`
	PasswordExpiresAt   *time.Time `json:"password_expires_at,omitempty" db:"password_expires_at"`
	Roles               []string   `json:"roles"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
}

// NewUser creates an active, unlocked user.
func NewUser(email, passwordHash string, roles ...string) *User {
	now := time.Now()
	return &User{
		ID:               uuid.New(),
		Email:            email,
		PasswordHash:     passwordHash,
		Active:           true,
		AccountNonLocked: true,
		Roles:            append([]string{}, roles...),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Subject is the identifier written to the sub claim of the user's tokens.
func (u *User) Subject() string {
	return u.Email
}

// CanAuthenticate reports whether the account may hold a session.
func (u *User) CanAuthenticate() bool {
	return u.Active && u.AccountNonLocked
}
