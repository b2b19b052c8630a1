// Package user manages accounts and password login.
package user

import (
	"context"
	"time"

	"logingest/src/core/authz"
)

type User struct {
	UserID         string     `json:"user_id"`
	Username       string     `json:"username"`
	Email          string     `json:"email"`
	HashedPassword string     `json:"-"`
	IsActive       bool       `json:"is_active"`
	IsSuperuser    bool       `json:"is_superuser"`
	Roles          []string   `json:"roles"`
	Permissions    []string   `json:"permissions"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	LastLogin      *time.Time `json:"last_login"`
}

// Identity is the token subject for u.
func (u *User) Identity() authz.Identity {
	return authz.Identity{
		UserID:      u.UserID,
		Username:    u.Username,
		Email:       u.Email,
		Roles:       u.Roles,
		Permissions: u.Permissions,
	}
}

// Repository persists users. Lookups return apperr.ErrUserNotFound when
// nothing matches.
type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, userID string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context, offset, limit int) ([]User, error)
	Update(ctx context.Context, u *User) error
	Delete(ctx context.Context, userID string) error
}

type CreateParams struct {
	Username    string
	Email       string
	Password    string
	Roles       []string
	Permissions []string
	IsActive    bool
	IsSuperuser bool
}
