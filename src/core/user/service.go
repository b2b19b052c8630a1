package user

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-logr/logr"
	"golang.org/x/crypto/bcrypt"

	"logingest/src/apperr"
	"logingest/src/core/authz"
)

var hashCost = bcrypt.DefaultCost

type Service struct {
	repo   Repository
	ids    *snowflake.Node
	logger logr.Logger
	now    func() time.Time
}

func NewService(repo Repository, node int64, logger logr.Logger) (*Service, error) {
	ids, err := snowflake.NewNode(node)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %w", err)
	}
	return &Service{
		repo:   repo,
		ids:    ids,
		logger: logger.WithName("user"),
		now:    time.Now,
	}, nil
}

func (s *Service) Create(ctx context.Context, p CreateParams) (*User, error) {
	username := strings.TrimSpace(p.Username)
	if username == "" || len(username) > 64 {
		return nil, apperr.ErrInvalidUserData.WithMessage("Username must be between 1 and 64 characters")
	}
	email, err := normalizeEmail(p.Email)
	if err != nil {
		return nil, err
	}
	if p.Password == "" {
		return nil, apperr.ErrInvalidUserData.WithMessage("Password is required")
	}
	roles, err := validRoles(p.Roles)
	if err != nil {
		return nil, err
	}
	perms, err := validPermissions(p.Permissions)
	if err != nil {
		return nil, err
	}

	if err := s.ensureFree(ctx, username, email); err != nil {
		return nil, err
	}

	hashed, err := hashPassword(p.Password)
	if err != nil {
		return nil, err
	}

	t := s.now().UTC()
	u := &User{
		UserID:         s.ids.Generate().String(),
		Username:       username,
		Email:          email,
		HashedPassword: hashed,
		IsActive:       p.IsActive,
		IsSuperuser:    p.IsSuperuser,
		Roles:          roles,
		Permissions:    perms,
		CreatedAt:      t,
		UpdatedAt:      t,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, apperr.Ensure(err, apperr.ErrDatabase)
	}

	s.logger.Info("User created", "user_id", u.UserID, "username", u.Username)
	return u, nil
}

func (s *Service) ensureFree(ctx context.Context, username, email string) error {
	if _, err := s.repo.GetByUsername(ctx, username); err == nil {
		return apperr.ErrInvalidUserData.WithMessage("Username already taken")
	} else if !errors.Is(err, apperr.ErrUserNotFound) {
		return apperr.Ensure(err, apperr.ErrDatabase)
	}
	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return apperr.ErrInvalidUserData.WithMessage("Email already registered")
	} else if !errors.Is(err, apperr.ErrUserNotFound) {
		return apperr.Ensure(err, apperr.ErrDatabase)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, userID string) (*User, error) {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, apperr.Ensure(err, apperr.ErrDatabase)
	}
	return u, nil
}

func (s *Service) List(ctx context.Context, offset, limit int) ([]User, error) {
	if limit < 1 || limit > 1000 || offset < 0 {
		return nil, apperr.ErrValidation.WithMessage("limit must be between 1 and 1000 and offset >= 0")
	}
	users, err := s.repo.List(ctx, offset, limit)
	if err != nil {
		return nil, apperr.Ensure(err, apperr.ErrDatabase)
	}
	return users, nil
}

// UpdateProfile changes the email of a user. An empty email is a no-op.
func (s *Service) UpdateProfile(ctx context.Context, userID, email string) (*User, error) {
	return s.update(ctx, userID, func(u *User) error {
		if email == "" {
			return nil
		}
		normalized, err := normalizeEmail(email)
		if err != nil {
			return err
		}
		if normalized == u.Email {
			return nil
		}
		if _, err := s.repo.GetByEmail(ctx, normalized); err == nil {
			return apperr.ErrInvalidUserData.WithMessage("Email already registered")
		} else if !errors.Is(err, apperr.ErrUserNotFound) {
			return err
		}
		u.Email = normalized
		return nil
	})
}

// ChangePassword requires the current password to match.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	_, err := s.update(ctx, userID, func(u *User) error {
		if !CheckPassword(u.HashedPassword, current) {
			return apperr.ErrInvalidUserData.WithMessage("Current password is incorrect")
		}
		if next == "" {
			return apperr.ErrInvalidUserData.WithMessage("New password is required")
		}
		hashed, err := hashPassword(next)
		if err != nil {
			return err
		}
		u.HashedPassword = hashed
		return nil
	})
	return err
}

func (s *Service) UpdateRoles(ctx context.Context, userID string, roles []string) (*User, error) {
	valid, err := validRoles(roles)
	if err != nil {
		return nil, err
	}
	return s.update(ctx, userID, func(u *User) error {
		u.Roles = valid
		return nil
	})
}

func (s *Service) UpdatePermissions(ctx context.Context, userID string, perms []string) (*User, error) {
	valid, err := validPermissions(perms)
	if err != nil {
		return nil, err
	}
	return s.update(ctx, userID, func(u *User) error {
		u.Permissions = valid
		return nil
	})
}

func (s *Service) UpdateStatus(ctx context.Context, userID string, active bool) (*User, error) {
	return s.update(ctx, userID, func(u *User) error {
		u.IsActive = active
		return nil
	})
}

func (s *Service) Delete(ctx context.Context, userID string) error {
	if err := s.repo.Delete(ctx, userID); err != nil {
		return apperr.Ensure(err, apperr.ErrDatabase)
	}
	s.logger.Info("User deleted", "user_id", userID)
	return nil
}

// Authenticate checks a username and password and records the login.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	u, err := s.repo.GetByUsername(ctx, username)
	if errors.Is(err, apperr.ErrUserNotFound) {
		return nil, apperr.ErrInvalidCredentials
	}
	if err != nil {
		return nil, apperr.Ensure(err, apperr.ErrDatabase)
	}
	if !CheckPassword(u.HashedPassword, password) {
		return nil, apperr.ErrInvalidCredentials
	}
	if !u.IsActive {
		return nil, apperr.ErrInactiveUser
	}

	t := s.now().UTC()
	u.LastLogin = &t
	u.UpdatedAt = t
	if err := s.repo.Update(ctx, u); err != nil {
		return nil, apperr.Ensure(err, apperr.ErrDatabase)
	}
	return u, nil
}

// Active returns the user when it still exists and is active. Refresh
// tokens of deleted or disabled users are reported as invalid tokens.
func (s *Service) Active(ctx context.Context, userID string) (*User, error) {
	u, err := s.repo.GetByID(ctx, userID)
	if errors.Is(err, apperr.ErrUserNotFound) {
		return nil, apperr.ErrInvalidToken
	}
	if err != nil {
		return nil, apperr.Ensure(err, apperr.ErrDatabase)
	}
	if !u.IsActive {
		return nil, apperr.ErrInvalidToken
	}
	return u, nil
}

func (s *Service) update(ctx context.Context, userID string, mutate func(u *User) error) (*User, error) {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, apperr.Ensure(err, apperr.ErrDatabase)
	}
	if err := mutate(u); err != nil {
		return nil, apperr.Ensure(err, apperr.ErrDatabase)
	}
	u.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, u); err != nil {
		return nil, apperr.Ensure(err, apperr.ErrDatabase)
	}
	return u, nil
}

func CheckPassword(hashed, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain)) == nil
}

func hashPassword(plain string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), hashCost)
	if err != nil {
		return "", apperr.ErrInvalidUserData.WithMessage("Password cannot be hashed").Wrap(err)
	}
	return string(hashed), nil
}

func normalizeEmail(email string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil || addr.Name != "" {
		return "", apperr.ErrInvalidUserData.WithMessage("Invalid email address")
	}
	return strings.ToLower(addr.Address), nil
}

func validRoles(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, r := range in {
		if _, ok := authz.ParseRole(r); !ok {
			return nil, apperr.ErrInvalidUserData.WithMessage("Unknown role %q", r)
		}
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out, nil
}

func validPermissions(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, p := range in {
		if _, ok := authz.ParsePermission(p); !ok {
			return nil, apperr.ErrInvalidUserData.WithMessage("Unknown permission %q", p)
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out, nil
}
