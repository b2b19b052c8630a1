package userctrl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"logingest/src/apperr"
	"logingest/src/core/user"
)

// Account is the users table row. Roles and permissions are JSON arrays.
type Account struct {
	UserID         string         `gorm:"primaryKey;type:varchar(32)"`
	Username       string         `gorm:"type:varchar(64);uniqueIndex;not null"`
	Email          string         `gorm:"type:varchar(255);uniqueIndex;not null"`
	HashedPassword string         `gorm:"not null"`
	IsActive       bool           `gorm:"not null;default:true"`
	IsSuperuser    bool           `gorm:"not null;default:false"`
	Roles          datatypes.JSON `gorm:"not null"`
	Permissions    datatypes.JSON `gorm:"not null"`
	CreatedAt      time.Time      `gorm:"not null"`
	UpdatedAt      time.Time      `gorm:"not null"`
	LastLogin      *time.Time
}

func (Account) TableName() string { return "users" }

type Repository struct {
	db *gorm.DB
}

var _ user.Repository = (*Repository)(nil)

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Account{}); err != nil {
		return fmt.Errorf("failed to migrate users table: %w", err)
	}
	return nil
}

func (r *Repository) Create(ctx context.Context, u *user.User) error {
	row, err := toAccount(u)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperr.ErrInvalidUserData.WithMessage("Username or email already registered")
		}
		return apperr.ErrDatabase.WithMessage("Failed to create user").Wrap(err)
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, userID string) (*user.User, error) {
	return r.first(ctx, "user_id = ?", userID)
}

func (r *Repository) GetByUsername(ctx context.Context, username string) (*user.User, error) {
	return r.first(ctx, "username = ?", username)
}

func (r *Repository) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	return r.first(ctx, "email = ?", email)
}

func (r *Repository) first(ctx context.Context, cond string, arg interface{}) (*user.User, error) {
	var row Account
	err := r.db.WithContext(ctx).Where(cond, arg).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrUserNotFound
	}
	if err != nil {
		return nil, apperr.ErrDatabase.WithMessage("Failed to get user").Wrap(err)
	}
	return fromAccount(&row)
}

func (r *Repository) List(ctx context.Context, offset, limit int) ([]user.User, error) {
	var rows []Account
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Order("user_id DESC").
		Offset(offset).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, apperr.ErrDatabase.WithMessage("Failed to list users").Wrap(err)
	}

	users := make([]user.User, 0, len(rows))
	for i := range rows {
		u, err := fromAccount(&rows[i])
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, nil
}

func (r *Repository) Update(ctx context.Context, u *user.User) error {
	row, err := toAccount(u)
	if err != nil {
		return err
	}
	result := r.db.WithContext(ctx).
		Model(&Account{}).
		Where("user_id = ?", u.UserID).
		Updates(map[string]interface{}{
			"email":           row.Email,
			"hashed_password": row.HashedPassword,
			"is_active":       row.IsActive,
			"is_superuser":    row.IsSuperuser,
			"roles":           row.Roles,
			"permissions":     row.Permissions,
			"updated_at":      row.UpdatedAt,
			"last_login":      row.LastLogin,
		})
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return apperr.ErrInvalidUserData.WithMessage("Email already registered")
		}
		return apperr.ErrDatabase.WithMessage("Failed to update user").Wrap(result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.ErrUserNotFound
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, userID string) error {
	result := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&Account{})
	if result.Error != nil {
		return apperr.ErrDatabase.WithMessage("Failed to delete user").Wrap(result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.ErrUserNotFound
	}
	return nil
}

func toAccount(u *user.User) (*Account, error) {
	roles, err := json.Marshal(nonNil(u.Roles))
	if err != nil {
		return nil, fmt.Errorf("failed to encode roles: %w", err)
	}
	perms, err := json.Marshal(nonNil(u.Permissions))
	if err != nil {
		return nil, fmt.Errorf("failed to encode permissions: %w", err)
	}
	return &Account{
		UserID:         u.UserID,
		Username:       u.Username,
		Email:          u.Email,
		HashedPassword: u.HashedPassword,
		IsActive:       u.IsActive,
		IsSuperuser:    u.IsSuperuser,
		Roles:          datatypes.JSON(roles),
		Permissions:    datatypes.JSON(perms),
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
		LastLogin:      u.LastLogin,
	}, nil
}

func fromAccount(row *Account) (*user.User, error) {
	u := &user.User{
		UserID:         row.UserID,
		Username:       row.Username,
		Email:          row.Email,
		HashedPassword: row.HashedPassword,
		IsActive:       row.IsActive,
		IsSuperuser:    row.IsSuperuser,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
		LastLogin:      row.LastLogin,
	}
	if err := decodeList(row.Roles, &u.Roles); err != nil {
		return nil, apperr.ErrDatabase.WithMessage("Corrupt roles for user %s", row.UserID).Wrap(err)
	}
	if err := decodeList(row.Permissions, &u.Permissions); err != nil {
		return nil, apperr.ErrDatabase.WithMessage("Corrupt permissions for user %s", row.UserID).Wrap(err)
	}
	return u, nil
}

func decodeList(raw datatypes.JSON, out *[]string) error {
	if len(raw) == 0 {
		*out = []string{}
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return err
	}
	if *out == nil {
		*out = []string{}
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
