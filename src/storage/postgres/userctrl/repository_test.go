package userctrl_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"logingest/src/apperr"
	"logingest/src/core/user"
	"logingest/src/storage/postgres/userctrl"
)

func newTestRepository(t *testing.T) *userctrl.Repository {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "users.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	if err := userctrl.Migrate(db); err != nil {
		t.Fatal(err)
	}
	return userctrl.NewRepository(db)
}

func newUser(id, name string) *user.User {
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &user.User{
		UserID:         id,
		Username:       name,
		Email:          name + "@example.com",
		HashedPassword: "hash",
		IsActive:       true,
		Roles:          []string{"user"},
		CreatedAt:      t,
		UpdatedAt:      t,
	}
}

func TestCreateAndLookup(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	if err := repo.Create(ctx, newUser("1", "alice")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	lookups := []struct {
		name string
		get  func() (*user.User, error)
	}{
		{"by id", func() (*user.User, error) { return repo.GetByID(ctx, "1") }},
		{"by username", func() (*user.User, error) { return repo.GetByUsername(ctx, "alice") }},
		{"by email", func() (*user.User, error) { return repo.GetByEmail(ctx, "alice@example.com") }},
	}
	for _, tt := range lookups {
		t.Run(tt.name, func(t *testing.T) {
			u, err := tt.get()
			if err != nil {
				t.Fatal(err)
			}
			if u.UserID != "1" || len(u.Roles) != 1 || u.Roles[0] != "user" {
				t.Errorf("got %+v", u)
			}
			if u.Permissions == nil {
				t.Error("Permissions should decode to an empty slice")
			}
		})
	}

	if _, err := repo.GetByUsername(ctx, "bob"); !errors.Is(err, apperr.ErrUserNotFound) {
		t.Errorf("GetByUsername(bob) error = %v, want USER_NOT_FOUND", err)
	}
}

func TestCreateDuplicate(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	if err := repo.Create(ctx, newUser("1", "alice")); err != nil {
		t.Fatal(err)
	}
	err := repo.Create(ctx, newUser("2", "alice"))
	if !errors.Is(err, apperr.ErrInvalidUserData) {
		t.Errorf("Create(duplicate) error = %v, want INVALID_USER_DATA", err)
	}
}

func TestUpdateAndDelete(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	u := newUser("1", "alice")
	if err := repo.Create(ctx, u); err != nil {
		t.Fatal(err)
	}

	login := time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)
	u.Roles = []string{"admin", "manager"}
	u.Permissions = []string{"job:list"}
	u.IsActive = false
	u.LastLogin = &login
	if err := repo.Update(ctx, u); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Roles) != 2 || got.Permissions[0] != "job:list" || got.IsActive {
		t.Errorf("after update = %+v", got)
	}
	if got.LastLogin == nil || !got.LastLogin.Equal(login) {
		t.Errorf("LastLogin = %v, want %v", got.LastLogin, login)
	}

	if err := repo.Update(ctx, newUser("404", "ghost")); !errors.Is(err, apperr.ErrUserNotFound) {
		t.Errorf("Update(missing) error = %v, want USER_NOT_FOUND", err)
	}

	if err := repo.Delete(ctx, "1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := repo.Delete(ctx, "1"); !errors.Is(err, apperr.ErrUserNotFound) {
		t.Errorf("second Delete() error = %v, want USER_NOT_FOUND", err)
	}
}

func TestList(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	for i, name := range []string{"a", "b", "c"} {
		u := newUser(string(rune('1'+i)), name)
		u.CreatedAt = u.CreatedAt.Add(time.Duration(i) * time.Minute)
		if err := repo.Create(ctx, u); err != nil {
			t.Fatal(err)
		}
	}

	users, err := repo.List(ctx, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 || users[0].Username != "b" {
		t.Errorf("List(1, 1) = %+v, want [b]", users)
	}
}
