package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testDatabaseSequence atomic.Uint64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:users_test_%d?mode=memory&cache=shared", testDatabaseSequence.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access connection pool: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Account{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB, secret string) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Database:           db,
		Clock:              func() time.Time { return time.Unix(1700000000, 0).UTC() },
		RegistrationSecret: secret,
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return service
}

func TestRegisterAndAuthenticate(t *testing.T) {
	service := newTestService(t, newTestDB(t), "mango")
	ctx := context.Background()

	account, err := service.Register(ctx, "user", "password", "mango")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if account.Username != "user" {
		t.Fatalf("unexpected username %q", account.Username)
	}
	if account.PasswordHash == "password" || account.PasswordHash == "" {
		t.Fatalf("password must be stored hashed")
	}
	if account.ExternalID == "" {
		t.Fatalf("external id must be assigned")
	}
	if account.Admin {
		t.Fatalf("new accounts must not be admins")
	}

	logged, err := service.Authenticate(ctx, "user", "password")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if logged.ID != account.ID {
		t.Fatalf("expected account %d, got %d", account.ID, logged.ID)
	}
}

func TestRegisterRejectsWrongSecret(t *testing.T) {
	service := newTestService(t, newTestDB(t), "mango")

	_, err := service.Register(context.Background(), "user", "password", "banana")
	if !errors.Is(err, ErrWrongSecret) {
		t.Fatalf("expected ErrWrongSecret, got %v", err)
	}
}

func TestRegisterWithoutConfiguredSecret(t *testing.T) {
	service := newTestService(t, newTestDB(t), "")

	if _, err := service.Register(context.Background(), "user", "password", ""); err != nil {
		t.Fatalf("open registration failed: %v", err)
	}
}

func TestRegisterRejectsDuplicateUsername(t *testing.T) {
	service := newTestService(t, newTestDB(t), "mango")
	ctx := context.Background()

	if _, err := service.Register(ctx, "user", "password", "mango"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	_, err := service.Register(ctx, " user ", "password", "mango")
	if !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
}

func TestRegisterValidatesUsername(t *testing.T) {
	service := newTestService(t, newTestDB(t), "mango")
	ctx := context.Background()

	if _, err := service.Register(ctx, "  ", "password", "mango"); !errors.Is(err, ErrInvalidUsername) {
		t.Fatalf("expected ErrInvalidUsername for blank name, got %v", err)
	}
	long := strings.Repeat("x", 101)
	if _, err := service.Register(ctx, long, "password", "mango"); !errors.Is(err, ErrInvalidUsername) {
		t.Fatalf("expected ErrInvalidUsername for overlong name, got %v", err)
	}
}

func TestAuthenticateRejectsBadCredentials(t *testing.T) {
	service := newTestService(t, newTestDB(t), "mango")
	ctx := context.Background()

	if _, err := service.Register(ctx, "user", "password", "mango"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	_, err := service.Authenticate(ctx, "user", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	_, err = service.Authenticate(ctx, "nobody", "password")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestPromote(t *testing.T) {
	service := newTestService(t, newTestDB(t), "mango")
	ctx := context.Background()

	if _, err := service.Register(ctx, "user", "password", "mango"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := service.Promote(ctx, "user"); err != nil {
		t.Fatalf("Promote failed: %v", err)
	}

	account, err := service.ByUsername(ctx, "user")
	if err != nil {
		t.Fatalf("ByUsername failed: %v", err)
	}
	if !account.Admin {
		t.Fatalf("promotion did not stick")
	}

	if err := service.Promote(ctx, "nobody"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}
