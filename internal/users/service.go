package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const maxUsernameLength = 100

var (
	// ErrInvalidUsername indicates an empty or overlong username.
	ErrInvalidUsername = errors.New("users: invalid username")
	// ErrUsernameTaken indicates the username is already registered.
	ErrUsernameTaken = errors.New("users: username already taken")
	// ErrWrongSecret indicates the registration secret did not match.
	ErrWrongSecret = errors.New("users: wrong registration secret")
	// ErrInvalidCredentials indicates an unknown username or wrong password.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrAccountNotFound indicates no account exists for the username.
	ErrAccountNotFound = errors.New("users: account not found")
)

// ServiceConfig describes the dependencies for account management.
type ServiceConfig struct {
	Database           *gorm.DB
	Clock              func() time.Time
	RegistrationSecret string
}

// Service manages forum accounts: registration, credential checks, and
// actor lookups for authenticated requests.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	secret string
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:     cfg.Database,
		now:    clock,
		secret: cfg.RegistrationSecret,
	}, nil
}

// Register creates an account when the shared registration secret matches.
// The password is stored as a bcrypt hash.
func (s *Service) Register(ctx context.Context, username, password, secret string) (Account, error) {
	username = normalize(username)
	if username == "" || len(username) > maxUsernameLength {
		return Account{}, ErrInvalidUsername
	}
	if password == "" {
		return Account{}, ErrInvalidCredentials
	}
	if s.secret != "" && secret != s.secret {
		return Account{}, ErrWrongSecret
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&Account{}).Where("username = ?", username).Count(&existing).Error; err != nil {
		return Account{}, err
	}
	if existing > 0 {
		return Account{}, ErrUsernameTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Account{}, err
	}

	account := Account{
		Username:     username,
		PasswordHash: string(hash),
		ExternalID:   uuid.NewString(),
		LastLoginAt:  s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		return Account{}, err
	}
	return account, nil
}

// Authenticate verifies the username/password pair and records the login
// time. Unknown usernames and wrong passwords fail identically.
func (s *Service) Authenticate(ctx context.Context, username, password string) (Account, error) {
	var account Account
	err := s.db.WithContext(ctx).
		Where("username = ?", normalize(username)).
		Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, ErrInvalidCredentials
	}
	if err != nil {
		return Account{}, err
	}

	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
		return Account{}, ErrInvalidCredentials
	}

	_ = s.db.WithContext(ctx).Model(&Account{}).
		Where("id = ?", account.ID).
		Update("last_login_at", s.now().UTC()).Error
	return account, nil
}

// ByUsername returns the account for an authenticated request's subject.
func (s *Service) ByUsername(ctx context.Context, username string) (Account, error) {
	var account Account
	err := s.db.WithContext(ctx).
		Where("username = ?", normalize(username)).
		Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		return Account{}, err
	}
	return account, nil
}

// Promote marks the account as an admin. Used by operational tooling and
// test fixtures; there is no HTTP surface for it.
func (s *Service) Promote(ctx context.Context, username string) error {
	result := s.db.WithContext(ctx).Model(&Account{}).
		Where("username = ?", normalize(username)).
		Update("is_admin", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}
