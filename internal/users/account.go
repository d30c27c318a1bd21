package users

import (
	"strings"
	"time"
)

// Account is a first-party forum login. Posts reference accounts by username
// only, so usernames are immutable once registered.
type Account struct {
	ID           uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	Username     string    `gorm:"column:username;size:100;uniqueIndex;not null"`
	PasswordHash string    `gorm:"column:password_hash;size:100;not null"`
	Admin        bool      `gorm:"column:is_admin;not null;default:false"`
	ExternalID   string    `gorm:"column:external_id;size:36;uniqueIndex;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	LastLoginAt  time.Time `gorm:"column:last_login_at"`
}

// TableName exposes the table backing forum accounts.
func (Account) TableName() string {
	return "accounts"
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}
