package forum

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	maxTitleLength  = 140
	maxAuthorLength = 100
)

var (
	// ErrInvalidTitle indicates an empty or overlong topic title.
	ErrInvalidTitle = errors.New("forum: invalid topic title")
	// ErrEmptyText indicates a post body with no content.
	ErrEmptyText = errors.New("forum: post text must not be empty")
)

// Topic is a discussion thread. PostCount and LastPost are cached aggregates
// recomputed inside every transaction that mutates the topic's posts.
type Topic struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	Title     string    `gorm:"column:title;size:140;uniqueIndex;not null"`
	Author    string    `gorm:"column:author;size:100;not null"`
	LastPost  time.Time `gorm:"column:last_post;not null;index:idx_topics_last_post"`
	PostCount int64     `gorm:"column:post_count;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Topic) TableName() string {
	return "topics"
}

// Post is a single message within a topic, ordered by timestamp. The
// (topic, author, timestamp) triple is unique.
type Post struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	TopicID   uint64    `gorm:"column:topic_id;not null;uniqueIndex:idx_posts_topic_author_time,priority:1;index:idx_posts_topic_time,priority:1"`
	Author    string    `gorm:"column:author;size:100;not null;uniqueIndex:idx_posts_topic_author_time,priority:2"`
	Timestamp time.Time `gorm:"column:timestamp;not null;uniqueIndex:idx_posts_topic_author_time,priority:3;index:idx_posts_topic_time,priority:2"`
	Text      string    `gorm:"column:text;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Post) TableName() string {
	return "posts"
}

// Record stores, per (user, topic), the highest absolute post index the user
// has viewed. Absence of a row reads as zero; Count never decreases.
type Record struct {
	UserID  uint64 `gorm:"column:user_id;primaryKey"`
	TopicID uint64 `gorm:"column:topic_id;primaryKey"`
	Count   int64  `gorm:"column:count;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "records"
}

// Actor identifies the authenticated requester for permission and
// read-progress purposes.
type Actor struct {
	ID    uint64
	Name  string
	Admin bool
}

// CanEdit reports whether the actor may modify the given post.
func (a Actor) CanEdit(post Post) bool {
	return a.Admin || a.Name == post.Author
}

// NewTopicTitle validates raw input and returns a canonical title.
func NewTopicTitle(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidTitle)
	}
	if len(trimmed) > maxTitleLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidTitle, maxTitleLength)
	}
	return trimmed, nil
}

// NewPostText validates raw input and returns the post body.
func NewPostText(rawInput string) (string, error) {
	if strings.TrimSpace(rawInput) == "" {
		return "", ErrEmptyText
	}
	return rawInput, nil
}
