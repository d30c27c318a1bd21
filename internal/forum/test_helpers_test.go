package forum

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:forum_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Topic{}, &Post{}, &Record{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB, pageSize int, clock func() time.Time) *Service {
	t.Helper()

	service, err := NewService(ServiceConfig{
		Database: db,
		Clock:    clock,
		PageSize: pageSize,
	})
	if err != nil {
		t.Fatalf("failed to construct forum service: %v", err)
	}
	return service
}

// seedTopic inserts a topic with sequential posts by the given author,
// spacing timestamps one second apart so the unique (topic, author, time)
// constraint holds.
func seedTopic(t *testing.T, db *gorm.DB, title, author string, postTotal int, start time.Time) Topic {
	t.Helper()

	topic := Topic{Title: title, Author: author, LastPost: start}
	if err := db.Create(&topic).Error; err != nil {
		t.Fatalf("failed to seed topic: %v", err)
	}

	for i := 0; i < postTotal; i++ {
		post := Post{
			TopicID:   topic.ID,
			Author:    author,
			Timestamp: start.Add(time.Duration(i) * time.Second),
			Text:      fmt.Sprintf("post %d", i+1),
		}
		if err := db.Create(&post).Error; err != nil {
			t.Fatalf("failed to seed post %d: %v", i+1, err)
		}
	}

	if postTotal > 0 {
		last := start.Add(time.Duration(postTotal-1) * time.Second)
		err := db.Model(&Topic{}).Where("id = ?", topic.ID).
			Updates(map[string]interface{}{"post_count": postTotal, "last_post": last}).Error
		if err != nil {
			t.Fatalf("failed to settle topic aggregates: %v", err)
		}
		topic.PostCount = int64(postTotal)
		topic.LastPost = last
	}
	return topic
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}
