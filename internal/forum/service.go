package forum

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew   = "forum.service.new"
	opListTopics   = "forum.list_topics"
	opCreateTopic  = "forum.create_topic"
	opDeleteTopic  = "forum.delete_topic"
	opListPosts    = "forum.list_posts"
	opCreateReply  = "forum.create_reply"
	opGetPost      = "forum.get_post"
	opUpdatePost   = "forum.update_post"
	opDeletePost   = "forum.delete_post"
	opListAccounts = "forum.list_users"

	opRefreshAggregates = "forum.refresh_topic_aggregates"
)

const defaultPageSize = 10

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// ServiceConfig describes the dependencies of the listing service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
	PageSize int
}

// Service orchestrates pagination, read tracking, and position resolution
// over the topic and post tables.
type Service struct {
	db       *gorm.DB
	clock    func() time.Time
	logger   *zap.Logger
	pageSize int
	tracker  *ReadTracker
	resolver *PositionResolver
}

// NewService constructs the listing service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newError(KindInternal, opServiceNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:       cfg.Database,
		clock:    clock,
		logger:   logger,
		pageSize: pageSize,
		tracker:  NewReadTracker(cfg.Database),
		resolver: NewPositionResolver(cfg.Database),
	}, nil
}

// Tracker exposes the read tracker sharing this service's database handle.
func (s *Service) Tracker() *ReadTracker {
	return s.tracker
}

// TopicSummary pairs a topic row with the requesting user's read progress.
type TopicSummary struct {
	Topic     Topic
	SeenCount int64
}

// TopicListing is one page of topics plus listing metadata.
type TopicListing struct {
	Window PageWindow
	Topics []TopicSummary
}

// ListTopics returns the requested topics page ordered by most recent post,
// with the actor's seen count attached to every row. It issues exactly three
// store queries (count, topics, records) regardless of page size.
func (s *Service) ListTopics(ctx context.Context, actor Actor, page int) (TopicListing, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&Topic{}).Count(&total).Error; err != nil {
		s.logError(opListTopics, "count_failed", err)
		return TopicListing{}, newError(KindInternal, opListTopics, "count_failed", err)
	}

	window, err := Paginate(total, s.pageSize, page)
	if err != nil {
		return TopicListing{}, err
	}

	var topics []Topic
	err = s.db.WithContext(ctx).
		Order("last_post DESC, id DESC").
		Offset(window.Offset).
		Limit(window.Limit).
		Find(&topics).Error
	if err != nil {
		s.logError(opListTopics, "query_failed", err)
		return TopicListing{}, newError(KindInternal, opListTopics, "query_failed", err)
	}

	topicIDs := make([]uint64, 0, len(topics))
	for _, topic := range topics {
		topicIDs = append(topicIDs, topic.ID)
	}
	seen, err := s.tracker.SeenByTopic(ctx, actor.ID, topicIDs)
	if err != nil {
		s.logError(opListTopics, "seen_lookup_failed", err, zap.Uint64("user_id", actor.ID))
		return TopicListing{}, err
	}

	listing := TopicListing{Window: window, Topics: make([]TopicSummary, 0, len(topics))}
	for _, topic := range topics {
		listing.Topics = append(listing.Topics, TopicSummary{
			Topic:     topic,
			SeenCount: seen[topic.ID],
		})
	}
	return listing, nil
}

// CreateTopic atomically creates a topic together with its first post and
// returns the topic with its aggregates settled.
func (s *Service) CreateTopic(ctx context.Context, actor Actor, rawTitle, rawText string) (Topic, error) {
	title, err := NewTopicTitle(rawTitle)
	if err != nil {
		return Topic{}, newError(KindValidation, opCreateTopic, "invalid_title", err)
	}
	text, err := NewPostText(rawText)
	if err != nil {
		return Topic{}, newError(KindValidation, opCreateTopic, "empty_text", err)
	}

	var created Topic
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var taken int64
		if err := tx.Model(&Topic{}).Where("title = ?", title).Count(&taken).Error; err != nil {
			return newError(KindInternal, opCreateTopic, "title_check_failed", err)
		}
		if taken > 0 {
			return newError(KindValidation, opCreateTopic, "title_taken",
				fmt.Errorf("topic titled %q already exists", title))
		}

		now := s.clock().UTC()
		created = Topic{Title: title, Author: actor.Name, LastPost: now}
		if err := tx.Create(&created).Error; err != nil {
			return newError(KindInternal, opCreateTopic, "topic_insert_failed", err)
		}

		firstPost := Post{TopicID: created.ID, Author: actor.Name, Timestamp: now, Text: text}
		if err := tx.Create(&firstPost).Error; err != nil {
			return newError(KindInternal, opCreateTopic, "post_insert_failed", err)
		}

		return s.refreshTopicAggregates(tx, &created)
	})
	if txErr != nil {
		s.logError(opCreateTopic, "transaction_failed", txErr, zap.String("author", actor.Name))
		return Topic{}, txErr
	}
	return created, nil
}

// DeleteTopic removes a topic and cascades to its posts and read records.
// Only admins may delete topics.
func (s *Service) DeleteTopic(ctx context.Context, actor Actor, topicID uint64) error {
	if !actor.Admin {
		return newError(KindPermission, opDeleteTopic, "admin_required",
			fmt.Errorf("actor %q is not an admin", actor.Name))
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var topic Topic
		if err := tx.Where("id = ?", topicID).Take(&topic).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return newError(KindNotFound, opDeleteTopic, "topic_missing", err)
			}
			return newError(KindInternal, opDeleteTopic, "topic_select_failed", err)
		}
		if err := tx.Where("topic_id = ?", topicID).Delete(&Post{}).Error; err != nil {
			return newError(KindInternal, opDeleteTopic, "post_delete_failed", err)
		}
		if err := tx.Where("topic_id = ?", topicID).Delete(&Record{}).Error; err != nil {
			return newError(KindInternal, opDeleteTopic, "record_delete_failed", err)
		}
		if err := tx.Delete(&Topic{}, topicID).Error; err != nil {
			return newError(KindInternal, opDeleteTopic, "topic_delete_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opDeleteTopic, "transaction_failed", txErr, zap.Uint64("topic_id", topicID))
	}
	return txErr
}

// IndexedPost pairs a post row with its 1-based rank inside the topic.
type IndexedPost struct {
	Post  Post
	Index int
}

// PostListing is one page of a topic's posts plus the topic summary and
// listing metadata.
type PostListing struct {
	Window PageWindow
	Topic  Topic
	Posts  []IndexedPost
}

// ListPosts returns the requested page of the topic's posts in chronological
// order and advances the actor's read progress as a side effect. Each post's
// index is computed arithmetically from the window, never by re-scanning the
// topic, so the query count stays flat relative to topic size.
func (s *Service) ListPosts(ctx context.Context, actor Actor, topicID uint64, page int) (PostListing, error) {
	var topic Topic
	err := s.db.WithContext(ctx).Where("id = ?", topicID).Take(&topic).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return PostListing{}, newError(KindNotFound, opListPosts, "topic_missing", err)
	}
	if err != nil {
		s.logError(opListPosts, "topic_select_failed", err, zap.Uint64("topic_id", topicID))
		return PostListing{}, newError(KindInternal, opListPosts, "topic_select_failed", err)
	}

	// PostCount is the cached aggregate; using it saves the count query.
	window, err := Paginate(topic.PostCount, s.pageSize, page)
	if err != nil {
		return PostListing{}, err
	}

	var posts []Post
	err = s.db.WithContext(ctx).
		Where("topic_id = ?", topicID).
		Order("timestamp, id").
		Offset(window.Offset).
		Limit(window.Limit).
		Find(&posts).Error
	if err != nil {
		s.logError(opListPosts, "query_failed", err, zap.Uint64("topic_id", topicID))
		return PostListing{}, newError(KindInternal, opListPosts, "query_failed", err)
	}

	if err := s.tracker.Advance(ctx, actor.ID, topicID, page, s.pageSize, topic.PostCount); err != nil {
		s.logError(opListPosts, "advance_failed", err,
			zap.Uint64("user_id", actor.ID), zap.Uint64("topic_id", topicID))
		return PostListing{}, err
	}

	listing := PostListing{Window: window, Topic: topic, Posts: make([]IndexedPost, 0, len(posts))}
	for offset, post := range posts {
		listing.Posts = append(listing.Posts, IndexedPost{
			Post:  post,
			Index: window.Offset + offset + 1,
		})
	}
	return listing, nil
}

// CreateReply appends a post to the topic, refreshing the topic's cached
// aggregates in the same transaction.
func (s *Service) CreateReply(ctx context.Context, actor Actor, topicID uint64, rawText string) (Post, error) {
	text, err := NewPostText(rawText)
	if err != nil {
		return Post{}, newError(KindValidation, opCreateReply, "empty_text", err)
	}

	var created Post
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var topic Topic
		if err := tx.Where("id = ?", topicID).Take(&topic).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return newError(KindNotFound, opCreateReply, "topic_missing", err)
			}
			return newError(KindInternal, opCreateReply, "topic_select_failed", err)
		}

		created = Post{TopicID: topicID, Author: actor.Name, Timestamp: s.clock().UTC(), Text: text}
		if err := tx.Create(&created).Error; err != nil {
			return newError(KindInternal, opCreateReply, "post_insert_failed", err)
		}

		return s.refreshTopicAggregates(tx, &topic)
	})
	if txErr != nil {
		s.logError(opCreateReply, "transaction_failed", txErr, zap.Uint64("topic_id", topicID))
		return Post{}, txErr
	}
	return created, nil
}

// PostDetail is a single post with its topic and deep-link position.
type PostDetail struct {
	Post     Post
	Topic    Topic
	Position Position
}

// GetPost returns the post scoped to the named topic, with its {index, page}
// context attached. A post belonging to a different topic is not found.
func (s *Service) GetPost(ctx context.Context, topicID, postID uint64) (PostDetail, error) {
	post, err := s.topicScopedPost(ctx, s.db, opGetPost, topicID, postID)
	if err != nil {
		return PostDetail{}, err
	}

	var topic Topic
	if err := s.db.WithContext(ctx).Where("id = ?", topicID).Take(&topic).Error; err != nil {
		s.logError(opGetPost, "topic_select_failed", err, zap.Uint64("topic_id", topicID))
		return PostDetail{}, newError(KindInternal, opGetPost, "topic_select_failed", err)
	}

	position, err := s.resolver.Resolve(ctx, topicID, postID, s.pageSize)
	if err != nil {
		return PostDetail{}, err
	}

	return PostDetail{Post: post, Topic: topic, Position: position}, nil
}

// PostUpdate carries the editable post fields; nil means leave unchanged.
type PostUpdate struct {
	Text   *string
	Author *string
}

// UpdatePost edits a post's text or author. Only the post's author or an
// admin may edit; timestamps and topic binding are immutable.
func (s *Service) UpdatePost(ctx context.Context, actor Actor, topicID, postID uint64, update PostUpdate) (Post, error) {
	post, err := s.topicScopedPost(ctx, s.db, opUpdatePost, topicID, postID)
	if err != nil {
		return Post{}, err
	}

	if !actor.CanEdit(post) {
		return Post{}, newError(KindPermission, opUpdatePost, "not_author",
			fmt.Errorf("actor %q may not edit a post by %q", actor.Name, post.Author))
	}

	if update.Text != nil {
		text, err := NewPostText(*update.Text)
		if err != nil {
			return Post{}, newError(KindValidation, opUpdatePost, "empty_text", err)
		}
		post.Text = text
	}
	if update.Author != nil {
		author := strings.TrimSpace(*update.Author)
		if author == "" || len(author) > maxAuthorLength {
			return Post{}, newError(KindValidation, opUpdatePost, "invalid_author",
				fmt.Errorf("author must be 1-%d characters", maxAuthorLength))
		}
		post.Author = author
	}

	if err := s.db.WithContext(ctx).Save(&post).Error; err != nil {
		s.logError(opUpdatePost, "save_failed", err, zap.Uint64("post_id", postID))
		return Post{}, newError(KindInternal, opUpdatePost, "save_failed", err)
	}
	return post, nil
}

// DeletePost removes a post and refreshes the topic's cached aggregates in
// the same transaction. Only the post's author or an admin may delete.
func (s *Service) DeletePost(ctx context.Context, actor Actor, topicID, postID uint64) error {
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		post, err := s.topicScopedPost(ctx, tx, opDeletePost, topicID, postID)
		if err != nil {
			return err
		}
		if !actor.CanEdit(post) {
			return newError(KindPermission, opDeletePost, "not_author",
				fmt.Errorf("actor %q may not delete a post by %q", actor.Name, post.Author))
		}

		var topic Topic
		if err := tx.Where("id = ?", topicID).Take(&topic).Error; err != nil {
			return newError(KindInternal, opDeletePost, "topic_select_failed", err)
		}
		if err := tx.Delete(&Post{}, post.ID).Error; err != nil {
			return newError(KindInternal, opDeletePost, "post_delete_failed", err)
		}
		return s.refreshTopicAggregates(tx, &topic)
	})
	if txErr != nil {
		s.logError(opDeletePost, "transaction_failed", txErr,
			zap.Uint64("topic_id", topicID), zap.Uint64("post_id", postID))
	}
	return txErr
}

// UserSummary is one row of the user listing.
type UserSummary struct {
	ID        uint64
	Username  string
	PostCount int64
}

// UserListing is one page of users plus listing metadata.
type UserListing struct {
	Window PageWindow
	Users  []UserSummary
}

// ListUsers returns the requested page of accounts ordered by id, each with
// the number of posts authored under that username. Post counts come from a
// single grouped aggregate, not one count per user.
func (s *Service) ListUsers(ctx context.Context, page int) (UserListing, error) {
	var total int64
	if err := s.db.WithContext(ctx).Table("accounts").Count(&total).Error; err != nil {
		s.logError(opListAccounts, "count_failed", err)
		return UserListing{}, newError(KindInternal, opListAccounts, "count_failed", err)
	}

	window, err := Paginate(total, s.pageSize, page)
	if err != nil {
		return UserListing{}, err
	}

	var accounts []struct {
		ID       uint64
		Username string
	}
	err = s.db.WithContext(ctx).
		Table("accounts").
		Select("id, username").
		Order("id").
		Offset(window.Offset).
		Limit(window.Limit).
		Scan(&accounts).Error
	if err != nil {
		s.logError(opListAccounts, "query_failed", err)
		return UserListing{}, newError(KindInternal, opListAccounts, "query_failed", err)
	}

	usernames := make([]string, 0, len(accounts))
	for _, account := range accounts {
		usernames = append(usernames, account.Username)
	}

	counts := make(map[string]int64, len(usernames))
	if len(usernames) > 0 {
		var rows []struct {
			Author    string
			PostCount int64
		}
		err = s.db.WithContext(ctx).
			Model(&Post{}).
			Select("author, COUNT(*) AS post_count").
			Where("author IN ?", usernames).
			Group("author").
			Scan(&rows).Error
		if err != nil {
			s.logError(opListAccounts, "post_count_failed", err)
			return UserListing{}, newError(KindInternal, opListAccounts, "post_count_failed", err)
		}
		for _, row := range rows {
			counts[row.Author] = row.PostCount
		}
	}

	listing := UserListing{Window: window, Users: make([]UserSummary, 0, len(accounts))}
	for _, account := range accounts {
		listing.Users = append(listing.Users, UserSummary{
			ID:        account.ID,
			Username:  account.Username,
			PostCount: counts[account.Username],
		})
	}
	return listing, nil
}

// topicScopedPost loads the post only if it belongs to the named topic;
// cross-topic ids surface as not-found.
func (s *Service) topicScopedPost(ctx context.Context, db *gorm.DB, operation string, topicID, postID uint64) (Post, error) {
	var post Post
	err := db.WithContext(ctx).
		Where("id = ? AND topic_id = ?", postID, topicID).
		Take(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Post{}, newError(KindNotFound, operation, "post_missing",
			fmt.Errorf("post %d not found in topic %d", postID, topicID))
	}
	if err != nil {
		s.logError(operation, "post_select_failed", err, zap.Uint64("post_id", postID))
		return Post{}, newError(KindInternal, operation, "post_select_failed", err)
	}
	return post, nil
}

// refreshTopicAggregates recomputes post_count and last_post from the posts
// table and writes them back to the topic row, updating the in-memory topic.
// A topic left without posts keeps its previous last_post. Read records above
// the new post_count are clamped down in the same transaction, so a record
// never claims more seen posts than the topic holds after a deletion.
func (s *Service) refreshTopicAggregates(tx *gorm.DB, topic *Topic) error {
	var count int64
	if err := tx.Model(&Post{}).Where("topic_id = ?", topic.ID).Count(&count).Error; err != nil {
		return newError(KindInternal, opRefreshAggregates, "count_failed", err)
	}

	topic.PostCount = count

	var latest Post
	err := tx.Where("topic_id = ?", topic.ID).
		Order("timestamp DESC, id DESC").
		Take(&latest).Error
	if err == nil {
		topic.LastPost = latest.Timestamp.UTC()
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return newError(KindInternal, opRefreshAggregates, "latest_select_failed", err)
	}

	err = tx.Model(&Topic{}).
		Where("id = ?", topic.ID).
		Updates(map[string]interface{}{
			"post_count": topic.PostCount,
			"last_post":  topic.LastPost,
		}).Error
	if err != nil {
		return newError(KindInternal, opRefreshAggregates, "write_failed", err)
	}

	err = tx.Model(&Record{}).
		Where("topic_id = ? AND count > ?", topic.ID, topic.PostCount).
		Update("count", topic.PostCount).Error
	if err != nil {
		return newError(KindInternal, opRefreshAggregates, "record_clamp_failed", err)
	}
	return nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("forum service error", attrs...)
}
