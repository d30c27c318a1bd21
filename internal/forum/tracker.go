package forum

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opTrackerSeen    = "forum.tracker.seen"
	opTrackerAdvance = "forum.tracker.advance"
)

// ReadTracker maintains per-(user, topic) read progress. Progress only ever
// moves forward: concurrent advances converge on the maximum candidate.
type ReadTracker struct {
	db *gorm.DB
}

// NewReadTracker wraps the shared database handle.
func NewReadTracker(db *gorm.DB) *ReadTracker {
	return &ReadTracker{db: db}
}

// Seen returns the stored count for (user, topic), or zero when no record
// exists. It never mutates.
func (t *ReadTracker) Seen(ctx context.Context, userID, topicID uint64) (int64, error) {
	var record Record
	err := t.db.WithContext(ctx).
		Where("user_id = ? AND topic_id = ?", userID, topicID).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, newError(KindInternal, opTrackerSeen, "query_failed", err)
	}
	return record.Count, nil
}

// SeenByTopic returns topic id → seen count for the user across all the given
// topics in a single query. Topics without a record are absent from the map.
func (t *ReadTracker) SeenByTopic(ctx context.Context, userID uint64, topicIDs []uint64) (map[uint64]int64, error) {
	seen := make(map[uint64]int64, len(topicIDs))
	if len(topicIDs) == 0 {
		return seen, nil
	}

	var records []Record
	err := t.db.WithContext(ctx).
		Where("user_id = ? AND topic_id IN ?", userID, topicIDs).
		Find(&records).Error
	if err != nil {
		return nil, newError(KindInternal, opTrackerSeen, "bulk_query_failed", err)
	}

	for _, record := range records {
		seen[record.TopicID] = record.Count
	}
	return seen, nil
}

// Advance records that the user has fetched the given page. The candidate is
// min(pageSize*page, total); the stored count moves to the candidate only when
// that is an increase. The upsert is a single set-if-greater statement, so
// racing advances for the same key cannot lose a higher value, and re-fetching
// an already-seen page is a no-op.
func (t *ReadTracker) Advance(ctx context.Context, userID, topicID uint64, page, pageSize int, total int64) error {
	candidate := int64(pageSize) * int64(page)
	if candidate > total {
		candidate = total
	}
	if candidate < 0 {
		candidate = 0
	}

	record := Record{UserID: userID, TopicID: topicID, Count: candidate}
	err := t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "topic_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"count"}),
		Where: clause.Where{
			Exprs: []clause.Expression{gorm.Expr("excluded.count > records.count")},
		},
	}).Create(&record).Error
	if err != nil {
		return newError(KindInternal, opTrackerAdvance, "upsert_failed", err)
	}
	return nil
}
