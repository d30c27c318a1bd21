package forum

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

const opResolvePosition = "forum.resolve_position"

// Position locates a post inside its topic's chronological order: Index is
// the 1-based rank, Page the page that rank falls on.
type Position struct {
	Index int
	Page  int
}

// PositionResolver computes deep-link positions for single posts. It walks
// the topic's ordered post ids once per request; the cost is bounded by the
// topic's size, never by global data volume.
type PositionResolver struct {
	db *gorm.DB
}

// NewPositionResolver wraps the shared database handle.
func NewPositionResolver(db *gorm.DB) *PositionResolver {
	return &PositionResolver{db: db}
}

// Resolve returns the position of the post within the named topic. A post
// that exists but belongs to a different topic resolves to not-found rather
// than leaking its location.
func (r *PositionResolver) Resolve(ctx context.Context, topicID, postID uint64, pageSize int) (Position, error) {
	if pageSize <= 0 {
		return Position{}, newError(KindValidation, opResolvePosition, "invalid_page_size",
			fmt.Errorf("page size must be positive, got %d", pageSize))
	}

	var orderedIDs []uint64
	err := r.db.WithContext(ctx).
		Model(&Post{}).
		Where("topic_id = ?", topicID).
		Order("timestamp, id").
		Pluck("id", &orderedIDs).Error
	if err != nil {
		return Position{}, newError(KindInternal, opResolvePosition, "scan_failed", err)
	}

	for rank, id := range orderedIDs {
		if id == postID {
			index := rank + 1
			return Position{
				Index: index,
				Page:  (index + pageSize - 1) / pageSize,
			}, nil
		}
	}

	return Position{}, newError(KindNotFound, opResolvePosition, "post_not_in_topic",
		fmt.Errorf("post %d not found in topic %d", postID, topicID))
}
