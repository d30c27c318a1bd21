package forum

import (
	"errors"
	"fmt"
)

const opPaginate = "forum.paginate"

// ErrPageOutOfRange indicates a requested page outside [1, num_pages].
var ErrPageOutOfRange = errors.New("forum: page out of range")

// PageWindow describes one fixed-size slice of an ordered collection.
// Offset and Limit are ready to hand to the store; Count, NumPages, and
// PageSize are the listing metadata the responses carry.
type PageWindow struct {
	Page     int
	PageSize int
	Offset   int
	Limit    int
	Count    int64
	NumPages int
}

// Paginate computes the window for the 1-based page of a collection holding
// total items. NumPages is ceil(total/pageSize) and never below one, so page
// one of an empty collection succeeds with an empty window; any other page
// outside [1, NumPages] fails with ErrPageOutOfRange.
func Paginate(total int64, pageSize, page int) (PageWindow, error) {
	if pageSize <= 0 {
		return PageWindow{}, newError(KindValidation, opPaginate, "invalid_page_size",
			fmt.Errorf("page size must be positive, got %d", pageSize))
	}

	numPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	if numPages < 1 {
		numPages = 1
	}

	if page < 1 || page > numPages {
		return PageWindow{}, newError(KindOutOfRange, opPaginate, "invalid_page",
			fmt.Errorf("%w: page %d of %d", ErrPageOutOfRange, page, numPages))
	}

	offset := (page - 1) * pageSize
	limit := pageSize
	if remaining := total - int64(offset); remaining < int64(limit) {
		limit = int(remaining)
	}
	if limit < 0 {
		limit = 0
	}

	return PageWindow{
		Page:     page,
		PageSize: pageSize,
		Offset:   offset,
		Limit:    limit,
		Count:    total,
		NumPages: numPages,
	}, nil
}
