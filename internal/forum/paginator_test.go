package forum

import "testing"

func TestPaginateSplitsCollection(t *testing.T) {
	tests := []struct {
		name           string
		total          int64
		pageSize       int
		page           int
		expectedOffset int
		expectedLimit  int
		expectedPages  int
	}{
		{name: "first-page-full", total: 6, pageSize: 5, page: 1, expectedOffset: 0, expectedLimit: 5, expectedPages: 2},
		{name: "last-page-partial", total: 6, pageSize: 5, page: 2, expectedOffset: 5, expectedLimit: 1, expectedPages: 2},
		{name: "exact-multiple", total: 10, pageSize: 5, page: 2, expectedOffset: 5, expectedLimit: 5, expectedPages: 2},
		{name: "single-item", total: 1, pageSize: 10, page: 1, expectedOffset: 0, expectedLimit: 1, expectedPages: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			window, err := Paginate(tt.total, tt.pageSize, tt.page)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if window.Offset != tt.expectedOffset {
				t.Fatalf("expected offset %d, got %d", tt.expectedOffset, window.Offset)
			}
			if window.Limit != tt.expectedLimit {
				t.Fatalf("expected limit %d, got %d", tt.expectedLimit, window.Limit)
			}
			if window.NumPages != tt.expectedPages {
				t.Fatalf("expected %d pages, got %d", tt.expectedPages, window.NumPages)
			}
			if window.Count != tt.total {
				t.Fatalf("expected count %d, got %d", tt.total, window.Count)
			}
			if window.PageSize != tt.pageSize {
				t.Fatalf("expected page size %d, got %d", tt.pageSize, window.PageSize)
			}
		})
	}
}

func TestPaginateRejectsOutOfRangePages(t *testing.T) {
	tests := []struct {
		name     string
		total    int64
		pageSize int
		page     int
	}{
		{name: "past-last-page", total: 6, pageSize: 5, page: 3},
		{name: "zero-page", total: 6, pageSize: 5, page: 0},
		{name: "negative-page", total: 6, pageSize: 5, page: -1},
		{name: "second-page-of-empty", total: 0, pageSize: 5, page: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Paginate(tt.total, tt.pageSize, tt.page)
			if err == nil {
				t.Fatalf("expected out of range error")
			}
			if !IsOutOfRange(err) {
				t.Fatalf("expected out of range kind, got %v", err)
			}
		})
	}
}

func TestPaginateAllowsFirstPageOfEmptyCollection(t *testing.T) {
	window, err := Paginate(0, 5, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if window.Limit != 0 {
		t.Fatalf("expected empty window, got limit %d", window.Limit)
	}
	if window.NumPages != 1 {
		t.Fatalf("expected num pages 1 for empty collection, got %d", window.NumPages)
	}
	if window.Count != 0 {
		t.Fatalf("expected count 0, got %d", window.Count)
	}
}

func TestPaginateRejectsInvalidPageSize(t *testing.T) {
	_, err := Paginate(10, 0, 1)
	if err == nil {
		t.Fatalf("expected error for zero page size")
	}
	if !IsValidation(err) {
		t.Fatalf("expected validation kind, got %v", err)
	}
}
