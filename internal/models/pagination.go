package models

// Page size limits.
const (
	DefaultPageSize = 10
	MaxPageSize     = 20
)

// PageRequest is a 1-based page selection.
type PageRequest struct {
	PageNumber int `json:"page_number"`
	PageSize   int `json:"page_size"`
}

// NewPageRequest clamps raw values into the accepted range.
func NewPageRequest(pageNumber, pageSize int) PageRequest {
	if pageNumber < 1 {
		pageNumber = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return PageRequest{PageNumber: pageNumber, PageSize: pageSize}
}

func (p PageRequest) Offset() int {
	return (p.PageNumber - 1) * p.PageSize
}

// PageMeta describes a page of a larger result set.
type PageMeta struct {
	TotalCount  int64 `json:"total_count"`
	PageSize    int   `json:"page_size"`
	CurrentPage int   `json:"current_page"`
	TotalPages  int   `json:"total_pages"`
	HasNext     bool  `json:"has_next"`
	HasPrevious bool  `json:"has_previous"`
}

// PagedResult is one page of items plus its metadata.
type PagedResult[T any] struct {
	Items []T `json:"items"`
	PageMeta
}

// NewPagedResult computes the metadata of items for page out of total rows.
func NewPagedResult[T any](items []T, total int64, page PageRequest) PagedResult[T] {
	if items == nil {
		items = []T{}
	}
	totalPages := 0
	if page.PageSize > 0 {
		totalPages = int((total + int64(page.PageSize) - 1) / int64(page.PageSize))
	}
	return PagedResult[T]{
		Items: items,
		PageMeta: PageMeta{
			TotalCount:  total,
			PageSize:    page.PageSize,
			CurrentPage: page.PageNumber,
			TotalPages:  totalPages,
			HasNext:     page.PageNumber < totalPages,
			HasPrevious: page.PageNumber > 1,
		},
	}
}
