package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Params is a 1-based page request.
type Params struct {
	Page     int
	PageSize int
}

// FromContext reads ?page and ?page_size. Missing or invalid values fall back
// to page 1 and the default size; page numbers below 1 are treated as 1.
func FromContext(c echo.Context) Params {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	size, _ := strconv.Atoi(c.QueryParam("page_size"))
	return Params{Page: page, PageSize: size}.Normalize()
}

func (p Params) Normalize() Params {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

// Offset is the index of the first item on the page.
func (p Params) Offset() int {
	p = p.Normalize()
	return (p.Page - 1) * p.PageSize
}

// TotalPages is ceil(total / pageSize); zero items means zero pages.
func TotalPages(total, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

// Paginate returns the slice of items on the requested page. A page past the
// end yields an empty, non-nil slice.
func Paginate[T any](items []T, p Params) []T {
	p = p.Normalize()
	start := p.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := start + p.PageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

// Response wraps one page of results.
type Response[T any] struct {
	Data       []T  `json:"data"`
	Total      int  `json:"total"`
	Page       int  `json:"page"`
	PageSize   int  `json:"page_size"`
	TotalPages int  `json:"total_pages"`
	HasMore    bool `json:"has_more"`
}

// NewResponse paginates the full, already-filtered result set.
func NewResponse[T any](all []T, p Params) Response[T] {
	p = p.Normalize()
	pages := TotalPages(len(all), p.PageSize)
	return Response[T]{
		Data:       Paginate(all, p),
		Total:      len(all),
		Page:       p.Page,
		PageSize:   p.PageSize,
		TotalPages: pages,
		HasMore:    p.Page < pages,
	}
}
