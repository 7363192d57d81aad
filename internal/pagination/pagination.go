// Package pagination reads page/limit/sort query parameters and describes the
// resulting page for list views.
package pagination

import (
	"math"
	"net/url"
	"strconv"
)

type Params struct {
	Page   int32
	Limit  int32
	Offset int32
	Sort   string // "newest" or "oldest"
}

const (
	MaxLimit     int32 = 100
	DefaultPage  int32 = 1
	DefaultLimit int32 = 25
	DefaultSort        = "newest"
)

// maxPage is the last page whose offset still fits in an int32.
func maxPage(limit int32) int32 {
	if limit <= 0 {
		return math.MaxInt32
	}
	last := int64(math.MaxInt32)/int64(limit) + 1
	if last > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(last)
}

func calculateOffset(page, limit int32) int32 {
	if page < 1 {
		page = 1
	}
	offset := int64(page-1) * int64(limit)
	if offset > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(offset)
}

func isValidSort(sort string) bool {
	switch sort {
	case "newest", "oldest":
		return true
	default:
		return false
	}
}

type Option func(*Params)

func WithDefaultLimit(limit int32) Option {
	return func(p *Params) {
		if limit > 0 {
			p.Limit = limit
		}
	}
}

// FromQuery extracts pagination parameters from q, clamping the limit to
// MaxLimit and ignoring values that do not parse.
func FromQuery(q url.Values, opts ...Option) Params {
	params := Params{
		Page:  DefaultPage,
		Limit: DefaultLimit,
		Sort:  DefaultSort,
	}
	for _, opt := range opts {
		opt(&params)
	}

	if pageStr := q.Get("page"); pageStr != "" {
		if val, err := strconv.ParseInt(pageStr, 10, 32); err == nil && val > 0 {
			params.Page = int32(val)
		}
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		if val, err := strconv.ParseInt(limitStr, 10, 32); err == nil && val > 0 {
			params.Limit = int32(val)
		}
	}
	if params.Limit > MaxLimit {
		params.Limit = MaxLimit
	}
	if last := maxPage(params.Limit); params.Page > last {
		params.Page = last
	}
	params.Offset = calculateOffset(params.Page, params.Limit)

	if sortStr := q.Get("sort"); isValidSort(sortStr) {
		params.Sort = sortStr
	}
	return params
}

// Page describes where a result set sits within the full listing.
type Page struct {
	Page       int32 `json:"page"`
	Limit      int32 `json:"limit"`
	Total      int32 `json:"total"`
	TotalPages int32 `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
	HasPrev    bool  `json:"has_prev"`
}

func (p Params) Describe(total int32) Page {
	pages := int64(0)
	if p.Limit > 0 {
		pages = (int64(total) + int64(p.Limit) - 1) / int64(p.Limit)
	}
	return Page{
		Page:       p.Page,
		Limit:      p.Limit,
		Total:      total,
		TotalPages: int32(pages),
		HasNext:    int64(p.Offset)+int64(p.Limit) < int64(total),
		HasPrev:    p.Page > 1,
	}
}
