package types

import (
	"math"
	"sort"
	"strings"

	"golang.org/x/text/cases"
)

const (
	DefaultPage     = 1
	DefaultPageSize = 5
	MaxPageSize     = 100
)

// list request: page is 1-based, filters are case-insensitive substrings
type ListQuery struct {
	Page     int
	PageSize int
	Name     string
	Phone    string
	Address  string
}

// fills in defaults and clamps the page and page size
func (q ListQuery) Normalize() ListQuery {
	if q.Page < 1 {
		q.Page = DefaultPage
	}
	if q.PageSize < 1 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}
	// keeps Offset from overflowing, any page this far out is empty anyway
	if last := math.MaxInt / q.PageSize; q.Page > last {
		q.Page = last
	}
	return q
}

func (q ListQuery) Offset() int {
	return (q.Page - 1) * q.PageSize
}

// reports whether the record passes every non-empty filter
func (q ListQuery) Match(r *Record) bool {
	return containsFold(r.Name, q.Name) &&
		containsFold(r.Phone, q.Phone) &&
		containsFold(r.Address, q.Address)
}

func containsFold(s, sub string) bool {
	if sub == "" {
		return true
	}
	folder := cases.Fold()
	return strings.Contains(folder.String(s), folder.String(sub))
}

// one page of a listing
type Page struct {
	Records     []*Record `json:"contacts"`
	Total       int       `json:"total"`
	TotalPages  int       `json:"totalPages"`
	CurrentPage int       `json:"currentPage"`
}

// filters, orders newest first and slices records into the requested page
// stores without native filtering share this
func Paginate(all []*Record, q ListQuery) *Page {
	q = q.Normalize()

	matched := make([]*Record, 0, len(all))
	for _, r := range all {
		if q.Match(r) {
			matched = append(matched, r)
		}
	}
	SortNewestFirst(matched)

	page := &Page{
		Records:     []*Record{},
		Total:       len(matched),
		TotalPages:  TotalPages(len(matched), q.PageSize),
		CurrentPage: q.Page,
	}

	start := q.Offset()
	if start >= len(matched) {
		return page
	}
	end := start + q.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	page.Records = matched[start:end]
	return page
}

func SortNewestFirst(records []*Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})
}

func TotalPages(total, pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}
