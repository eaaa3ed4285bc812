package catalog

import (
	"sort"
	"strings"

	"github.com/vcmarket/apiserver/internal/rating"
	"github.com/vcmarket/apiserver/types"
)

// DefaultPageSize is the number of items per catalog page.
const DefaultPageSize = 30

// SortOrder selects how a catalog view is ordered.
type SortOrder string

const (
	SortNewest        SortOrder = "newest"
	SortOldest        SortOrder = "oldest"
	SortTitleAsc      SortOrder = "title_asc"
	SortHighestRating SortOrder = "highest_rating"
)

// ParseSort maps a wire value to a SortOrder; unknown values sort newest.
func ParseSort(s string) SortOrder {
	switch SortOrder(strings.TrimSpace(s)) {
	case SortOldest:
		return SortOldest
	case SortTitleAsc:
		return SortTitleAsc
	case SortHighestRating:
		return SortHighestRating
	default:
		return SortNewest
	}
}

// Filter narrows a catalog view. Empty fields match everything.
type Filter struct {
	Search   string
	Category string
}

// FilterItems keeps items whose title contains f.Search (case-insensitive)
// and whose category equals f.Category exactly.
func FilterItems(items []types.Item, f Filter) []types.Item {
	needle := strings.ToLower(f.Search)
	out := make([]types.Item, 0, len(items))
	for _, it := range items {
		if needle != "" && !strings.Contains(strings.ToLower(it.Title), needle) {
			continue
		}
		if f.Category != "" && it.Cat != f.Category {
			continue
		}
		out = append(out, it)
	}
	return out
}

// SortItems returns a sorted copy of items. The sort is stable, so ties keep
// their mirror order (newest push first).
func SortItems(items []types.Item, order SortOrder) []types.Item {
	out := make([]types.Item, len(items))
	copy(out, items)

	var less func(a, b types.Item) bool
	switch order {
	case SortOldest:
		less = func(a, b types.Item) bool { return a.FirstChange() < b.FirstChange() }
	case SortTitleAsc:
		less = func(a, b types.Item) bool { return a.Title < b.Title }
	case SortHighestRating:
		less = func(a, b types.Item) bool { return rating.Average(a.Ratings) > rating.Average(b.Ratings) }
	default:
		less = func(a, b types.Item) bool { return a.LastChange() > b.LastChange() }
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// Paginate returns the 1-indexed page of items. Pages outside the range
// yield an empty slice.
func Paginate(items []types.Item, page, size int) []types.Item {
	if size <= 0 {
		size = DefaultPageSize
	}
	if page < 1 {
		return []types.Item{}
	}
	start := (page - 1) * size
	if start >= len(items) {
		return []types.Item{}
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

// TotalPages is ceil(n/size).
func TotalPages(n, size int) int {
	if size <= 0 {
		size = DefaultPageSize
	}
	return (n + size - 1) / size
}

// FeaturedItems keeps items flagged as featured, in input order.
func FeaturedItems(items []types.Item) []types.Item {
	out := make([]types.Item, 0)
	for _, it := range items {
		if it.Featured {
			out = append(out, it)
		}
	}
	return out
}

// View is one computed page of the catalog.
type View struct {
	Items      []types.Item `json:"items"`
	Page       int          `json:"page"`
	TotalPages int          `json:"totalPages"`
	Total      int          `json:"total"`
}

// BuildView filters, sorts and paginates items in one pass.
func BuildView(items []types.Item, f Filter, order SortOrder, page, size int) View {
	filtered := SortItems(FilterItems(items, f), order)
	return View{
		Items:      Paginate(filtered, page, size),
		Page:       page,
		TotalPages: TotalPages(len(filtered), size),
		Total:      len(filtered),
	}
}
