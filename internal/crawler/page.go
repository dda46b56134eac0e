package crawler

// Paging defaults for store listings.
const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Page is one slice of a filtered listing.
type Page[T any] struct {
	Items    []T `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
}

// Paginate returns the 1-based page of items. Out-of-range pages are empty.
func Paginate[T any](items []T, page, pageSize int) Page[T] {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	out := Page[T]{Items: []T{}, Total: len(items), Page: page, PageSize: pageSize}
	start := (page - 1) * pageSize
	if start >= len(items) {
		return out
	}
	end := min(start+pageSize, len(items))
	out.Items = items[start:end]
	return out
}
