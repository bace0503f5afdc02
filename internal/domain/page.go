package domain

// Page is one slice of a list result. NextToken is opaque and empty on the
// last page; Count is the number of items in this page, not a total.
type Page[T any] struct {
	Items     []T    `json:"items"`
	Count     int    `json:"count"`
	NextToken string `json:"next_token,omitempty"`
}

// PageRequest carries list parameters.
type PageRequest struct {
	Limit     int
	NextToken string
}

// Pagination bounds.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Normalize clamps the limit to [1, MaxPageSize].
func (p PageRequest) Normalize() PageRequest {
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	return p
}
