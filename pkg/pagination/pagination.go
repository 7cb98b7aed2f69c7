package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params is a limit/offset window.
type Params struct {
	Limit  int
	Offset int
}

// FromContext reads ?limit= and ?offset= (or the older ?skip=) from the
// request. Limit falls back to DefaultLimit and is capped at MaxLimit;
// negative offsets become 0.
func FromContext(c echo.Context) Params {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}

	raw := c.QueryParam("offset")
	if raw == "" {
		raw = c.QueryParam("skip")
	}
	offset, _ := strconv.Atoi(raw)
	if offset < 0 {
		offset = 0
	}
	return Params{Limit: limit, Offset: offset}
}

// Page is one window of a listing.
type Page[T any] struct {
	Items      []T  `json:"items"`
	Total      int  `json:"total"`
	Limit      int  `json:"limit"`
	Offset     int  `json:"offset"`
	NextOffset *int `json:"next_offset,omitempty"`
}

// NewPage wraps items fetched with p. A nil slice is returned as [].
func NewPage[T any](items []T, total int, p Params) *Page[T] {
	if items == nil {
		items = []T{}
	}
	page := &Page[T]{Items: items, Total: total, Limit: p.Limit, Offset: p.Offset}
	if p.HasNext(total) {
		next := p.Offset + p.Limit
		page.NextOffset = &next
	}
	return page
}

// HasNext reports whether rows remain after this window.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}
