// Package pagination reads list parameters from a request and wraps list
// results in the envelope every list endpoint returns.
package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

type Params struct {
	Limit  int
	Offset int
}

// FromContext accepts either limit/offset or page/page_size. A page number
// wins over an explicit offset. Limits above MaxLimit are clamped and bad
// values fall back to the defaults.
func FromContext(c echo.Context) Params {
	limit := firstPositive(c.QueryParam("limit"), c.QueryParam("page_size"))
	switch {
	case limit == 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}

	p := Params{Limit: limit}
	if page := atoi(c.QueryParam("page")); page > 0 {
		p.Offset = (page - 1) * limit
	} else if off := atoi(c.QueryParam("offset")); off > 0 {
		p.Offset = off
	}
	return p
}

func firstPositive(values ...string) int {
	for _, v := range values {
		if n := atoi(v); n > 0 {
			return n
		}
	}
	return 0
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// Response is the list envelope. Data is never null.
type Response[T any] struct {
	Data       []T  `json:"data"`
	Total      int  `json:"total"`
	Limit      int  `json:"limit"`
	Offset     int  `json:"offset"`
	HasMore    bool `json:"has_more"`
	NextOffset *int `json:"next_offset,omitempty"`
}

func NewResponse[T any](data []T, total int, p Params) *Response[T] {
	if data == nil {
		data = []T{}
	}
	r := &Response[T]{
		Data:    data,
		Total:   total,
		Limit:   p.Limit,
		Offset:  p.Offset,
		HasMore: p.HasNext(total),
	}
	if r.HasMore {
		next := p.NextOffset()
		r.NextOffset = &next
	}
	return r
}

func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

func (p Params) NextOffset() int {
	return p.Offset + p.Limit
}
