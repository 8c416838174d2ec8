package httputil

import (
	"fmt"
	"net/http"
	"strconv"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Pagination is a parsed limit/offset pair.
type Pagination struct {
	Limit  int
	Offset int
}

// From is the first row index passed to the database range.
func (p Pagination) From() int { return p.Offset }

// To is the last row index (inclusive), i.e. offset+limit-1.
func (p Pagination) To() int { return p.Offset + p.Limit - 1 }

// Page is the envelope for paginated list responses.
type Page struct {
	Data   interface{} `json:"data"`
	Total  int64       `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// NewPage builds a Page for p.
func NewPage(data interface{}, total int64, p Pagination) Page {
	return Page{Data: data, Total: total, Limit: p.Limit, Offset: p.Offset}
}

// ParsePagination reads limit and offset from the query string. Missing or
// zero limits use DefaultLimit and limits above MaxLimit are clamped.
func ParsePagination(r *http.Request) (Pagination, error) {
	p := Pagination{Limit: DefaultLimit}
	q := r.URL.Query()

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return p, fmt.Errorf("invalid limit %q", raw)
		}
		if n > 0 {
			p.Limit = n
		}
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}

	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return p, fmt.Errorf("invalid offset %q", raw)
		}
		p.Offset = n
	}
	return p, nil
}

// RequirePagination is ParsePagination that writes a 400 on failure.
func RequirePagination(w http.ResponseWriter, r *http.Request) (Pagination, bool) {
	p, err := ParsePagination(r)
	if err != nil {
		BadRequest(w, err.Error())
		return p, false
	}
	return p, true
}
