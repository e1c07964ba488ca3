// Package pagination reads listing limits from requests. Listings here are
// newest-first windows, so there is a limit and no offset.
package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 100
	MaxLimit     = 500
)

// Params holds the listing parameters extracted from a request.
type Params struct {
	Limit int
}

// FromContext extracts the limit from the echo context, clamped to
// [1, MaxLimit].
func FromContext(c echo.Context) Params {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return Params{Limit: limit}
}

// Response wraps a listing API response.
type Response struct {
	Data  interface{} `json:"data"`
	Count int         `json:"count"`
	Limit int         `json:"limit"`
	// Truncated is set when the window was filled, so older items may exist.
	Truncated bool `json:"truncated"`
}

func NewResponse(data interface{}, count, limit int) *Response {
	return &Response{
		Data:      data,
		Count:     count,
		Limit:     limit,
		Truncated: count >= limit,
	}
}
