package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// queryInt parses an optional integer query parameter.
func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest(name + ": must be an integer")
	}
	return n, nil
}

// paging reads page and limit.
func paging(c *gin.Context) (page, limit int, err error) {
	if page, err = queryInt(c, "page", 1); err != nil {
		return 0, 0, err
	}
	if limit, err = queryInt(c, "limit", 0); err != nil {
		return 0, 0, err
	}
	return page, limit, nil
}

func queryDecimal(c *gin.Context, name string) (*decimal.Decimal, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, badRequest(name + ": must be a number")
	}
	return &d, nil
}

func queryBool(c *gin.Context, name string) (*bool, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, badRequest(name + ": must be a boolean")
	}
	return &b, nil
}

// queryTime accepts RFC 3339 timestamps and plain dates.
func queryTime(c *gin.Context, name string) (time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, badRequest(name + ": must be a date")
}

func queryRange(c *gin.Context) (from, to time.Time, err error) {
	if from, err = queryTime(c, "from"); err != nil {
		return
	}
	to, err = queryTime(c, "to")
	return
}
