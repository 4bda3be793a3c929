package product

import (
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
)

// Sort orders search results.
type Sort string

const (
	SortNewest    Sort = "newest"
	SortPriceAsc  Sort = "price_asc"
	SortPriceDesc Sort = "price_desc"
	SortRating    Sort = "rating"
	SortPopular   Sort = "popular"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Allowed attribute values.
var (
	Flavors    = []string{"chocolate", "vanilla", "strawberry", "red_velvet", "butterscotch", "black_forest", "pineapple", "fruit", "coffee", "other"}
	Shapes     = []string{"round", "square", "heart", "rectangle", "tiered", "custom"}
	Occasions  = []string{"birthday", "anniversary", "wedding", "graduation", "baby_shower", "party", "other"}
	Festivals  = []string{"none", "christmas", "diwali", "eid", "valentines", "new_year", "easter"}
	CakeTypes  = []string{"regular", "eggless", "vegan", "sugar_free", "gluten_free"}
	sortValues = []Sort{SortNewest, SortPriceAsc, SortPriceDesc, SortRating, SortPopular}
)

// Filter selects and orders catalog search results.
type Filter struct {
	Keyword   string
	Category  string
	Flavor    string
	Shape     string
	Occasion  string
	Festival  string
	CakeType  string
	MinPrice  *decimal.Decimal
	MaxPrice  *decimal.Decimal
	MinRating float64
	InStock   bool
	Featured  bool
	Sort      Sort
	Page      int
	Limit     int
}

// Normalize applies paging defaults and validates enumerated fields.
func (f *Filter) Normalize() error {
	f.Keyword = strings.TrimSpace(f.Keyword)
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Sort == "" {
		f.Sort = SortNewest
	}
	if !slices.Contains(sortValues, f.Sort) {
		return &ValidationError{Field: "sort", Reason: fmt.Sprintf("unsupported value %q", f.Sort)}
	}
	for _, c := range []struct {
		field, value string
		allowed      []string
	}{
		{"flavor", f.Flavor, Flavors},
		{"shape", f.Shape, Shapes},
		{"occasion", f.Occasion, Occasions},
		{"festival", f.Festival, Festivals},
		{"cakeType", f.CakeType, CakeTypes},
	} {
		if c.value != "" && !slices.Contains(c.allowed, c.value) {
			return &ValidationError{Field: c.field, Reason: fmt.Sprintf("unsupported value %q", c.value)}
		}
	}
	if f.MinPrice != nil && f.MaxPrice != nil && f.MinPrice.GreaterThan(*f.MaxPrice) {
		return &ValidationError{Field: "minPrice", Reason: "must not exceed maxPrice"}
	}
	return nil
}

// Offset returns the row offset for the current page.
func (f Filter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// CacheKey is a stable key identifying the filter.
func (f Filter) CacheKey() string {
	price := func(d *decimal.Decimal) string {
		if d == nil {
			return ""
		}
		return d.String()
	}
	return fmt.Sprintf("search:%s|%s|%s|%s|%s|%s|%s|%s|%s|%g|%t|%t|%s|%d|%d",
		strings.ToLower(f.Keyword), f.Category, f.Flavor, f.Shape, f.Occasion, f.Festival, f.CakeType,
		price(f.MinPrice), price(f.MaxPrice), f.MinRating, f.InStock, f.Featured, f.Sort, f.Page, f.Limit)
}

// Pages returns the number of pages needed for total rows.
func Pages(total, limit int) int {
	if limit <= 0 || total == 0 {
		return 0
	}
	return (total + limit - 1) / limit
}
