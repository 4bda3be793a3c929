package product

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a requested product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrAlreadyReviewed is returned when a user reviews the same product twice.
	ErrAlreadyReviewed = errors.New("product already reviewed")
	// ErrInsufficientStock is returned when a stock change would go below zero.
	ErrInsufficientStock = errors.New("insufficient stock")
)

// ValidationError describes a product field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

// Product represents a cake in the catalog.
type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	SalePrice   decimal.Decimal `json:"salePrice"`
	Category    string          `json:"category"`
	Flavor      string          `json:"flavor"`
	Shape       string          `json:"shape"`
	Occasion    string          `json:"occasion"`
	Festival    string          `json:"festival"`
	CakeType    string          `json:"cakeType"`
	Images      []string        `json:"images"`
	Stock       int             `json:"stock"`
	IsFeatured  bool            `json:"isFeatured"`
	AvgRating   float64         `json:"rating"`
	NumReviews  int             `json:"numReviews"`
	Reviews     []Review        `json:"reviews,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// OnSale reports whether the sale price undercuts the regular price.
func (p Product) OnSale() bool {
	return p.SalePrice.IsPositive() && p.SalePrice.LessThan(p.Price)
}

// EffectivePrice is the unit price a customer pays.
func (p Product) EffectivePrice() decimal.Decimal {
	if p.OnSale() {
		return p.SalePrice
	}
	return p.Price
}

// Image returns the first image, or an empty string.
func (p Product) Image() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0]
}

// Review is a single customer rating of a product.
type Review struct {
	ID        string    `json:"id"`
	ProductID string    `json:"productId"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"createdAt"`
}

// CategoryCount is a category name with the number of products in it.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// Page is one page of search results.
type Page struct {
	Items []Product `json:"products"`
	Total int       `json:"total"`
	Page  int       `json:"page"`
	Pages int       `json:"pages"`
}

// Repository defines persistence operations for the catalog.
type Repository interface {
	Search(ctx context.Context, f Filter) (*Page, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
	Categories(ctx context.Context) ([]CategoryCount, error)
	Featured(ctx context.Context, limit int) ([]Product, error)
	TopRated(ctx context.Context, limit int) ([]Product, error)
	Create(ctx context.Context, p *Product) error
	Update(ctx context.Context, p *Product) error
	Delete(ctx context.Context, id string) error
	// AdjustStock adds delta to the stock and returns the new level.
	// It fails with ErrInsufficientStock instead of going below zero.
	AdjustStock(ctx context.Context, id string, delta int) (int, error)
	Reviews(ctx context.Context, productID string) ([]Review, error)
	// AddReview stores the review and recomputes the product rating.
	AddReview(ctx context.Context, r *Review) error
}

// Cache is a TTL cache for catalog reads. Invalidate drops every entry.
//
// Fetch reports the cache generation it read. A value loaded after a miss is
// stored with that generation; if Invalidate ran in between, the value is
// never served.
type Cache interface {
	Fetch(ctx context.Context, key string, dst any) (gen int64, hit bool, err error)
	Store(ctx context.Context, gen int64, key string, v any) error
	Invalidate(ctx context.Context) error
}
