package product

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Input holds the writable product fields. Nil pointers leave the current
// value untouched on update.
type Input struct {
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Price       *decimal.Decimal `json:"price"`
	SalePrice   *decimal.Decimal `json:"salePrice"`
	Category    *string          `json:"category"`
	Flavor      *string          `json:"flavor"`
	Shape       *string          `json:"shape"`
	Occasion    *string          `json:"occasion"`
	Festival    *string          `json:"festival"`
	CakeType    *string          `json:"cakeType"`
	Images      []string         `json:"images"`
	Stock       *int             `json:"stock"`
	IsFeatured  *bool            `json:"isFeatured"`
}

// Service is the catalog read/write API. Reads go through the cache; every
// write invalidates it.
type Service struct {
	repo  Repository
	cache Cache
	now   func() time.Time
}

// NewService creates a catalog Service. A nil cache disables caching.
func NewService(repo Repository, cache Cache) *Service {
	if cache == nil {
		cache = NopCache{}
	}
	return &Service{repo: repo, cache: cache, now: time.Now}
}

func cached[T any](ctx context.Context, c Cache, key string, load func() (T, error)) (T, error) {
	var v T
	gen, hit, err := c.Fetch(ctx, key, &v)
	if err != nil {
		zctx.From(ctx).Warn("Catalog cache read failed", zap.String("key", key), zap.Error(err))
	}
	if hit {
		return v, nil
	}
	v, lerr := load()
	if lerr != nil || err != nil {
		return v, lerr
	}
	if err := c.Store(ctx, gen, key, v); err != nil {
		zctx.From(ctx).Warn("Catalog cache write failed", zap.String("key", key), zap.Error(err))
	}
	return v, nil
}

// Invalidate drops every cached catalog read.
func (s *Service) Invalidate(ctx context.Context) {
	if err := s.cache.Invalidate(ctx); err != nil {
		zctx.From(ctx).Warn("Catalog cache invalidation failed", zap.Error(err))
	}
}

// Search returns one page of products matching f.
func (s *Service) Search(ctx context.Context, f Filter) (*Page, error) {
	if err := f.Normalize(); err != nil {
		return nil, err
	}
	return cached(ctx, s.cache, f.CacheKey(), func() (*Page, error) {
		page, err := s.repo.Search(ctx, f)
		if err != nil {
			return nil, errors.Wrap(err, "search products")
		}
		return page, nil
	})
}

// Get returns a product with its reviews.
func (s *Service) Get(ctx context.Context, id string) (*Product, error) {
	return cached(ctx, s.cache, "product:"+id, func() (*Product, error) {
		p, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		reviews, err := s.repo.Reviews(ctx, id)
		if err != nil {
			return nil, errors.Wrap(err, "list reviews")
		}
		p.Reviews = reviews
		return p, nil
	})
}

// Reviews returns the reviews of a product, newest first.
func (s *Service) Reviews(ctx context.Context, id string) ([]Review, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.Reviews, nil
}

// Categories returns every category with its product count.
func (s *Service) Categories(ctx context.Context) ([]CategoryCount, error) {
	return cached(ctx, s.cache, "categories", func() ([]CategoryCount, error) {
		return s.repo.Categories(ctx)
	})
}

// Featured returns up to limit featured products.
func (s *Service) Featured(ctx context.Context, limit int) ([]Product, error) {
	limit = clampLimit(limit, 8)
	return cached(ctx, s.cache, "featured:"+strconv.Itoa(limit), func() ([]Product, error) {
		return s.repo.Featured(ctx, limit)
	})
}

// TopRated returns up to limit products ordered by rating.
func (s *Service) TopRated(ctx context.Context, limit int) ([]Product, error) {
	limit = clampLimit(limit, 8)
	return cached(ctx, s.cache, "top-rated:"+strconv.Itoa(limit), func() ([]Product, error) {
		return s.repo.TopRated(ctx, limit)
	})
}

// Create validates and stores a new product.
func (s *Service) Create(ctx context.Context, in Input) (*Product, error) {
	now := s.now()
	p := &Product{
		ID:        uuid.New().String(),
		Flavor:    "other",
		Shape:     "round",
		Occasion:  "other",
		Festival:  "none",
		CakeType:  "regular",
		Images:    []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if in.Name == nil || strings.TrimSpace(*in.Name) == "" {
		return nil, &ValidationError{Field: "name", Reason: "is required"}
	}
	if in.Price == nil {
		return nil, &ValidationError{Field: "price", Reason: "is required"}
	}
	if in.Category == nil || strings.TrimSpace(*in.Category) == "" {
		return nil, &ValidationError{Field: "category", Reason: "is required"}
	}
	if err := merge(p, in); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, errors.Wrap(err, "create product")
	}
	s.Invalidate(ctx)
	return p, nil
}

// Update applies the non-nil fields of in to an existing product.
func (s *Service) Update(ctx context.Context, id string, in Input) (*Product, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := merge(p, in); err != nil {
		return nil, err
	}
	p.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, errors.Wrap(err, "update product")
	}
	s.Invalidate(ctx)
	return p, nil
}

// Delete removes a product.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.Invalidate(ctx)
	return nil
}

// AdjustStock changes the stock level by delta.
func (s *Service) AdjustStock(ctx context.Context, id string, delta int) (int, error) {
	stock, err := s.repo.AdjustStock(ctx, id, delta)
	if err != nil {
		return 0, err
	}
	s.Invalidate(ctx)
	return stock, nil
}

// AddReview records a 1..5 star review. A user may review a product once.
func (s *Service) AddReview(ctx context.Context, productID, userID, userName string, rating int, comment string) (*Review, error) {
	if rating < 1 || rating > 5 {
		return nil, &ValidationError{Field: "rating", Reason: "must be between 1 and 5"}
	}
	if _, err := s.repo.GetByID(ctx, productID); err != nil {
		return nil, err
	}
	r := &Review{
		ID:        uuid.New().String(),
		ProductID: productID,
		UserID:    userID,
		Name:      userName,
		Rating:    rating,
		Comment:   strings.TrimSpace(comment),
		CreatedAt: s.now(),
	}
	if err := s.repo.AddReview(ctx, r); err != nil {
		return nil, err
	}
	s.Invalidate(ctx)
	return r, nil
}

func merge(p *Product, in Input) error {
	if in.Name != nil {
		p.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		p.Description = *in.Description
	}
	if in.Price != nil {
		p.Price = in.Price.Round(2)
	}
	if in.SalePrice != nil {
		p.SalePrice = in.SalePrice.Round(2)
	}
	if in.Category != nil {
		p.Category = strings.TrimSpace(*in.Category)
	}
	enums := []struct {
		field   string
		src     *string
		dst     *string
		allowed []string
	}{
		{"flavor", in.Flavor, &p.Flavor, Flavors},
		{"shape", in.Shape, &p.Shape, Shapes},
		{"occasion", in.Occasion, &p.Occasion, Occasions},
		{"festival", in.Festival, &p.Festival, Festivals},
		{"cakeType", in.CakeType, &p.CakeType, CakeTypes},
	}
	for _, e := range enums {
		if e.src == nil {
			continue
		}
		if !slices.Contains(e.allowed, *e.src) {
			return &ValidationError{Field: e.field, Reason: "unsupported value " + *e.src}
		}
		*e.dst = *e.src
	}
	if in.Images != nil {
		p.Images = in.Images
	}
	if in.Stock != nil {
		p.Stock = *in.Stock
	}
	if in.IsFeatured != nil {
		p.IsFeatured = *in.IsFeatured
	}

	switch {
	case p.Name == "":
		return &ValidationError{Field: "name", Reason: "is required"}
	case !p.Price.IsPositive():
		return &ValidationError{Field: "price", Reason: "must be greater than 0"}
	case p.SalePrice.IsNegative():
		return &ValidationError{Field: "salePrice", Reason: "must not be negative"}
	case p.SalePrice.IsPositive() && !p.SalePrice.LessThan(p.Price):
		return &ValidationError{Field: "salePrice", Reason: "must be less than price"}
	case p.Stock < 0:
		return &ValidationError{Field: "stock", Reason: "must not be negative"}
	}
	return nil
}

func clampLimit(limit, def int) int {
	if limit < 1 {
		return def
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
