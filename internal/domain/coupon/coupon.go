package coupon

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage of the eligible subtotal,
	// capped by MaximumDiscount when set.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a fixed amount, capped at the eligible subtotal.
	DiscountFixed DiscountType = "fixed"
)

// Scope selects which part of a cart a coupon applies to.
type Scope string

const (
	ScopeAll      Scope = "all"
	ScopeCategory Scope = "category"
	ScopeProduct  Scope = "product"
	ScopeUser     Scope = "user"
)

var (
	// ErrInvalidCoupon is returned when a code is unknown or inactive.
	ErrInvalidCoupon = errors.New("invalid coupon code")
	// ErrCouponExpired is returned when a coupon is outside its valid time window.
	ErrCouponExpired = errors.New("coupon expired or not yet active")
	// ErrUsageLimitReached is returned when a coupon has exhausted its allowed uses.
	ErrUsageLimitReached = errors.New("coupon usage limit reached")
	// ErrPerUserLimitReached is returned when the user already used the coupon
	// the maximum number of times.
	ErrPerUserLimitReached = errors.New("coupon already used the maximum number of times")
	// ErrNotApplicable is returned when nothing in the cart is eligible.
	ErrNotApplicable = errors.New("coupon does not apply to this cart")
	// ErrNotFound is returned by admin lookups of a missing coupon.
	ErrNotFound = errors.New("coupon not found")
	// ErrCodeTaken is returned when creating a coupon with an existing code.
	ErrCodeTaken = errors.New("coupon code already exists")
)

// MinimumPurchaseError is returned when the cart total is below the
// coupon's minimum purchase amount.
type MinimumPurchaseError struct {
	Required decimal.Decimal
}

func (e *MinimumPurchaseError) Error() string {
	return fmt.Sprintf("minimum purchase of %s required", e.Required.StringFixed(2))
}

// ValidationError describes a coupon field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

// Coupon defines a discount and its eligibility constraints. Zero limits
// mean unlimited.
type Coupon struct {
	ID              string          `json:"id"`
	Code            string          `json:"code"`
	Description     string          `json:"description"`
	DiscountType    DiscountType    `json:"discountType"`
	DiscountValue   decimal.Decimal `json:"discountValue"`
	MinimumPurchase decimal.Decimal `json:"minimumPurchase"`
	MaximumDiscount decimal.Decimal `json:"maximumDiscount"`
	StartDate       time.Time       `json:"startDate"`
	EndDate         time.Time       `json:"endDate"`
	UsageLimit      int             `json:"usageLimit"`
	UsageCount      int             `json:"usageCount"`
	PerUserLimit    int             `json:"perUserLimit"`
	ApplicableTo    Scope           `json:"applicableTo"`
	Categories      []string        `json:"categories"`
	ProductIDs      []string        `json:"productIds"`
	UserIDs         []string        `json:"userIds"`
	IsActive        bool            `json:"isActive"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Usage is one redemption of a coupon.
type Usage struct {
	CouponID       string          `json:"couponId"`
	UserID         string          `json:"userId"`
	OrderID        string          `json:"orderId"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	UsedAt         time.Time       `json:"usedAt"`
}

// Discount holds the computed discount for a cart.
type Discount struct {
	CouponID         string          `json:"couponId"`
	Code             string          `json:"code"`
	Amount           decimal.Decimal `json:"discountAmount"`
	EligibleSubtotal decimal.Decimal `json:"eligibleSubtotal"`
	Description      string          `json:"description"`
}

// Item represents a cart line for discount calculation purposes.
type Item struct {
	ProductID string
	Category  string
	Price     decimal.Decimal
	Quantity  int
}

// ListFilter selects coupons for the admin listing.
type ListFilter struct {
	ActiveOnly bool
	Page       int
	Limit      int
}

// Repository provides lookup and mutation of coupons and their usages.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	GetByID(ctx context.Context, id string) (*Coupon, error)
	List(ctx context.Context, f ListFilter) ([]Coupon, int, error)
	Available(ctx context.Context, userID string, now time.Time) ([]Coupon, error)
	Create(ctx context.Context, c *Coupon) error
	Update(ctx context.Context, c *Coupon) error
	Delete(ctx context.Context, id string) error

	// IncrementUsage bumps usage_count only while it is below usage_limit.
	// It reports false when the limit is already reached.
	IncrementUsage(ctx context.Context, couponID string) (bool, error)
	DecrementUsage(ctx context.Context, couponID string) error
	UserUsageCount(ctx context.Context, couponID, userID string) (int, error)
	AddUsage(ctx context.Context, u Usage) error
	// DeleteUsage removes the usage recorded for an order and reports
	// whether one existed.
	DeleteUsage(ctx context.Context, couponID, orderID string) (bool, error)
	Usages(ctx context.Context, couponID string) ([]Usage, error)
}
