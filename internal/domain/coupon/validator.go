package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/cake-heaven/internal/domain/txn"
)

// Input holds the writable coupon fields.
type Input struct {
	Code            string          `json:"code"`
	Description     string          `json:"description"`
	DiscountType    DiscountType    `json:"discountType"`
	DiscountValue   decimal.Decimal `json:"discountValue"`
	MinimumPurchase decimal.Decimal `json:"minimumPurchase"`
	MaximumDiscount decimal.Decimal `json:"maximumDiscount"`
	StartDate       time.Time       `json:"startDate"`
	EndDate         time.Time       `json:"endDate"`
	UsageLimit      int             `json:"usageLimit"`
	PerUserLimit    int             `json:"perUserLimit"`
	ApplicableTo    Scope           `json:"applicableTo"`
	Categories      []string        `json:"categories"`
	ProductIDs      []string        `json:"productIds"`
	UserIDs         []string        `json:"userIds"`
	IsActive        *bool           `json:"isActive"`
}

// Service validates, redeems and administers coupons.
type Service struct {
	repo Repository
	tx   txn.Runner
	now  func() time.Time
}

// NewService creates a coupon Service backed by the given Repository.
func NewService(repo Repository, tx txn.Runner) *Service {
	return &Service{repo: repo, tx: tx, now: time.Now}
}

// Validate looks up the coupon for code, checks its time window and usage
// limits, and computes the discount for items. It does not consume a use.
func (s *Service) Validate(ctx context.Context, code, userID string, items []Item) (*Discount, error) {
	c, err := s.repo.FindByCode(ctx, strings.TrimSpace(code))
	if err != nil {
		if errors.Is(err, ErrInvalidCoupon) {
			return nil, ErrInvalidCoupon
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}
	if err := s.checkLimits(ctx, c, userID, items); err != nil {
		return nil, err
	}

	d, err := Apply(c, userID, items)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// checkLimits runs the rule checks in order: time window, minimum purchase,
// usage limit, per-user limit.
func (s *Service) checkLimits(ctx context.Context, c *Coupon, userID string, items []Item) error {
	now := s.now()
	if now.Before(c.StartDate) || now.After(c.EndDate) {
		return ErrCouponExpired
	}
	if err := checkMinimum(c, items); err != nil {
		return err
	}
	if c.UsageLimit > 0 && c.UsageCount >= c.UsageLimit {
		return ErrUsageLimitReached
	}
	if c.PerUserLimit > 0 {
		used, err := s.repo.UserUsageCount(ctx, c.ID, userID)
		if err != nil {
			return errors.Wrap(err, "count coupon usage")
		}
		if used >= c.PerUserLimit {
			return ErrPerUserLimitReached
		}
	}
	return nil
}

// Redeem consumes one use of the discount's coupon for orderID. The usage
// counter only moves while it is below the limit, so concurrent redemptions
// can never overrun it. The increment locks the coupon row until the
// transaction ends, so the per-user count taken after it sees every
// committed redemption.
func (s *Service) Redeem(ctx context.Context, d *Discount, userID, orderID string) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		c, err := s.repo.GetByID(ctx, d.CouponID)
		if err != nil {
			return errors.Wrap(err, "load coupon")
		}
		ok, err := s.repo.IncrementUsage(ctx, c.ID)
		if err != nil {
			return errors.Wrap(err, "increment coupon usage")
		}
		if !ok {
			return ErrUsageLimitReached
		}
		if c.PerUserLimit > 0 {
			used, err := s.repo.UserUsageCount(ctx, c.ID, userID)
			if err != nil {
				return errors.Wrap(err, "count coupon usage")
			}
			if used >= c.PerUserLimit {
				return ErrPerUserLimitReached
			}
		}
		return s.repo.AddUsage(ctx, Usage{
			CouponID:       c.ID,
			UserID:         userID,
			OrderID:        orderID,
			DiscountAmount: d.Amount,
			UsedAt:         s.now(),
		})
	})
}

// Release returns the use consumed by orderID.
func (s *Service) Release(ctx context.Context, couponID, orderID string) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		existed, err := s.repo.DeleteUsage(ctx, couponID, orderID)
		if err != nil {
			return errors.Wrap(err, "delete coupon usage")
		}
		if !existed {
			return nil
		}
		return s.repo.DecrementUsage(ctx, couponID)
	})
}

// Available lists the coupons userID can currently use.
func (s *Service) Available(ctx context.Context, userID string) ([]Coupon, error) {
	list, err := s.repo.Available(ctx, userID, s.now())
	if err != nil {
		return nil, errors.Wrap(err, "list available coupons")
	}
	return list, nil
}

// Get returns a coupon by id.
func (s *Service) Get(ctx context.Context, id string) (*Coupon, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns one page of coupons and the total count.
func (s *Service) List(ctx context.Context, f ListFilter) ([]Coupon, int, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 || f.Limit > 100 {
		f.Limit = 20
	}
	return s.repo.List(ctx, f)
}

// Usages returns the redemption log of a coupon.
func (s *Service) Usages(ctx context.Context, id string) ([]Usage, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.Usages(ctx, id)
}

// Create validates and stores a new coupon.
func (s *Service) Create(ctx context.Context, in Input) (*Coupon, error) {
	c, err := Build(in, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Build validates in and returns a new active coupon with a fresh ID.
func Build(in Input, now time.Time) (*Coupon, error) {
	c := &Coupon{
		ID:        uuid.New().String(),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := fill(c, in); err != nil {
		return nil, err
	}
	return c, nil
}

// Update replaces the writable fields of a coupon. The usage counter is kept.
func (s *Service) Update(ctx context.Context, id string, in Input) (*Coupon, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fill(c, in); err != nil {
		return nil, err
	}
	c.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Delete removes a coupon.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

func fill(c *Coupon, in Input) error {
	code := strings.ToUpper(strings.TrimSpace(in.Code))
	scope := in.ApplicableTo
	if scope == "" {
		scope = ScopeAll
	}

	switch {
	case code == "":
		return &ValidationError{Field: "code", Reason: "is required"}
	case in.DiscountType != DiscountPercentage && in.DiscountType != DiscountFixed:
		return &ValidationError{Field: "discountType", Reason: "must be percentage or fixed"}
	case !in.DiscountValue.IsPositive():
		return &ValidationError{Field: "discountValue", Reason: "must be greater than 0"}
	case in.DiscountType == DiscountPercentage && in.DiscountValue.GreaterThan(hundred):
		return &ValidationError{Field: "discountValue", Reason: "percentage must not exceed 100"}
	case in.MinimumPurchase.IsNegative():
		return &ValidationError{Field: "minimumPurchase", Reason: "must not be negative"}
	case in.MaximumDiscount.IsNegative():
		return &ValidationError{Field: "maximumDiscount", Reason: "must not be negative"}
	case in.StartDate.IsZero() || in.EndDate.IsZero():
		return &ValidationError{Field: "startDate", Reason: "start and end dates are required"}
	case !in.EndDate.After(in.StartDate):
		return &ValidationError{Field: "endDate", Reason: "must be after startDate"}
	case in.UsageLimit < 0 || in.PerUserLimit < 0:
		return &ValidationError{Field: "usageLimit", Reason: "must not be negative"}
	case scope == ScopeCategory && len(in.Categories) == 0:
		return &ValidationError{Field: "categories", Reason: "required for category coupons"}
	case scope == ScopeProduct && len(in.ProductIDs) == 0:
		return &ValidationError{Field: "productIds", Reason: "required for product coupons"}
	case scope == ScopeUser && len(in.UserIDs) == 0:
		return &ValidationError{Field: "userIds", Reason: "required for user coupons"}
	case scope != ScopeAll && scope != ScopeCategory && scope != ScopeProduct && scope != ScopeUser:
		return &ValidationError{Field: "applicableTo", Reason: "unsupported scope " + string(scope)}
	}

	c.Code = code
	c.Description = in.Description
	c.DiscountType = in.DiscountType
	c.DiscountValue = in.DiscountValue.Round(2)
	c.MinimumPurchase = in.MinimumPurchase.Round(2)
	c.MaximumDiscount = in.MaximumDiscount.Round(2)
	c.StartDate = in.StartDate
	c.EndDate = in.EndDate
	c.UsageLimit = in.UsageLimit
	c.PerUserLimit = in.PerUserLimit
	c.ApplicableTo = scope
	c.Categories = nonNil(in.Categories)
	c.ProductIDs = nonNil(in.ProductIDs)
	c.UserIDs = nonNil(in.UserIDs)
	if in.IsActive != nil {
		c.IsActive = *in.IsActive
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
