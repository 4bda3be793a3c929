package coupon

import (
	"slices"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Apply calculates the discount of c for the given cart items on behalf of
// userID. Time window and usage limits are not checked here.
func Apply(c *Coupon, userID string, items []Item) (Discount, error) {
	if err := checkMinimum(c, items); err != nil {
		return Discount{}, err
	}

	eligible, err := eligibleSubtotal(c, userID, items)
	if err != nil {
		return Discount{}, err
	}
	if !eligible.IsPositive() {
		return Discount{}, ErrNotApplicable
	}

	var amount decimal.Decimal
	switch c.DiscountType {
	case DiscountPercentage:
		amount = eligible.Mul(c.DiscountValue).Div(hundred)
		if c.MaximumDiscount.IsPositive() {
			amount = decimal.Min(amount, c.MaximumDiscount)
		}
	case DiscountFixed:
		amount = c.DiscountValue
	default:
		return Discount{}, errors.Errorf("unsupported discount type: %q", c.DiscountType)
	}
	amount = floorAtZero(decimal.Min(amount, eligible)).Round(2)

	return Discount{
		CouponID:         c.ID,
		Code:             c.Code,
		Amount:           amount,
		EligibleSubtotal: eligible.Round(2),
		Description:      c.Description,
	}, nil
}

func checkMinimum(c *Coupon, items []Item) error {
	if c.MinimumPurchase.IsPositive() && calcSubtotal(items).LessThan(c.MinimumPurchase) {
		return &MinimumPurchaseError{Required: c.MinimumPurchase}
	}
	return nil
}

func eligibleSubtotal(c *Coupon, userID string, items []Item) (decimal.Decimal, error) {
	switch c.ApplicableTo {
	case ScopeAll, "":
		return calcSubtotal(items), nil
	case ScopeUser:
		if !slices.Contains(c.UserIDs, userID) {
			return decimal.Zero, ErrNotApplicable
		}
		return calcSubtotal(items), nil
	case ScopeCategory:
		return calcSubtotalWhere(items, func(it Item) bool {
			return slices.Contains(c.Categories, it.Category)
		}), nil
	case ScopeProduct:
		return calcSubtotalWhere(items, func(it Item) bool {
			return slices.Contains(c.ProductIDs, it.ProductID)
		}), nil
	default:
		return decimal.Zero, errors.Errorf("unsupported coupon scope: %q", c.ApplicableTo)
	}
}

// calcSubtotal returns the sum of price * quantity across all items.
func calcSubtotal(items []Item) decimal.Decimal {
	return calcSubtotalWhere(items, func(Item) bool { return true })
}

func calcSubtotalWhere(items []Item, keep func(Item) bool) decimal.Decimal {
	sum := decimal.Zero
	for _, item := range items {
		if !keep(item) {
			continue
		}
		sum = sum.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return sum
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
