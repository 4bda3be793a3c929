package order

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/cake-heaven/internal/domain/settings"
)

var hundred = decimal.NewFromInt(100)

// Breakdown is the computed price of an order.
type Breakdown struct {
	Items    decimal.Decimal
	Shipping decimal.Decimal
	Tax      decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// Price computes the breakdown for an items subtotal and a coupon discount.
// Every component is rounded to cents and the total never goes below zero.
func Price(items, discount decimal.Decimal, st *settings.Settings) Breakdown {
	b := Breakdown{
		Items:    items.Round(2),
		Discount: discount.Round(2),
		Shipping: st.Shipping.FlatRate.Round(2),
	}
	threshold := st.Shipping.FreeShippingThreshold
	if threshold.IsPositive() && b.Items.GreaterThanOrEqual(threshold) {
		b.Shipping = decimal.Zero
	}
	b.Tax = b.Items.Mul(st.Payment.TaxRate).Div(hundred).Round(2)
	return b.withDiscount(b.Discount)
}

// withDiscount recomputes the total for discount, keeping the items,
// shipping and tax already on b.
func (b Breakdown) withDiscount(discount decimal.Decimal) Breakdown {
	b.Discount = discount.Round(2)
	total := b.Items.Add(b.Shipping).Add(b.Tax).Sub(b.Discount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	b.Total = total.Round(2)
	return b
}

// Reward is the loyalty credit earned for total at rate percent.
func Reward(total, rate decimal.Decimal) decimal.Decimal {
	if !rate.IsPositive() {
		return decimal.Zero
	}
	return total.Mul(rate).Div(hundred).Round(2)
}

func itemsSubtotal(items []Item) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Subtotal())
	}
	return sum
}
