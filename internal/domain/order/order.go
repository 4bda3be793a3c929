package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status is the fulfilment state of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// PaymentMethod is how the customer settles an order.
type PaymentMethod string

const (
	PaymentCard PaymentMethod = "card"
	PaymentCOD  PaymentMethod = "cod"
)

// Sentinel errors for order operations.
var (
	ErrNotFound                = errors.New("order not found")
	ErrEmptyItems              = errors.New("items required")
	ErrShippingAddressRequired = errors.New("shipping address required")
	ErrInvalidPaymentMethod    = errors.New("payment method must be card or cod")
	ErrPaymentMethodDisabled   = errors.New("payment method is disabled")
	ErrWalletDisabled          = errors.New("wallet payments are disabled")
	ErrAlreadyPaid             = errors.New("order is already paid")
	ErrOrderCancelled          = errors.New("order is cancelled")
	ErrAmountMismatch          = errors.New("paid amount does not match amount due")
	ErrPaymentSuperseded       = errors.New("payment intent no longer settles the order")
	ErrCouponNotAllowed        = errors.New("coupon cannot be applied to this order")
	ErrNothingDue              = errors.New("nothing left to pay")
	ErrInvalidStatus           = errors.New("unknown order status")
	// ErrDuplicateIdempotencyKey is returned by Repository.Create when the
	// user already has an order with the same idempotency key.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// OutOfStockError indicates the stock of a product cannot cover a line.
type OutOfStockError struct {
	ProductID string
	Name      string
	Available int
	Requested int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: %d available, %d requested", e.Name, e.Available, e.Requested)
}

// InvalidTransitionError indicates a status change that is not allowed.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot change order status from %s to %s", e.From, e.To)
}

// Item is a priced line of an order, frozen at placement time.
type Item struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Image     string          `json:"image"`
	Category  string          `json:"category"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

// Subtotal is Price times Quantity.
func (i Item) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ShippingAddress is the delivery address copied onto the order.
type ShippingAddress struct {
	FullName   string `json:"fullName"`
	Phone      string `json:"phone"`
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

func (a *ShippingAddress) complete() bool {
	return a != nil && a.FullName != "" && a.Street != "" && a.City != "" && a.PostalCode != "" && a.Country != ""
}

// StatusChange is one entry of the order status history.
type StatusChange struct {
	Status    Status    `json:"status"`
	Comment   string    `json:"comment"`
	ChangedAt time.Time `json:"changedAt"`
}

// PaymentResult records the outcome reported by the payment channel.
type PaymentResult struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	UpdateTime   string `json:"updateTime"`
	EmailAddress string `json:"emailAddress"`
}

// Order is a customer order with its price breakdown and lifecycle state.
type Order struct {
	ID               string          `json:"id"`
	OrderNumber      string          `json:"orderNumber"`
	UserID           string          `json:"userId"`
	IdempotencyKey   string          `json:"-"`
	Items            []Item          `json:"items"`
	ShippingAddress  ShippingAddress `json:"shippingAddress"`
	PaymentMethod    PaymentMethod   `json:"paymentMethod"`
	ItemsPrice       decimal.Decimal `json:"itemsPrice"`
	TaxPrice         decimal.Decimal `json:"taxPrice"`
	ShippingPrice    decimal.Decimal `json:"shippingPrice"`
	DiscountAmount   decimal.Decimal `json:"discountAmount"`
	WalletAmountUsed decimal.Decimal `json:"walletAmountUsed"`
	TotalPrice       decimal.Decimal `json:"totalPrice"`
	RewardPoints     decimal.Decimal `json:"rewardPoints"`
	CouponID         string          `json:"-"`
	CouponCode       string          `json:"couponCode,omitempty"`
	Status           Status          `json:"status"`
	StatusHistory    []StatusChange  `json:"statusHistory"`
	IsPaid           bool            `json:"isPaid"`
	PaidAt           *time.Time      `json:"paidAt,omitempty"`
	PaymentIntentID  string          `json:"paymentIntentId,omitempty"`
	PaymentResult    *PaymentResult  `json:"paymentResult,omitempty"`
	IsDelivered      bool            `json:"isDelivered"`
	DeliveredAt      *time.Time      `json:"deliveredAt,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// AmountDue is what remains to be paid after the wallet offset.
func (o *Order) AmountDue() decimal.Decimal {
	due := o.TotalPrice.Sub(o.WalletAmountUsed)
	if due.IsNegative() {
		return decimal.Zero
	}
	return due
}

// AmountDueMinor is AmountDue in cents.
func (o *Order) AmountDueMinor() int64 {
	return o.AmountDue().Shift(2).Round(0).IntPart()
}

// Filter narrows the administrative order listing.
type Filter struct {
	Status Status
	Paid   *bool
	From   time.Time
	To     time.Time
	Search string
	Page   int
	Limit  int
}

// Page is one page of orders.
type Page struct {
	Orders []Order `json:"orders"`
	Total  int     `json:"total"`
	Page   int     `json:"page"`
	Pages  int     `json:"pages"`
}

// Repository defines persistence operations for orders.
type Repository interface {
	FindByIdempotencyKey(ctx context.Context, userID, key string) (*Order, error)
	// Create inserts the order together with its items and status history.
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	// GetForUpdate loads the order and locks it until the transaction ends.
	GetForUpdate(ctx context.Context, id string) (*Order, error)
	// Update persists the mutable columns of o. Items are immutable.
	Update(ctx context.Context, o *Order) error
	AddHistory(ctx context.Context, orderID string, h StatusChange) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]Order, int, error)
	List(ctx context.Context, f Filter) ([]Order, int, error)
	FindByPaymentIntent(ctx context.Context, intentID string) (*Order, error)
}
