package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/cake-heaven/internal/domain/auth"
	"github.com/xenking/cake-heaven/internal/domain/coupon"
	"github.com/xenking/cake-heaven/internal/domain/product"
	"github.com/xenking/cake-heaven/internal/domain/settings"
	"github.com/xenking/cake-heaven/internal/domain/txn"
	"github.com/xenking/cake-heaven/internal/domain/wallet"
)

// Products is the catalog surface used by orders.
type Products interface {
	GetByIDs(ctx context.Context, ids []string) ([]product.Product, error)
	// AdjustStock returns product.ErrInsufficientStock when a decrement
	// would take the stock below zero.
	AdjustStock(ctx context.Context, id string, delta int) (int, error)
}

// Coupons validates and redeems discount codes.
type Coupons interface {
	Validate(ctx context.Context, code, userID string, items []coupon.Item) (*coupon.Discount, error)
	Redeem(ctx context.Context, d *coupon.Discount, userID, orderID string) error
	Release(ctx context.Context, couponID, orderID string) error
}

// Wallet moves loyalty balance.
type Wallet interface {
	Credit(ctx context.Context, e wallet.Entry) (*wallet.Transaction, error)
	Debit(ctx context.Context, e wallet.Entry) (*wallet.Transaction, error)
	DebitUpTo(ctx context.Context, e wallet.Entry) (*wallet.Transaction, error)
}

// Settings provides the current store settings.
type Settings interface {
	Get(ctx context.Context) (*settings.Settings, error)
}

// Addresses resolves saved addresses.
type Addresses interface {
	Address(ctx context.Context, userID, addressID string) (*auth.Address, error)
}

// CatalogInvalidator drops cached catalog reads after stock changes.
type CatalogInvalidator interface {
	Invalidate(ctx context.Context)
}

// Notifier sends order confirmations.
type Notifier interface {
	OrderPlaced(ctx context.Context, o *Order) error
}

// Refunder returns card payments.
type Refunder interface {
	Refund(ctx context.Context, paymentIntentID string) error
}

// Deps are the collaborators of the order Service.
type Deps struct {
	Orders    Repository
	Products  Products
	Coupons   Coupons
	Wallet    Wallet
	Settings  Settings
	Addresses Addresses
	Catalog   CatalogInvalidator
	Notifier  Notifier
	Refunder  Refunder
	Tx        txn.Runner
}

type nopCatalog struct{}

func (nopCatalog) Invalidate(context.Context) {}

// Option configures the order Service.
type Option func(*Service)

// WithMeterProvider sets the meter provider for order counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meter = mp.Meter("order") }
}

// WithTracerProvider sets the tracer provider for order spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer("order") }
}

// Service encapsulates order placement and lifecycle business logic.
type Service struct {
	Deps

	meter  metric.Meter
	tracer trace.Tracer
	now    func() time.Time

	placed      metric.Int64Counter
	cancelled   metric.Int64Counter
	revenue     metric.Float64Counter
	redemptions metric.Int64Counter
	walletSpent metric.Float64Counter
}

// NewService creates an order Service with the required domain dependencies.
func NewService(deps Deps, opts ...Option) (*Service, error) {
	s := &Service{
		Deps:   deps,
		meter:  metricnoop.NewMeterProvider().Meter("order"),
		tracer: tracenoop.NewTracerProvider().Tracer("order"),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.Tx == nil {
		s.Tx = txn.Direct{}
	}
	if s.Catalog == nil {
		s.Catalog = nopCatalog{}
	}

	var err error
	if s.placed, err = s.meter.Int64Counter("orders.placed",
		metric.WithDescription("Orders placed")); err != nil {
		return nil, errors.Wrap(err, "orders.placed")
	}
	if s.cancelled, err = s.meter.Int64Counter("orders.cancelled",
		metric.WithDescription("Orders cancelled")); err != nil {
		return nil, errors.Wrap(err, "orders.cancelled")
	}
	if s.revenue, err = s.meter.Float64Counter("orders.revenue",
		metric.WithDescription("Total price of placed orders"),
		metric.WithUnit("{currency}")); err != nil {
		return nil, errors.Wrap(err, "orders.revenue")
	}
	if s.redemptions, err = s.meter.Int64Counter("orders.coupon_redemptions",
		metric.WithDescription("Coupons redeemed by orders")); err != nil {
		return nil, errors.Wrap(err, "orders.coupon_redemptions")
	}
	if s.walletSpent, err = s.meter.Float64Counter("orders.wallet_spent",
		metric.WithDescription("Wallet points spent on orders")); err != nil {
		return nil, errors.Wrap(err, "orders.wallet_spent")
	}
	return s, nil
}

// LineRequest is one requested product and quantity.
type LineRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// PlaceRequest holds the input for placing an order.
type PlaceRequest struct {
	Items           []LineRequest
	ShippingAddress *ShippingAddress
	AddressID       string
	PaymentMethod   PaymentMethod
	CouponCode      string
	WalletPoints    decimal.Decimal
	IdempotencyKey  string
}

// Place prices, reserves and persists an order. Repeating a request with the
// same idempotency key returns the order created the first time.
func (s *Service) Place(ctx context.Context, userID string, req PlaceRequest) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.Place")
	defer span.End()

	lines, err := mergeLines(req.Items)
	if err != nil {
		return nil, err
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = PaymentCard
	}
	if req.PaymentMethod != PaymentCard && req.PaymentMethod != PaymentCOD {
		return nil, ErrInvalidPaymentMethod
	}
	if req.WalletPoints.IsNegative() {
		return nil, wallet.ErrInvalidAmount
	}
	if req.AddressID == "" && !req.ShippingAddress.complete() {
		return nil, ErrShippingAddressRequired
	}
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)

	st, err := s.Settings.Get(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load settings")
	}
	if err := checkPaymentMethod(st, req); err != nil {
		return nil, err
	}

	var (
		o      *Order
		replay bool
	)
	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if req.IdempotencyKey != "" {
			existing, err := s.Orders.FindByIdempotencyKey(ctx, userID, req.IdempotencyKey)
			switch {
			case err == nil:
				o, replay = existing, true
				return nil
			case !errors.Is(err, ErrNotFound):
				return errors.Wrap(err, "lookup idempotency key")
			}
		}
		o, err = s.place(ctx, userID, req, lines, st)
		return err
	})
	if errors.Is(err, ErrDuplicateIdempotencyKey) {
		// A concurrent request with the same key won the insert.
		return s.Orders.FindByIdempotencyKey(ctx, userID, req.IdempotencyKey)
	}
	if err != nil {
		return nil, err
	}
	if replay {
		return o, nil
	}

	attrs := metric.WithAttributes(attribute.String("payment_method", string(o.PaymentMethod)))
	s.placed.Add(ctx, 1, attrs)
	s.revenue.Add(ctx, o.TotalPrice.InexactFloat64(), attrs)
	if o.CouponCode != "" {
		s.redemptions.Add(ctx, 1, metric.WithAttributes(attribute.String("code", o.CouponCode)))
	}
	if o.WalletAmountUsed.IsPositive() {
		s.walletSpent.Add(ctx, o.WalletAmountUsed.InexactFloat64())
	}

	s.Catalog.Invalidate(ctx)
	if s.Notifier != nil {
		if err := s.Notifier.OrderPlaced(ctx, o); err != nil {
			zctx.From(ctx).Warn("Send order confirmation",
				zap.String("order_number", o.OrderNumber), zap.Error(err))
		}
	}
	zctx.From(ctx).Info("Order placed",
		zap.String("order_number", o.OrderNumber),
		zap.String("total", o.TotalPrice.StringFixed(2)),
	)
	return o, nil
}

func (s *Service) place(ctx context.Context, userID string, req PlaceRequest, lines []LineRequest, st *settings.Settings) (*Order, error) {
	addr, err := s.shippingAddress(ctx, userID, req)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	fetched, err := s.Products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	items := make([]Item, len(lines))
	for i, l := range lines {
		p, ok := byID[l.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: l.ProductID}
		}
		if p.Stock < l.Quantity {
			return nil, &OutOfStockError{ProductID: p.ID, Name: p.Name, Available: p.Stock, Requested: l.Quantity}
		}
		items[i] = Item{
			ProductID: p.ID,
			Name:      p.Name,
			Image:     p.Image(),
			Category:  p.Category,
			Price:     p.EffectivePrice(),
			Quantity:  l.Quantity,
		}
	}

	var discount *coupon.Discount
	if code := strings.TrimSpace(req.CouponCode); code != "" {
		discount, err = s.Coupons.Validate(ctx, code, userID, couponItems(items))
		if err != nil {
			return nil, err
		}
	}
	discountAmount := decimal.Zero
	if discount != nil {
		discountAmount = discount.Amount
	}
	b := Price(itemsSubtotal(items), discountAmount, st)

	now := s.now()
	o := &Order{
		ID:               uuid.New().String(),
		OrderNumber:      newOrderNumber(now),
		UserID:           userID,
		IdempotencyKey:   req.IdempotencyKey,
		Items:            items,
		ShippingAddress:  *addr,
		PaymentMethod:    req.PaymentMethod,
		ItemsPrice:       b.Items,
		TaxPrice:         b.Tax,
		ShippingPrice:    b.Shipping,
		DiscountAmount:   b.Discount,
		WalletAmountUsed: decimal.Min(req.WalletPoints.Round(2), b.Total),
		TotalPrice:       b.Total,
		RewardPoints:     Reward(b.Total, st.Payment.RewardRate),
		Status:           StatusPending,
		StatusHistory:    []StatusChange{{Status: StatusPending, Comment: "Order placed", ChangedAt: now}},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if discount != nil {
		o.CouponID = discount.CouponID
		o.CouponCode = discount.Code
	}
	if !o.AmountDue().IsPositive() {
		prefix := "wallet-"
		if !o.WalletAmountUsed.IsPositive() {
			prefix = "free-"
		}
		s.markPaid(o, PaymentResult{ID: prefix + o.OrderNumber, Status: "succeeded"}, "Paid in full at checkout")
	}

	for _, it := range items {
		if _, err := s.Products.AdjustStock(ctx, it.ProductID, -it.Quantity); err != nil {
			if errors.Is(err, product.ErrInsufficientStock) {
				return nil, &OutOfStockError{
					ProductID: it.ProductID,
					Name:      it.Name,
					Available: byID[it.ProductID].Stock,
					Requested: it.Quantity,
				}
			}
			return nil, errors.Wrapf(err, "reserve stock for %s", it.ProductID)
		}
	}

	if err := s.Orders.Create(ctx, o); err != nil {
		return nil, err
	}

	if discount != nil {
		if err := s.Coupons.Redeem(ctx, discount, userID, o.ID); err != nil {
			return nil, err
		}
	}
	if o.WalletAmountUsed.IsPositive() {
		if _, err := s.Wallet.Debit(ctx, wallet.Entry{
			UserID:      userID,
			Amount:      o.WalletAmountUsed,
			Reason:      wallet.ReasonOrderPayment,
			Description: "Payment for order " + o.OrderNumber,
			OrderID:     o.ID,
		}); err != nil {
			return nil, err
		}
	}
	if o.RewardPoints.IsPositive() {
		if _, err := s.Wallet.Credit(ctx, wallet.Entry{
			UserID:      userID,
			Amount:      o.RewardPoints,
			Reason:      wallet.ReasonReward,
			Description: "Reward for order " + o.OrderNumber,
			OrderID:     o.ID,
		}); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (s *Service) shippingAddress(ctx context.Context, userID string, req PlaceRequest) (*ShippingAddress, error) {
	if req.AddressID == "" {
		return req.ShippingAddress, nil
	}
	a, err := s.Addresses.Address(ctx, userID, req.AddressID)
	if err != nil {
		if errors.Is(err, auth.ErrAddressNotFound) {
			return nil, ErrShippingAddressRequired
		}
		return nil, errors.Wrap(err, "load address")
	}
	return &ShippingAddress{
		FullName:   a.FullName,
		Phone:      a.Phone,
		Street:     a.Street,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}, nil
}

func checkPaymentMethod(st *settings.Settings, req PlaceRequest) error {
	switch {
	case req.PaymentMethod == PaymentCard && !st.Payment.StripeEnabled:
		return ErrPaymentMethodDisabled
	case req.PaymentMethod == PaymentCOD && !st.Payment.CODEnabled:
		return ErrPaymentMethodDisabled
	case req.WalletPoints.IsPositive() && !st.Payment.WalletEnabled:
		return ErrWalletDisabled
	}
	return nil
}

// mergeLines validates quantities and folds duplicate products into one line.
func mergeLines(in []LineRequest) ([]LineRequest, error) {
	if len(in) == 0 {
		return nil, ErrEmptyItems
	}
	out := make([]LineRequest, 0, len(in))
	index := make(map[string]int, len(in))
	for _, l := range in {
		l.ProductID = strings.TrimSpace(l.ProductID)
		if l.ProductID == "" {
			return nil, &ProductNotFoundError{ProductID: l.ProductID}
		}
		if l.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: l.ProductID}
		}
		if i, ok := index[l.ProductID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		index[l.ProductID] = len(out)
		out = append(out, l)
	}
	return out, nil
}

func couponItems(items []Item) []coupon.Item {
	out := make([]coupon.Item, len(items))
	for i, it := range items {
		out[i] = coupon.Item{
			ProductID: it.ProductID,
			Category:  it.Category,
			Price:     it.Price,
			Quantity:  it.Quantity,
		}
	}
	return out
}

func newOrderNumber(now time.Time) string {
	return "CH-" + ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
}

// markPaid flags o as paid and moves a pending order to processing.
func (s *Service) markPaid(o *Order, res PaymentResult, comment string) {
	now := s.now()
	if res.UpdateTime == "" {
		res.UpdateTime = now.UTC().Format(time.RFC3339)
	}
	o.IsPaid = true
	o.PaidAt = &now
	o.PaymentResult = &res
	if o.Status == StatusPending {
		o.Status = StatusProcessing
		o.StatusHistory = append(o.StatusHistory, StatusChange{Status: StatusProcessing, Comment: comment, ChangedAt: now})
	}
}

// Get returns an order visible to viewer. Orders of other users are
// reported as not found.
func (s *Service) Get(ctx context.Context, id string, viewer auth.Viewer) (*Order, error) {
	o, err := s.Orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !viewer.IsAdmin() && o.UserID != viewer.UserID {
		return nil, ErrNotFound
	}
	return o, nil
}

// FindByPaymentIntent returns the order a payment intent was created for.
func (s *Service) FindByPaymentIntent(ctx context.Context, intentID string) (*Order, error) {
	return s.Orders.FindByPaymentIntent(ctx, intentID)
}

// ListMine returns one page of the orders of userID, newest first.
func (s *Service) ListMine(ctx context.Context, userID string, page, limit int) (*Page, error) {
	page, limit = pageBounds(page, limit)
	orders, total, err := s.Orders.ListByUser(ctx, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, errors.Wrap(err, "list user orders")
	}
	return &Page{Orders: orders, Total: total, Page: page, Pages: product.Pages(total, limit)}, nil
}

// List returns one page of all orders matching f.
func (s *Service) List(ctx context.Context, f Filter) (*Page, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, ErrInvalidStatus
	}
	f.Page, f.Limit = pageBounds(f.Page, f.Limit)
	orders, total, err := s.Orders.List(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return &Page{Orders: orders, Total: total, Page: f.Page, Pages: product.Pages(total, f.Limit)}, nil
}

func pageBounds(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > product.MaxLimit {
		limit = product.DefaultLimit
	}
	return page, limit
}

// UpdateStatus moves an order along its fulfilment lifecycle.
func (s *Service) UpdateStatus(ctx context.Context, id string, status Status, comment string) (*Order, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	if status == StatusCancelled {
		return s.Cancel(ctx, id, auth.Viewer{Role: auth.RoleAdmin}, comment)
	}

	var o *Order
	err := s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if o, err = s.Orders.GetForUpdate(ctx, id); err != nil {
			return err
		}
		if !CanTransition(o.Status, status) {
			return &InvalidTransitionError{From: o.Status, To: status}
		}
		before := len(o.StatusHistory)
		now := s.now()
		o.Status = status
		o.StatusHistory = append(o.StatusHistory, StatusChange{Status: status, Comment: comment, ChangedAt: now})
		if status == StatusDelivered {
			o.IsDelivered = true
			o.DeliveredAt = &now
			if o.PaymentMethod == PaymentCOD && !o.IsPaid {
				s.markPaid(o, PaymentResult{ID: "cod-" + o.OrderNumber, Status: "succeeded"}, "")
			}
		}
		return s.save(ctx, o, before)
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// save persists o and the history entries appended after index before.
func (s *Service) save(ctx context.Context, o *Order, before int) error {
	o.UpdatedAt = s.now()
	if err := s.Orders.Update(ctx, o); err != nil {
		return errors.Wrap(err, "update order")
	}
	for _, h := range o.StatusHistory[before:] {
		if err := s.Orders.AddHistory(ctx, o.ID, h); err != nil {
			return errors.Wrap(err, "add status history")
		}
	}
	return nil
}

// Cancel cancels a pending or processing order and unwinds its side effects:
// stock, wallet payment, reward credit and coupon usage.
func (s *Service) Cancel(ctx context.Context, id string, viewer auth.Viewer, reason string) (*Order, error) {
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "Cancelled by customer"
		if viewer.IsAdmin() {
			reason = "Cancelled by administrator"
		}
	}

	var o *Order
	err := s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if o, err = s.Orders.GetForUpdate(ctx, id); err != nil {
			return err
		}
		if !viewer.IsAdmin() && o.UserID != viewer.UserID {
			return ErrNotFound
		}
		if !o.Cancellable() {
			return &InvalidTransitionError{From: o.Status, To: StatusCancelled}
		}

		for _, it := range o.Items {
			if _, err := s.Products.AdjustStock(ctx, it.ProductID, it.Quantity); err != nil {
				if errors.Is(err, product.ErrNotFound) {
					continue
				}
				return errors.Wrapf(err, "restore stock for %s", it.ProductID)
			}
		}
		if o.WalletAmountUsed.IsPositive() {
			if _, err := s.Wallet.Credit(ctx, wallet.Entry{
				UserID:      o.UserID,
				Amount:      o.WalletAmountUsed,
				Reason:      wallet.ReasonRefund,
				Description: "Refund for cancelled order " + o.OrderNumber,
				OrderID:     o.ID,
			}); err != nil {
				return err
			}
		}
		if o.RewardPoints.IsPositive() {
			if _, err := s.Wallet.DebitUpTo(ctx, wallet.Entry{
				UserID:      o.UserID,
				Amount:      o.RewardPoints,
				Reason:      wallet.ReasonRewardReversal,
				Description: "Reward reversed for cancelled order " + o.OrderNumber,
				OrderID:     o.ID,
			}); err != nil {
				return err
			}
		}
		if o.CouponID != "" {
			if err := s.Coupons.Release(ctx, o.CouponID, o.ID); err != nil {
				return err
			}
		}

		before := len(o.StatusHistory)
		o.Status = StatusCancelled
		o.StatusHistory = append(o.StatusHistory, StatusChange{Status: StatusCancelled, Comment: reason, ChangedAt: s.now()})
		return s.save(ctx, o, before)
	})
	if err != nil {
		return nil, err
	}

	s.cancelled.Add(ctx, 1)
	s.Catalog.Invalidate(ctx)
	if o.PaymentMethod == PaymentCard && o.IsPaid && o.PaymentIntentID != "" && s.Refunder != nil {
		if err := s.Refunder.Refund(ctx, o.PaymentIntentID); err != nil {
			zctx.From(ctx).Error("Refund cancelled order",
				zap.String("order_number", o.OrderNumber), zap.Error(err))
		}
	}
	return o, nil
}

// UseWallet pays part or all of an unpaid order from the wallet. The debit
// is clamped to the amount due.
func (s *Service) UseWallet(ctx context.Context, id, userID string, points decimal.Decimal) (*Order, error) {
	if !points.IsPositive() {
		return nil, wallet.ErrInvalidAmount
	}
	st, err := s.Settings.Get(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load settings")
	}
	if !st.Payment.WalletEnabled {
		return nil, ErrWalletDisabled
	}

	var (
		o     *Order
		spent decimal.Decimal
	)
	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if o, err = s.Orders.GetForUpdate(ctx, id); err != nil {
			return err
		}
		if o.UserID != userID {
			return ErrNotFound
		}
		switch {
		case o.Status == StatusCancelled:
			return ErrOrderCancelled
		case o.IsPaid:
			return ErrAlreadyPaid
		}
		spent = decimal.Min(points.Round(2), o.AmountDue())
		if !spent.IsPositive() {
			return ErrNothingDue
		}
		if _, err := s.Wallet.Debit(ctx, wallet.Entry{
			UserID:      userID,
			Amount:      spent,
			Reason:      wallet.ReasonOrderPayment,
			Description: "Payment for order " + o.OrderNumber,
			OrderID:     o.ID,
		}); err != nil {
			return err
		}

		before := len(o.StatusHistory)
		o.WalletAmountUsed = o.WalletAmountUsed.Add(spent)
		// An intent created for the old amount can no longer settle the order.
		o.PaymentIntentID = ""
		if !o.AmountDue().IsPositive() {
			s.markPaid(o, PaymentResult{ID: "wallet-" + o.OrderNumber, Status: "succeeded"}, "Paid with wallet")
		}
		return s.save(ctx, o, before)
	})
	if err != nil {
		return nil, err
	}
	s.walletSpent.Add(ctx, spent.InexactFloat64())
	return o, nil
}

// ApplyCoupon attaches a coupon to a pending unpaid order and reprices it.
func (s *Service) ApplyCoupon(ctx context.Context, id, userID, code string) (*Order, error) {
	var o *Order
	err := s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if o, err = s.Orders.GetForUpdate(ctx, id); err != nil {
			return err
		}
		if o.UserID != userID {
			return ErrNotFound
		}
		if o.Status != StatusPending || o.IsPaid || o.CouponID != "" {
			return ErrCouponNotAllowed
		}
		d, err := s.Coupons.Validate(ctx, code, userID, couponItems(o.Items))
		if err != nil {
			return err
		}
		// Shipping and tax stay as frozen at placement.
		placed := Breakdown{Items: o.ItemsPrice, Shipping: o.ShippingPrice, Tax: o.TaxPrice}
		b := placed.withDiscount(d.Amount)
		if o.WalletAmountUsed.GreaterThan(b.Total) {
			return ErrCouponNotAllowed
		}
		if err := s.Coupons.Redeem(ctx, d, userID, o.ID); err != nil {
			return err
		}
		o.CouponID = d.CouponID
		o.CouponCode = d.Code
		o.DiscountAmount = b.Discount
		o.TaxPrice = b.Tax
		o.ShippingPrice = b.Shipping
		o.TotalPrice = b.Total
		// An intent created for the old amount can no longer settle the order.
		o.PaymentIntentID = ""
		return s.save(ctx, o, len(o.StatusHistory))
	})
	if err != nil {
		return nil, err
	}
	s.redemptions.Add(ctx, 1, metric.WithAttributes(attribute.String("code", o.CouponCode)))
	return o, nil
}

// SetPaymentIntent records the gateway intent created for an order.
func (s *Service) SetPaymentIntent(ctx context.Context, id, intentID string) error {
	return s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		o, err := s.Orders.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		o.PaymentIntentID = intentID
		return s.save(ctx, o, len(o.StatusHistory))
	})
}

// MarkPaid settles an order from a confirmed card payment for the intent
// res.ID. Repeating the payment that already settled the order is a no-op.
// ErrOrderCancelled, ErrPaymentSuperseded and ErrAmountMismatch mean the
// money was captured without settling the order.
func (s *Service) MarkPaid(ctx context.Context, id string, res PaymentResult, amountMinor int64) (*Order, error) {
	var o *Order
	err := s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if o, err = s.Orders.GetForUpdate(ctx, id); err != nil {
			return err
		}
		switch {
		case o.IsPaid && o.PaymentResult != nil && o.PaymentResult.ID == res.ID:
			return nil
		case o.IsPaid:
			return ErrPaymentSuperseded
		case o.Status == StatusCancelled:
			return ErrOrderCancelled
		case o.PaymentIntentID != res.ID:
			return ErrPaymentSuperseded
		case amountMinor != o.AmountDueMinor():
			return ErrAmountMismatch
		}
		before := len(o.StatusHistory)
		s.markPaid(o, res, "Payment received")
		return s.save(ctx, o, before)
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// RecordPaymentFailure stores a failed payment result on an unpaid order.
func (s *Service) RecordPaymentFailure(ctx context.Context, id string, res PaymentResult) error {
	return s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		o, err := s.Orders.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if o.IsPaid {
			return nil
		}
		if res.UpdateTime == "" {
			res.UpdateTime = s.now().UTC().Format(time.RFC3339)
		}
		o.PaymentResult = &res
		return s.save(ctx, o, len(o.StatusHistory))
	})
}
