package order

import (
	"context"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/cake-heaven/internal/domain/auth"
	"github.com/xenking/cake-heaven/internal/domain/coupon"
	"github.com/xenking/cake-heaven/internal/domain/product"
	"github.com/xenking/cake-heaven/internal/domain/settings"
	"github.com/xenking/cake-heaven/internal/domain/wallet"
)

// --- Mock implementations ---

type memOrders struct {
	byID map[string]*Order
}

func newMemOrders() *memOrders {
	return &memOrders{byID: map[string]*Order{}}
}

func clone(o *Order) *Order {
	cp := *o
	cp.Items = slices.Clone(o.Items)
	cp.StatusHistory = slices.Clone(o.StatusHistory)
	return &cp
}

func (m *memOrders) FindByIdempotencyKey(_ context.Context, userID, key string) (*Order, error) {
	for _, o := range m.byID {
		if o.UserID == userID && o.IdempotencyKey == key {
			return clone(o), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memOrders) Create(_ context.Context, o *Order) error {
	m.byID[o.ID] = clone(o)
	return nil
}

func (m *memOrders) GetByID(_ context.Context, id string) (*Order, error) {
	o, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(o), nil
}

func (m *memOrders) GetForUpdate(ctx context.Context, id string) (*Order, error) {
	return m.GetByID(ctx, id)
}

func (m *memOrders) Update(_ context.Context, o *Order) error {
	stored, ok := m.byID[o.ID]
	if !ok {
		return ErrNotFound
	}
	history := stored.StatusHistory
	m.byID[o.ID] = clone(o)
	m.byID[o.ID].StatusHistory = history
	return nil
}

func (m *memOrders) AddHistory(_ context.Context, orderID string, h StatusChange) error {
	m.byID[orderID].StatusHistory = append(m.byID[orderID].StatusHistory, h)
	return nil
}

func (m *memOrders) ListByUser(_ context.Context, userID string, _, _ int) ([]Order, int, error) {
	var out []Order
	for _, o := range m.byID {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, len(out), nil
}

func (m *memOrders) List(context.Context, Filter) ([]Order, int, error) {
	return nil, len(m.byID), nil
}

func (m *memOrders) FindByPaymentIntent(_ context.Context, intentID string) (*Order, error) {
	for _, o := range m.byID {
		if o.PaymentIntentID == intentID {
			return clone(o), nil
		}
	}
	return nil, ErrNotFound
}

type stubProducts struct {
	byID map[string]*product.Product
	// raceOn makes AdjustStock fail as if another order took the stock.
	raceOn string
}

func (m *stubProducts) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *stubProducts) AdjustStock(_ context.Context, id string, delta int) (int, error) {
	p, ok := m.byID[id]
	if !ok {
		return 0, product.ErrNotFound
	}
	if id == m.raceOn || p.Stock+delta < 0 {
		return 0, product.ErrInsufficientStock
	}
	p.Stock += delta
	return p.Stock, nil
}

type stubCoupons struct {
	discounts map[string]decimal.Decimal
	redeemed  map[string]string // order id -> coupon id
	released  []string
}

func (m *stubCoupons) Validate(_ context.Context, code, _ string, _ []coupon.Item) (*coupon.Discount, error) {
	amount, ok := m.discounts[strings.ToUpper(code)]
	if !ok {
		return nil, coupon.ErrInvalidCoupon
	}
	return &coupon.Discount{CouponID: "c-" + code, Code: strings.ToUpper(code), Amount: amount}, nil
}

func (m *stubCoupons) Redeem(_ context.Context, d *coupon.Discount, _, orderID string) error {
	if m.redeemed == nil {
		m.redeemed = map[string]string{}
	}
	m.redeemed[orderID] = d.CouponID
	return nil
}

func (m *stubCoupons) Release(_ context.Context, couponID, orderID string) error {
	delete(m.redeemed, orderID)
	m.released = append(m.released, couponID)
	return nil
}

type stubWallet struct {
	balance map[string]decimal.Decimal
	entries []wallet.Entry
}

func (m *stubWallet) Credit(_ context.Context, e wallet.Entry) (*wallet.Transaction, error) {
	m.balance[e.UserID] = m.balance[e.UserID].Add(e.Amount)
	m.entries = append(m.entries, e)
	return &wallet.Transaction{Kind: wallet.KindCredit, Amount: e.Amount}, nil
}

func (m *stubWallet) Debit(_ context.Context, e wallet.Entry) (*wallet.Transaction, error) {
	if m.balance[e.UserID].LessThan(e.Amount) {
		return nil, wallet.ErrInsufficientBalance
	}
	m.balance[e.UserID] = m.balance[e.UserID].Sub(e.Amount)
	m.entries = append(m.entries, e)
	return &wallet.Transaction{Kind: wallet.KindDebit, Amount: e.Amount}, nil
}

func (m *stubWallet) DebitUpTo(ctx context.Context, e wallet.Entry) (*wallet.Transaction, error) {
	e.Amount = decimal.Min(e.Amount, m.balance[e.UserID])
	if !e.Amount.IsPositive() {
		return nil, nil
	}
	return m.Debit(ctx, e)
}

type staticSettings struct{ doc settings.Settings }

func (s staticSettings) Get(context.Context) (*settings.Settings, error) {
	d := s.doc
	return &d, nil
}

type stubAddresses struct{}

func (stubAddresses) Address(_ context.Context, userID, id string) (*auth.Address, error) {
	if id != "home" {
		return nil, auth.ErrAddressNotFound
	}
	return &auth.Address{ID: id, UserID: userID, FullName: "Ann", Street: "1 Main", City: "Springfield", PostalCode: "12345", Country: "US"}, nil
}

type stubNotifier struct {
	sent []string
	err  error
}

func (m *stubNotifier) OrderPlaced(_ context.Context, o *Order) error {
	m.sent = append(m.sent, o.OrderNumber)
	return m.err
}

type stubRefunder struct{ refunded []string }

func (m *stubRefunder) Refund(_ context.Context, intentID string) error {
	m.refunded = append(m.refunded, intentID)
	return nil
}

type countingCatalog struct{ n int }

func (c *countingCatalog) Invalidate(context.Context) { c.n++ }

// --- Helpers ---

type fixture struct {
	svc      *Service
	orders   *memOrders
	products *stubProducts
	coupons  *stubCoupons
	wallet   *stubWallet
	notifier *stubNotifier
	refunder *stubRefunder
	catalog  *countingCatalog
}

func testSettings() settings.Settings {
	st := settings.Defaults()
	st.Payment.TaxRate = decimal.NewFromInt(10)
	st.Payment.RewardRate = decimal.NewFromInt(10)
	st.Shipping.FlatRate = decimal.NewFromInt(5)
	st.Shipping.FreeShippingThreshold = decimal.NewFromInt(100)
	return st
}

func newFixture(t *testing.T, st settings.Settings) *fixture {
	t.Helper()
	f := &fixture{
		orders: newMemOrders(),
		products: &stubProducts{byID: map[string]*product.Product{
			"vanilla": {ID: "vanilla", Name: "Vanilla Dream", Price: decimal.NewFromInt(30), Category: "birthday", Stock: 10, Images: []string{"v.jpg"}},
			"choco":   {ID: "choco", Name: "Choco Bomb", Price: decimal.NewFromInt(50), SalePrice: decimal.NewFromInt(40), Category: "wedding", Stock: 3},
		}},
		coupons:  &stubCoupons{discounts: map[string]decimal.Decimal{"SAVE10": decimal.NewFromInt(10)}},
		wallet:   &stubWallet{balance: map[string]decimal.Decimal{}},
		notifier: &stubNotifier{},
		refunder: &stubRefunder{},
		catalog:  &countingCatalog{},
	}
	svc, err := NewService(Deps{
		Orders:    f.orders,
		Products:  f.products,
		Coupons:   f.coupons,
		Wallet:    f.wallet,
		Settings:  staticSettings{doc: st},
		Addresses: stubAddresses{},
		Catalog:   f.catalog,
		Notifier:  f.notifier,
		Refunder:  f.refunder,
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

var testAddress = &ShippingAddress{FullName: "Ann", Street: "1 Main", City: "Springfield", PostalCode: "12345", Country: "US"}

func request(items ...LineRequest) PlaceRequest {
	return PlaceRequest{Items: items, ShippingAddress: testAddress}
}

// --- Tests ---

func TestPlace_PricesFromCatalog(t *testing.T) {
	f := newFixture(t, testSettings())
	ctx := context.Background()

	o, err := f.svc.Place(ctx, "u1", request(
		LineRequest{ProductID: "vanilla", Quantity: 1},
		LineRequest{ProductID: "choco", Quantity: 1},
	))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(o.OrderNumber, "CH-"))
	assert.Equal(t, StatusPending, o.Status)
	assert.Len(t, o.StatusHistory, 1)
	// 30 + sale price 40 = 70, below the free shipping threshold.
	assert.Equal(t, "70.00", o.ItemsPrice.StringFixed(2))
	assert.Equal(t, "5.00", o.ShippingPrice.StringFixed(2))
	assert.Equal(t, "7.00", o.TaxPrice.StringFixed(2))
	assert.Equal(t, "82.00", o.TotalPrice.StringFixed(2))
	assert.Equal(t, "8.20", o.RewardPoints.StringFixed(2))
	assert.Equal(t, "v.jpg", o.Items[0].Image)
	assert.Equal(t, "40", o.Items[1].Price.String())

	assert.Equal(t, 9, f.products.byID["vanilla"].Stock)
	assert.Equal(t, 2, f.products.byID["choco"].Stock)
	assert.Equal(t, "8.2", f.wallet.balance["u1"].String())
	assert.Equal(t, []string{o.OrderNumber}, f.notifier.sent)
	assert.Equal(t, 1, f.catalog.n)
}

func TestPlace_FreeShippingAtThreshold(t *testing.T) {
	f := newFixture(t, testSettings())

	o, err := f.svc.Place(context.Background(), "u1", request(
		LineRequest{ProductID: "choco", Quantity: 2},
		LineRequest{ProductID: "vanilla", Quantity: 1},
	))
	require.NoError(t, err)
	assert.Equal(t, "110.00", o.ItemsPrice.StringFixed(2))
	assert.True(t, o.ShippingPrice.IsZero())
}

func TestPlace_MergesDuplicateLines(t *testing.T) {
	f := newFixture(t, testSettings())

	o, err := f.svc.Place(context.Background(), "u1", request(
		LineRequest{ProductID: "vanilla", Quantity: 1},
		LineRequest{ProductID: "vanilla", Quantity: 2},
	))
	require.NoError(t, err)
	require.Len(t, o.Items, 1)
	assert.Equal(t, 3, o.Items[0].Quantity)
	assert.Equal(t, 7, f.products.byID["vanilla"].Stock)
}

func TestPlace_Validation(t *testing.T) {
	codOff := testSettings()
	codOff.Payment.CODEnabled = false
	walletOff := testSettings()
	walletOff.Payment.WalletEnabled = false

	tests := []struct {
		name     string
		settings settings.Settings
		req      PlaceRequest
		check    func(t *testing.T, err error)
	}{
		{
			name:     "no items",
			settings: testSettings(),
			req:      PlaceRequest{ShippingAddress: testAddress},
			check:    func(t *testing.T, err error) { require.ErrorIs(t, err, ErrEmptyItems) },
		},
		{
			name:     "zero quantity",
			settings: testSettings(),
			req:      request(LineRequest{ProductID: "vanilla"}),
			check: func(t *testing.T, err error) {
				var qe *InvalidQuantityError
				require.ErrorAs(t, err, &qe)
				assert.Equal(t, "vanilla", qe.ProductID)
			},
		},
		{
			name:     "missing address",
			settings: testSettings(),
			req:      PlaceRequest{Items: []LineRequest{{ProductID: "vanilla", Quantity: 1}}},
			check:    func(t *testing.T, err error) { require.ErrorIs(t, err, ErrShippingAddressRequired) },
		},
		{
			name:     "unknown saved address",
			settings: testSettings(),
			req:      PlaceRequest{Items: []LineRequest{{ProductID: "vanilla", Quantity: 1}}, AddressID: "office"},
			check:    func(t *testing.T, err error) { require.ErrorIs(t, err, ErrShippingAddressRequired) },
		},
		{
			name:     "unknown payment method",
			settings: testSettings(),
			req:      PlaceRequest{Items: []LineRequest{{ProductID: "vanilla", Quantity: 1}}, ShippingAddress: testAddress, PaymentMethod: "cash"},
			check:    func(t *testing.T, err error) { require.ErrorIs(t, err, ErrInvalidPaymentMethod) },
		},
		{
			name:     "cod disabled",
			settings: codOff,
			req:      PlaceRequest{Items: []LineRequest{{ProductID: "vanilla", Quantity: 1}}, ShippingAddress: testAddress, PaymentMethod: PaymentCOD},
			check:    func(t *testing.T, err error) { require.ErrorIs(t, err, ErrPaymentMethodDisabled) },
		},
		{
			name:     "wallet disabled",
			settings: walletOff,
			req:      PlaceRequest{Items: []LineRequest{{ProductID: "vanilla", Quantity: 1}}, ShippingAddress: testAddress, WalletPoints: decimal.NewFromInt(5)},
			check:    func(t *testing.T, err error) { require.ErrorIs(t, err, ErrWalletDisabled) },
		},
		{
			name:     "unknown product",
			settings: testSettings(),
			req:      request(LineRequest{ProductID: "ghost", Quantity: 1}),
			check: func(t *testing.T, err error) {
				var pe *ProductNotFoundError
				require.ErrorAs(t, err, &pe)
				assert.Equal(t, "ghost", pe.ProductID)
			},
		},
		{
			name:     "invalid coupon",
			settings: testSettings(),
			req:      PlaceRequest{Items: []LineRequest{{ProductID: "vanilla", Quantity: 1}}, ShippingAddress: testAddress, CouponCode: "NOPE"},
			check:    func(t *testing.T, err error) { require.ErrorIs(t, err, coupon.ErrInvalidCoupon) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.settings)
			_, err := f.svc.Place(context.Background(), "u1", tt.req)
			tt.check(t, err)
			assert.Empty(t, f.orders.byID)
		})
	}
}

func TestPlace_SavedAddress(t *testing.T) {
	f := newFixture(t, testSettings())

	o, err := f.svc.Place(context.Background(), "u1", PlaceRequest{
		Items:     []LineRequest{{ProductID: "vanilla", Quantity: 1}},
		AddressID: "home",
	})
	require.NoError(t, err)
	assert.Equal(t, "Springfield", o.ShippingAddress.City)
}

func TestPlace_OutOfStock(t *testing.T) {
	t.Run("known shortage", func(t *testing.T) {
		f := newFixture(t, testSettings())
		_, err := f.svc.Place(context.Background(), "u1", request(
			LineRequest{ProductID: "vanilla", Quantity: 1},
			LineRequest{ProductID: "choco", Quantity: 4},
		))
		var se *OutOfStockError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "choco", se.ProductID)
		assert.Equal(t, 3, se.Available)
		assert.Equal(t, 4, se.Requested)
		assert.Equal(t, 10, f.products.byID["vanilla"].Stock)
		assert.Empty(t, f.orders.byID)
		assert.Empty(t, f.wallet.entries)
	})
	t.Run("lost the race", func(t *testing.T) {
		f := newFixture(t, testSettings())
		f.products.raceOn = "choco"
		_, err := f.svc.Place(context.Background(), "u1", request(LineRequest{ProductID: "choco", Quantity: 1}))
		var se *OutOfStockError
		require.ErrorAs(t, err, &se)
		assert.Empty(t, f.orders.byID)
	})
}

func TestPlace_Idempotent(t *testing.T) {
	f := newFixture(t, testSettings())
	ctx := context.Background()
	req := request(LineRequest{ProductID: "vanilla", Quantity: 2})
	req.IdempotencyKey = "key-1"

	first, err := f.svc.Place(ctx, "u1", req)
	require.NoError(t, err)
	second, err := f.svc.Place(ctx, "u1", req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, f.orders.byID, 1)
	assert.Equal(t, 8, f.products.byID["vanilla"].Stock)
	assert.Len(t, f.wallet.entries, 1)
	assert.Len(t, f.notifier.sent, 1)

	// Another user may reuse the same key.
	third, err := f.svc.Place(ctx, "u2", req)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestPlace_WithCoupon(t *testing.T) {
	f := newFixture(t, testSettings())

	req := request(LineRequest{ProductID: "vanilla", Quantity: 1})
	req.CouponCode = "save10"
	o, err := f.svc.Place(context.Background(), "u1", req)
	require.NoError(t, err)

	// 30 + 5 shipping + 3 tax - 10 discount.
	assert.Equal(t, "28.00", o.TotalPrice.StringFixed(2))
	assert.Equal(t, "SAVE10", o.CouponCode)
	assert.Equal(t, "c-save10", f.coupons.redeemed[o.ID])
}

func TestPlace_WalletCoversTotal(t *testing.T) {
	f := newFixture(t, testSettings())
	f.wallet.balance["u1"] = decimal.NewFromInt(500)

	req := request(LineRequest{ProductID: "vanilla", Quantity: 1})
	req.WalletPoints = decimal.NewFromInt(400)
	o, err := f.svc.Place(context.Background(), "u1", req)
	require.NoError(t, err)

	assert.Equal(t, "38.00", o.WalletAmountUsed.StringFixed(2))
	assert.True(t, o.AmountDue().IsZero())
	assert.True(t, o.IsPaid)
	require.NotNil(t, o.PaymentResult)
	assert.Equal(t, "wallet-"+o.OrderNumber, o.PaymentResult.ID)
	assert.Equal(t, StatusProcessing, o.Status)
	// 500 - 38 + 3.80 reward.
	assert.Equal(t, "465.80", f.wallet.balance["u1"].StringFixed(2))
}

func TestPlace_PartialWallet(t *testing.T) {
	f := newFixture(t, testSettings())
	f.wallet.balance["u1"] = decimal.NewFromInt(10)

	req := request(LineRequest{ProductID: "vanilla", Quantity: 1})
	req.WalletPoints = decimal.NewFromInt(10)
	o, err := f.svc.Place(context.Background(), "u1", req)
	require.NoError(t, err)

	assert.False(t, o.IsPaid)
	assert.Equal(t, "28.00", o.AmountDue().StringFixed(2))
	assert.Equal(t, int64(2800), o.AmountDueMinor())
}

func TestPlace_InsufficientWallet(t *testing.T) {
	f := newFixture(t, testSettings())
	f.wallet.balance["u1"] = decimal.NewFromInt(5)

	req := request(LineRequest{ProductID: "vanilla", Quantity: 1})
	req.WalletPoints = decimal.NewFromInt(20)
	_, err := f.svc.Place(context.Background(), "u1", req)
	require.ErrorIs(t, err, wallet.ErrInsufficientBalance)
	assert.Empty(t, f.notifier.sent)
}

func TestPlace_NotifierFailureIsSwallowed(t *testing.T) {
	f := newFixture(t, testSettings())
	f.notifier.err = errors.New("smtp down")

	_, err := f.svc.Place(context.Background(), "u1", request(LineRequest{ProductID: "vanilla", Quantity: 1}))
	require.NoError(t, err)
}

func TestGet_HidesOtherUsersOrders(t *testing.T) {
	f := newFixture(t, testSettings())
	ctx := context.Background()
	o, err := f.svc.Place(ctx, "u1", request(LineRequest{ProductID: "vanilla", Quantity: 1}))
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, o.ID, auth.Viewer{UserID: "u2", Role: auth.RoleUser})
	require.ErrorIs(t, err, ErrNotFound)

	got, err := f.svc.Get(ctx, o.ID, auth.Viewer{UserID: "admin", Role: auth.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
}

func TestCancel_UnwindsSideEffects(t *testing.T) {
	f := newFixture(t, testSettings())
	ctx := context.Background()
	f.wallet.balance["u1"] = decimal.NewFromInt(10)

	req := request(LineRequest{ProductID: "vanilla", Quantity: 2})
	req.CouponCode = "SAVE10"
	req.WalletPoints = decimal.NewFromInt(10)
	o, err := f.svc.Place(ctx, "u1", req)
	require.NoError(t, err)
	require.Equal(t, 8, f.products.byID["vanilla"].Stock)

	cancelled, err := f.svc.Cancel(ctx, o.ID, auth.Viewer{UserID: "u1", Role: auth.RoleUser}, "")
	require.NoError(t, err)

	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, 10, f.products.byID["vanilla"].Stock)
	assert.Equal(t, "10.00", f.wallet.balance["u1"].StringFixed(2))
	assert.Equal(t, []string{"c-SAVE10"}, f.coupons.released)
	stored := f.orders.byID[o.ID]
	require.Len(t, stored.StatusHistory, 2)
	assert.Equal(t, "Cancelled by customer", stored.StatusHistory[1].Comment)
	assert.Empty(t, f.refunder.refunded)
}

func TestCancel_ReverseRewardClampedToBalance(t *testing.T) {
	f := newFixture(t, testSettings())
	ctx := context.Background()
	o, err := f.svc.Place(ctx, "u1", request(LineRequest{ProductID: "vanilla", Quantity: 1}))
	require.NoError(t, err)

	// The customer already spent part of the reward elsewhere.
	f.wallet.balance["u1"] = decimal.NewFromInt(1)

	_, err = f.svc.Cancel(ctx, o.ID, auth.Viewer{UserID: "u1"}, "changed my mind")
	require.NoError(t, err)
	assert.True(t, f.wallet.balance["u1"].IsZero())
}

func TestCancel_Rules(t *testing.T) {
	f := newFixture(t, testSettings())
	ctx := context.Background()
	admin := auth.Viewer{UserID: "admin", Role: auth.RoleAdmin}

	o, err := f.svc.Place(ctx, "u1", request(LineRequest{ProductID: "vanilla", Quantity: 1}))
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, o.ID, auth.Viewer{UserID: "u2"}, "")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.UpdateStatus(ctx, o.ID, StatusProcessing, "")
	require.NoError(t, err)
	_, err = f.svc.UpdateStatus(ctx, o.ID, StatusShipped, "")
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, o.ID, admin, "")
	var te *InvalidTransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StatusShipped, te.From)
}

func TestCancel_RefundsPaidCardOrder(t *testing.T) {
	f := newFixture(t, testSettings())
	ctx := context.Background()
	o, err := f.svc.Place(ctx, "u1", request(LineRequest{ProductID: "vanilla", Quantity: 1}))
	require.NoError(t, err)

	require.NoError(t, f.svc.SetPaymentIntent(ctx, o.ID, "pi_123"))
	_, err = f.svc.MarkPaid(ctx, o.ID, PaymentResult{ID: "pi_123", Status: "succeeded"}, o.AmountDueMinor())
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(ctx, o.ID, StatusCancelled, "customer called")
	require.NoError(t, err)
	assert.Equal(t, []string{"pi_123"}, f.refunder.refunded)
}

func TestUpdateStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusShipped, false},
		{StatusPending, StatusDelivered, false},
		{StatusProcessing, StatusShipped, true},
		{StatusProcessing, StatusPending, false},
		{StatusShipped, StatusDelivered, true},
		{StatusShipped, StatusProcessing, false},
		{StatusDelivered, StatusShipped, false},
		{StatusCancelled, StatusProcessing, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			f := newFixture(t, testSettings())
			f.orders.byID["o1"] = &Order{ID: "o1", UserID: "u1", Status: tt.from}

			_, err := f.svc.UpdateStatus(context.Background(), "o1", tt.to, "")
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.to, f.orders.byID["o1"].Status)
				return
			}
			var te *InvalidTransitionError
			require.ErrorAs(t, err, &te)
		})
	}

	t.Run("unknown status", func(t *testing.T) {
		f := newFixture(t, testSettings())
		_, err := f.svc.UpdateStatus(context.Background(), "o1", "lost", "")
		require.ErrorIs(t, err, ErrInvalidStatus)
	})
}

func TestUpdateStatus_DeliveredCODIsPaid(t *testing.T) {
	f := newFixture(t, testSettings())
	ctx := context.Background()

	req := request(LineRequest{ProductID: "vanilla", Quantity: 1})
	req.PaymentMethod = PaymentCOD
	o, err := f.svc.Place(ctx, "u1", req)
	require.NoError(t, err)

	for _, st := range []Status{StatusProcessing, StatusShipped, StatusDelivered} {
		o, err = f.svc.UpdateStatus(ctx, o.ID, st, "")
		require.NoError(t, err)
	}
	assert.True(t, o.IsDelivered)
	assert.NotNil(t, o.DeliveredAt)
	assert.True(t, o.IsPaid)
	assert.Equal(t, "cod-"+o.OrderNumber, o.PaymentResult.ID)
	assert.Len(t, f.orders.byID[o.ID].StatusHistory, 4)
}

func TestUseWallet(t *testing.T) {
	f := newFixture(t, testSettings())
	ctx := context.Background()
	o, err := f.svc.Place(ctx, "u1", request(LineRequest{ProductID: "vanilla", Quantity: 1}))
	require.NoError(t, err)
	f.wallet.balance["u1"] = decimal.NewFromInt(100)

	_, err = f.svc.UseWallet(ctx, o.ID, "u2", decimal.NewFromInt(5))
	require.ErrorIs(t, err, ErrNotFound)

	o, err = f.svc.UseWallet(ctx, o.ID, "u1", decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.Equal(t, "28.00", o.AmountDue().StringFixed(2))
	assert.False(t, o.IsPaid)

	// Asking for more than is due only takes what is due.
	o, err = f.svc.UseWallet(ctx, o.ID, "u1", decimal.NewFromInt(1000))
	require.NoError(t, err)
	assert.True(t, o.IsPaid)
	assert.Equal(t, "38.00", o.WalletAmountUsed.StringFixed(2))
	assert.Equal(t, "62.00", f.wallet.balance["u1"].StringFixed(2))
	assert.Equal(t, "wallet-"+o.OrderNumber, o.PaymentResult.ID)

	_, err = f.svc.UseWallet(ctx, o.ID, "u1", decimal.NewFromInt(1))
	require.ErrorIs(t, err, ErrAlreadyPaid)

	_, err = f.svc.UseWallet(ctx, o.ID, "u1", decimal.Zero)
	require.ErrorIs(t, err, wallet.ErrInvalidAmount)
}

func TestApplyCoupon(t *testing.T) {
	f := newFixture(t, testSettings())
	ctx := context.Background()
	o, err := f.svc.Place(ctx, "u1", request(LineRequest{ProductID: "vanilla", Quantity: 1}))
	require.NoError(t, err)
	require.NoError(t, f.svc.SetPaymentIntent(ctx, o.ID, "pi_old"))

	o, err = f.svc.ApplyCoupon(ctx, o.ID, "u1", "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, "28.00", o.TotalPrice.StringFixed(2))
	assert.Equal(t, "10.00", o.DiscountAmount.StringFixed(2))
	assert.Empty(t, o.PaymentIntentID)

	_, err = f.svc.ApplyCoupon(ctx, o.ID, "u1", "SAVE10")
	require.ErrorIs(t, err, ErrCouponNotAllowed)
}

func TestApplyCoupon_KeepsPlacedTaxAndShipping(t *testing.T) {
	f := newFixture(t, testSettings())
	ctx := context.Background()
	o, err := f.svc.Place(ctx, "u1", request(LineRequest{ProductID: "vanilla", Quantity: 1}))
	require.NoError(t, err)
	require.Equal(t, "38.00", o.TotalPrice.StringFixed(2))

	changed := testSettings()
	changed.Payment.TaxRate = decimal.NewFromInt(20)
	changed.Shipping.FlatRate = decimal.NewFromInt(15)
	f.svc.Settings = staticSettings{doc: changed}

	o, err = f.svc.ApplyCoupon(ctx, o.ID, "u1", "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, "3.00", o.TaxPrice.StringFixed(2))
	assert.Equal(t, "5.00", o.ShippingPrice.StringFixed(2))
	assert.Equal(t, "28.00", o.TotalPrice.StringFixed(2))
}

func TestApplyCoupon_WalletExceedsNewTotal(t *testing.T) {
	f := newFixture(t, testSettings())
	f.coupons.discounts["BIG"] = decimal.NewFromInt(30)
	f.wallet.balance["u1"] = decimal.NewFromInt(20)
	ctx := context.Background()

	req := request(LineRequest{ProductID: "vanilla", Quantity: 1})
	req.WalletPoints = decimal.NewFromInt(20)
	o, err := f.svc.Place(ctx, "u1", req)
	require.NoError(t, err)

	_, err = f.svc.ApplyCoupon(ctx, o.ID, "u1", "BIG")
	require.ErrorIs(t, err, ErrCouponNotAllowed)
	assert.Empty(t, f.coupons.redeemed[o.ID])
}

func TestMarkPaid(t *testing.T) {
	f := newFixture(t, testSettings())
	ctx := context.Background()
	o, err := f.svc.Place(ctx, "u1", request(LineRequest{ProductID: "vanilla", Quantity: 1}))
	require.NoError(t, err)
	require.NoError(t, f.svc.SetPaymentIntent(ctx, o.ID, "pi_1"))

	_, err = f.svc.MarkPaid(ctx, o.ID, PaymentResult{ID: "pi_1"}, 100)
	require.ErrorIs(t, err, ErrAmountMismatch)

	_, err = f.svc.MarkPaid(ctx, o.ID, PaymentResult{ID: "pi_other"}, 3800)
	require.ErrorIs(t, err, ErrPaymentSuperseded)

	paid, err := f.svc.MarkPaid(ctx, o.ID, PaymentResult{ID: "pi_1", Status: "succeeded"}, 3800)
	require.NoError(t, err)
	assert.True(t, paid.IsPaid)
	assert.Equal(t, StatusProcessing, paid.Status)
	require.NotNil(t, paid.PaidAt)
	paidAt := *paid.PaidAt

	// Replaying the payment changes nothing.
	f.svc.now = func() time.Time { return paidAt.Add(time.Hour) }
	again, err := f.svc.MarkPaid(ctx, o.ID, PaymentResult{ID: "pi_1", Status: "succeeded"}, 3800)
	require.NoError(t, err)
	assert.Equal(t, paidAt, *again.PaidAt)
	assert.Len(t, f.orders.byID[o.ID].StatusHistory, 2)

	// A second charge against a paid order must be returned by the caller.
	_, err = f.svc.MarkPaid(ctx, o.ID, PaymentResult{ID: "pi_2", Status: "succeeded"}, 3800)
	require.ErrorIs(t, err, ErrPaymentSuperseded)
}

func TestUseWallet_InvalidatesPaymentIntent(t *testing.T) {
	tests := []struct {
		name     string
		points   int64
		wantPaid bool
	}{
		{"FullyCovered", 1000, true},
		{"Partial", 10, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testSettings())
			ctx := context.Background()
			f.wallet.balance["u1"] = decimal.NewFromInt(100)
			o, err := f.svc.Place(ctx, "u1", request(LineRequest{ProductID: "vanilla", Quantity: 1}))
			require.NoError(t, err)
			require.NoError(t, f.svc.SetPaymentIntent(ctx, o.ID, "pi_old"))
			dueBefore := o.AmountDueMinor()

			o, err = f.svc.UseWallet(ctx, o.ID, "u1", decimal.NewFromInt(tt.points))
			require.NoError(t, err)
			assert.Empty(t, o.PaymentIntentID)
			assert.Equal(t, tt.wantPaid, o.IsPaid)

			// The card payment confirmed for the old intent does not settle
			// the order again.
			_, err = f.svc.MarkPaid(ctx, o.ID, PaymentResult{ID: "pi_old", Status: "succeeded"}, dueBefore)
			require.ErrorIs(t, err, ErrPaymentSuperseded)
			stored := f.orders.byID[o.ID]
			assert.Equal(t, tt.wantPaid, stored.IsPaid)
			if tt.wantPaid {
				assert.Equal(t, "wallet-"+o.OrderNumber, stored.PaymentResult.ID)
			}
		})
	}
}

func TestRecordPaymentFailure(t *testing.T) {
	f := newFixture(t, testSettings())
	ctx := context.Background()
	o, err := f.svc.Place(ctx, "u1", request(LineRequest{ProductID: "vanilla", Quantity: 1}))
	require.NoError(t, err)

	require.NoError(t, f.svc.RecordPaymentFailure(ctx, o.ID, PaymentResult{ID: "pi_1", Status: "card_declined"}))
	stored := f.orders.byID[o.ID]
	assert.False(t, stored.IsPaid)
	assert.Equal(t, "card_declined", stored.PaymentResult.Status)
	assert.NotEmpty(t, stored.PaymentResult.UpdateTime)
}

func TestListMine(t *testing.T) {
	f := newFixture(t, testSettings())
	ctx := context.Background()
	for range 3 {
		_, err := f.svc.Place(ctx, "u1", request(LineRequest{ProductID: "vanilla", Quantity: 1}))
		require.NoError(t, err)
	}
	_, err := f.svc.Place(ctx, "u2", request(LineRequest{ProductID: "vanilla", Quantity: 1}))
	require.NoError(t, err)

	page, err := f.svc.ListMine(ctx, "u1", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 1, page.Pages)
}
