package notify

import (
	"context"
	"net/smtp"
	"strings"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/cake-heaven/internal/domain/auth"
	"github.com/xenking/cake-heaven/internal/domain/order"
	"github.com/xenking/cake-heaven/internal/domain/settings"
)

type stubUsers struct{}

func (stubUsers) GetByID(_ context.Context, id string) (*auth.User, error) {
	if id != "u1" {
		return nil, auth.ErrUserNotFound
	}
	return &auth.User{ID: id, Name: "Ann", Email: "ann@example.com"}, nil
}

type staticSettings struct{ doc settings.Settings }

func (s staticSettings) Get(context.Context) (*settings.Settings, error) {
	d := s.doc
	return &d, nil
}

type sent struct {
	addr string
	from string
	to   []string
	msg  string
}

func testOrder() *order.Order {
	return &order.Order{
		OrderNumber:    "CH-01",
		UserID:         "u1",
		Items:          []order.Item{{Name: "Red Velvet", Price: decimal.NewFromInt(20), Quantity: 2}},
		ItemsPrice:     decimal.NewFromInt(40),
		ShippingPrice:  decimal.NewFromInt(5),
		TotalPrice:     decimal.NewFromInt(35),
		DiscountAmount: decimal.NewFromInt(10),
		CouponCode:     "SAVE10",
		RewardPoints:   decimal.RequireFromString("3.5"),
	}
}

func newTestMailer(st settings.Settings, out *[]sent, err error) *Mailer {
	m := NewMailer(SMTPConfig{Host: "smtp.example.com", Port: 587, From: "shop@example.com"}, stubUsers{}, staticSettings{doc: st})
	m.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		*out = append(*out, sent{addr: addr, from: from, to: to, msg: string(msg)})
		return err
	}
	return m
}

func TestMailer_OrderPlaced(t *testing.T) {
	st := settings.Defaults()
	st.General.SiteName = "Cake Heaven"
	st.Email.FromName = "Cake Heaven"
	var out []sent

	require.NoError(t, newTestMailer(st, &out, nil).OrderPlaced(context.Background(), testOrder()))
	require.Len(t, out, 1)
	assert.Equal(t, "smtp.example.com:587", out[0].addr)
	assert.Equal(t, []string{"ann@example.com"}, out[0].to)
	assert.Contains(t, out[0].msg, "Subject: Cake Heaven order CH-01 confirmed")
	assert.Contains(t, out[0].msg, "From: Cake Heaven <")
	assert.Contains(t, out[0].msg, "2 x Red Velvet  40.00")
	assert.Contains(t, out[0].msg, "Discount: -10.00 (SAVE10)")
	assert.Contains(t, out[0].msg, "You earned 3.50 reward points.")
}

func TestMailer_Disabled(t *testing.T) {
	st := settings.Defaults()
	st.Email.OrderConfirmation = false
	var out []sent

	require.NoError(t, newTestMailer(st, &out, nil).OrderPlaced(context.Background(), testOrder()))
	assert.Empty(t, out)
}

func TestMailer_Errors(t *testing.T) {
	var out []sent
	m := newTestMailer(settings.Defaults(), &out, errors.New("connection refused"))
	err := m.OrderPlaced(context.Background(), testOrder())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "send mail"))

	o := testOrder()
	o.UserID = "ghost"
	require.ErrorIs(t, m.OrderPlaced(context.Background(), o), auth.ErrUserNotFound)
}

func TestLog(t *testing.T) {
	require.NoError(t, Log{}.OrderPlaced(context.Background(), testOrder()))
}
