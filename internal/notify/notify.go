// Package notify sends order confirmations to customers.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/cake-heaven/internal/domain/auth"
	"github.com/xenking/cake-heaven/internal/domain/order"
	"github.com/xenking/cake-heaven/internal/domain/settings"
)

// Users resolves the recipient of a notification.
type Users interface {
	GetByID(ctx context.Context, id string) (*auth.User, error)
}

// Settings provides the current store settings.
type Settings interface {
	Get(ctx context.Context) (*settings.Settings, error)
}

// SendFunc delivers one message. It matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPConfig is the outgoing mail server.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Mailer sends plain-text confirmations over SMTP.
type Mailer struct {
	cfg      SMTPConfig
	users    Users
	settings Settings
	send     SendFunc
	now      func() time.Time
}

// NewMailer creates a Mailer.
func NewMailer(cfg SMTPConfig, users Users, st Settings) *Mailer {
	return &Mailer{cfg: cfg, users: users, settings: st, send: smtp.SendMail, now: time.Now}
}

// OrderPlaced emails the order summary to its customer.
func (m *Mailer) OrderPlaced(ctx context.Context, o *order.Order) error {
	st, err := m.settings.Get(ctx)
	if err != nil {
		return errors.Wrap(err, "load settings")
	}
	if !st.Email.OrderConfirmation {
		return nil
	}
	u, err := m.users.GetByID(ctx, o.UserID)
	if err != nil {
		return errors.Wrap(err, "load recipient")
	}

	from := m.cfg.From
	if st.Email.FromAddress != "" {
		from = st.Email.FromAddress
	}
	fromHeader := from
	if st.Email.FromName != "" {
		fromHeader = fmt.Sprintf("%s <%s>", st.Email.FromName, from)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", fromHeader)
	fmt.Fprintf(&msg, "To: %s\r\n", u.Email)
	fmt.Fprintf(&msg, "Subject: %s order %s confirmed\r\n", st.General.SiteName, o.OrderNumber)
	fmt.Fprintf(&msg, "Date: %s\r\n", m.now().Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(Body(u.Name, o))

	var a smtp.Auth
	if m.cfg.Username != "" {
		a = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	if err := m.send(addr, a, from, []string{u.Email}, msg.Bytes()); err != nil {
		return errors.Wrap(err, "send mail")
	}
	return nil
}

// Body renders the plain-text confirmation.
func Body(name string, o *order.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\r\n\r\nThank you for your order %s.\r\n\r\n", name, o.OrderNumber)
	for _, it := range o.Items {
		fmt.Fprintf(&b, "  %d x %s  %s\r\n", it.Quantity, it.Name, it.Subtotal().StringFixed(2))
	}
	fmt.Fprintf(&b, "\r\nItems:    %s\r\n", o.ItemsPrice.StringFixed(2))
	fmt.Fprintf(&b, "Shipping: %s\r\n", o.ShippingPrice.StringFixed(2))
	fmt.Fprintf(&b, "Tax:      %s\r\n", o.TaxPrice.StringFixed(2))
	if o.DiscountAmount.IsPositive() {
		fmt.Fprintf(&b, "Discount: -%s (%s)\r\n", o.DiscountAmount.StringFixed(2), o.CouponCode)
	}
	if o.WalletAmountUsed.IsPositive() {
		fmt.Fprintf(&b, "Wallet:   -%s\r\n", o.WalletAmountUsed.StringFixed(2))
	}
	fmt.Fprintf(&b, "Total:    %s\r\n", o.TotalPrice.StringFixed(2))
	fmt.Fprintf(&b, "Due:      %s\r\n", o.AmountDue().StringFixed(2))
	if o.RewardPoints.IsPositive() {
		fmt.Fprintf(&b, "\r\nYou earned %s reward points.\r\n", o.RewardPoints.StringFixed(2))
	}
	return b.String()
}

// Log writes confirmations to the request logger instead of sending them.
type Log struct{}

// OrderPlaced logs the confirmation.
func (Log) OrderPlaced(ctx context.Context, o *order.Order) error {
	zctx.From(ctx).Info("Order confirmation",
		zap.String("order_number", o.OrderNumber),
		zap.String("user_id", o.UserID),
		zap.String("total", o.TotalPrice.StringFixed(2)),
	)
	return nil
}
