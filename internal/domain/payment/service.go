package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/cake-heaven/internal/domain/auth"
	"github.com/xenking/cake-heaven/internal/domain/order"
	"github.com/xenking/cake-heaven/internal/domain/settings"
	"github.com/xenking/cake-heaven/internal/domain/txn"
)

// Orders is the order surface used by payments.
type Orders interface {
	Get(ctx context.Context, id string, viewer auth.Viewer) (*order.Order, error)
	FindByPaymentIntent(ctx context.Context, intentID string) (*order.Order, error)
	SetPaymentIntent(ctx context.Context, id, intentID string) error
	MarkPaid(ctx context.Context, id string, res order.PaymentResult, amountMinor int64) (*order.Order, error)
	RecordPaymentFailure(ctx context.Context, id string, res order.PaymentResult) error
}

// Settings provides the current store settings.
type Settings interface {
	Get(ctx context.Context) (*settings.Settings, error)
}

// Service creates card payments and applies gateway webhooks.
type Service struct {
	gateway        Gateway
	events         EventStore
	orders         Orders
	settings       Settings
	tx             txn.Runner
	publishableKey string
	now            func() time.Time
}

// NewService creates a payment Service.
func NewService(gateway Gateway, events EventStore, orders Orders, st Settings, tx txn.Runner, publishableKey string) *Service {
	return &Service{
		gateway:        gateway,
		events:         events,
		orders:         orders,
		settings:       st,
		tx:             tx,
		publishableKey: publishableKey,
		now:            time.Now,
	}
}

// Config returns what a checkout client needs to confirm card payments.
func (s *Service) Config(ctx context.Context) (*Config, error) {
	st, err := s.settings.Get(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load settings")
	}
	return &Config{
		Enabled:        st.Payment.StripeEnabled && s.publishableKey != "",
		PublishableKey: s.publishableKey,
		Currency:       st.General.Currency,
	}, nil
}

// CreateIntent starts a card payment for the amount still due on an order
// owned by viewer.
func (s *Service) CreateIntent(ctx context.Context, orderID string, viewer auth.Viewer) (*Intent, error) {
	st, err := s.settings.Get(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load settings")
	}
	if !st.Payment.StripeEnabled {
		return nil, order.ErrPaymentMethodDisabled
	}

	o, err := s.orders.Get(ctx, orderID, viewer)
	if err != nil {
		return nil, err
	}
	if o.UserID != viewer.UserID {
		return nil, order.ErrNotFound
	}
	switch {
	case o.Status == order.StatusCancelled:
		return nil, order.ErrOrderCancelled
	case o.IsPaid:
		return nil, order.ErrAlreadyPaid
	case o.PaymentMethod != order.PaymentCard, o.AmountDueMinor() <= 0:
		return nil, ErrNotPayable
	}

	intent, err := s.gateway.CreateIntent(ctx, o.AmountDueMinor(), st.General.Currency, map[string]string{
		"order_id":     o.ID,
		"order_number": o.OrderNumber,
		"user_id":      o.UserID,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create payment intent")
	}
	if err := s.orders.SetPaymentIntent(ctx, o.ID, intent.ID); err != nil {
		return nil, errors.Wrap(err, "store payment intent")
	}
	return intent, nil
}

// HandleWebhook verifies and applies one gateway event. Events already
// processed are acknowledged without side effects.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	ev, err := s.gateway.ParseEvent(payload, signature)
	if err != nil {
		return err
	}
	lg := zctx.From(ctx).With(zap.String("event_id", ev.ID), zap.String("event_type", ev.Type))

	var refund bool
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		fresh, err := s.events.Record(ctx, ev.ID, ev.Type)
		if err != nil {
			return errors.Wrap(err, "record event")
		}
		if !fresh {
			lg.Info("Duplicate webhook event")
			return nil
		}
		switch ev.Type {
		case EventIntentSucceeded:
			refund, err = s.succeeded(ctx, lg, ev)
			return err
		case EventIntentFailed:
			return s.failed(ctx, ev)
		default:
			lg.Debug("Ignoring webhook event")
			return nil
		}
	})
	if err != nil {
		return err
	}

	if refund {
		if err := s.gateway.Refund(ctx, ev.PaymentIntentID); err != nil {
			lg.Error("Refund unsettled payment", zap.Error(err))
		}
	}
	return nil
}

func (s *Service) orderFor(ctx context.Context, ev *Event) (string, error) {
	if ev.OrderID != "" {
		return ev.OrderID, nil
	}
	o, err := s.orders.FindByPaymentIntent(ctx, ev.PaymentIntentID)
	if err != nil {
		return "", err
	}
	return o.ID, nil
}

// succeeded marks the order paid. It reports whether the payment must be
// returned because it no longer settles the order: the order was cancelled,
// paid another way, or repriced since the intent was created.
func (s *Service) succeeded(ctx context.Context, lg *zap.Logger, ev *Event) (bool, error) {
	id, err := s.orderFor(ctx, ev)
	if errors.Is(err, order.ErrNotFound) {
		lg.Warn("Payment for unknown order", zap.String("payment_intent", ev.PaymentIntentID))
		return false, nil
	}
	if err != nil {
		return false, err
	}

	o, err := s.orders.MarkPaid(ctx, id, order.PaymentResult{
		ID:           ev.PaymentIntentID,
		Status:       "succeeded",
		UpdateTime:   s.now().UTC().Format(time.RFC3339),
		EmailAddress: ev.ReceiptEmail,
	}, ev.AmountMinor)
	switch {
	case errors.Is(err, order.ErrOrderCancelled),
		errors.Is(err, order.ErrPaymentSuperseded),
		errors.Is(err, order.ErrAmountMismatch):
		lg.Warn("Payment does not settle order",
			zap.String("order_id", id),
			zap.String("payment_intent", ev.PaymentIntentID),
			zap.Int64("amount", ev.AmountMinor),
			zap.Error(err),
		)
		return true, nil
	case err != nil:
		return false, errors.Wrap(err, "mark paid")
	}
	lg.Info("Order paid", zap.String("order_number", o.OrderNumber))
	return false, nil
}

func (s *Service) failed(ctx context.Context, ev *Event) error {
	id, err := s.orderFor(ctx, ev)
	if errors.Is(err, order.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	status := "failed"
	if ev.FailureMessage != "" {
		status = "failed: " + ev.FailureMessage
	}
	return s.orders.RecordPaymentFailure(ctx, id, order.PaymentResult{
		ID:           ev.PaymentIntentID,
		Status:       status,
		UpdateTime:   s.now().UTC().Format(time.RFC3339),
		EmailAddress: ev.ReceiptEmail,
	})
}
