// Package stripe adapts the Stripe API to payment.Gateway.
package stripe

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/xenking/cake-heaven/internal/domain/payment"
)

var _ payment.Gateway = (*Gateway)(nil)

// Gateway creates payment intents and verifies webhooks.
type Gateway struct {
	api           *client.API
	webhookSecret string
}

// New returns a Gateway using secretKey. backends overrides the API
// endpoints and may be nil.
func New(secretKey, webhookSecret string, backends *stripe.Backends) *Gateway {
	api := &client.API{}
	api.Init(secretKey, backends)
	return &Gateway{api: api, webhookSecret: webhookSecret}
}

// CreateIntent creates a payment intent with automatic payment methods.
func (g *Gateway) CreateIntent(ctx context.Context, amountMinor int64, currency string, metadata map[string]string) (*payment.Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountMinor),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, errors.Wrap(err, "create payment intent")
	}
	return &payment.Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		AmountMinor:  pi.Amount,
		Currency:     string(pi.Currency),
	}, nil
}

// ParseEvent verifies the Stripe-Signature header and decodes payment
// intent events. Other event types come back with only ID and Type set.
func (g *Gateway) ParseEvent(payload []byte, signature string) (*payment.Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, errors.Wrap(payment.ErrInvalidSignature, err.Error())
	}
	out := &payment.Event{ID: ev.ID, Type: string(ev.Type)}
	if out.Type != payment.EventIntentSucceeded && out.Type != payment.EventIntentFailed {
		return out, nil
	}
	if ev.Data == nil {
		return nil, errors.New("event has no data")
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
		return nil, errors.Wrap(err, "decode payment intent")
	}
	out.PaymentIntentID = pi.ID
	out.AmountMinor = pi.Amount
	out.OrderID = pi.Metadata["order_id"]
	out.ReceiptEmail = pi.ReceiptEmail
	out.Status = string(pi.Status)
	if pi.LastPaymentError != nil {
		out.FailureMessage = pi.LastPaymentError.Msg
	}
	return out, nil
}

// Refund refunds the full amount captured by a payment intent.
func (g *Gateway) Refund(ctx context.Context, paymentIntentID string) error {
	params := &stripe.RefundParams{PaymentIntent: stripe.String(paymentIntentID)}
	params.Context = ctx
	if _, err := g.api.Refunds.New(params); err != nil {
		return errors.Wrap(err, "create refund")
	}
	return nil
}
