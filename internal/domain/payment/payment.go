package payment

import (
	"context"

	"github.com/go-faster/errors"
)

// Webhook event types handled by the Service.
const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
)

var (
	// ErrInvalidSignature is returned for webhook payloads that fail verification.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrGatewayDisabled is returned when no card gateway is configured.
	ErrGatewayDisabled = errors.New("card payments are not configured")
	// ErrNotPayable is returned for orders that cannot take a card payment.
	ErrNotPayable = errors.New("order cannot be paid by card")
)

// Intent is a gateway payment intent the client confirms.
type Intent struct {
	ID           string `json:"paymentIntentId"`
	ClientSecret string `json:"clientSecret"`
	AmountMinor  int64  `json:"amount"`
	Currency     string `json:"currency"`
}

// Event is a verified gateway notification.
type Event struct {
	ID              string
	Type            string
	PaymentIntentID string
	AmountMinor     int64
	OrderID         string
	ReceiptEmail    string
	Status          string
	FailureMessage  string
}

// Gateway is a card payment provider.
type Gateway interface {
	CreateIntent(ctx context.Context, amountMinor int64, currency string, metadata map[string]string) (*Intent, error)
	// ParseEvent verifies signature against payload and decodes the event.
	ParseEvent(payload []byte, signature string) (*Event, error)
	Refund(ctx context.Context, paymentIntentID string) error
}

// EventStore remembers processed webhook events.
type EventStore interface {
	// Record stores the event id and reports whether it was new.
	Record(ctx context.Context, eventID, eventType string) (bool, error)
}

// Config is the public payment configuration for checkout clients.
type Config struct {
	Enabled        bool   `json:"enabled"`
	PublishableKey string `json:"publishableKey"`
	Currency       string `json:"currency"`
}

// DisabledGateway rejects every card operation.
type DisabledGateway struct{}

func (DisabledGateway) CreateIntent(context.Context, int64, string, map[string]string) (*Intent, error) {
	return nil, ErrGatewayDisabled
}

func (DisabledGateway) ParseEvent([]byte, string) (*Event, error) {
	return nil, ErrGatewayDisabled
}

func (DisabledGateway) Refund(context.Context, string) error {
	return ErrGatewayDisabled
}
