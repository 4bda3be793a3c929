package stripe

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/xenking/cake-heaven/internal/domain/payment"
)

const testWebhookSecret = "whsec_test"

func newTestGateway(t *testing.T, h http.HandlerFunc) *Gateway {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	return New("sk_test_123", testWebhookSecret, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})
}

func TestGateway_CreateIntent(t *testing.T) {
	var form url.Values
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		form, _ = url.ParseQuery(string(body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"pi_1","object":"payment_intent","amount":4000,"currency":"usd","client_secret":"pi_1_secret"}`)
	})

	intent, err := g.CreateIntent(context.Background(), 4000, "usd", map[string]string{"order_id": "o1"})
	require.NoError(t, err)
	assert.Equal(t, &payment.Intent{ID: "pi_1", ClientSecret: "pi_1_secret", AmountMinor: 4000, Currency: "usd"}, intent)
	assert.Equal(t, "4000", form.Get("amount"))
	assert.Equal(t, "o1", form.Get("metadata[order_id]"))
	assert.Equal(t, "true", form.Get("automatic_payment_methods[enabled]"))
}

func TestGateway_Refund(t *testing.T) {
	var form url.Values
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/refunds", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		form, _ = url.ParseQuery(string(body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"re_1","object":"refund"}`)
	})

	require.NoError(t, g.Refund(context.Background(), "pi_1"))
	assert.Equal(t, "pi_1", form.Get("payment_intent"))
}

func TestGateway_RefundError(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"type":"invalid_request_error","message":"already refunded"}}`)
	})
	require.Error(t, g.Refund(context.Background(), "pi_1"))
}

func sign(payload []byte) string {
	now := time.Now()
	sig := webhook.ComputeSignature(now, payload, testWebhookSecret)
	return fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(sig))
}

func TestGateway_ParseEvent(t *testing.T) {
	g := New("sk_test_123", testWebhookSecret, nil)

	succeeded := []byte(`{"id":"evt_1","object":"event","type":"payment_intent.succeeded",
		"data":{"object":{"id":"pi_1","object":"payment_intent","amount":4000,"status":"succeeded",
		"receipt_email":"ann@example.com","metadata":{"order_id":"o1"}}}}`)
	ev, err := g.ParseEvent(succeeded, sign(succeeded))
	require.NoError(t, err)
	assert.Equal(t, &payment.Event{
		ID:              "evt_1",
		Type:            payment.EventIntentSucceeded,
		PaymentIntentID: "pi_1",
		AmountMinor:     4000,
		OrderID:         "o1",
		ReceiptEmail:    "ann@example.com",
		Status:          "succeeded",
	}, ev)

	failed := []byte(`{"id":"evt_2","object":"event","type":"payment_intent.payment_failed",
		"data":{"object":{"id":"pi_2","object":"payment_intent","amount":100,"status":"requires_payment_method",
		"last_payment_error":{"message":"card declined"}}}}`)
	ev, err = g.ParseEvent(failed, sign(failed))
	require.NoError(t, err)
	assert.Equal(t, "card declined", ev.FailureMessage)

	other := []byte(`{"id":"evt_3","object":"event","type":"charge.refunded","data":{"object":{"id":"ch_1"}}}`)
	ev, err = g.ParseEvent(other, sign(other))
	require.NoError(t, err)
	assert.Equal(t, "charge.refunded", ev.Type)
	assert.Empty(t, ev.PaymentIntentID)

	_, err = g.ParseEvent(succeeded, "t=1,v1=deadbeef")
	require.ErrorIs(t, err, payment.ErrInvalidSignature)
}
