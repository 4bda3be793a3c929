package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// maxWebhookBody bounds Stripe event payloads.
const maxWebhookBody = 64 << 10

func (h *Handler) paymentConfig(c *gin.Context) {
	cfg, err := h.payments.Config(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (h *Handler) createIntent(c *gin.Context) {
	var in struct {
		OrderID string `json:"orderId"`
	}
	if !bind(c, &in) {
		return
	}
	if in.OrderID == "" {
		fail(c, badRequest("orderId: is required"))
		return
	}
	intent, err := h.payments.CreateIntent(c.Request.Context(), in.OrderID, viewer(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, intent)
}

// webhook verifies the signature over the exact request bytes, so the body
// is read raw.
func (h *Handler) webhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		fail(c, badRequest("unreadable body"))
		return
	}
	if err := h.payments.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
