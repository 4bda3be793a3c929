package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/xenking/cake-heaven/internal/domain/order"
)

// HeaderIdempotencyKey makes order placement safe to retry.
const HeaderIdempotencyKey = "Idempotency-Key"

type placeOrderRequest struct {
	Items           []order.LineRequest    `json:"items"`
	ShippingAddress *order.ShippingAddress `json:"shippingAddress"`
	AddressID       string                 `json:"addressId"`
	PaymentMethod   order.PaymentMethod    `json:"paymentMethod"`
	CouponCode      string                 `json:"couponCode"`
	WalletPoints    decimal.Decimal        `json:"walletPoints"`
}

func (h *Handler) placeOrder(c *gin.Context) {
	var in placeOrderRequest
	if !bind(c, &in) {
		return
	}
	key := c.GetHeader(HeaderIdempotencyKey)
	if len(key) > 255 {
		fail(c, badRequest("Idempotency-Key: too long"))
		return
	}
	o, err := h.orders.Place(c.Request.Context(), viewer(c).UserID, order.PlaceRequest{
		Items:           in.Items,
		ShippingAddress: in.ShippingAddress,
		AddressID:       in.AddressID,
		PaymentMethod:   in.PaymentMethod,
		CouponCode:      in.CouponCode,
		WalletPoints:    in.WalletPoints,
		IdempotencyKey:  key,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

func (h *Handler) myOrders(c *gin.Context) {
	page, limit, err := paging(c)
	if err != nil {
		fail(c, err)
		return
	}
	res, err := h.orders.ListMine(c.Request.Context(), viewer(c).UserID, page, limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) getOrder(c *gin.Context) {
	o, err := h.orders.Get(c.Request.Context(), c.Param("id"), viewer(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *Handler) cancelOrder(c *gin.Context) {
	var in struct {
		Reason string `json:"reason"`
	}
	if c.Request.ContentLength != 0 && !bind(c, &in) {
		return
	}
	o, err := h.orders.Cancel(c.Request.Context(), c.Param("id"), viewer(c), in.Reason)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *Handler) payWithWallet(c *gin.Context) {
	var in struct {
		Points decimal.Decimal `json:"points"`
	}
	if !bind(c, &in) {
		return
	}
	o, err := h.orders.UseWallet(c.Request.Context(), c.Param("id"), viewer(c).UserID, in.Points)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *Handler) listOrders(c *gin.Context) {
	f := order.Filter{
		Status: order.Status(c.Query("status")),
		Search: c.Query("search"),
	}
	var err error
	if f.Page, f.Limit, err = paging(c); err == nil {
		if f.Paid, err = queryBool(c, "paid"); err == nil {
			f.From, f.To, err = queryRange(c)
		}
	}
	if err != nil {
		fail(c, err)
		return
	}
	if f.Status != "" && !f.Status.Valid() {
		fail(c, order.ErrInvalidStatus)
		return
	}
	res, err := h.orders.List(c.Request.Context(), f)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) updateOrderStatus(c *gin.Context) {
	var in struct {
		Status  order.Status `json:"status"`
		Comment string       `json:"comment"`
	}
	if !bind(c, &in) {
		return
	}
	o, err := h.orders.UpdateStatus(c.Request.Context(), c.Param("id"), in.Status, in.Comment)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}
