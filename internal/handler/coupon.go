package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"

	"github.com/xenking/cake-heaven/internal/domain/coupon"
	"github.com/xenking/cake-heaven/internal/domain/order"
	"github.com/xenking/cake-heaven/internal/domain/product"
)

func (h *Handler) validateCoupon(c *gin.Context) {
	var in struct {
		Code  string              `json:"code"`
		Items []order.LineRequest `json:"items"`
	}
	if !bind(c, &in) {
		return
	}
	if in.Code == "" {
		fail(c, badRequest("code: is required"))
		return
	}
	if len(in.Items) == 0 {
		fail(c, order.ErrEmptyItems)
		return
	}

	ctx := c.Request.Context()
	items := make([]coupon.Item, 0, len(in.Items))
	for _, line := range in.Items {
		if line.Quantity <= 0 {
			fail(c, &order.InvalidQuantityError{ProductID: line.ProductID})
			return
		}
		p, err := h.catalog.Get(ctx, line.ProductID)
		if err != nil {
			if errors.Is(err, product.ErrNotFound) {
				err = &order.ProductNotFoundError{ProductID: line.ProductID}
			}
			fail(c, err)
			return
		}
		items = append(items, coupon.Item{
			ProductID: p.ID,
			Category:  p.Category,
			Price:     p.EffectivePrice(),
			Quantity:  line.Quantity,
		})
	}

	d, err := h.coupons.Validate(ctx, in.Code, viewer(c).UserID, items)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) applyCoupon(c *gin.Context) {
	var in struct {
		OrderID string `json:"orderId"`
		Code    string `json:"code"`
	}
	if !bind(c, &in) {
		return
	}
	if in.OrderID == "" || in.Code == "" {
		fail(c, badRequest("orderId and code are required"))
		return
	}
	o, err := h.orders.ApplyCoupon(c.Request.Context(), in.OrderID, viewer(c).UserID, in.Code)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *Handler) availableCoupons(c *gin.Context) {
	list, err := h.coupons.Available(c.Request.Context(), viewer(c).UserID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) listCoupons(c *gin.Context) {
	page, limit, err := paging(c)
	if err != nil {
		fail(c, err)
		return
	}
	active, err := queryBool(c, "active")
	if err != nil {
		fail(c, err)
		return
	}
	f := coupon.ListFilter{Page: page, Limit: limit, ActiveOnly: active != nil && *active}
	list, total, err := h.coupons.List(c.Request.Context(), f)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"coupons": list, "total": total, "page": page})
}

func (h *Handler) getCoupon(c *gin.Context) {
	cp, err := h.coupons.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cp)
}

func (h *Handler) createCoupon(c *gin.Context) {
	var in coupon.Input
	if !bind(c, &in) {
		return
	}
	cp, err := h.coupons.Create(c.Request.Context(), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, cp)
}

func (h *Handler) updateCoupon(c *gin.Context) {
	var in coupon.Input
	if !bind(c, &in) {
		return
	}
	cp, err := h.coupons.Update(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cp)
}

func (h *Handler) deleteCoupon(c *gin.Context) {
	if err := h.coupons.Delete(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) couponUsages(c *gin.Context) {
	list, err := h.coupons.Usages(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}
