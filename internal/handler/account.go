package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/xenking/cake-heaven/internal/domain/auth"
	"github.com/xenking/cake-heaven/internal/domain/wallet"
)

func (h *Handler) register(c *gin.Context) {
	var in auth.RegisterInput
	if !bind(c, &in) {
		return
	}
	s, err := h.accounts.Register(c.Request.Context(), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

func (h *Handler) login(c *gin.Context) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !bind(c, &in) {
		return
	}
	s, err := h.accounts.Login(c.Request.Context(), in.Email, in.Password)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) me(c *gin.Context) {
	u, err := h.accounts.Profile(c.Request.Context(), viewer(c).UserID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handler) updateMe(c *gin.Context) {
	var in struct {
		Name  string `json:"name"`
		Phone string `json:"phone"`
	}
	if !bind(c, &in) {
		return
	}
	u, err := h.accounts.UpdateProfile(c.Request.Context(), viewer(c).UserID, in.Name, in.Phone)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handler) changePassword(c *gin.Context) {
	var in struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if !bind(c, &in) {
		return
	}
	if err := h.accounts.ChangePassword(c.Request.Context(), viewer(c).UserID, in.CurrentPassword, in.NewPassword); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listAddresses(c *gin.Context) {
	list, err := h.accounts.Addresses(c.Request.Context(), viewer(c).UserID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) addAddress(c *gin.Context) {
	var in auth.Address
	if !bind(c, &in) {
		return
	}
	a, err := h.accounts.AddAddress(c.Request.Context(), viewer(c).UserID, in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (h *Handler) updateAddress(c *gin.Context) {
	var in auth.Address
	if !bind(c, &in) {
		return
	}
	a, err := h.accounts.UpdateAddress(c.Request.Context(), viewer(c).UserID, c.Param("id"), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *Handler) deleteAddress(c *gin.Context) {
	if err := h.accounts.DeleteAddress(c.Request.Context(), viewer(c).UserID, c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listFavorites(c *gin.Context) {
	list, err := h.accounts.Favorites(c.Request.Context(), viewer(c).UserID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.withImages(list))
}

func (h *Handler) addFavorite(c *gin.Context) {
	if err := h.accounts.AddFavorite(c.Request.Context(), viewer(c).UserID, c.Param("productId")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) removeFavorite(c *gin.Context) {
	if err := h.accounts.RemoveFavorite(c.Request.Context(), viewer(c).UserID, c.Param("productId")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) myWallet(c *gin.Context) {
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		fail(c, err)
		return
	}
	w, err := h.wallets.Get(c.Request.Context(), viewer(c).UserID, limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (h *Handler) listUsers(c *gin.Context) {
	page, limit, err := paging(c)
	if err != nil {
		fail(c, err)
		return
	}
	res, err := h.accounts.ListUsers(c.Request.Context(), c.Query("search"), page, limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) setRole(c *gin.Context) {
	var in struct {
		Role auth.Role `json:"role"`
	}
	if !bind(c, &in) {
		return
	}
	if in.Role != auth.RoleUser && in.Role != auth.RoleAdmin {
		fail(c, badRequest("role: must be user or admin"))
		return
	}
	if err := h.accounts.SetRole(c.Request.Context(), c.Param("id"), in.Role); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) adjustWallet(c *gin.Context) {
	var in struct {
		Type        wallet.Kind     `json:"type"`
		Amount      decimal.Decimal `json:"amount"`
		Description string          `json:"description"`
	}
	if !bind(c, &in) {
		return
	}
	if in.Type != wallet.KindCredit && in.Type != wallet.KindDebit {
		fail(c, badRequest("type: must be credit or debit"))
		return
	}
	t, err := h.wallets.Adjust(c.Request.Context(), c.Param("id"), in.Type, in.Amount, in.Description)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (h *Handler) auditWallet(c *gin.Context) {
	res, err := h.wallets.Audit(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
