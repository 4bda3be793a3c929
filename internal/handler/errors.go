package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/cake-heaven/internal/domain/analytics"
	"github.com/xenking/cake-heaven/internal/domain/auth"
	"github.com/xenking/cake-heaven/internal/domain/coupon"
	"github.com/xenking/cake-heaven/internal/domain/order"
	"github.com/xenking/cake-heaven/internal/domain/payment"
	"github.com/xenking/cake-heaven/internal/domain/product"
	"github.com/xenking/cake-heaven/internal/domain/settings"
	"github.com/xenking/cake-heaven/internal/domain/wallet"
)

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// requestError is a malformed request detected by the handler itself.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error {
	return &requestError{msg: msg}
}

var statusBySentinel = []struct {
	err    error
	status int
}{
	{order.ErrEmptyItems, http.StatusBadRequest},
	{order.ErrShippingAddressRequired, http.StatusBadRequest},
	{order.ErrInvalidPaymentMethod, http.StatusBadRequest},
	{order.ErrInvalidStatus, http.StatusBadRequest},
	{settings.ErrUnknownSection, http.StatusBadRequest},
	{analytics.ErrInvalidRange, http.StatusBadRequest},
	{wallet.ErrInvalidAmount, http.StatusBadRequest},
	{payment.ErrInvalidSignature, http.StatusBadRequest},

	{auth.ErrUnauthorized, http.StatusUnauthorized},
	{auth.ErrInvalidCredentials, http.StatusUnauthorized},

	{auth.ErrForbidden, http.StatusForbidden},
	{auth.ErrRegistrationClosed, http.StatusForbidden},
	{order.ErrPaymentMethodDisabled, http.StatusForbidden},
	{order.ErrWalletDisabled, http.StatusForbidden},

	{auth.ErrUserNotFound, http.StatusNotFound},
	{auth.ErrAddressNotFound, http.StatusNotFound},
	{wallet.ErrUserNotFound, http.StatusNotFound},
	{product.ErrNotFound, http.StatusNotFound},
	{coupon.ErrNotFound, http.StatusNotFound},
	{order.ErrNotFound, http.StatusNotFound},

	{auth.ErrEmailTaken, http.StatusConflict},
	{auth.ErrAddressLimit, http.StatusConflict},
	{product.ErrAlreadyReviewed, http.StatusConflict},
	{product.ErrInsufficientStock, http.StatusConflict},
	{coupon.ErrCodeTaken, http.StatusConflict},
	{order.ErrAlreadyPaid, http.StatusConflict},
	{order.ErrOrderCancelled, http.StatusConflict},
	{order.ErrDuplicateIdempotencyKey, http.StatusConflict},

	{coupon.ErrInvalidCoupon, http.StatusUnprocessableEntity},
	{coupon.ErrCouponExpired, http.StatusUnprocessableEntity},
	{coupon.ErrUsageLimitReached, http.StatusUnprocessableEntity},
	{coupon.ErrPerUserLimitReached, http.StatusUnprocessableEntity},
	{coupon.ErrNotApplicable, http.StatusUnprocessableEntity},
	{order.ErrCouponNotAllowed, http.StatusUnprocessableEntity},
	{order.ErrNothingDue, http.StatusUnprocessableEntity},
	{order.ErrAmountMismatch, http.StatusUnprocessableEntity},
	{wallet.ErrInsufficientBalance, http.StatusUnprocessableEntity},
	{payment.ErrNotPayable, http.StatusUnprocessableEntity},

	{payment.ErrGatewayDisabled, http.StatusServiceUnavailable},
}

// statusOf maps err to an HTTP status and a client-safe message.
func statusOf(err error) (int, string) {
	var (
		reqErr       *requestError
		authValErr   *auth.ValidationError
		prodValErr   *product.ValidationError
		couponValErr *coupon.ValidationError
		stValErr     *settings.ValidationError
		qtyErr       *order.InvalidQuantityError
		stockErr     *order.OutOfStockError
		transErr     *order.InvalidTransitionError
		missingErr   *order.ProductNotFoundError
		minErr       *coupon.MinimumPurchaseError
	)
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest, reqErr.Error()
	case errors.As(err, &authValErr):
		return http.StatusBadRequest, authValErr.Error()
	case errors.As(err, &prodValErr):
		return http.StatusBadRequest, prodValErr.Error()
	case errors.As(err, &couponValErr):
		return http.StatusBadRequest, couponValErr.Error()
	case errors.As(err, &stValErr):
		return http.StatusBadRequest, stValErr.Error()
	case errors.As(err, &qtyErr):
		return http.StatusBadRequest, qtyErr.Error()
	case errors.As(err, &stockErr):
		return http.StatusConflict, stockErr.Error()
	case errors.As(err, &transErr):
		return http.StatusConflict, transErr.Error()
	case errors.As(err, &missingErr):
		return http.StatusUnprocessableEntity, missingErr.Error()
	case errors.As(err, &minErr):
		return http.StatusUnprocessableEntity, minErr.Error()
	}
	for _, s := range statusBySentinel {
		if errors.Is(err, s.err) {
			return s.status, s.err.Error()
		}
	}
	return http.StatusInternalServerError, "internal server error"
}

// fail aborts the request with the mapped error response. Unmapped errors
// are logged with their cause.
func fail(c *gin.Context, err error) {
	status, msg := statusOf(err)
	if status == http.StatusInternalServerError {
		zctx.From(c.Request.Context()).Error("Request failed",
			zap.String("route", c.FullPath()),
			zap.Error(err),
		)
	}
	c.AbortWithStatusJSON(status, errorResponse{Code: status, Message: msg})
}

// bind decodes the JSON body into dst, failing the request on error.
func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		fail(c, badRequest("invalid request body: "+err.Error()))
		return false
	}
	return true
}
