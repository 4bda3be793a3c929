// Package handler exposes the store services as a JSON REST API on gin.
package handler

import (
	"context"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/xenking/cake-heaven/internal/domain/analytics"
	"github.com/xenking/cake-heaven/internal/domain/auth"
	"github.com/xenking/cake-heaven/internal/domain/coupon"
	"github.com/xenking/cake-heaven/internal/domain/order"
	"github.com/xenking/cake-heaven/internal/domain/payment"
	"github.com/xenking/cake-heaven/internal/domain/product"
	"github.com/xenking/cake-heaven/internal/domain/settings"
	"github.com/xenking/cake-heaven/internal/domain/wallet"
)

// Accounts is the user account API.
type Accounts interface {
	Authenticate(token string) (auth.Viewer, error)
	Register(ctx context.Context, in auth.RegisterInput) (*auth.Session, error)
	Login(ctx context.Context, email, password string) (*auth.Session, error)
	Profile(ctx context.Context, userID string) (*auth.User, error)
	UpdateProfile(ctx context.Context, userID, name, phone string) (*auth.User, error)
	ChangePassword(ctx context.Context, userID, current, next string) error
	Addresses(ctx context.Context, userID string) ([]auth.Address, error)
	AddAddress(ctx context.Context, userID string, a auth.Address) (*auth.Address, error)
	UpdateAddress(ctx context.Context, userID, addressID string, a auth.Address) (*auth.Address, error)
	DeleteAddress(ctx context.Context, userID, addressID string) error
	AddFavorite(ctx context.Context, userID, productID string) error
	RemoveFavorite(ctx context.Context, userID, productID string) error
	Favorites(ctx context.Context, userID string) ([]product.Product, error)
	ListUsers(ctx context.Context, search string, page, limit int) (*auth.UserPage, error)
	SetRole(ctx context.Context, userID string, role auth.Role) error
}

// Catalog is the product API.
type Catalog interface {
	Search(ctx context.Context, f product.Filter) (*product.Page, error)
	Get(ctx context.Context, id string) (*product.Product, error)
	Reviews(ctx context.Context, id string) ([]product.Review, error)
	Categories(ctx context.Context) ([]product.CategoryCount, error)
	Featured(ctx context.Context, limit int) ([]product.Product, error)
	TopRated(ctx context.Context, limit int) ([]product.Product, error)
	Create(ctx context.Context, in product.Input) (*product.Product, error)
	Update(ctx context.Context, id string, in product.Input) (*product.Product, error)
	Delete(ctx context.Context, id string) error
	AdjustStock(ctx context.Context, id string, delta int) (int, error)
	AddReview(ctx context.Context, productID, userID, userName string, rating int, comment string) (*product.Review, error)
}

// Coupons is the coupon API.
type Coupons interface {
	Validate(ctx context.Context, code, userID string, items []coupon.Item) (*coupon.Discount, error)
	Available(ctx context.Context, userID string) ([]coupon.Coupon, error)
	Get(ctx context.Context, id string) (*coupon.Coupon, error)
	List(ctx context.Context, f coupon.ListFilter) ([]coupon.Coupon, int, error)
	Usages(ctx context.Context, id string) ([]coupon.Usage, error)
	Create(ctx context.Context, in coupon.Input) (*coupon.Coupon, error)
	Update(ctx context.Context, id string, in coupon.Input) (*coupon.Coupon, error)
	Delete(ctx context.Context, id string) error
}

// Orders is the order API.
type Orders interface {
	Place(ctx context.Context, userID string, req order.PlaceRequest) (*order.Order, error)
	Get(ctx context.Context, id string, viewer auth.Viewer) (*order.Order, error)
	ListMine(ctx context.Context, userID string, page, limit int) (*order.Page, error)
	List(ctx context.Context, f order.Filter) (*order.Page, error)
	UpdateStatus(ctx context.Context, id string, status order.Status, comment string) (*order.Order, error)
	Cancel(ctx context.Context, id string, viewer auth.Viewer, reason string) (*order.Order, error)
	UseWallet(ctx context.Context, id, userID string, points decimal.Decimal) (*order.Order, error)
	ApplyCoupon(ctx context.Context, id, userID, code string) (*order.Order, error)
}

// Payments is the card payment API.
type Payments interface {
	Config(ctx context.Context) (*payment.Config, error)
	CreateIntent(ctx context.Context, orderID string, viewer auth.Viewer) (*payment.Intent, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

// Settings is the store settings API.
type Settings interface {
	Get(ctx context.Context) (*settings.Settings, error)
	Public(ctx context.Context) (*settings.Public, error)
	UpdateSection(ctx context.Context, section string, raw []byte) (*settings.Settings, error)
}

// Wallets is the loyalty wallet API.
type Wallets interface {
	Get(ctx context.Context, userID string, limit int) (*wallet.Wallet, error)
	Adjust(ctx context.Context, userID string, kind wallet.Kind, amount decimal.Decimal, description string) (*wallet.Transaction, error)
	Audit(ctx context.Context, userID string) (*wallet.AuditResult, error)
}

// Analytics is the reporting API.
type Analytics interface {
	Summary(ctx context.Context) (*analytics.Summary, error)
	Sales(ctx context.Context, from, to time.Time) ([]analytics.DailySales, error)
	TopProducts(ctx context.Context, limit int) ([]analytics.TopProduct, error)
	StatusBreakdown(ctx context.Context) ([]analytics.StatusCount, error)
	LowStock(ctx context.Context, threshold int) ([]analytics.LowStockItem, error)
	ExportSales(ctx context.Context, from, to time.Time, w io.Writer) error
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// ImageBaseURL is prepended to relative product image paths. When empty,
	// paths are returned as stored.
	ImageBaseURL string
}

// Deps are the services behind the API.
type Deps struct {
	Accounts  Accounts
	Catalog   Catalog
	Coupons   Coupons
	Orders    Orders
	Payments  Payments
	Settings  Settings
	Wallets   Wallets
	Analytics Analytics
}

// Handler serves the REST API.
type Handler struct {
	accounts  Accounts
	catalog   Catalog
	coupons   Coupons
	orders    Orders
	payments  Payments
	settings  Settings
	wallets   Wallets
	analytics Analytics

	imageBaseURL string
}

// New constructs a Handler.
func New(cfg Config, deps Deps) *Handler {
	return &Handler{
		accounts:     deps.Accounts,
		catalog:      deps.Catalog,
		coupons:      deps.Coupons,
		orders:       deps.Orders,
		payments:     deps.Payments,
		settings:     deps.Settings,
		wallets:      deps.Wallets,
		analytics:    deps.Analytics,
		imageBaseURL: cfg.ImageBaseURL,
	}
}

// Register mounts every route under /api.
func (h *Handler) Register(r gin.IRouter) {
	api := r.Group("/api")
	authed := h.RequireAuth()
	adminOnly := RequireAdmin()
	admin := []gin.HandlerFunc{authed, adminOnly}

	a := api.Group("/auth")
	a.POST("/register", h.register)
	a.POST("/login", h.login)
	me := a.Group("/me", authed)
	me.GET("", h.me)
	me.PUT("", h.updateMe)
	me.PUT("/password", h.changePassword)
	me.GET("/addresses", h.listAddresses)
	me.POST("/addresses", h.addAddress)
	me.PUT("/addresses/:id", h.updateAddress)
	me.DELETE("/addresses/:id", h.deleteAddress)
	me.GET("/favorites", h.listFavorites)
	me.POST("/favorites/:productId", h.addFavorite)
	me.DELETE("/favorites/:productId", h.removeFavorite)
	me.GET("/wallet", h.myWallet)
	users := a.Group("/users", admin...)
	users.GET("", h.listUsers)
	users.PUT("/:id/role", h.setRole)
	users.POST("/:id/wallet", h.adjustWallet)
	users.GET("/:id/wallet/audit", h.auditWallet)

	p := api.Group("/products")
	p.GET("", h.searchProducts)
	p.GET("/categories", h.categories)
	p.GET("/featured", h.featured)
	p.GET("/top-rated", h.topRated)
	p.GET("/:id", h.getProduct)
	p.GET("/:id/reviews", h.reviews)
	p.POST("/:id/reviews", authed, h.addReview)
	p.POST("", authed, adminOnly, h.createProduct)
	p.PUT("/:id", authed, adminOnly, h.updateProduct)
	p.DELETE("/:id", authed, adminOnly, h.deleteProduct)
	p.PATCH("/:id/stock", authed, adminOnly, h.adjustStock)

	c := api.Group("/coupons")
	c.POST("/validate", authed, h.validateCoupon)
	c.POST("/apply", authed, h.applyCoupon)
	c.GET("/available", authed, h.availableCoupons)
	ca := c.Group("", admin...)
	ca.GET("", h.listCoupons)
	ca.POST("", h.createCoupon)
	ca.GET("/:id", h.getCoupon)
	ca.PUT("/:id", h.updateCoupon)
	ca.DELETE("/:id", h.deleteCoupon)
	ca.GET("/:id/usages", h.couponUsages)

	o := api.Group("/orders", authed)
	o.POST("", h.placeOrder)
	o.GET("/mine", h.myOrders)
	o.GET("/:id", h.getOrder)
	o.POST("/:id/cancel", h.cancelOrder)
	o.POST("/:id/wallet", h.payWithWallet)
	o.GET("", adminOnly, h.listOrders)
	o.PUT("/:id/status", adminOnly, h.updateOrderStatus)

	pay := api.Group("/payments")
	pay.GET("/config", h.paymentConfig)
	pay.POST("/intent", authed, h.createIntent)
	pay.POST("/webhook", h.webhook)

	s := api.Group("/settings")
	s.GET("/public", h.publicSettings)
	s.GET("", authed, adminOnly, h.getSettings)
	s.PUT("/:section", authed, adminOnly, h.updateSettings)

	an := api.Group("/analytics", admin...)
	an.GET("/summary", h.summary)
	an.GET("/sales", h.sales)
	an.GET("/top-products", h.topProducts)
	an.GET("/order-status", h.orderStatus)
	an.GET("/low-stock", h.lowStock)
	an.GET("/export", h.exportSales)
}
