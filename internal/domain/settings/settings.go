package settings

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Section names accepted by UpdateSection.
const (
	SectionGeneral  = "general"
	SectionEmail    = "email"
	SectionPayment  = "payment"
	SectionShipping = "shipping"
	SectionUser     = "user"
)

var (
	// ErrUnknownSection is returned when an update names a section that does not exist.
	ErrUnknownSection = errors.New("unknown settings section")
)

// ValidationError describes a settings value that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

// Settings is the singleton store configuration document.
type Settings struct {
	General  General  `json:"general"`
	Email    Email    `json:"email"`
	Payment  Payment  `json:"payment"`
	Shipping Shipping `json:"shipping"`
	User     User     `json:"user"`
}

// General holds storefront identity settings.
type General struct {
	SiteName        string `json:"siteName"`
	ContactEmail    string `json:"contactEmail"`
	ContactPhone    string `json:"contactPhone"`
	Currency        string `json:"currency"`
	MaintenanceMode bool   `json:"maintenanceMode"`
}

// Email holds transactional mail settings.
type Email struct {
	FromName          string `json:"fromName"`
	FromAddress       string `json:"fromAddress"`
	OrderConfirmation bool   `json:"orderConfirmation"`
}

// Payment holds checkout toggles and the rates used by order pricing.
// TaxRate and RewardRate are percentages.
type Payment struct {
	StripeEnabled bool            `json:"stripeEnabled"`
	CODEnabled    bool            `json:"codEnabled"`
	WalletEnabled bool            `json:"walletEnabled"`
	TaxRate       decimal.Decimal `json:"taxRate"`
	RewardRate    decimal.Decimal `json:"rewardRate"`
}

// Shipping holds the flat-rate shipping rule. A zero threshold disables
// free shipping.
type Shipping struct {
	FlatRate              decimal.Decimal `json:"flatRate"`
	FreeShippingThreshold decimal.Decimal `json:"freeShippingThreshold"`
}

// User holds account policy settings.
type User struct {
	AllowRegistration bool `json:"allowRegistration"`
	MaxAddresses      int  `json:"maxAddresses"`
}

// Public is the subset of settings exposed to anonymous clients.
type Public struct {
	General  General  `json:"general"`
	Shipping Shipping `json:"shipping"`
	Payment  struct {
		StripeEnabled bool `json:"stripeEnabled"`
		CODEnabled    bool `json:"codEnabled"`
		WalletEnabled bool `json:"walletEnabled"`
	} `json:"payment"`
}

// Defaults returns the settings used before an administrator saves any.
func Defaults() Settings {
	return Settings{
		General: General{
			SiteName: "Cake Heaven",
			Currency: "usd",
		},
		Email: Email{
			FromName:          "Cake Heaven",
			OrderConfirmation: true,
		},
		Payment: Payment{
			StripeEnabled: true,
			CODEnabled:    true,
			WalletEnabled: true,
			TaxRate:       decimal.Zero,
			RewardRate:    decimal.NewFromInt(10),
		},
		Shipping: Shipping{
			FlatRate:              decimal.NewFromInt(5),
			FreeShippingThreshold: decimal.NewFromInt(50),
		},
		User: User{
			AllowRegistration: true,
			MaxAddresses:      10,
		},
	}
}

// Repository persists the settings document.
type Repository interface {
	// Load returns the stored document, or found=false when none is stored yet.
	Load(ctx context.Context) (doc *Settings, found bool, err error)
	Save(ctx context.Context, doc *Settings) error
}
