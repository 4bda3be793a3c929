package auth

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/cake-heaven/internal/domain/product"
)

// Role is the authorization level of a user.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

var (
	// ErrUnauthorized is returned for a missing, malformed or expired token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when a user lacks the required role.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidCredentials is returned by Login for an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrEmailTaken is returned by Register when the email is already registered.
	ErrEmailTaken = errors.New("email already registered")
	// ErrRegistrationClosed is returned when settings disable sign-ups.
	ErrRegistrationClosed = errors.New("registration is disabled")
	// ErrUserNotFound is returned when a user does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrAddressNotFound is returned when an address does not belong to the user.
	ErrAddressNotFound = errors.New("address not found")
	// ErrAddressLimit is returned when the user already has the maximum number of addresses.
	ErrAddressLimit = errors.New("address limit reached")
)

// ValidationError describes an input field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

// User is a registered customer or administrator.
type User struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Email         string          `json:"email"`
	PasswordHash  string          `json:"-"`
	Role          Role            `json:"role"`
	Phone         string          `json:"phone"`
	WalletBalance decimal.Decimal `json:"walletBalance"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// IsAdmin reports whether the user has the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Address is a saved shipping address.
type Address struct {
	ID         string `json:"id"`
	UserID     string `json:"-"`
	Label      string `json:"label"`
	FullName   string `json:"fullName"`
	Phone      string `json:"phone"`
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	IsDefault  bool   `json:"isDefault"`
}

// Validate checks the mandatory address fields.
func (a *Address) Validate() error {
	for _, f := range []struct{ name, value string }{
		{"fullName", a.FullName},
		{"street", a.Street},
		{"city", a.City},
		{"postalCode", a.PostalCode},
		{"country", a.Country},
	} {
		if f.value == "" {
			return &ValidationError{Field: f.name, Reason: "is required"}
		}
	}
	return nil
}

// Viewer identifies the authenticated caller of an operation.
type Viewer struct {
	UserID string
	Role   Role
}

// IsAdmin reports whether the viewer has the admin role.
func (v Viewer) IsAdmin() bool {
	return v.Role == RoleAdmin
}

// UserPage is one page of the admin user listing.
type UserPage struct {
	Users []User `json:"users"`
	Total int    `json:"total"`
	Page  int    `json:"page"`
	Pages int    `json:"pages"`
}

// UserRepository persists users, their addresses and favorites.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	UpdateProfile(ctx context.Context, u *User) error
	UpdatePassword(ctx context.Context, id, hash string) error
	SetRole(ctx context.Context, id string, role Role) error
	List(ctx context.Context, search string, limit, offset int) ([]User, int, error)

	Addresses(ctx context.Context, userID string) ([]Address, error)
	Address(ctx context.Context, userID, addressID string) (*Address, error)
	SaveAddress(ctx context.Context, a *Address) error
	DeleteAddress(ctx context.Context, userID, addressID string) error
	// ClearDefaultAddress unsets is_default on every address of the user
	// except keepID.
	ClearDefaultAddress(ctx context.Context, userID, keepID string) error

	AddFavorite(ctx context.Context, userID, productID string) error
	RemoveFavorite(ctx context.Context, userID, productID string) error
	Favorites(ctx context.Context, userID string) ([]product.Product, error)
}
