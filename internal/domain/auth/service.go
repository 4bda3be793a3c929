package auth

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/xenking/cake-heaven/internal/domain/product"
	"github.com/xenking/cake-heaven/internal/domain/settings"
	"github.com/xenking/cake-heaven/internal/domain/txn"
)

const minPasswordLen = 6

// SettingsSource provides the current store settings.
type SettingsSource interface {
	Get(ctx context.Context) (*settings.Settings, error)
}

// ProductLookup resolves catalog products.
type ProductLookup interface {
	GetByID(ctx context.Context, id string) (*product.Product, error)
}

// Session is the result of a successful login or registration.
type Session struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}

// Service implements registration, login and account management.
type Service struct {
	users    UserRepository
	tokens   *Tokens
	settings SettingsSource
	products ProductLookup
	tx       txn.Runner
	cost     int
	now      func() time.Time
}

// NewService creates an auth Service.
func NewService(users UserRepository, tokens *Tokens, st SettingsSource, products ProductLookup, tx txn.Runner) *Service {
	return &Service{
		users:    users,
		tokens:   tokens,
		settings: st,
		products: products,
		tx:       tx,
		cost:     bcrypt.DefaultCost,
		now:      time.Now,
	}
}

// Authenticate verifies a bearer token.
func (s *Service) Authenticate(token string) (Viewer, error) {
	return s.tokens.Parse(token)
}

// RegisterInput holds the sign-up form.
type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone"`
}

// Register creates a customer account and logs it in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	st, err := s.settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	if !st.User.AllowRegistration {
		return nil, ErrRegistrationClosed
	}

	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, &ValidationError{Field: "name", Reason: "is required"}
	}
	if len(in.Password) < minPasswordLen {
		return nil, &ValidationError{Field: "password", Reason: "must be at least 6 characters"}
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, errors.Wrap(err, "lookup email")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, errors.Wrap(err, "hash password")
	}
	now := s.now()
	u := &User{
		ID:           uuid.New().String(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         RoleUser,
		Phone:        strings.TrimSpace(in.Phone),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return s.session(u)
}

// Login checks credentials and issues a token.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	u, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, errors.Wrap(err, "lookup user")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.session(u)
}

func (s *Service) session(u *User) (*Session, error) {
	token, err := s.tokens.Issue(u)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, User: u}, nil
}

// Profile returns the user record.
func (s *Service) Profile(ctx context.Context, userID string) (*User, error) {
	return s.users.GetByID(ctx, userID)
}

// UpdateProfile changes the name and phone of a user. Empty values are ignored.
func (s *Service) UpdateProfile(ctx context.Context, userID, name, phone string) (*User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if n := strings.TrimSpace(name); n != "" {
		u.Name = n
	}
	if p := strings.TrimSpace(phone); p != "" {
		u.Phone = p
	}
	u.UpdatedAt = s.now()
	if err := s.users.UpdateProfile(ctx, u); err != nil {
		return nil, errors.Wrap(err, "update profile")
	}
	return u, nil
}

// ChangePassword replaces the password after verifying the current one.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(current)); err != nil {
		return ErrInvalidCredentials
	}
	if len(next) < minPasswordLen {
		return &ValidationError{Field: "newPassword", Reason: "must be at least 6 characters"}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), s.cost)
	if err != nil {
		return errors.Wrap(err, "hash password")
	}
	return s.users.UpdatePassword(ctx, userID, string(hash))
}

// Addresses lists the saved addresses of a user.
func (s *Service) Addresses(ctx context.Context, userID string) ([]Address, error) {
	return s.users.Addresses(ctx, userID)
}

// Address returns one saved address of a user.
func (s *Service) Address(ctx context.Context, userID, addressID string) (*Address, error) {
	return s.users.Address(ctx, userID, addressID)
}

// AddAddress saves a new address. The first address becomes the default.
func (s *Service) AddAddress(ctx context.Context, userID string, a Address) (*Address, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	st, err := s.settings.Get(ctx)
	if err != nil {
		return nil, err
	}

	a.ID = uuid.New().String()
	a.UserID = userID
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		existing, err := s.users.Addresses(ctx, userID)
		if err != nil {
			return err
		}
		if st.User.MaxAddresses > 0 && len(existing) >= st.User.MaxAddresses {
			return ErrAddressLimit
		}
		if len(existing) == 0 {
			a.IsDefault = true
		}
		return s.saveAddress(ctx, &a)
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// UpdateAddress replaces a saved address.
func (s *Service) UpdateAddress(ctx context.Context, userID, addressID string, a Address) (*Address, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	a.ID = addressID
	a.UserID = userID
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.users.Address(ctx, userID, addressID)
		if err != nil {
			return err
		}
		// The default flag can move to another address but not be dropped.
		if current.IsDefault {
			a.IsDefault = true
		}
		return s.saveAddress(ctx, &a)
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Service) saveAddress(ctx context.Context, a *Address) error {
	if err := s.users.SaveAddress(ctx, a); err != nil {
		return errors.Wrap(err, "save address")
	}
	if a.IsDefault {
		return s.users.ClearDefaultAddress(ctx, a.UserID, a.ID)
	}
	return nil
}

// DeleteAddress removes a saved address. Deleting the default promotes the
// oldest remaining address.
func (s *Service) DeleteAddress(ctx context.Context, userID, addressID string) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.users.Address(ctx, userID, addressID)
		if err != nil {
			return err
		}
		if err := s.users.DeleteAddress(ctx, userID, addressID); err != nil {
			return err
		}
		if !current.IsDefault {
			return nil
		}
		rest, err := s.users.Addresses(ctx, userID)
		if err != nil {
			return errors.Wrap(err, "list remaining addresses")
		}
		if len(rest) == 0 {
			return nil
		}
		next := rest[0]
		next.IsDefault = true
		return s.saveAddress(ctx, &next)
	})
}

// AddFavorite marks a product as a favorite. Adding twice is a no-op.
func (s *Service) AddFavorite(ctx context.Context, userID, productID string) error {
	if _, err := s.products.GetByID(ctx, productID); err != nil {
		return err
	}
	return s.users.AddFavorite(ctx, userID, productID)
}

// RemoveFavorite unmarks a favorite product.
func (s *Service) RemoveFavorite(ctx context.Context, userID, productID string) error {
	return s.users.RemoveFavorite(ctx, userID, productID)
}

// Favorites lists the favorite products of a user.
func (s *Service) Favorites(ctx context.Context, userID string) ([]product.Product, error) {
	return s.users.Favorites(ctx, userID)
}

// ListUsers returns one page of users for administrators.
func (s *Service) ListUsers(ctx context.Context, search string, page, limit int) (*UserPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > product.MaxLimit {
		limit = product.DefaultLimit
	}
	users, total, err := s.users.List(ctx, strings.TrimSpace(search), limit, (page-1)*limit)
	if err != nil {
		return nil, errors.Wrap(err, "list users")
	}
	return &UserPage{Users: users, Total: total, Page: page, Pages: product.Pages(total, limit)}, nil
}

// SetRole changes the role of a user.
func (s *Service) SetRole(ctx context.Context, userID string, role Role) error {
	if role != RoleUser && role != RoleAdmin {
		return &ValidationError{Field: "role", Reason: "must be user or admin"}
	}
	return s.users.SetRole(ctx, userID, role)
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", &ValidationError{Field: "email", Reason: "is not a valid address"}
	}
	return email, nil
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	if len(password) < minPasswordLen {
		return "", &ValidationError{Field: "password", Reason: "must be at least 6 characters"}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", errors.Wrap(err, "hash password")
	}
	return string(hash), nil
}
