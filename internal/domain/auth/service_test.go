package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/xenking/cake-heaven/internal/domain/product"
	"github.com/xenking/cake-heaven/internal/domain/settings"
	"github.com/xenking/cake-heaven/internal/domain/txn"
)

type mockUserRepo struct {
	byID      map[string]*User
	addresses map[string][]Address
	favorites map[string][]string
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{
		byID:      map[string]*User{},
		addresses: map[string][]Address{},
		favorites: map[string][]string{},
	}
}

func (m *mockUserRepo) Create(_ context.Context, u *User) error {
	cp := *u
	m.byID[u.ID] = &cp
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id string) (*User, error) {
	u, ok := m.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *mockUserRepo) GetByEmail(_ context.Context, email string) (*User, error) {
	for _, u := range m.byID {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *mockUserRepo) UpdateProfile(_ context.Context, u *User) error {
	cp := *u
	m.byID[u.ID] = &cp
	return nil
}

func (m *mockUserRepo) UpdatePassword(_ context.Context, id, hash string) error {
	m.byID[id].PasswordHash = hash
	return nil
}

func (m *mockUserRepo) SetRole(_ context.Context, id string, role Role) error {
	u, ok := m.byID[id]
	if !ok {
		return ErrUserNotFound
	}
	u.Role = role
	return nil
}

func (m *mockUserRepo) List(_ context.Context, search string, limit, offset int) ([]User, int, error) {
	var out []User
	for _, u := range m.byID {
		if search == "" || strings.Contains(u.Email, search) {
			out = append(out, *u)
		}
	}
	return out, len(out), nil
}

func (m *mockUserRepo) Addresses(_ context.Context, userID string) ([]Address, error) {
	return m.addresses[userID], nil
}

func (m *mockUserRepo) Address(_ context.Context, userID, addressID string) (*Address, error) {
	for _, a := range m.addresses[userID] {
		if a.ID == addressID {
			return &a, nil
		}
	}
	return nil, ErrAddressNotFound
}

func (m *mockUserRepo) SaveAddress(_ context.Context, a *Address) error {
	list := m.addresses[a.UserID]
	for i := range list {
		if list[i].ID == a.ID {
			list[i] = *a
			return nil
		}
	}
	m.addresses[a.UserID] = append(list, *a)
	return nil
}

func (m *mockUserRepo) DeleteAddress(_ context.Context, userID, addressID string) error {
	list := m.addresses[userID]
	for i := range list {
		if list[i].ID == addressID {
			m.addresses[userID] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return ErrAddressNotFound
}

func (m *mockUserRepo) ClearDefaultAddress(_ context.Context, userID, keepID string) error {
	for i := range m.addresses[userID] {
		if m.addresses[userID][i].ID != keepID {
			m.addresses[userID][i].IsDefault = false
		}
	}
	return nil
}

func (m *mockUserRepo) AddFavorite(_ context.Context, userID, productID string) error {
	for _, id := range m.favorites[userID] {
		if id == productID {
			return nil
		}
	}
	m.favorites[userID] = append(m.favorites[userID], productID)
	return nil
}

func (m *mockUserRepo) RemoveFavorite(context.Context, string, string) error { return nil }

func (m *mockUserRepo) Favorites(_ context.Context, userID string) ([]product.Product, error) {
	var out []product.Product
	for _, id := range m.favorites[userID] {
		out = append(out, product.Product{ID: id})
	}
	return out, nil
}

type staticSettings struct{ doc settings.Settings }

func (s staticSettings) Get(context.Context) (*settings.Settings, error) {
	d := s.doc
	return &d, nil
}

type mockProducts struct{ ids map[string]bool }

func (m mockProducts) GetByID(_ context.Context, id string) (*product.Product, error) {
	if !m.ids[id] {
		return nil, product.ErrNotFound
	}
	return &product.Product{ID: id}, nil
}

func newTestService(repo *mockUserRepo, st settings.Settings) *Service {
	s := NewService(repo, NewTokens("test-secret", time.Hour), staticSettings{doc: st},
		mockProducts{ids: map[string]bool{"p1": true}}, txn.Direct{})
	s.cost = bcrypt.MinCost
	return s
}

func TestRegisterAndLogin(t *testing.T) {
	repo := newMockUserRepo()
	svc := newTestService(repo, settings.Defaults())
	ctx := context.Background()

	sess, err := svc.Register(ctx, RegisterInput{Name: "Ann", Email: " Ann@Example.com ", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", sess.User.Email)
	assert.Equal(t, RoleUser, sess.User.Role)
	assert.NotEmpty(t, sess.Token)

	viewer, err := svc.Authenticate(sess.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.User.ID, viewer.UserID)

	_, err = svc.Register(ctx, RegisterInput{Name: "Ann", Email: "ann@example.com", Password: "secret1"})
	require.ErrorIs(t, err, ErrEmailTaken)

	_, err = svc.Login(ctx, "ANN@example.com", "secret1")
	require.NoError(t, err)

	_, err = svc.Login(ctx, "ann@example.com", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "nobody@example.com", "secret1")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name  string
		in    RegisterInput
		field string
	}{
		{"bad email", RegisterInput{Name: "A", Email: "not-an-email", Password: "secret1"}, "email"},
		{"missing name", RegisterInput{Email: "a@example.com", Password: "secret1"}, "name"},
		{"short password", RegisterInput{Name: "A", Email: "a@example.com", Password: "123"}, "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(newMockUserRepo(), settings.Defaults())
			_, err := svc.Register(context.Background(), tt.in)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestRegister_Closed(t *testing.T) {
	st := settings.Defaults()
	st.User.AllowRegistration = false
	svc := newTestService(newMockUserRepo(), st)

	_, err := svc.Register(context.Background(), RegisterInput{Name: "A", Email: "a@example.com", Password: "secret1"})
	require.ErrorIs(t, err, ErrRegistrationClosed)
}

func TestChangePassword(t *testing.T) {
	repo := newMockUserRepo()
	svc := newTestService(repo, settings.Defaults())
	ctx := context.Background()

	sess, err := svc.Register(ctx, RegisterInput{Name: "A", Email: "a@example.com", Password: "secret1"})
	require.NoError(t, err)

	require.ErrorIs(t, svc.ChangePassword(ctx, sess.User.ID, "nope", "secret2"), ErrInvalidCredentials)
	require.NoError(t, svc.ChangePassword(ctx, sess.User.ID, "secret1", "secret2"))

	_, err = svc.Login(ctx, "a@example.com", "secret2")
	require.NoError(t, err)
}

func TestAddresses_DefaultHandling(t *testing.T) {
	repo := newMockUserRepo()
	st := settings.Defaults()
	st.User.MaxAddresses = 2
	svc := newTestService(repo, st)
	ctx := context.Background()

	addr := Address{FullName: "Ann", Street: "1 Main", City: "Springfield", PostalCode: "12345", Country: "US"}

	first, err := svc.AddAddress(ctx, "u1", addr)
	require.NoError(t, err)
	assert.True(t, first.IsDefault)

	second := addr
	second.IsDefault = true
	got, err := svc.AddAddress(ctx, "u1", second)
	require.NoError(t, err)
	assert.True(t, got.IsDefault)

	list, err := svc.Addresses(ctx, "u1")
	require.NoError(t, err)
	defaults := 0
	for _, a := range list {
		if a.IsDefault {
			defaults++
		}
	}
	assert.Equal(t, 1, defaults)

	_, err = svc.AddAddress(ctx, "u1", addr)
	require.ErrorIs(t, err, ErrAddressLimit)

	_, err = svc.AddAddress(ctx, "u1", Address{FullName: "Ann"})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "street", ve.Field)
}

func TestDeleteAddress_PromotesOldestRemaining(t *testing.T) {
	repo := newMockUserRepo()
	svc := newTestService(repo, settings.Defaults())
	ctx := context.Background()

	addr := Address{FullName: "Ann", Street: "1 Main", City: "Springfield", PostalCode: "12345", Country: "US"}
	first, err := svc.AddAddress(ctx, "u1", addr)
	require.NoError(t, err)
	second, err := svc.AddAddress(ctx, "u1", addr)
	require.NoError(t, err)
	third, err := svc.AddAddress(ctx, "u1", addr)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteAddress(ctx, "u1", third.ID))
	got, err := svc.Address(ctx, "u1", first.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDefault, "deleting a non-default address keeps the default")

	require.NoError(t, svc.DeleteAddress(ctx, "u1", first.ID))
	got, err = svc.Address(ctx, "u1", second.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDefault)

	require.NoError(t, svc.DeleteAddress(ctx, "u1", second.ID))
	list, err := svc.Addresses(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, list)

	require.ErrorIs(t, svc.DeleteAddress(ctx, "u1", second.ID), ErrAddressNotFound)
}

func TestFavorites(t *testing.T) {
	repo := newMockUserRepo()
	svc := newTestService(repo, settings.Defaults())
	ctx := context.Background()

	require.NoError(t, svc.AddFavorite(ctx, "u1", "p1"))
	require.NoError(t, svc.AddFavorite(ctx, "u1", "p1"))
	require.ErrorIs(t, svc.AddFavorite(ctx, "u1", "missing"), product.ErrNotFound)

	favs, err := svc.Favorites(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, favs, 1)
}

func TestSetRole(t *testing.T) {
	repo := newMockUserRepo()
	repo.byID["u1"] = &User{ID: "u1", Role: RoleUser}
	svc := newTestService(repo, settings.Defaults())

	require.NoError(t, svc.SetRole(context.Background(), "u1", RoleAdmin))
	assert.Equal(t, RoleAdmin, repo.byID["u1"].Role)

	var ve *ValidationError
	require.ErrorAs(t, svc.SetRole(context.Background(), "u1", "root"), &ve)
}

func TestTokens(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	tokens := NewTokens("k", time.Hour)
	tokens.now = func() time.Time { return now }

	raw, err := tokens.Issue(&User{ID: "u1", Role: RoleAdmin})
	require.NoError(t, err)

	v, err := tokens.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, Viewer{UserID: "u1", Role: RoleAdmin}, v)

	t.Run("expired", func(t *testing.T) {
		later := NewTokens("k", time.Hour)
		later.now = func() time.Time { return now.Add(2 * time.Hour) }
		_, err := later.Parse(raw)
		require.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewTokens("other", time.Hour)
		other.now = tokens.now
		_, err := other.Parse(raw)
		require.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("unsigned", func(t *testing.T) {
		none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u1"}).
			SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = tokens.Parse(none)
		require.ErrorIs(t, err, ErrUnauthorized)
	})
}
