package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/cake-heaven/internal/domain/auth"
	"github.com/xenking/cake-heaven/internal/domain/product"
)

const (
	userColumns = `id, name, email, password_hash, role, phone, wallet_balance, created_at, updated_at`

	createUserSQL = `INSERT INTO users (id, name, email, password_hash, role, phone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	getUserByIDSQL    = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	getUserByEmailSQL = `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	updateUserProfileSQL = `UPDATE users SET name = $2, phone = $3, updated_at = $4 WHERE id = $1`
	updatePasswordSQL    = `UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`
	setRoleSQL           = `UPDATE users SET role = $2, updated_at = now() WHERE id = $1`

	listUsersSQL = `SELECT ` + userColumns + `, count(*) OVER () FROM users
		WHERE $1 = '' OR email ILIKE '%' || $1 || '%' OR name ILIKE '%' || $1 || '%'
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	addressColumns = `id, user_id, label, full_name, phone, street, city, state, postal_code, country, is_default`

	listAddressesSQL = `SELECT ` + addressColumns + ` FROM addresses WHERE user_id = $1 ORDER BY is_default DESC, created_at`
	getAddressSQL    = `SELECT ` + addressColumns + ` FROM addresses WHERE user_id = $1 AND id = $2`

	upsertAddressSQL = `INSERT INTO addresses (` + addressColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			label = EXCLUDED.label, full_name = EXCLUDED.full_name, phone = EXCLUDED.phone,
			street = EXCLUDED.street, city = EXCLUDED.city, state = EXCLUDED.state,
			postal_code = EXCLUDED.postal_code, country = EXCLUDED.country, is_default = EXCLUDED.is_default
		WHERE addresses.user_id = EXCLUDED.user_id`

	deleteAddressSQL       = `DELETE FROM addresses WHERE user_id = $1 AND id = $2`
	clearDefaultAddressSQL = `UPDATE addresses SET is_default = FALSE WHERE user_id = $1 AND id <> $2 AND is_default`

	addFavoriteSQL    = `INSERT INTO favorites (user_id, product_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	removeFavoriteSQL = `DELETE FROM favorites WHERE user_id = $1 AND product_id = $2`
	listFavoritesSQL  = `SELECT ` + productColumnsP + ` FROM favorites f JOIN products p ON p.id = f.product_id
		WHERE f.user_id = $1 ORDER BY f.created_at DESC`
)

var _ auth.UserRepository = (*UserRepository)(nil)

// UserRepository implements auth.UserRepository backed by PostgreSQL.
type UserRepository struct {
	conn
}

// NewUserRepository returns a UserRepository that uses the given pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{conn{pool: pool}}
}

// Create inserts a new user. A duplicate email yields auth.ErrEmailTaken.
func (r *UserRepository) Create(ctx context.Context, u *auth.User) error {
	_, err := r.q(ctx).Exec(ctx, createUserSQL,
		u.ID, u.Name, u.Email, u.PasswordHash, u.Role, u.Phone, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "users_email_key") {
			return auth.ErrEmailTaken
		}
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

// GetByID returns the user with the given id.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*auth.User, error) {
	return r.getOne(ctx, getUserByIDSQL, id)
}

// GetByEmail returns the user with the given normalized email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	return r.getOne(ctx, getUserByEmailSQL, email)
}

func (r *UserRepository) getOne(ctx context.Context, sql, arg string) (*auth.User, error) {
	rows, err := r.q(ctx).Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	u, err := pgx.CollectExactlyOneRow(rows, scanUser)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrUserNotFound
		}
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return &u, nil
}

// UpdateProfile stores the name and phone of u.
func (r *UserRepository) UpdateProfile(ctx context.Context, u *auth.User) error {
	return r.execOne(ctx, updateUserProfileSQL, u.ID, u.Name, u.Phone, u.UpdatedAt)
}

// UpdatePassword replaces the password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, hash string) error {
	return r.execOne(ctx, updatePasswordSQL, id, hash)
}

// SetRole changes the role of a user.
func (r *UserRepository) SetRole(ctx context.Context, id string, role auth.Role) error {
	return r.execOne(ctx, setRoleSQL, id, role)
}

func (r *UserRepository) execOne(ctx context.Context, sql string, args ...any) error {
	tag, err := r.q(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}

// List returns one page of users matching search and the total count.
func (r *UserRepository) List(ctx context.Context, search string, limit, offset int) ([]auth.User, int, error) {
	rows, err := r.q(ctx).Query(ctx, listUsersSQL, search, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing users: %w", err)
	}
	var total int
	users, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (auth.User, error) {
		var u auth.User
		err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.Phone,
			&u.WalletBalance, &u.CreatedAt, &u.UpdatedAt, &total)
		return u, err
	})
	if err != nil {
		return nil, 0, fmt.Errorf("listing users: %w", err)
	}
	return users, total, nil
}

// Addresses lists the addresses of a user, default first.
func (r *UserRepository) Addresses(ctx context.Context, userID string) ([]auth.Address, error) {
	rows, err := r.q(ctx).Query(ctx, listAddressesSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing addresses: %w", err)
	}
	addrs, err := pgx.CollectRows(rows, scanAddress)
	if err != nil {
		return nil, fmt.Errorf("listing addresses: %w", err)
	}
	return addrs, nil
}

// Address returns one address of a user.
func (r *UserRepository) Address(ctx context.Context, userID, addressID string) (*auth.Address, error) {
	rows, err := r.q(ctx).Query(ctx, getAddressSQL, userID, addressID)
	if err != nil {
		return nil, fmt.Errorf("getting address: %w", err)
	}
	a, err := pgx.CollectExactlyOneRow(rows, scanAddress)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrAddressNotFound
		}
		return nil, fmt.Errorf("getting address: %w", err)
	}
	return &a, nil
}

// SaveAddress inserts or replaces an address.
func (r *UserRepository) SaveAddress(ctx context.Context, a *auth.Address) error {
	_, err := r.q(ctx).Exec(ctx, upsertAddressSQL,
		a.ID, a.UserID, a.Label, a.FullName, a.Phone, a.Street, a.City, a.State, a.PostalCode, a.Country, a.IsDefault)
	if err != nil {
		return fmt.Errorf("saving address: %w", err)
	}
	return nil
}

// DeleteAddress removes an address of a user.
func (r *UserRepository) DeleteAddress(ctx context.Context, userID, addressID string) error {
	tag, err := r.q(ctx).Exec(ctx, deleteAddressSQL, userID, addressID)
	if err != nil {
		return fmt.Errorf("deleting address: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return auth.ErrAddressNotFound
	}
	return nil
}

// ClearDefaultAddress unsets the default flag on every address but keepID.
func (r *UserRepository) ClearDefaultAddress(ctx context.Context, userID, keepID string) error {
	if _, err := r.q(ctx).Exec(ctx, clearDefaultAddressSQL, userID, keepID); err != nil {
		return fmt.Errorf("clearing default address: %w", err)
	}
	return nil
}

// AddFavorite marks a product as favorite. Repeated calls are no-ops.
func (r *UserRepository) AddFavorite(ctx context.Context, userID, productID string) error {
	if _, err := r.q(ctx).Exec(ctx, addFavoriteSQL, userID, productID); err != nil {
		return fmt.Errorf("adding favorite: %w", err)
	}
	return nil
}

// RemoveFavorite unmarks a favorite product.
func (r *UserRepository) RemoveFavorite(ctx context.Context, userID, productID string) error {
	if _, err := r.q(ctx).Exec(ctx, removeFavoriteSQL, userID, productID); err != nil {
		return fmt.Errorf("removing favorite: %w", err)
	}
	return nil
}

// Favorites returns the favorite products of a user, newest first.
func (r *UserRepository) Favorites(ctx context.Context, userID string) ([]product.Product, error) {
	rows, err := r.q(ctx).Query(ctx, listFavoritesSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing favorites: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("listing favorites: %w", err)
	}
	return products, nil
}

func scanUser(row pgx.CollectableRow) (auth.User, error) {
	var u auth.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.Phone,
		&u.WalletBalance, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func scanAddress(row pgx.CollectableRow) (auth.Address, error) {
	var a auth.Address
	err := row.Scan(&a.ID, &a.UserID, &a.Label, &a.FullName, &a.Phone, &a.Street,
		&a.City, &a.State, &a.PostalCode, &a.Country, &a.IsDefault)
	return a, err
}
