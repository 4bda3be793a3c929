package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/cake-heaven/internal/domain/coupon"
)

const (
	couponColumns = `id, code, description, discount_type, discount_value, minimum_purchase, maximum_discount,
		start_date, end_date, usage_limit, usage_count, per_user_limit, applicable_to,
		categories, product_ids, user_ids, is_active, created_at, updated_at`

	findCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = upper($1) AND is_active`
	getCouponSQL        = `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`

	listCouponsSQL = `SELECT ` + couponColumns + `, count(*) OVER () FROM coupons
		WHERE NOT $1 OR is_active
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	availableCouponsSQL = `SELECT ` + couponColumns + ` FROM coupons c
		WHERE c.is_active
			AND c.start_date <= $2 AND c.end_date >= $2
			AND (c.usage_limit = 0 OR c.usage_count < c.usage_limit)
			AND (c.applicable_to <> 'user' OR $1 = ANY(c.user_ids))
			AND (c.per_user_limit = 0 OR c.per_user_limit >
				(SELECT count(*) FROM coupon_usages u WHERE u.coupon_id = c.id AND u.user_id = $1))
		ORDER BY c.end_date`

	createCouponSQL = `INSERT INTO coupons (` + couponColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	updateCouponSQL = `UPDATE coupons SET code = $2, description = $3, discount_type = $4, discount_value = $5,
		minimum_purchase = $6, maximum_discount = $7, start_date = $8, end_date = $9, usage_limit = $10,
		per_user_limit = $11, applicable_to = $12, categories = $13, product_ids = $14, user_ids = $15,
		is_active = $16, updated_at = $17
		WHERE id = $1`

	upsertCouponSQL = `INSERT INTO coupons (` + couponColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (code) DO UPDATE SET description = EXCLUDED.description,
			discount_type = EXCLUDED.discount_type, discount_value = EXCLUDED.discount_value,
			minimum_purchase = EXCLUDED.minimum_purchase, maximum_discount = EXCLUDED.maximum_discount,
			start_date = EXCLUDED.start_date, end_date = EXCLUDED.end_date,
			usage_limit = EXCLUDED.usage_limit, per_user_limit = EXCLUDED.per_user_limit,
			applicable_to = EXCLUDED.applicable_to, categories = EXCLUDED.categories,
			product_ids = EXCLUDED.product_ids, user_ids = EXCLUDED.user_ids,
			is_active = EXCLUDED.is_active, updated_at = EXCLUDED.updated_at`

	deleteCouponSQL = `DELETE FROM coupons WHERE id = $1`

	incrementUsageSQL = `UPDATE coupons SET usage_count = usage_count + 1, updated_at = now()
		WHERE id = $1 AND (usage_limit = 0 OR usage_count < usage_limit)`
	decrementUsageSQL = `UPDATE coupons SET usage_count = usage_count - 1, updated_at = now()
		WHERE id = $1 AND usage_count > 0`

	userUsageCountSQL = `SELECT count(*) FROM coupon_usages WHERE coupon_id = $1 AND user_id = $2`
	addUsageSQL       = `INSERT INTO coupon_usages (coupon_id, user_id, order_id, discount_amount, used_at)
		VALUES ($1, $2, $3, $4, $5)`
	deleteUsageSQL = `DELETE FROM coupon_usages WHERE coupon_id = $1 AND order_id = $2`
	listUsagesSQL  = `SELECT coupon_id, user_id, order_id, discount_amount, used_at
		FROM coupon_usages WHERE coupon_id = $1 ORDER BY used_at DESC`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	conn
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{conn{pool: pool}}
}

// FindByCode looks up an active coupon by its code, case-insensitively.
// It returns coupon.ErrInvalidCoupon when none matches.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	c, err := r.getOne(ctx, findCouponByCodeSQL, code)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, coupon.ErrInvalidCoupon
	}
	return c, err
}

// GetByID returns a coupon regardless of its active flag.
func (r *CouponRepository) GetByID(ctx context.Context, id string) (*coupon.Coupon, error) {
	c, err := r.getOne(ctx, getCouponSQL, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, coupon.ErrNotFound
	}
	return c, err
}

func (r *CouponRepository) getOne(ctx context.Context, sql, arg string) (*coupon.Coupon, error) {
	rows, err := r.q(ctx).Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("getting coupon: %w", err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("getting coupon: %w", err)
	}
	return &c, nil
}

// List returns one page of coupons, newest first, and the total count.
func (r *CouponRepository) List(ctx context.Context, f coupon.ListFilter) ([]coupon.Coupon, int, error) {
	rows, err := r.q(ctx).Query(ctx, listCouponsSQL, f.ActiveOnly, f.Limit, (f.Page-1)*f.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("listing coupons: %w", err)
	}
	var total int
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (coupon.Coupon, error) {
		var c coupon.Coupon
		err := row.Scan(append(couponDest(&c), &total)...)
		return c, err
	})
	if err != nil {
		return nil, 0, fmt.Errorf("listing coupons: %w", err)
	}
	return list, total, nil
}

// Available returns the coupons userID can redeem at now.
func (r *CouponRepository) Available(ctx context.Context, userID string, now time.Time) ([]coupon.Coupon, error) {
	rows, err := r.q(ctx).Query(ctx, availableCouponsSQL, userID, now)
	if err != nil {
		return nil, fmt.Errorf("listing available coupons: %w", err)
	}
	list, err := pgx.CollectRows(rows, scanCoupon)
	if err != nil {
		return nil, fmt.Errorf("listing available coupons: %w", err)
	}
	return list, nil
}

// Create inserts a coupon. A duplicate code yields coupon.ErrCodeTaken.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	_, err := r.q(ctx).Exec(ctx, createCouponSQL,
		c.ID, c.Code, c.Description, c.DiscountType, c.DiscountValue, c.MinimumPurchase, c.MaximumDiscount,
		c.StartDate, c.EndDate, c.UsageLimit, c.UsageCount, c.PerUserLimit, c.ApplicableTo,
		strs(c.Categories), strs(c.ProductIDs), strs(c.UserIDs), c.IsActive, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "coupons_code_key") {
			return coupon.ErrCodeTaken
		}
		return fmt.Errorf("creating coupon: %w", err)
	}
	return nil
}

// Upsert inserts coupons or, for codes that already exist, replaces their
// definition while keeping the id and the usage counter.
func (r *CouponRepository) Upsert(ctx context.Context, list []coupon.Coupon) error {
	if len(list) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range list {
		batch.Queue(upsertCouponSQL,
			c.ID, c.Code, c.Description, c.DiscountType, c.DiscountValue, c.MinimumPurchase, c.MaximumDiscount,
			c.StartDate, c.EndDate, c.UsageLimit, c.UsageCount, c.PerUserLimit, c.ApplicableTo,
			strs(c.Categories), strs(c.ProductIDs), strs(c.UserIDs), c.IsActive, c.CreatedAt, c.UpdatedAt)
	}
	br := r.q(ctx).SendBatch(ctx, batch)
	for _, c := range list {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("upserting coupon %s: %w", c.Code, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("upserting coupons: %w", err)
	}
	return nil
}

// Update stores the editable fields of c. The usage counter is owned by
// IncrementUsage and DecrementUsage.
func (r *CouponRepository) Update(ctx context.Context, c *coupon.Coupon) error {
	tag, err := r.q(ctx).Exec(ctx, updateCouponSQL,
		c.ID, c.Code, c.Description, c.DiscountType, c.DiscountValue, c.MinimumPurchase, c.MaximumDiscount,
		c.StartDate, c.EndDate, c.UsageLimit, c.PerUserLimit, c.ApplicableTo,
		strs(c.Categories), strs(c.ProductIDs), strs(c.UserIDs), c.IsActive, c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "coupons_code_key") {
			return coupon.ErrCodeTaken
		}
		return fmt.Errorf("updating coupon: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// Delete removes a coupon and its usage log.
func (r *CouponRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.q(ctx).Exec(ctx, deleteCouponSQL, id)
	if err != nil {
		return fmt.Errorf("deleting coupon: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// IncrementUsage consumes one use if the global limit allows it.
func (r *CouponRepository) IncrementUsage(ctx context.Context, couponID string) (bool, error) {
	tag, err := r.q(ctx).Exec(ctx, incrementUsageSQL, couponID)
	if err != nil {
		return false, fmt.Errorf("incrementing coupon usage: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DecrementUsage returns one use. The counter never drops below zero.
func (r *CouponRepository) DecrementUsage(ctx context.Context, couponID string) error {
	if _, err := r.q(ctx).Exec(ctx, decrementUsageSQL, couponID); err != nil {
		return fmt.Errorf("decrementing coupon usage: %w", err)
	}
	return nil
}

// UserUsageCount returns how many times userID redeemed the coupon.
func (r *CouponRepository) UserUsageCount(ctx context.Context, couponID, userID string) (int, error) {
	var n int
	if err := r.q(ctx).QueryRow(ctx, userUsageCountSQL, couponID, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting coupon usages: %w", err)
	}
	return n, nil
}

// AddUsage records a redemption.
func (r *CouponRepository) AddUsage(ctx context.Context, u coupon.Usage) error {
	_, err := r.q(ctx).Exec(ctx, addUsageSQL, u.CouponID, u.UserID, u.OrderID, u.DiscountAmount, u.UsedAt)
	if err != nil {
		return fmt.Errorf("adding coupon usage: %w", err)
	}
	return nil
}

// DeleteUsage removes the redemption recorded for orderID.
func (r *CouponRepository) DeleteUsage(ctx context.Context, couponID, orderID string) (bool, error) {
	tag, err := r.q(ctx).Exec(ctx, deleteUsageSQL, couponID, orderID)
	if err != nil {
		return false, fmt.Errorf("deleting coupon usage: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Usages returns the redemption log of a coupon, newest first.
func (r *CouponRepository) Usages(ctx context.Context, couponID string) ([]coupon.Usage, error) {
	rows, err := r.q(ctx).Query(ctx, listUsagesSQL, couponID)
	if err != nil {
		return nil, fmt.Errorf("listing coupon usages: %w", err)
	}
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (coupon.Usage, error) {
		var u coupon.Usage
		err := row.Scan(&u.CouponID, &u.UserID, &u.OrderID, &u.DiscountAmount, &u.UsedAt)
		return u, err
	})
	if err != nil {
		return nil, fmt.Errorf("listing coupon usages: %w", err)
	}
	return list, nil
}

func couponDest(c *coupon.Coupon) []any {
	return []any{
		&c.ID, &c.Code, &c.Description, &c.DiscountType, &c.DiscountValue, &c.MinimumPurchase, &c.MaximumDiscount,
		&c.StartDate, &c.EndDate, &c.UsageLimit, &c.UsageCount, &c.PerUserLimit, &c.ApplicableTo,
		&c.Categories, &c.ProductIDs, &c.UserIDs, &c.IsActive, &c.CreatedAt, &c.UpdatedAt,
	}
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var c coupon.Coupon
	err := row.Scan(couponDest(&c)...)
	return c, err
}

// strs keeps NULL out of NOT NULL array columns.
func strs(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
