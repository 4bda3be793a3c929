package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/cake-heaven/internal/domain/order"
)

const (
	orderColumns = `id, order_number, user_id, coalesce(idempotency_key, ''), shipping_address, payment_method,
		items_price, tax_price, shipping_price, discount_amount, wallet_amount_used, total_price, reward_points,
		coalesce(coupon_id, ''), coupon_code, status, is_paid, paid_at, payment_intent_id, payment_result,
		is_delivered, delivered_at, created_at, updated_at`

	createOrderSQL = `INSERT INTO orders (id, order_number, user_id, idempotency_key, shipping_address, payment_method,
		items_price, tax_price, shipping_price, discount_amount, wallet_amount_used, total_price, reward_points,
		coupon_id, coupon_code, status, is_paid, paid_at, payment_intent_id, payment_result,
		is_delivered, delivered_at, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11, $12, $13, NULLIF($14, ''), $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24)`

	createOrderItemSQL = `INSERT INTO order_items (order_id, position, product_id, name, image, category, price, quantity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	addHistorySQL = `INSERT INTO order_status_history (order_id, status, comment, changed_at) VALUES ($1, $2, $3, $4)`

	getOrderSQL          = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	getOrderForUpdateSQL = getOrderSQL + ` FOR UPDATE`
	findByIdemKeySQL     = `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 AND idempotency_key = $2`
	findByIntentSQL      = `SELECT ` + orderColumns + ` FROM orders WHERE payment_intent_id = $1 AND payment_intent_id <> ''`

	updateOrderSQL = `UPDATE orders SET
		discount_amount = $2, wallet_amount_used = $3, total_price = $4, coupon_id = NULLIF($5, ''), coupon_code = $6,
		status = $7, is_paid = $8, paid_at = $9, payment_intent_id = $10, payment_result = $11,
		is_delivered = $12, delivered_at = $13, updated_at = $14
		WHERE id = $1`

	listByUserSQL = `SELECT ` + orderColumns + `, count(*) OVER () FROM orders
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	itemsForOrdersSQL = `SELECT order_id, product_id, name, image, category, price, quantity
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, position`
	historyForOrdersSQL = `SELECT order_id, status, comment, changed_at
		FROM order_status_history WHERE order_id = ANY($1) ORDER BY order_id, id`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	conn
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{conn{pool: pool}}
}

// Create inserts the order, its items and initial history in one batch.
// A reused idempotency key yields order.ErrDuplicateIdempotencyKey.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	batch := &pgx.Batch{}
	batch.Queue(createOrderSQL,
		o.ID, o.OrderNumber, o.UserID, o.IdempotencyKey, o.ShippingAddress, o.PaymentMethod,
		o.ItemsPrice, o.TaxPrice, o.ShippingPrice, o.DiscountAmount, o.WalletAmountUsed, o.TotalPrice, o.RewardPoints,
		o.CouponID, o.CouponCode, o.Status, o.IsPaid, o.PaidAt, o.PaymentIntentID, o.PaymentResult,
		o.IsDelivered, o.DeliveredAt, o.CreatedAt, o.UpdatedAt)
	for i, it := range o.Items {
		batch.Queue(createOrderItemSQL, o.ID, i, it.ProductID, it.Name, it.Image, it.Category, it.Price, it.Quantity)
	}
	for _, h := range o.StatusHistory {
		batch.Queue(addHistorySQL, o.ID, h.Status, h.Comment, h.ChangedAt)
	}

	br := r.q(ctx).SendBatch(ctx, batch)
	defer func() { _ = br.Close() }()

	if _, err := br.Exec(); err != nil {
		if isUniqueViolation(err, "orders_user_id_idempotency_key_key") {
			return order.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("creating order: %w", err)
	}
	for range len(o.Items) + len(o.StatusHistory) {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("creating order lines: %w", err)
		}
	}
	return nil
}

// GetByID returns the order with its items and status history.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	return r.getOne(ctx, getOrderSQL, id)
}

// GetForUpdate is GetByID with a row lock held until the transaction ends.
func (r *OrderRepository) GetForUpdate(ctx context.Context, id string) (*order.Order, error) {
	return r.getOne(ctx, getOrderForUpdateSQL, id)
}

// FindByIdempotencyKey returns the order placed by userID with key.
func (r *OrderRepository) FindByIdempotencyKey(ctx context.Context, userID, key string) (*order.Order, error) {
	return r.getOne(ctx, findByIdemKeySQL, userID, key)
}

// FindByPaymentIntent returns the order bound to a payment intent.
func (r *OrderRepository) FindByPaymentIntent(ctx context.Context, intentID string) (*order.Order, error) {
	return r.getOne(ctx, findByIntentSQL, intentID)
}

func (r *OrderRepository) getOne(ctx context.Context, sql string, args ...any) (*order.Order, error) {
	rows, err := r.q(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("getting order: %w", err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order: %w", err)
	}
	list := []order.Order{o}
	if err := r.attach(ctx, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

// Update stores the mutable columns of o.
func (r *OrderRepository) Update(ctx context.Context, o *order.Order) error {
	tag, err := r.q(ctx).Exec(ctx, updateOrderSQL,
		o.ID, o.DiscountAmount, o.WalletAmountUsed, o.TotalPrice, o.CouponID, o.CouponCode,
		o.Status, o.IsPaid, o.PaidAt, o.PaymentIntentID, o.PaymentResult,
		o.IsDelivered, o.DeliveredAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updating order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// AddHistory appends a status change.
func (r *OrderRepository) AddHistory(ctx context.Context, orderID string, h order.StatusChange) error {
	if _, err := r.q(ctx).Exec(ctx, addHistorySQL, orderID, h.Status, h.Comment, h.ChangedAt); err != nil {
		return fmt.Errorf("adding order history: %w", err)
	}
	return nil
}

// ListByUser returns one page of the orders of userID, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]order.Order, int, error) {
	return r.list(ctx, listByUserSQL, userID, limit, offset)
}

// List returns one page of all orders matching f, newest first.
func (r *OrderRepository) List(ctx context.Context, f order.Filter) ([]order.Order, int, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, strings.ReplaceAll(clause, "?", "$"+strconv.Itoa(len(args))))
	}
	if f.Status != "" {
		add(`status = ?`, f.Status)
	}
	if f.Paid != nil {
		add(`is_paid = ?`, *f.Paid)
	}
	if !f.From.IsZero() {
		add(`created_at >= ?`, f.From)
	}
	if !f.To.IsZero() {
		add(`created_at < ?`, f.To)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		add(`(order_number ILIKE '%' || ? || '%' OR shipping_address->>'fullName' ILIKE '%' || ? || '%')`, s)
	}

	sql := `SELECT ` + orderColumns + `, count(*) OVER () FROM orders`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, ` AND `)
	}
	n := len(args)
	sql += ` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(n+1) + ` OFFSET $` + strconv.Itoa(n+2)
	return r.list(ctx, sql, append(args, f.Limit, (f.Page-1)*f.Limit)...)
}

func (r *OrderRepository) list(ctx context.Context, sql string, args ...any) ([]order.Order, int, error) {
	rows, err := r.q(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing orders: %w", err)
	}
	var total int
	orders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Order, error) {
		var o order.Order
		err := row.Scan(append(orderDest(&o), &total)...)
		return o, err
	})
	if err != nil {
		return nil, 0, fmt.Errorf("listing orders: %w", err)
	}
	if err := r.attach(ctx, orders); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// attach loads items and history for orders with two queries.
func (r *OrderRepository) attach(ctx context.Context, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	index := make(map[string]*order.Order, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		index[orders[i].ID] = &orders[i]
		orders[i].Items = []order.Item{}
		orders[i].StatusHistory = []order.StatusChange{}
	}

	rows, err := r.q(ctx).Query(ctx, itemsForOrdersSQL, ids)
	if err != nil {
		return fmt.Errorf("loading order items: %w", err)
	}
	var orderID string
	var it order.Item
	_, err = pgx.ForEachRow(rows, []any{&orderID, &it.ProductID, &it.Name, &it.Image, &it.Category, &it.Price, &it.Quantity}, func() error {
		o := index[orderID]
		o.Items = append(o.Items, it)
		return nil
	})
	if err != nil {
		return fmt.Errorf("loading order items: %w", err)
	}

	rows, err = r.q(ctx).Query(ctx, historyForOrdersSQL, ids)
	if err != nil {
		return fmt.Errorf("loading order history: %w", err)
	}
	var h order.StatusChange
	_, err = pgx.ForEachRow(rows, []any{&orderID, &h.Status, &h.Comment, &h.ChangedAt}, func() error {
		o := index[orderID]
		o.StatusHistory = append(o.StatusHistory, h)
		return nil
	})
	if err != nil {
		return fmt.Errorf("loading order history: %w", err)
	}
	return nil
}

func orderDest(o *order.Order) []any {
	return []any{
		&o.ID, &o.OrderNumber, &o.UserID, &o.IdempotencyKey, &o.ShippingAddress, &o.PaymentMethod,
		&o.ItemsPrice, &o.TaxPrice, &o.ShippingPrice, &o.DiscountAmount, &o.WalletAmountUsed, &o.TotalPrice, &o.RewardPoints,
		&o.CouponID, &o.CouponCode, &o.Status, &o.IsPaid, &o.PaidAt, &o.PaymentIntentID, &o.PaymentResult,
		&o.IsDelivered, &o.DeliveredAt, &o.CreatedAt, &o.UpdatedAt,
	}
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var o order.Order
	err := row.Scan(orderDest(&o)...)
	return o, err
}
