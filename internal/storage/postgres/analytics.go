package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/cake-heaven/internal/domain/analytics"
)

const (
	summarySQL = `SELECT
		(SELECT coalesce(sum(total_price), 0) FROM orders WHERE is_paid AND status <> 'cancelled'),
		(SELECT count(*) FROM orders),
		(SELECT count(*) FROM orders WHERE is_paid AND status <> 'cancelled'),
		(SELECT count(*) FROM orders WHERE status = 'pending'),
		(SELECT count(*) FROM users WHERE role = 'user'),
		(SELECT count(*) FROM products)`

	salesSQL = `SELECT date_trunc('day', created_at AT TIME ZONE 'UTC') AS day, count(*),
			coalesce(sum(total_price) FILTER (WHERE is_paid), 0)
		FROM orders
		WHERE created_at >= $1 AND created_at < $2 AND status <> 'cancelled'
		GROUP BY day ORDER BY day`

	topProductsSQL = `SELECT i.product_id, max(i.name), sum(i.quantity)::int, sum(i.price * i.quantity)
		FROM order_items i JOIN orders o ON o.id = i.order_id
		WHERE o.status <> 'cancelled'
		GROUP BY i.product_id
		ORDER BY sum(i.quantity) DESC, i.product_id
		LIMIT $1`

	statusBreakdownSQL = `SELECT status, count(*) FROM orders GROUP BY status ORDER BY status`

	lowStockSQL = `SELECT id, name, category, stock FROM products WHERE stock <= $1 ORDER BY stock, name`
)

var _ analytics.Repository = (*AnalyticsRepository)(nil)

// AnalyticsRepository runs the admin reporting queries.
type AnalyticsRepository struct {
	conn
}

// NewAnalyticsRepository returns an AnalyticsRepository that uses the given pool.
func NewAnalyticsRepository(pool *pgxpool.Pool) *AnalyticsRepository {
	return &AnalyticsRepository{conn{pool: pool}}
}

func (r *AnalyticsRepository) Summary(ctx context.Context) (*analytics.Summary, error) {
	var s analytics.Summary
	err := r.q(ctx).QueryRow(ctx, summarySQL).Scan(
		&s.Revenue, &s.Orders, &s.PaidOrders, &s.PendingOrders, &s.Customers, &s.Products)
	if err != nil {
		return nil, fmt.Errorf("loading summary: %w", err)
	}
	return &s, nil
}

func (r *AnalyticsRepository) Sales(ctx context.Context, from, to time.Time) ([]analytics.DailySales, error) {
	rows, err := r.q(ctx).Query(ctx, salesSQL, from, to)
	if err != nil {
		return nil, fmt.Errorf("loading sales: %w", err)
	}
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (analytics.DailySales, error) {
		var d analytics.DailySales
		err := row.Scan(&d.Date, &d.Orders, &d.Revenue)
		return d, err
	})
	if err != nil {
		return nil, fmt.Errorf("loading sales: %w", err)
	}
	return list, nil
}

func (r *AnalyticsRepository) TopProducts(ctx context.Context, limit int) ([]analytics.TopProduct, error) {
	rows, err := r.q(ctx).Query(ctx, topProductsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("loading top products: %w", err)
	}
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (analytics.TopProduct, error) {
		var p analytics.TopProduct
		err := row.Scan(&p.ProductID, &p.Name, &p.Quantity, &p.Revenue)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("loading top products: %w", err)
	}
	return list, nil
}

func (r *AnalyticsRepository) StatusBreakdown(ctx context.Context) ([]analytics.StatusCount, error) {
	rows, err := r.q(ctx).Query(ctx, statusBreakdownSQL)
	if err != nil {
		return nil, fmt.Errorf("loading status breakdown: %w", err)
	}
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (analytics.StatusCount, error) {
		var c analytics.StatusCount
		err := row.Scan(&c.Status, &c.Count)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("loading status breakdown: %w", err)
	}
	return list, nil
}

func (r *AnalyticsRepository) LowStock(ctx context.Context, threshold int) ([]analytics.LowStockItem, error) {
	rows, err := r.q(ctx).Query(ctx, lowStockSQL, threshold)
	if err != nil {
		return nil, fmt.Errorf("loading low stock: %w", err)
	}
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (analytics.LowStockItem, error) {
		var it analytics.LowStockItem
		err := row.Scan(&it.ProductID, &it.Name, &it.Category, &it.Stock)
		return it, err
	})
	if err != nil {
		return nil, fmt.Errorf("loading low stock: %w", err)
	}
	return list, nil
}
