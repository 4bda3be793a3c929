package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/cake-heaven/internal/domain/product"
)

const (
	productColumns = `id, name, description, price, sale_price, category, flavor, shape, occasion, festival,
		cake_type, images, stock, is_featured, avg_rating, num_reviews, created_at, updated_at`

	productColumnsP = `p.id, p.name, p.description, p.price, p.sale_price, p.category, p.flavor, p.shape, p.occasion, p.festival,
		p.cake_type, p.images, p.stock, p.is_featured, p.avg_rating, p.num_reviews, p.created_at, p.updated_at`

	// effectivePriceExpr mirrors product.Product.EffectivePrice.
	effectivePriceExpr = `(CASE WHEN sale_price > 0 AND sale_price < price THEN sale_price ELSE price END)`

	getProductSQL      = `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	getProductsByIDSQL = `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1)`

	categoriesSQL = `SELECT category, count(*) FROM products GROUP BY category ORDER BY category`
	featuredSQL   = `SELECT ` + productColumns + ` FROM products WHERE is_featured ORDER BY created_at DESC LIMIT $1`
	topRatedSQL   = `SELECT ` + productColumns + ` FROM products WHERE num_reviews > 0
		ORDER BY avg_rating DESC, num_reviews DESC LIMIT $1`

	createProductSQL = `INSERT INTO products (` + productColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	updateProductSQL = `UPDATE products SET name = $2, description = $3, price = $4, sale_price = $5,
		category = $6, flavor = $7, shape = $8, occasion = $9, festival = $10, cake_type = $11,
		images = $12, stock = $13, is_featured = $14, updated_at = $15
		WHERE id = $1`

	deleteProductSQL = `DELETE FROM products WHERE id = $1`

	// adjustStockSQL never lets stock go negative. A decrement is a sale.
	adjustStockSQL = `UPDATE products
		SET stock = stock + $2,
			sold = sold + GREATEST(-$2, 0),
			updated_at = now()
		WHERE id = $1 AND stock + $2 >= 0
		RETURNING stock`

	productExistsSQL = `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`

	reviewColumns = `id, product_id, user_id, name, rating, comment, created_at`

	listReviewsSQL = `SELECT ` + reviewColumns + ` FROM product_reviews WHERE product_id = $1 ORDER BY created_at DESC`
	addReviewSQL   = `INSERT INTO product_reviews (` + reviewColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	refreshRatingSQL = `UPDATE products p SET
			avg_rating = r.avg, num_reviews = r.n, updated_at = now()
		FROM (SELECT coalesce(avg(rating), 0)::float8 AS avg, count(*)::int AS n
			FROM product_reviews WHERE product_id = $1) r
		WHERE p.id = $1`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	conn
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{conn{pool: pool}}
}

// searchQuery accumulates WHERE clauses with positional arguments.
type searchQuery struct {
	where []string
	args  []any
}

func (q *searchQuery) add(clause string, arg any) {
	q.args = append(q.args, arg)
	q.where = append(q.where, strings.ReplaceAll(clause, "?", "$"+strconv.Itoa(len(q.args))))
}

func (q *searchQuery) clause() string {
	if len(q.where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(q.where, " AND ")
}

func buildSearch(f product.Filter) *searchQuery {
	q := &searchQuery{}
	if f.Keyword != "" {
		q.add(`(name ILIKE '%' || ? || '%' OR description ILIKE '%' || ? || '%')`, f.Keyword)
	}
	for _, c := range []struct{ column, value string }{
		{"category", f.Category},
		{"flavor", f.Flavor},
		{"shape", f.Shape},
		{"occasion", f.Occasion},
		{"festival", f.Festival},
		{"cake_type", f.CakeType},
	} {
		if c.value != "" {
			q.add(c.column+` = ?`, c.value)
		}
	}
	if f.MinPrice != nil {
		q.add(effectivePriceExpr+` >= ?`, *f.MinPrice)
	}
	if f.MaxPrice != nil {
		q.add(effectivePriceExpr+` <= ?`, *f.MaxPrice)
	}
	if f.MinRating > 0 {
		q.add(`avg_rating >= ?`, f.MinRating)
	}
	if f.InStock {
		q.where = append(q.where, `stock > 0`)
	}
	if f.Featured {
		q.where = append(q.where, `is_featured`)
	}
	return q
}

func orderBy(s product.Sort) string {
	switch s {
	case product.SortPriceAsc:
		return effectivePriceExpr + ` ASC, id`
	case product.SortPriceDesc:
		return effectivePriceExpr + ` DESC, id`
	case product.SortRating:
		return `avg_rating DESC, num_reviews DESC, id`
	case product.SortPopular:
		return `sold DESC, id`
	default:
		return `created_at DESC, id`
	}
}

// Search returns one page of products matching f. f must be normalized.
func (r *ProductRepository) Search(ctx context.Context, f product.Filter) (*product.Page, error) {
	q := buildSearch(f)
	where := q.clause()

	var total int
	if err := r.q(ctx).QueryRow(ctx, `SELECT count(*) FROM products`+where, q.args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting products: %w", err)
	}

	n := len(q.args)
	sql := `SELECT ` + productColumns + ` FROM products` + where +
		` ORDER BY ` + orderBy(f.Sort) +
		` LIMIT $` + strconv.Itoa(n+1) + ` OFFSET $` + strconv.Itoa(n+2)
	rows, err := r.q(ctx).Query(ctx, sql, append(q.args, f.Limit, f.Offset())...)
	if err != nil {
		return nil, fmt.Errorf("searching products: %w", err)
	}
	items, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("searching products: %w", err)
	}
	return &product.Page{
		Items: items,
		Total: total,
		Page:  f.Page,
		Pages: product.Pages(total, f.Limit),
	}, nil
}

// GetByID returns one product without its reviews.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.q(ctx).Query(ctx, getProductSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product: %w", err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product: %w", err)
	}
	return &p, nil
}

// GetByIDs returns the products that exist among ids, in no particular order.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := r.q(ctx).Query(ctx, getProductsByIDSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("getting products: %w", err)
	}
	return products, nil
}

// Categories returns every category with its product count.
func (r *ProductRepository) Categories(ctx context.Context) ([]product.CategoryCount, error) {
	rows, err := r.q(ctx).Query(ctx, categoriesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	cats, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (product.CategoryCount, error) {
		var c product.CategoryCount
		err := row.Scan(&c.Category, &c.Count)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	return cats, nil
}

// Featured returns up to limit featured products, newest first.
func (r *ProductRepository) Featured(ctx context.Context, limit int) ([]product.Product, error) {
	return r.list(ctx, featuredSQL, limit)
}

// TopRated returns up to limit reviewed products by rating.
func (r *ProductRepository) TopRated(ctx context.Context, limit int) ([]product.Product, error) {
	return r.list(ctx, topRatedSQL, limit)
}

func (r *ProductRepository) list(ctx context.Context, sql string, limit int) ([]product.Product, error) {
	rows, err := r.q(ctx).Query(ctx, sql, limit)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return products, nil
}

// Create inserts a product.
func (r *ProductRepository) Create(ctx context.Context, p *product.Product) error {
	_, err := r.q(ctx).Exec(ctx, createProductSQL,
		p.ID, p.Name, p.Description, p.Price, p.SalePrice, p.Category, p.Flavor, p.Shape, p.Occasion, p.Festival,
		p.CakeType, strs(p.Images), p.Stock, p.IsFeatured, p.AvgRating, p.NumReviews, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating product: %w", err)
	}
	return nil
}

// Update stores the editable fields of p. Ratings are left untouched.
func (r *ProductRepository) Update(ctx context.Context, p *product.Product) error {
	tag, err := r.q(ctx).Exec(ctx, updateProductSQL,
		p.ID, p.Name, p.Description, p.Price, p.SalePrice, p.Category, p.Flavor, p.Shape, p.Occasion, p.Festival,
		p.CakeType, strs(p.Images), p.Stock, p.IsFeatured, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updating product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return product.ErrNotFound
	}
	return nil
}

// Delete removes a product together with its reviews and favorites.
func (r *ProductRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.q(ctx).Exec(ctx, deleteProductSQL, id)
	if err != nil {
		return fmt.Errorf("deleting product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return product.ErrNotFound
	}
	return nil
}

// AdjustStock adds delta to the stock of a product and returns the new level.
func (r *ProductRepository) AdjustStock(ctx context.Context, id string, delta int) (int, error) {
	var stock int
	err := r.q(ctx).QueryRow(ctx, adjustStockSQL, id, delta).Scan(&stock)
	if err == nil {
		return stock, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("adjusting stock: %w", err)
	}

	var exists bool
	if err := r.q(ctx).QueryRow(ctx, productExistsSQL, id).Scan(&exists); err != nil {
		return 0, fmt.Errorf("adjusting stock: %w", err)
	}
	if !exists {
		return 0, product.ErrNotFound
	}
	return 0, product.ErrInsufficientStock
}

// Reviews lists the reviews of a product, newest first.
func (r *ProductRepository) Reviews(ctx context.Context, productID string) ([]product.Review, error) {
	rows, err := r.q(ctx).Query(ctx, listReviewsSQL, productID)
	if err != nil {
		return nil, fmt.Errorf("listing reviews: %w", err)
	}
	reviews, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (product.Review, error) {
		var rv product.Review
		err := row.Scan(&rv.ID, &rv.ProductID, &rv.UserID, &rv.Name, &rv.Rating, &rv.Comment, &rv.CreatedAt)
		return rv, err
	})
	if err != nil {
		return nil, fmt.Errorf("listing reviews: %w", err)
	}
	return reviews, nil
}

// AddReview stores a review and recomputes the product rating in one batch.
func (r *ProductRepository) AddReview(ctx context.Context, rv *product.Review) error {
	batch := &pgx.Batch{}
	batch.Queue(addReviewSQL, rv.ID, rv.ProductID, rv.UserID, rv.Name, rv.Rating, rv.Comment, rv.CreatedAt)
	batch.Queue(refreshRatingSQL, rv.ProductID)

	br := r.q(ctx).SendBatch(ctx, batch)
	defer func() { _ = br.Close() }()

	if _, err := br.Exec(); err != nil {
		switch {
		case isUniqueViolation(err, "product_reviews_product_id_user_id_key"):
			return product.ErrAlreadyReviewed
		case isForeignKeyViolation(err):
			return product.ErrNotFound
		}
		return fmt.Errorf("adding review: %w", err)
	}
	if _, err := br.Exec(); err != nil {
		return fmt.Errorf("refreshing rating: %w", err)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.SalePrice, &p.Category, &p.Flavor, &p.Shape,
		&p.Occasion, &p.Festival, &p.CakeType, &p.Images, &p.Stock, &p.IsFeatured, &p.AvgRating, &p.NumReviews,
		&p.CreatedAt, &p.UpdatedAt)
	return p, err
}
