package analytics

import (
	"context"
	"io"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/tealeg/xlsx"
)

const (
	defaultRange     = 30 * 24 * time.Hour
	maxRange         = 366 * 24 * time.Hour
	defaultTopLimit  = 10
	maxTopLimit      = 100
	defaultThreshold = 5
)

// ErrInvalidRange is returned when a report range is empty or too long.
var ErrInvalidRange = errors.New("invalid date range")

// Summary is the dashboard headline.
type Summary struct {
	Revenue           decimal.Decimal `json:"revenue"`
	Orders            int             `json:"orders"`
	PaidOrders        int             `json:"paidOrders"`
	PendingOrders     int             `json:"pendingOrders"`
	Customers         int             `json:"customers"`
	Products          int             `json:"products"`
	AverageOrderValue decimal.Decimal `json:"averageOrderValue"`
}

// DailySales is the revenue of one calendar day.
type DailySales struct {
	Date    time.Time       `json:"date"`
	Orders  int             `json:"orders"`
	Revenue decimal.Decimal `json:"revenue"`
}

// TopProduct is a product ranked by quantity sold.
type TopProduct struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Revenue   decimal.Decimal `json:"revenue"`
}

// StatusCount is the number of orders in one status.
type StatusCount struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// LowStockItem is a product running out of stock.
type LowStockItem struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Category  string `json:"category"`
	Stock     int    `json:"stock"`
}

// Repository runs the read-only aggregation queries. Revenue only counts
// paid orders that are not cancelled.
type Repository interface {
	Summary(ctx context.Context) (*Summary, error)
	Sales(ctx context.Context, from, to time.Time) ([]DailySales, error)
	TopProducts(ctx context.Context, limit int) ([]TopProduct, error)
	StatusBreakdown(ctx context.Context) ([]StatusCount, error)
	LowStock(ctx context.Context, threshold int) ([]LowStockItem, error)
}

// Service serves admin reports.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates an analytics Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Summary returns the dashboard headline figures.
func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	sum, err := s.repo.Summary(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "summary")
	}
	if sum.PaidOrders > 0 {
		sum.AverageOrderValue = sum.Revenue.Div(decimal.NewFromInt(int64(sum.PaidOrders))).Round(2)
	}
	return sum, nil
}

// Range normalizes a report range. Zero bounds default to the last 30 days.
func (s *Service) Range(from, to time.Time) (time.Time, time.Time, error) {
	if to.IsZero() {
		to = s.now()
	}
	if from.IsZero() {
		from = to.Add(-defaultRange)
	}
	if !from.Before(to) || to.Sub(from) > maxRange {
		return time.Time{}, time.Time{}, ErrInvalidRange
	}
	return from, to, nil
}

// Sales returns per-day sales between from and to.
func (s *Service) Sales(ctx context.Context, from, to time.Time) ([]DailySales, error) {
	from, to, err := s.Range(from, to)
	if err != nil {
		return nil, err
	}
	sales, err := s.repo.Sales(ctx, from, to)
	if err != nil {
		return nil, errors.Wrap(err, "sales")
	}
	return sales, nil
}

// TopProducts returns the best sellers by quantity.
func (s *Service) TopProducts(ctx context.Context, limit int) ([]TopProduct, error) {
	if limit < 1 || limit > maxTopLimit {
		limit = defaultTopLimit
	}
	top, err := s.repo.TopProducts(ctx, limit)
	if err != nil {
		return nil, errors.Wrap(err, "top products")
	}
	return top, nil
}

// StatusBreakdown returns the number of orders per status.
func (s *Service) StatusBreakdown(ctx context.Context) ([]StatusCount, error) {
	counts, err := s.repo.StatusBreakdown(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "status breakdown")
	}
	return counts, nil
}

// LowStock returns products with stock at or below threshold.
func (s *Service) LowStock(ctx context.Context, threshold int) ([]LowStockItem, error) {
	if threshold < 0 {
		threshold = defaultThreshold
	}
	items, err := s.repo.LowStock(ctx, threshold)
	if err != nil {
		return nil, errors.Wrap(err, "low stock")
	}
	return items, nil
}

// ExportSales writes an XLSX workbook with daily sales and top products.
func (s *Service) ExportSales(ctx context.Context, from, to time.Time, w io.Writer) error {
	sales, err := s.Sales(ctx, from, to)
	if err != nil {
		return err
	}
	top, err := s.TopProducts(ctx, maxTopLimit)
	if err != nil {
		return err
	}

	file := xlsx.NewFile()
	daily, err := file.AddSheet("Daily sales")
	if err != nil {
		return errors.Wrap(err, "add sheet")
	}
	header(daily, "Date", "Orders", "Revenue")
	for _, d := range sales {
		row := daily.AddRow()
		row.AddCell().SetString(d.Date.Format(time.DateOnly))
		row.AddCell().SetInt(d.Orders)
		row.AddCell().SetString(d.Revenue.StringFixed(2))
	}

	best, err := file.AddSheet("Top products")
	if err != nil {
		return errors.Wrap(err, "add sheet")
	}
	header(best, "Product ID", "Name", "Quantity", "Revenue")
	for _, p := range top {
		row := best.AddRow()
		row.AddCell().SetString(p.ProductID)
		row.AddCell().SetString(p.Name)
		row.AddCell().SetInt(p.Quantity)
		row.AddCell().SetString(p.Revenue.StringFixed(2))
	}

	if err := file.Write(w); err != nil {
		return errors.Wrap(err, "write workbook")
	}
	return nil
}

func header(sheet *xlsx.Sheet, titles ...string) {
	row := sheet.AddRow()
	for _, t := range titles {
		row.AddCell().SetValue(t)
	}
}
