package main

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xenking/cake-heaven/internal/domain/auth"
	"github.com/xenking/cake-heaven/internal/domain/coupon"
	"github.com/xenking/cake-heaven/internal/domain/product"
	"github.com/xenking/cake-heaven/internal/storage/postgres"
)

// seedFile is the YAML document read by cakectl seed.
type seedFile struct {
	Admin    *seedAdmin    `yaml:"admin"`
	Products []seedProduct `yaml:"products"`
	Coupons  []seedCoupon  `yaml:"coupons"`
}

type seedAdmin struct {
	Name     string `yaml:"name"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

type seedProduct struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description"`
	Price       decimal.Decimal  `yaml:"price"`
	SalePrice   *decimal.Decimal `yaml:"salePrice"`
	Category    string           `yaml:"category"`
	Flavor      string           `yaml:"flavor"`
	Shape       string           `yaml:"shape"`
	Occasion    string           `yaml:"occasion"`
	Festival    string           `yaml:"festival"`
	CakeType    string           `yaml:"cakeType"`
	Images      []string         `yaml:"images"`
	Stock       int              `yaml:"stock"`
	Featured    bool             `yaml:"featured"`
}

func (p seedProduct) input() product.Input {
	opt := func(s string) *string {
		if s == "" {
			return nil
		}
		return &s
	}
	return product.Input{
		Name:        &p.Name,
		Description: &p.Description,
		Price:       &p.Price,
		SalePrice:   p.SalePrice,
		Category:    &p.Category,
		Flavor:      opt(p.Flavor),
		Shape:       opt(p.Shape),
		Occasion:    opt(p.Occasion),
		Festival:    opt(p.Festival),
		CakeType:    opt(p.CakeType),
		Images:      p.Images,
		Stock:       &p.Stock,
		IsFeatured:  &p.Featured,
	}
}

type seedCoupon struct {
	Code            string          `yaml:"code"`
	Description     string          `yaml:"description"`
	DiscountType    string          `yaml:"discountType"`
	DiscountValue   decimal.Decimal `yaml:"discountValue"`
	MinimumPurchase decimal.Decimal `yaml:"minimumPurchase"`
	MaximumDiscount decimal.Decimal `yaml:"maximumDiscount"`
	StartDate       time.Time       `yaml:"startDate"`
	EndDate         time.Time       `yaml:"endDate"`
	UsageLimit      int             `yaml:"usageLimit"`
	PerUserLimit    int             `yaml:"perUserLimit"`
	ApplicableTo    string          `yaml:"applicableTo"`
	Categories      []string        `yaml:"categories"`
}

func (c seedCoupon) input() coupon.Input {
	return coupon.Input{
		Code:            c.Code,
		Description:     c.Description,
		DiscountType:    coupon.DiscountType(c.DiscountType),
		DiscountValue:   c.DiscountValue,
		MinimumPurchase: c.MinimumPurchase,
		MaximumDiscount: c.MaximumDiscount,
		StartDate:       c.StartDate,
		EndDate:         c.EndDate,
		UsageLimit:      c.UsageLimit,
		PerUserLimit:    c.PerUserLimit,
		ApplicableTo:    coupon.Scope(c.ApplicableTo),
		Categories:      c.Categories,
	}
}

func loadSeed(path string) (*seedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read seed file")
	}
	var s seedFile
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, "parse seed file")
	}
	return &s, nil
}

func (r *root) seedCommand() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert products, coupons and the admin user from a YAML file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSeed(path)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := r.connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := postgres.RunMigrations(ctx, pool); err != nil {
				return errors.Wrap(err, "migrate")
			}
			sd := &seeder{
				lg:       r.lg,
				users:    postgres.NewUserRepository(pool),
				products: postgres.NewProductRepository(pool),
				coupons:  postgres.NewCouponRepository(pool),
			}
			return postgres.NewTransactor(pool).WithinTx(ctx, func(ctx context.Context) error {
				return sd.run(ctx, s)
			})
		},
	}
	cmd.Flags().StringVarP(&path, "file", "f", "db/seed/seed.yaml", "Seed document")
	return cmd
}

type seeder struct {
	lg       *zap.Logger
	users    *postgres.UserRepository
	products *postgres.ProductRepository
	coupons  *postgres.CouponRepository
}

func (s *seeder) run(ctx context.Context, f *seedFile) error {
	if f.Admin != nil {
		if err := s.admin(ctx, *f.Admin); err != nil {
			return err
		}
	}
	if err := s.catalog(ctx, f.Products); err != nil {
		return err
	}

	now := time.Now().UTC()
	list := make([]coupon.Coupon, 0, len(f.Coupons))
	for _, sc := range f.Coupons {
		c, err := coupon.Build(sc.input(), now)
		if err != nil {
			return errors.Wrapf(err, "coupon %s", sc.Code)
		}
		list = append(list, *c)
	}
	if err := s.coupons.Upsert(ctx, list); err != nil {
		return errors.Wrap(err, "seed coupons")
	}
	s.lg.Info("Seed applied",
		zap.Int("products", len(f.Products)),
		zap.Int("coupons", len(list)),
	)
	return nil
}

// admin creates the admin account, or promotes the existing user.
func (s *seeder) admin(ctx context.Context, a seedAdmin) error {
	email := strings.ToLower(strings.TrimSpace(a.Email))
	u, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if u.IsAdmin() {
			return nil
		}
		s.lg.Info("Promoting user to admin", zap.String("email", email))
		return s.users.SetRole(ctx, u.ID, auth.RoleAdmin)
	case !errors.Is(err, auth.ErrUserNotFound):
		return errors.Wrap(err, "look up admin")
	}

	hash, err := auth.HashPassword(a.Password)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if err := s.users.Create(ctx, &auth.User{
		ID:           uuid.NewString(),
		Name:         a.Name,
		Email:        email,
		PasswordHash: hash,
		Role:         auth.RoleAdmin,
		CreatedAt:    now,
		UpdatedAt:    now,
	}); err != nil {
		return errors.Wrap(err, "create admin")
	}
	s.lg.Info("Admin created", zap.String("email", email))
	return nil
}

// catalog updates products matched by name and creates the rest.
func (s *seeder) catalog(ctx context.Context, list []seedProduct) error {
	existing := make(map[string]string)
	f := product.Filter{Page: 1, Limit: product.MaxLimit, Sort: product.SortNewest}
	for {
		page, err := s.products.Search(ctx, f)
		if err != nil {
			return errors.Wrap(err, "list products")
		}
		for _, p := range page.Items {
			existing[strings.ToLower(p.Name)] = p.ID
		}
		if f.Page >= page.Pages {
			break
		}
		f.Page++
	}

	svc := product.NewService(s.products, nil)
	for _, sp := range list {
		var err error
		if id, ok := existing[strings.ToLower(sp.Name)]; ok {
			_, err = svc.Update(ctx, id, sp.input())
		} else {
			_, err = svc.Create(ctx, sp.input())
		}
		if err != nil {
			return errors.Wrapf(err, "product %q", sp.Name)
		}
	}
	return nil
}
