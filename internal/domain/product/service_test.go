package product

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepo struct {
	byID        map[string]*Product
	reviews     map[string][]Review
	searchCalls int
	getCalls    int
	searchPage  *Page
	// onSearch runs while Search is loading, before it returns.
	onSearch func()
}

func newMockRepo(products ...Product) *mockRepo {
	m := &mockRepo{byID: map[string]*Product{}, reviews: map[string][]Review{}}
	for i := range products {
		m.byID[products[i].ID] = &products[i]
	}
	return m
}

func (m *mockRepo) Search(_ context.Context, f Filter) (*Page, error) {
	m.searchCalls++
	page := m.searchPage
	if m.onSearch != nil {
		m.onSearch()
	}
	if page != nil {
		return page, nil
	}
	return &Page{Page: f.Page}, nil
}

func (m *mockRepo) GetByID(_ context.Context, id string) (*Product, error) {
	m.getCalls++
	p, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockRepo) GetByIDs(_ context.Context, ids []string) ([]Product, error) {
	var out []Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *mockRepo) Categories(context.Context) ([]CategoryCount, error) { return nil, nil }
func (m *mockRepo) Featured(context.Context, int) ([]Product, error) { return nil, nil }
func (m *mockRepo) TopRated(context.Context, int) ([]Product, error) { return nil, nil }
func (m *mockRepo) Delete(context.Context, string) error { return nil }
func (m *mockRepo) Reviews(_ context.Context, id string) ([]Review, error) { return m.reviews[id], nil }

func (m *mockRepo) Create(_ context.Context, p *Product) error {
	cp := *p
	m.byID[p.ID] = &cp
	return nil
}

func (m *mockRepo) Update(_ context.Context, p *Product) error {
	cp := *p
	m.byID[p.ID] = &cp
	return nil
}

func (m *mockRepo) AdjustStock(_ context.Context, id string, delta int) (int, error) {
	p, ok := m.byID[id]
	if !ok {
		return 0, ErrNotFound
	}
	if p.Stock+delta < 0 {
		return 0, ErrInsufficientStock
	}
	p.Stock += delta
	return p.Stock, nil
}

func (m *mockRepo) AddReview(_ context.Context, r *Review) error {
	for _, existing := range m.reviews[r.ProductID] {
		if existing.UserID == r.UserID {
			return ErrAlreadyReviewed
		}
	}
	m.reviews[r.ProductID] = append(m.reviews[r.ProductID], *r)
	return nil
}

func ptr[T any](v T) *T { return &v }

func TestEffectivePrice(t *testing.T) {
	tests := []struct {
		name  string
		price string
		sale  string
		want  string
	}{
		{"no sale", "40.00", "0", "40.00"},
		{"sale below price", "40.00", "32.50", "32.50"},
		{"sale equal to price ignored", "40.00", "40.00", "40.00"},
		{"sale above price ignored", "40.00", "45.00", "40.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Product{Price: decimal.RequireFromString(tt.price), SalePrice: decimal.RequireFromString(tt.sale)}
			assert.True(t, decimal.RequireFromString(tt.want).Equal(p.EffectivePrice()))
		})
	}
}

func TestFilterNormalize(t *testing.T) {
	f := Filter{Limit: 500}
	require.NoError(t, f.Normalize())
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, MaxLimit, f.Limit)
	assert.Equal(t, SortNewest, f.Sort)

	bad := Filter{Flavor: "mint"}
	var ve *ValidationError
	require.ErrorAs(t, bad.Normalize(), &ve)
	assert.Equal(t, "flavor", ve.Field)

	inverted := Filter{MinPrice: ptr(decimal.NewFromInt(50)), MaxPrice: ptr(decimal.NewFromInt(10))}
	require.ErrorAs(t, inverted.Normalize(), &ve)
}

func TestPages(t *testing.T) {
	assert.Equal(t, 0, Pages(0, 20))
	assert.Equal(t, 1, Pages(20, 20))
	assert.Equal(t, 2, Pages(21, 20))
}

func TestSearch_UsesCacheUntilWrite(t *testing.T) {
	repo := newMockRepo(Product{ID: "p1", Name: "Truffle", Price: decimal.NewFromInt(30), Category: "cakes"})
	svc := NewService(repo, NewMemoryCache(time.Minute))
	ctx := context.Background()

	_, err := svc.Search(ctx, Filter{Category: "cakes"})
	require.NoError(t, err)
	_, err = svc.Search(ctx, Filter{Category: "cakes"})
	require.NoError(t, err)
	assert.Equal(t, 1, repo.searchCalls)

	_, err = svc.AdjustStock(ctx, "p1", 5)
	require.NoError(t, err)

	_, err = svc.Search(ctx, Filter{Category: "cakes"})
	require.NoError(t, err)
	assert.Equal(t, 2, repo.searchCalls)
}

func TestSearch_LoadRacingInvalidationIsNotCached(t *testing.T) {
	repo := newMockRepo()
	repo.searchPage = &Page{Total: 1}
	svc := NewService(repo, NewMemoryCache(time.Minute))
	ctx := context.Background()

	// A catalog write commits while the first read is still loading.
	repo.onSearch = func() {
		repo.onSearch = nil
		svc.Invalidate(ctx)
		repo.searchPage = &Page{Total: 99}
	}

	first, err := svc.Search(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Total)

	second, err := svc.Search(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 99, second.Total)
	assert.Equal(t, 2, repo.searchCalls)
}

func TestMemoryCache_Expires(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache(time.Minute)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	var v int
	gen, hit, err := c.Fetch(ctx, "k", &v)
	require.NoError(t, err)
	assert.False(t, hit)
	require.NoError(t, c.Store(ctx, gen, "k", 42))

	_, hit, err = c.Fetch(ctx, "k", &v)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 42, v)

	now = now.Add(time.Minute)
	_, hit, err = c.Fetch(ctx, "k", &v)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestMemoryCache_DropsStaleGeneration(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ctx := context.Background()

	var v int
	gen, _, err := c.Fetch(ctx, "k", &v)
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(ctx))
	require.NoError(t, c.Store(ctx, gen, "k", 1))

	_, hit, err := c.Fetch(ctx, "k", &v)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Zero(t, c.Len())
}

func TestMemoryCache_SweepsExpiredOnStore(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache(time.Minute)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, c.Store(ctx, 0, k, k))
	}
	assert.Equal(t, 3, c.Len())

	now = now.Add(2 * time.Minute)
	require.NoError(t, c.Store(ctx, 0, "d", "d"))
	assert.Equal(t, 1, c.Len())
}

func TestCreate_Validation(t *testing.T) {
	svc := NewService(newMockRepo(), nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		in    Input
		field string
	}{
		{"missing name", Input{Price: ptr(decimal.NewFromInt(10)), Category: ptr("cakes")}, "name"},
		{"missing price", Input{Name: ptr("Cake"), Category: ptr("cakes")}, "price"},
		{"sale not below price", Input{Name: ptr("Cake"), Category: ptr("cakes"), Price: ptr(decimal.NewFromInt(10)), SalePrice: ptr(decimal.NewFromInt(10))}, "salePrice"},
		{"bad shape", Input{Name: ptr("Cake"), Category: ptr("cakes"), Price: ptr(decimal.NewFromInt(10)), Shape: ptr("star")}, "shape"},
		{"negative stock", Input{Name: ptr("Cake"), Category: ptr("cakes"), Price: ptr(decimal.NewFromInt(10)), Stock: ptr(-1)}, "stock"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.in)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	p, err := svc.Create(ctx, Input{Name: ptr(" Black Forest "), Category: ptr("cakes"), Price: ptr(decimal.RequireFromString("25.499"))})
	require.NoError(t, err)
	assert.Equal(t, "Black Forest", p.Name)
	assert.Equal(t, "round", p.Shape)
	assert.True(t, decimal.RequireFromString("25.50").Equal(p.Price))
}

func TestAddReview(t *testing.T) {
	repo := newMockRepo(Product{ID: "p1", Name: "Cake", Price: decimal.NewFromInt(10)})
	svc := NewService(repo, NewMemoryCache(time.Minute))
	ctx := context.Background()

	_, err := svc.AddReview(ctx, "p1", "u1", "Ann", 6, "")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)

	_, err = svc.AddReview(ctx, "missing", "u1", "Ann", 5, "")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = svc.AddReview(ctx, "p1", "u1", "Ann", 5, " lovely ")
	require.NoError(t, err)

	_, err = svc.AddReview(ctx, "p1", "u1", "Ann", 4, "again")
	require.ErrorIs(t, err, ErrAlreadyReviewed)

	p, err := svc.Get(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, p.Reviews, 1)
	assert.Equal(t, "lovely", p.Reviews[0].Comment)
}
